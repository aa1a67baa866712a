package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hearthline/core/internal/apperr"
)

type voiceJoinRequest struct {
	ChannelID string `json:"channel_id" binding:"required"`
}

type voiceJoinResponse struct {
	SDP       string `json:"sdp"`
	SessionID string `json:"session_id"`
}

// voiceJoin implements spec §6's POST /voice/join: "returns an offer
// SDP and session id." Everything after this — the client's answer and
// trickled ICE — travels over the gateway per §4.7 step 3, which is why
// Deps.Voice is shared with the gateway's VoiceHandler wiring rather
// than owned separately here.
func (a *API) voiceJoin(c *gin.Context) {
	var req voiceJoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation", "error": err.Error()})
		return
	}

	sdp, sessionID, err := a.d.Voice.Join(c.Request.Context(), req.ChannelID, userID(c), deviceID(c))
	if err != nil {
		writeAppErr(c, err)
		return
	}
	c.JSON(http.StatusOK, voiceJoinResponse{SDP: sdp, SessionID: sessionID})
}

// writeAppErr maps an apperr.Error (or any other error) onto an HTTP
// status through statusForKind's single Kind->status mapping, rather than
// each handler inventing its own.
func writeAppErr(c *gin.Context, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "internal error"})
		return
	}
	c.JSON(statusForKind(ae.Kind), gin.H{"code": ae.Code, "error": ae.Msg})
}

func statusForKind(k apperr.Kind) int {
	switch k {
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
