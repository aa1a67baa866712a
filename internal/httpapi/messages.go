package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/gateway"
	"github.com/hearthline/core/internal/model"
	"github.com/hearthline/core/internal/perm"
	"github.com/hearthline/core/internal/pubsub"
	"github.com/hearthline/core/internal/ratelimit"
)

// messageSendLimit is the flood-control category for POST /messages,
// keyed per user the way spam control needs to be (an IP-keyed limit
// would let one abusive account behind a shared NAT throttle everyone
// else on it).
var messageSendLimit = ratelimit.Category{
	Name:   "message_send",
	Window: 10 * time.Second,
	Max:    20,
	Basis:  ratelimit.BasisUser,
}

type sendMessageRequest struct {
	ChannelID string `json:"channel_id" binding:"required"`
	Content   string `json:"content" binding:"required"`
	Nonce     string `json:"nonce"`
	Encrypted bool   `json:"encrypted"`
	ReplyTo   string `json:"reply_to"`
}

// sendMessage implements spec §6's POST /messages: "(channel_id,
// content, nonce?, encrypted) and returns the persisted record." Guild
// channel, non-encrypted content runs through the moderation pipeline
// (spec §4.9) before it is ever written; DM channels and encrypted
// content skip it entirely, per the pipeline's own precondition.
func (a *API) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation", "error": err.Error()})
		return
	}
	if req.Encrypted && req.Nonce == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation", "error": "encrypted messages require a nonce"})
		return
	}
	if len(req.Content) > a.d.MaxMessageContentSize {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation", "error": "message exceeds the maximum content size"})
		return
	}

	ctx := c.Request.Context()
	author := userID(c)
	if err := a.d.Limiter.Allow(ctx, messageSendLimit, ratelimit.Principal{UserID: author, IP: c.ClientIP()}); err != nil {
		writeAppErr(c, err)
		return
	}

	ch, err := a.d.Store.GetChannel(ctx, req.ChannelID)
	if err != nil {
		writeAppErr(c, apperr.DependencyUnavailable.WithDetail("fetch channel %s: %v", req.ChannelID, err))
		return
	}

	bits, err := a.d.Resolver.Effective(ctx, author, *ch)
	if err != nil {
		writeAppErr(c, err)
		return
	}
	if !bits.Has(perm.SendMessages) {
		writeAppErr(c, apperr.Forbidden.WithDetail("user %s lacks SendMessages on channel %s", author, req.ChannelID))
		return
	}

	content := req.Content
	var warnCategory model.FilterCategory
	if ch.GuildID != "" && !req.Encrypted {
		outcome, err := a.d.Moderation.Ingest(ctx, ch.GuildID, ch.ID, author, content, bits)
		if err != nil {
			writeAppErr(c, err)
			return
		}
		content = outcome.Content
		warnCategory = outcome.WarnCategory
	}

	msg, err := a.d.Store.InsertMessage(ctx, model.Message{
		ChannelID:       req.ChannelID,
		AuthorID:        author,
		Content:         content,
		Encrypted:       req.Encrypted,
		CiphertextNonce: req.Nonce,
		ReplyTo:         req.ReplyTo,
	})
	if err != nil {
		writeAppErr(c, apperr.DependencyUnavailable.WithDetail("insert message: %v", err))
		return
	}

	scope := pubsub.ChannelScope(req.ChannelID)
	if ch.Type == model.ChannelDM || ch.Type == model.ChannelGroupDM {
		scope = pubsub.DMScope(req.ChannelID)
	}
	a.d.Gateway.Publish(scope, gateway.EventMessageNew, deviceID(c), msg)
	if warnCategory != "" {
		a.d.Gateway.Publish(pubsub.UserScope(author), gateway.EventModerationWarning, "", gin.H{
			"channel_id": req.ChannelID,
			"category":   warnCategory,
		})
	}

	c.JSON(http.StatusOK, msg)
}
