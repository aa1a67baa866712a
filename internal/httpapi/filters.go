package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/filter"
)

type filterTestRequest struct {
	Content string `json:"content" binding:"required"`
}

type filterTestResponse struct {
	Blocked  bool   `json:"blocked"`
	Category string `json:"category,omitempty"`
	Action   string `json:"action,omitempty"`
}

// testFilter implements spec §6's POST /guilds/{id}/filters/test:
// "takes a content sample and returns the decision from an ephemeral
// engine." The engine is built fresh from the guild's current configs
// and patterns rather than pulled from filter.Cache, so a test always
// reflects a pattern an admin just saved, even before the cache's
// generation counter would otherwise pick it up.
func (a *API) testFilter(c *gin.Context) {
	guildID := c.Param("id")
	var req filterTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation", "error": err.Error()})
		return
	}
	if len(req.Content) > filter.MaxTestInputChars {
		writeAppErr(c, apperr.Validation.WithDetail("test content exceeds %d characters", filter.MaxTestInputChars))
		return
	}

	ctx := c.Request.Context()
	configs, err := a.d.Store.ListFilterConfigs(ctx, guildID)
	if err != nil {
		writeAppErr(c, apperr.DependencyUnavailable.WithDetail("list filter configs for %s: %v", guildID, err))
		return
	}
	patterns, err := a.d.Store.ListFilterPatterns(ctx, guildID)
	if err != nil {
		writeAppErr(c, apperr.DependencyUnavailable.WithDetail("list filter patterns for %s: %v", guildID, err))
		return
	}

	engine := filter.BuildEphemeral(configs, patterns)
	decision := engine.Check(req.Content)
	action, match, matched := decision.Decide()
	if !matched {
		c.JSON(http.StatusOK, filterTestResponse{Blocked: false})
		return
	}
	c.JSON(http.StatusOK, filterTestResponse{
		Blocked:  action == "block",
		Category: string(match.Category),
		Action:   string(action),
	})
}
