package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hearthline/core/internal/apperr"
)

type joinInviteResponse struct {
	GuildID string `json:"guild_id"`
}

// joinInvite implements the supplemented discovery path: resolve an
// invite code to its guild via store.LookupInvite, then add the caller
// as a member, without requiring the full guild-CRUD surface spec §1
// puts out of scope.
func (a *API) joinInvite(c *gin.Context) {
	ctx := c.Request.Context()
	guildID, err := a.d.Store.LookupInvite(ctx, c.Param("code"))
	if err != nil {
		writeAppErr(c, apperr.NotFound.WithDetail("lookup invite %s: %v", c.Param("code"), err))
		return
	}
	if err := a.d.Store.AddGuildMember(ctx, guildID, userID(c)); err != nil {
		writeAppErr(c, apperr.DependencyUnavailable.WithDetail("add guild member: %v", err))
		return
	}
	c.JSON(http.StatusOK, joinInviteResponse{GuildID: guildID})
}
