package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hearthline/core/internal/apperr"
	"github.com/hearthline/core/internal/auth"
)

type backupCodesResponse struct {
	Codes []string `json:"codes"`
}

// generateBackupCodes issues a fresh set of one-time recovery codes for
// the authenticated user, replacing any still-unused ones from a prior
// issuance. The plaintext set is returned exactly once; only the hashes
// persist, via store.ReplaceBackupCodes.
func (a *API) generateBackupCodes(c *gin.Context) {
	plaintext, hashed, err := auth.GenerateBackupCodes()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "failed to generate backup codes"})
		return
	}
	if err := a.d.Store.ReplaceBackupCodes(c.Request.Context(), userID(c), hashed); err != nil {
		writeAppErr(c, apperr.DependencyUnavailable.WithDetail("persist backup codes: %v", err))
		return
	}
	c.JSON(http.StatusOK, backupCodesResponse{Codes: plaintext})
}

type elevateRequest struct {
	BackupCode string `json:"backup_code" binding:"required"`
}

type elevateResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// elevate mints a short-TTL elevated access token (spec §6's admin
// endpoints requiring "an elevated session header in addition to the
// access token") once the caller proves possession of an unused backup
// code, the account-recovery credential spec.md's distillation dropped
// but original_source/ covers under MFA backup codes.
func (a *API) elevate(c *gin.Context) {
	var req elevateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation", "error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	uid := userID(c)
	codes, err := a.d.Store.ListUnusedBackupCodes(ctx, uid)
	if err != nil {
		writeAppErr(c, apperr.DependencyUnavailable.WithDetail("list backup codes: %v", err))
		return
	}
	idx, ok := auth.MatchBackupCode(codes, req.BackupCode)
	if !ok {
		writeAppErr(c, apperr.Unauthorized.WithDetail("backup code did not match"))
		return
	}
	consumed, err := a.d.Store.ConsumeBackupCode(ctx, codes[idx].ID)
	if err != nil {
		writeAppErr(c, apperr.DependencyUnavailable.WithDetail("consume backup code: %v", err))
		return
	}
	if !consumed {
		writeAppErr(c, apperr.Conflict.WithDetail("backup code already consumed"))
		return
	}

	token, err := a.d.Issuer.Elevate(uid, deviceID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal", "error": "failed to issue elevated token"})
		return
	}
	c.JSON(http.StatusOK, elevateResponse{
		AccessToken: token,
		ExpiresIn:   int64(a.d.ElevatedSessionTTL.Seconds()),
	})
}
