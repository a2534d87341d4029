package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zaqqye/qr_backend_v1/internal/apperrors"
	"github.com/zaqqye/qr_backend_v1/internal/database"
	"github.com/zaqqye/qr_backend_v1/internal/middleware"
	"github.com/zaqqye/qr_backend_v1/internal/models"
)

// normalizeIDs trims, validates and de-duplicates a list of uuid strings.
func normalizeIDs(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		val, err := uuid.Parse(s)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "invalid id: %s", s)
		}
		key := val.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out, nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// scopeFor returns the RLS scope of the authenticated caller. Admin bypass is opt-in per handler.
func scopeFor(c *gin.Context, allowAdmin bool) database.Scope {
	u, _ := middleware.CurrentUser(c)
	return database.Scope{UserID: u.ID, Admin: allowAdmin && middleware.IsAdmin(c)}
}

func currentUser(c *gin.Context) models.User {
	u, _ := middleware.CurrentUser(c)
	return u
}

// respondError answers with the status mapped from err. Unexpected errors are logged and masked.
func respondError(c *gin.Context, err error) {
	status := apperrors.StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		_ = c.Error(err)
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	msg := err.Error()
	if apperrors.IsDuplicate(err) {
		msg = "already exists"
	}
	c.JSON(status, gin.H{"error": msg})
}
