package handler

import (
	"net/http"

	"github.com/kiranshivaraju/tryon/internal/api/response"
	"github.com/kiranshivaraju/tryon/internal/cache"
	"github.com/kiranshivaraju/tryon/internal/store"
)

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. It
// checks database and cache connectivity.
func NewHealthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
