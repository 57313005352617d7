package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/api/response"
	"github.com/kiranshivaraju/tryon/internal/apikey"
	"github.com/kiranshivaraju/tryon/internal/store"
)

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
// It mints a key for any owner; the raw key appears only in this response.
func NewCreateKeyHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OwnerID string   `json:"owner_id"`
			Name    string   `json:"name"`
			Scopes  []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil)
			return
		}
		ownerID, err := uuid.Parse(req.OwnerID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "owner_id must be a valid UUID", nil)
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
			return
		}

		raw := apikey.Generate()
		key, err := apikey.New(raw, ownerID, strings.TrimSpace(req.Name), req.Scopes)
		if err != nil {
			writeServiceError(w, r, err, nil)
			return
		}
		if err := st.CreateAPIKey(r.Context(), key); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "API key already exists", nil)
				return
			}
			writeServiceError(w, r, err, nil)
			return
		}

		response.Created(w, map[string]any{
			"id":         key.ID,
			"owner_id":   key.OwnerID,
			"name":       key.Name,
			"key":        raw,
			"key_prefix": key.KeyPrefix,
			"scopes":     key.Scopes,
			"created_at": key.CreatedAt,
		})
	}
}
