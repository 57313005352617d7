// Package apikey mints and bootstraps bearer API keys. Only bcrypt hashes
// are stored; a raw key is shown once.
package apikey

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/store"
	"github.com/kiranshivaraju/tryon/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

// RawPrefix starts every generated key.
const RawPrefix = "ty_"

// PrefixLen is how many leading characters are stored for lookup.
const PrefixLen = 8

// ScopeAdmin allows minting keys.
const ScopeAdmin = "admin"

var ErrInvalidKey = errors.New("api key too short")

// Generate returns a new random raw key.
func Generate() string {
	return RawPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// New hashes raw into an APIKey owned by ownerID.
func New(raw string, ownerID uuid.UUID, name string, scopes []string) (*models.APIKey, error) {
	if len(raw) < PrefixLen {
		return nil, ErrInvalidKey
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing key: %w", err)
	}
	if scopes == nil {
		scopes = []string{}
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:PrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Bootstrap makes sure raw exists as an admin key for ownerID. It reports
// whether a key was created.
func Bootstrap(ctx context.Context, st store.Store, raw string, ownerID uuid.UUID) (bool, error) {
	if len(raw) < PrefixLen {
		return false, ErrInvalidKey
	}
	existing, err := st.GetAPIKeyByPrefix(ctx, raw[:PrefixLen])
	if err != nil {
		return false, fmt.Errorf("looking up bootstrap key: %w", err)
	}
	for _, k := range existing {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(raw)) == nil {
			return false, nil
		}
	}

	key, err := New(raw, ownerID, "bootstrap-admin", []string{ScopeAdmin})
	if err != nil {
		return false, err
	}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		return false, fmt.Errorf("creating bootstrap key: %w", err)
	}
	return true, nil
}
