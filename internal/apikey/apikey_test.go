package apikey_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/apikey"
	"github.com/kiranshivaraju/tryon/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerate(t *testing.T) {
	a, b := apikey.Generate(), apikey.Generate()
	assert.True(t, strings.HasPrefix(a, apikey.RawPrefix))
	assert.Len(t, a, len(apikey.RawPrefix)+32)
	assert.NotEqual(t, a, b)
}

func TestNew(t *testing.T) {
	raw := apikey.Generate()
	owner := uuid.New()

	key, err := apikey.New(raw, owner, "ci", nil)
	require.NoError(t, err)
	assert.Equal(t, owner, key.OwnerID)
	assert.Equal(t, raw[:apikey.PrefixLen], key.KeyPrefix)
	assert.Equal(t, []string{}, key.Scopes)
	assert.NotContains(t, key.KeyHash, raw)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)))

	_, err = apikey.New("short", owner, "ci", nil)
	assert.ErrorIs(t, err, apikey.ErrInvalidKey)
}

func TestBootstrap_Idempotent(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	raw := "ty_bootstrap_admin_key"
	owner := uuid.New()

	created, err := apikey.Bootstrap(ctx, st, raw, owner)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = apikey.Bootstrap(ctx, st, raw, owner)
	require.NoError(t, err)
	assert.False(t, created)

	keys, err := st.GetAPIKeyByPrefix(ctx, raw[:apikey.PrefixLen])
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, []string{apikey.ScopeAdmin}, keys[0].Scopes)
}

func TestBootstrap_StoreError(t *testing.T) {
	st := memstore.New()
	st.Errs["GetAPIKeyByPrefix"] = errors.New("down")

	_, err := apikey.Bootstrap(context.Background(), st, "ty_bootstrap_admin_key", uuid.New())
	assert.Error(t, err)
}
