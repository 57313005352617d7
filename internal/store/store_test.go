package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tryon/internal/astria"
	"github.com/kiranshivaraju/tryon/internal/store"
	"github.com/kiranshivaraju/tryon/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tryon_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newRecord(owner uuid.UUID, kind models.Kind) *models.TuningRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.New()
	return &models.TuningRecord{
		ID: id, OwnerID: owner, Kind: kind, Title: string(kind) + "_" + id.String(),
		Name: "test model", Status: models.StatusPending, CreatedAt: now, UpdatedAt: now,
	}
}

func strPtr(s string) *string { return &s }

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "ty_abcd",
		Scopes:    []string{"read", "write"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.CreateAPIKey(ctx, key)
	require.NoError(t, err)

	keys, err := s.GetAPIKeyByPrefix(ctx, "ty_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, key.OwnerID, keys[0].OwnerID)
	assert.Equal(t, []string{"read", "write"}, keys[0].Scopes)
}

func TestAPIKey_UpdateLastUsed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID: uuid.New(), OwnerID: uuid.New(), Name: "k", KeyHash: "h",
		KeyPrefix: "ty_last", Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))

	keys, err := s.GetAPIKeyByPrefix(ctx, "ty_last")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID: uuid.New(), OwnerID: uuid.New(), Name: "k", KeyHash: "h",
		KeyPrefix: "ty_dup0", Scopes: []string{"read"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))
	assert.ErrorIs(t, s.CreateAPIKey(ctx, key), store.ErrDuplicateKey)
}

// --- Product Tests ---

func TestProduct_CreateGetAndLinkTune(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	owner := uuid.New()
	now := time.Now().UTC().Truncate(time.Microsecond)

	p := &models.Product{
		ID: uuid.New(), OwnerID: owner, Name: "Linen Shirt", Brand: "Acme",
		Category: models.CategoryShirts, Sizes: []string{"S", "M"}, Colors: []string{"white"},
		MainImageURL: "https://cdn.example.com/shirt.jpg", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateProduct(ctx, p))

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryShirts, got.Category)
	assert.False(t, got.RequiresTune())

	rec := newRecord(owner, models.KindProduct)
	rec.ProductID = &p.ID
	require.NoError(t, s.CreateRecord(ctx, rec))
	require.NoError(t, s.SetProductTuneRecord(ctx, p.ID, rec.ID))

	got, err = s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.TuneRecordID)
	assert.Equal(t, rec.ID, *got.TuneRecordID)
	assert.True(t, got.RequiresTune())

	// Deleting the tune record unlinks it from the product.
	require.NoError(t, s.DeleteRecord(ctx, rec.ID))
	got, err = s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got.TuneRecordID)
}

func TestProduct_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetProduct(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.SetProductTuneRecord(context.Background(), uuid.New(), uuid.New()), store.ErrNotFound)
}

// --- Tuning Record Tests ---

func TestRecord_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := newRecord(uuid.New(), models.KindIdentity)
	require.NoError(t, s.CreateRecord(ctx, rec))

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, models.KindIdentity, got.Kind)
	assert.Nil(t, got.ExternalJobID)
	assert.Nil(t, got.TrainedAt)
}

func TestRecord_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetRecord(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecord_DuplicateTitleRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	a := newRecord(uuid.New(), models.KindIdentity)
	require.NoError(t, s.CreateRecord(ctx, a))

	b := newRecord(uuid.New(), models.KindIdentity)
	b.Title = a.Title
	assert.ErrorIs(t, s.CreateRecord(ctx, b), store.ErrDuplicateKey)

	matches, err := s.GetRecordsByTitle(ctx, a.Title)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRecord_GetByTitleNoMatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	matches, err := s.GetRecordsByTitle(context.Background(), "identity_"+uuid.NewString())
	require.NoError(t, err)
	assert.NotNil(t, matches)
	assert.Empty(t, matches)
}

func TestRecord_ListByOwner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	owner := uuid.New()

	older := newRecord(owner, models.KindIdentity)
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := newRecord(owner, models.KindIdentity)
	other := newRecord(uuid.New(), models.KindIdentity)
	for _, r := range []*models.TuningRecord{older, newer, other} {
		require.NoError(t, s.CreateRecord(ctx, r))
	}

	list, total, err := s.ListRecords(ctx, store.RecordFilter{OwnerID: owner})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}

func TestRecord_ListFilterAndPage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()
	owner := uuid.New()

	base := time.Now().UTC().Truncate(time.Microsecond)
	var identities []*models.TuningRecord
	for i := 0; i < 3; i++ {
		r := newRecord(owner, models.KindIdentity)
		r.CreatedAt = base.Add(-time.Duration(i) * time.Minute)
		require.NoError(t, s.CreateRecord(ctx, r))
		identities = append(identities, r)
	}
	require.NoError(t, s.CreateRecord(ctx, newRecord(owner, models.KindProduct)))

	page, total, err := s.ListRecords(ctx, store.RecordFilter{OwnerID: owner, Kind: models.KindIdentity, Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, identities[2].ID, page[0].ID)

	_, total, err = s.ListRecords(ctx, store.RecordFilter{OwnerID: owner, Status: models.StatusReady})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestRecordFilter_Normalize(t *testing.T) {
	f, offset := store.RecordFilter{}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, store.DefaultPageLimit, f.Limit)
	assert.Zero(t, offset)

	f, offset = store.RecordFilter{Page: 3, Limit: 500}.Normalize()
	assert.Equal(t, store.MaxPageLimit, f.Limit)
	assert.Equal(t, 2*store.MaxPageLimit, offset)
}

func TestRecord_CallbackTimestampsSurviveRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := newRecord(uuid.New(), models.KindIdentity)
	require.NoError(t, s.CreateRecord(ctx, rec))
	_, err := s.UpdateRecordStatus(ctx, rec.ID, models.StatusPending, models.StatusTraining,
		models.RecordUpdate{ExternalJobID: strPtr("42")})
	require.NoError(t, err)

	ev, err := astria.ParseCallback([]byte(`{"id":42,"title":"` + rec.Title + `",` +
		`"trained_at":"2024-01-01T00:00:00.123456789Z","expires_at":"2024-02-01T00:00:00.999999999Z"}`))
	require.NoError(t, err)
	_, err = s.UpdateRecordStatus(ctx, rec.ID, models.StatusTraining, models.StatusReady,
		models.RecordUpdate{TrainedAt: ev.TrainedAt, ExpiresAt: ev.ExpiresAt})
	require.NoError(t, err)

	// A replayed callback is recognised by comparing against the stored row.
	stored, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TrainedAt)
	assert.True(t, stored.TrainedAt.Equal(*ev.TrainedAt), "stored %s, parsed %s", stored.TrainedAt, ev.TrainedAt)
	require.NotNil(t, stored.ExpiresAt)
	assert.True(t, stored.ExpiresAt.Equal(*ev.ExpiresAt))
}

func TestRecord_UpdateStatusLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := newRecord(uuid.New(), models.KindIdentity)
	require.NoError(t, s.CreateRecord(ctx, rec))

	got, err := s.UpdateRecordStatus(ctx, rec.ID, models.StatusPending, models.StatusTraining,
		models.RecordUpdate{ExternalJobID: strPtr("1234"), ExternalToken: strPtr("tok")})
	require.NoError(t, err)
	assert.Equal(t, models.StatusTraining, got.Status)
	require.NotNil(t, got.ExternalJobID)
	assert.Equal(t, "1234", *got.ExternalJobID)

	trained := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	got, err = s.UpdateRecordStatus(ctx, rec.ID, models.StatusTraining, models.StatusReady,
		models.RecordUpdate{ExternalJobID: strPtr("1234"), TrainedAt: &trained})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, got.Status)
	require.NotNil(t, got.TrainedAt)
	assert.True(t, trained.Equal(*got.TrainedAt))
	assert.Equal(t, "tok", *got.ExternalToken)
}

func TestRecord_UpdateStatusMismatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := newRecord(uuid.New(), models.KindIdentity)
	require.NoError(t, s.CreateRecord(ctx, rec))

	_, err := s.UpdateRecordStatus(ctx, rec.ID, models.StatusTraining, models.StatusReady, models.RecordUpdate{})
	assert.ErrorIs(t, err, store.ErrStatusMismatch)

	got, err := s.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
}

func TestRecord_UpdateStatusDifferentJobID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := newRecord(uuid.New(), models.KindIdentity)
	require.NoError(t, s.CreateRecord(ctx, rec))
	_, err := s.UpdateRecordStatus(ctx, rec.ID, models.StatusPending, models.StatusTraining,
		models.RecordUpdate{ExternalJobID: strPtr("1")})
	require.NoError(t, err)

	_, err = s.UpdateRecordStatus(ctx, rec.ID, models.StatusTraining, models.StatusFailed,
		models.RecordUpdate{ExternalJobID: strPtr("2")})
	assert.ErrorIs(t, err, store.ErrStatusMismatch)
}

func TestRecord_UpdateStatusInvalidTransition(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.UpdateRecordStatus(context.Background(), uuid.New(), models.StatusReady, models.StatusFailed, models.RecordUpdate{})
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestRecord_UpdateStatusNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.UpdateRecordStatus(context.Background(), uuid.New(), models.StatusPending, models.StatusTraining, models.RecordUpdate{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecord_ConcurrentTerminalTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := newRecord(uuid.New(), models.KindIdentity)
	require.NoError(t, s.CreateRecord(ctx, rec))
	_, err := s.UpdateRecordStatus(ctx, rec.ID, models.StatusPending, models.StatusTraining, models.RecordUpdate{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	targets := []models.Status{models.StatusReady, models.StatusFailed}
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target models.Status) {
			defer wg.Done()
			_, results[i] = s.UpdateRecordStatus(ctx, rec.ID, models.StatusTraining, target, models.RecordUpdate{})
		}(i, target)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, store.ErrStatusMismatch)
		}
	}
	assert.Equal(t, 1, wins)
}

// --- Image Tests ---

func TestImages_AddListRemoveCascade(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	rec := newRecord(uuid.New(), models.KindProduct)
	require.NoError(t, s.CreateRecord(ctx, rec))

	now := time.Now().UTC().Truncate(time.Microsecond)
	var ids []uuid.UUID
	for i, role := range []string{models.ImageRoleMain, models.ImageRoleAdditional, models.ImageRoleAdditional} {
		img := &models.Image{
			ID: uuid.New(), RecordID: rec.ID, URL: "https://cdn.example.com/" + rec.ID.String(),
			ObjectName: rec.ID.String() + "_x", Role: strPtr(role), Position: 2 - i, CreatedAt: now,
		}
		require.NoError(t, s.AddImage(ctx, img))
		ids = append(ids, img.ID)
	}

	images, err := s.ListImages(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, images, 3)
	assert.Equal(t, 0, images[0].Position)
	assert.Equal(t, 2, images[2].Position)

	require.NoError(t, s.RemoveImages(ctx, ids[:1]))
	images, err = s.ListImages(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, images, 2)

	require.NoError(t, s.DeleteRecord(ctx, rec.ID))
	images, err = s.ListImages(ctx, rec.ID)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestImages_AddToMissingRecord(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.AddImage(context.Background(), &models.Image{
		ID: uuid.New(), RecordID: uuid.New(), URL: "u", ObjectName: "o", CreatedAt: time.Now().UTC(),
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to models.Status
		want     bool
	}{
		{models.StatusPending, models.StatusTraining, true},
		{models.StatusTraining, models.StatusReady, true},
		{models.StatusTraining, models.StatusFailed, true},
		{models.StatusPending, models.StatusReady, false},
		{models.StatusPending, models.StatusFailed, false},
		{models.StatusReady, models.StatusFailed, false},
		{models.StatusFailed, models.StatusReady, false},
		{models.StatusReady, models.StatusTraining, false},
		{models.StatusTraining, models.StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, store.ValidTransition(tt.from, tt.to))
		})
	}
}
