package tuning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/astria"
	"github.com/kiranshivaraju/tryon/internal/astria/mock"
	"github.com/kiranshivaraju/tryon/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReconciler(f *fixture) *Reconciler {
	return NewReconciler(f.store, f.cache, f.metrics, time.Minute)
}

func trainingRecord(t *testing.T, f *fixture) *models.TuningRecord {
	t.Helper()
	rec, err := f.svc.Submit(context.Background(), f.identity(urlImages(5)))
	require.NoError(t, err)
	require.Equal(t, models.StatusTraining, rec.Status)
	return rec
}

func readyPayload(title, jobID, trainedAt string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"title":%q,"trained_at":%q,"expires_at":"2024-02-01T00:00:00Z","token":"ohwx"}`, jobID, title, trainedAt))
}

func TestReconcile_AppliesReady(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)
	rec := trainingRecord(t, f)

	res, err := r.Reconcile(context.Background(), readyPayload(rec.Title, "job-42", "2024-01-01T00:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, models.StatusReady, res.Record.Status)
	require.NotNil(t, res.Record.TrainedAt)
	assert.True(t, res.Record.TrainedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NotNil(t, res.Record.ExpiresAt)
	assert.Equal(t, "ohwx", *res.Record.ExternalToken)

	rs, found, _ := f.cache.GetRecordStatus(context.Background(), rec.ID)
	require.True(t, found)
	assert.Equal(t, models.StatusReady, rs.Status)
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "tryon_callbacks_total", map[string]string{"outcome": "applied"}))
}

func TestReconcile_Idempotent(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)
	rec := trainingRecord(t, f)
	ctx := context.Background()
	payload := readyPayload(rec.Title, "job-42", "2024-01-01T00:00:00Z")

	_, err := r.Reconcile(ctx, payload)
	require.NoError(t, err)
	once, err := f.store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)

	res, err := r.Reconcile(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	twice, err := f.store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestReconcile_ReplayWithNanosecondTimestamp(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)
	rec := trainingRecord(t, f)
	ctx := context.Background()
	payload := readyPayload(rec.Title, "job-42", "2024-01-01T00:00:00.123456789Z")

	res, err := r.Reconcile(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)

	res, err = r.Reconcile(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)

	stored, err := f.store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.TrainedAt)
	assert.Equal(t, 123456000, stored.TrainedAt.Nanosecond())
}

func TestReconcile_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)
	rec := trainingRecord(t, f)
	payload := readyPayload(rec.Title, "job-42", "2024-01-01T00:00:00Z")

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 10)
	errs := make([]error, 10)
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := r.Reconcile(context.Background(), payload)
			errs[i] = err
			if res != nil {
				outcomes[i] = res.Outcome
			}
		}()
	}
	wg.Wait()

	applied := 0
	for i := range outcomes {
		require.NoError(t, errs[i])
		if outcomes[i] == OutcomeApplied {
			applied++
		} else {
			assert.Equal(t, OutcomeDuplicate, outcomes[i])
		}
	}
	assert.Equal(t, 1, applied)
}

func TestReconcile_FailureSignal(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)
	rec := trainingRecord(t, f)

	body := fmt.Sprintf(`{"id":"job-42","title":%q,"status":"failed","error":"faces not detected"}`, rec.Title)
	res, err := r.Reconcile(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, models.StatusFailed, res.Record.Status)
	assert.Nil(t, res.Record.TrainedAt)

	res, err = r.Reconcile(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
}

func TestReconcile_InProgressIsNoop(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)
	rec := trainingRecord(t, f)

	body := fmt.Sprintf(`{"id":"job-42","title":%q}`, rec.Title)
	res, err := r.Reconcile(context.Background(), []byte(body))
	require.NoError(t, err)
	assert.Equal(t, OutcomeInProgress, res.Outcome)

	stored, err := f.store.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTraining, stored.Status)
}

func TestReconcile_ConflictingTerminalState(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)
	rec := trainingRecord(t, f)
	ctx := context.Background()

	_, err := r.Reconcile(ctx, readyPayload(rec.Title, "job-42", "2024-01-01T00:00:00Z"))
	require.NoError(t, err)
	before, err := f.store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)

	failed := fmt.Sprintf(`{"id":"job-42","title":%q,"status":"failed"}`, rec.Title)
	_, err = r.Reconcile(ctx, []byte(failed))
	assert.ErrorIs(t, err, ErrConflictingCallback)

	_, err = r.Reconcile(ctx, readyPayload(rec.Title, "job-42", "2024-03-03T00:00:00Z"))
	assert.ErrorIs(t, err, ErrConflictingCallback)

	after, err := f.store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 2.0, counterValue(t, f.metrics, "tryon_callbacks_total", map[string]string{"outcome": "conflict"}))
}

func TestReconcile_ConflictingJobID(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)
	rec := trainingRecord(t, f)

	_, err := r.Reconcile(context.Background(), readyPayload(rec.Title, "job-99", "2024-01-01T00:00:00Z"))
	assert.ErrorIs(t, err, ErrConflictingCallback)

	stored, err := f.store.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTraining, stored.Status)
	assert.Equal(t, "job-42", *stored.ExternalJobID)
}

func TestReconcile_PendingRecord(t *testing.T) {
	f := newFixture(t, func(f *fixture) {
		f.client = mock.NewFailingClient(astria.ErrServiceUnavailable)
	})
	r := newReconciler(f)
	rec, err := f.svc.Submit(context.Background(), f.identity(urlImages(5)))
	require.ErrorIs(t, err, ErrServiceUnavailable)

	_, err = r.Reconcile(context.Background(), readyPayload(rec.Title, "job-42", "2024-01-01T00:00:00Z"))
	assert.ErrorIs(t, err, ErrRecordNotSubmitted)

	stored, err := f.store.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestReconcile_Unmatched(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)

	_, err := r.Reconcile(context.Background(), readyPayload(Title(models.KindIdentity, uuid.New()), "job-1", "2024-01-01T00:00:00Z"))
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "tryon_callbacks_total", map[string]string{"outcome": "unmatched"}))
}

func TestReconcile_DeletedRecordGoesUnmatched(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)
	rec := trainingRecord(t, f)
	require.NoError(t, f.svc.Delete(context.Background(), f.owner, rec.ID))

	_, err := r.Reconcile(context.Background(), readyPayload(rec.Title, "job-42", "2024-01-01T00:00:00Z"))
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestReconcile_DuplicateTitle(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)
	rec := trainingRecord(t, f)

	dup := *rec
	dup.ID = uuid.New()
	dup.Images = nil
	f.store.ForceInsert(&dup)

	_, err := r.Reconcile(context.Background(), readyPayload(rec.Title, "job-42", "2024-01-01T00:00:00Z"))
	assert.ErrorIs(t, err, ErrDuplicateTitle)

	stored, err := f.store.GetRecord(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTraining, stored.Status)
}

func TestReconcile_Malformed(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)
	f.store.Errs["GetRecordsByTitle"] = errors.New("lookup must not happen")

	_, err := r.Reconcile(context.Background(), []byte(`{"title":"identity_x"}`))
	assert.ErrorIs(t, err, ErrMalformedCallback)
	assert.Equal(t, 1.0, counterValue(t, f.metrics, "tryon_callbacks_total", map[string]string{"outcome": "malformed"}))
}

func TestReconcile_StoreFailure(t *testing.T) {
	f := newFixture(t)
	r := newReconciler(f)
	rec := trainingRecord(t, f)
	f.store.Errs["UpdateRecordStatus"] = errors.New("connection reset")

	_, err := r.Reconcile(context.Background(), readyPayload(rec.Title, "job-42", "2024-01-01T00:00:00Z"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrConflictingCallback)
	assert.NotErrorIs(t, err, ErrRecordNotFound)
}

func TestCallbackOutcome(t *testing.T) {
	assert.Equal(t, "applied", callbackOutcome(&Result{Outcome: OutcomeApplied}, nil))
	assert.Equal(t, "duplicate_title", callbackOutcome(nil, ErrDuplicateTitle))
	assert.Equal(t, "not_submitted", callbackOutcome(nil, ErrRecordNotSubmitted))
	assert.Equal(t, "error", callbackOutcome(nil, errors.New("boom")))
}
