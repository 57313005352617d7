package tuning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/tryon/internal/astria"
	"github.com/kiranshivaraju/tryon/internal/cache"
	"github.com/kiranshivaraju/tryon/internal/metrics"
	"github.com/kiranshivaraju/tryon/internal/store"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// Outcome describes how a callback was handled.
type Outcome string

const (
	// OutcomeApplied means the callback moved a record to a terminal state.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the record already reflected the callback.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeInProgress means the callback reported neither completion nor
	// failure and was acknowledged without changes.
	OutcomeInProgress Outcome = "in_progress"
)

// casAttempts bounds how often Apply re-reads a record that changed under it.
const casAttempts = 3

// Result is the outcome of reconciling one callback.
type Result struct {
	Outcome Outcome
	Record  *models.TuningRecord
}

// Reconciler applies tuning callbacks to records. It keeps no in-process
// state; concurrent deliveries serialize through the store's status
// compare-and-set.
type Reconciler struct {
	store     store.Store
	cache     cache.Cache
	metrics   *metrics.Metrics
	statusTTL time.Duration
}

// NewReconciler creates a new Reconciler.
func NewReconciler(st store.Store, ca cache.Cache, m *metrics.Metrics, statusTTL time.Duration) *Reconciler {
	if statusTTL <= 0 {
		statusTTL = 30 * time.Minute
	}
	return &Reconciler{store: st, cache: ca, metrics: m, statusTTL: statusTTL}
}

// Reconcile parses a raw callback body and applies it.
func (r *Reconciler) Reconcile(ctx context.Context, raw []byte) (*Result, error) {
	ev, err := astria.ParseCallback(raw)
	if err != nil {
		slog.Warn("malformed tuning callback", "error", err, "payload", truncate(raw, 512))
		r.metrics.Callback(callbackOutcome(nil, err))
		return nil, err
	}
	return r.Apply(ctx, ev)
}

// Apply reconciles a parsed callback with the one record carrying its title.
func (r *Reconciler) Apply(ctx context.Context, ev *astria.CallbackEvent) (*Result, error) {
	res, err := r.apply(ctx, ev)
	r.metrics.Callback(callbackOutcome(res, err))
	return res, err
}

func (r *Reconciler) apply(ctx context.Context, ev *astria.CallbackEvent) (*Result, error) {
	log := slog.With("title", ev.Title, "job_id", ev.JobID)

	rec, err := r.lookup(ctx, ev.Title)
	if errors.Is(err, ErrRecordNotFound) {
		attrs := []any{}
		if _, id, perr := ParseTitle(ev.Title); perr == nil {
			attrs = append(attrs, "record_id", id)
		}
		log.Warn("callback matched no record", attrs...)
		return nil, err
	}
	if errors.Is(err, ErrDuplicateTitle) {
		log.Error("callback title matches multiple records", "error", err)
		return nil, err
	}
	if err != nil {
		log.Error("callback lookup failed", "error", err)
		return nil, err
	}
	log = log.With("record_id", rec.ID)

	var target models.Status
	switch {
	case ev.TrainedAt != nil:
		target = models.StatusReady
	case ev.Failed:
		target = models.StatusFailed
	default:
		log.Info("callback reports training in progress", "status", rec.Status)
		return &Result{Outcome: OutcomeInProgress, Record: rec}, nil
	}

	jobID := ev.JobID
	upd := models.RecordUpdate{
		ExternalJobID: &jobID,
		ExternalToken: ev.Token,
		TrainedAt:     ev.TrainedAt,
		ExpiresAt:     ev.ExpiresAt,
	}

	for attempt := 0; attempt < casAttempts; attempt++ {
		if rec.ExternalJobID != nil && *rec.ExternalJobID != ev.JobID {
			log.Warn("callback job id conflicts with record", "stored_job_id", *rec.ExternalJobID)
			return nil, fmt.Errorf("%w: record %s has job %s", ErrConflictingCallback, rec.ID, *rec.ExternalJobID)
		}

		switch rec.Status {
		case models.StatusPending:
			log.Warn("callback arrived before submission was recorded")
			return nil, fmt.Errorf("%w: record %s", ErrRecordNotSubmitted, rec.ID)

		case models.StatusTraining:
			updated, err := r.store.UpdateRecordStatus(ctx, rec.ID, models.StatusTraining, target, upd)
			if errors.Is(err, store.ErrStatusMismatch) {
				if rec, err = r.reload(ctx, rec); err != nil {
					return nil, err
				}
				continue
			}
			if err != nil {
				log.Error("applying callback failed", "target", target, "error", err)
				return nil, fmt.Errorf("updating record: %w", err)
			}
			cacheStatus(ctx, r.cache, updated, r.statusTTL)
			log.Info("callback applied", "status", updated.Status, "failure_reason", ev.FailureReason)
			return &Result{Outcome: OutcomeApplied, Record: updated}, nil

		case target:
			if target == models.StatusReady && (rec.TrainedAt == nil || !rec.TrainedAt.Equal(*ev.TrainedAt)) {
				log.Warn("callback trained_at conflicts with record", "stored_trained_at", rec.TrainedAt)
				return nil, fmt.Errorf("%w: record %s already ready with a different trained_at", ErrConflictingCallback, rec.ID)
			}
			log.Info("duplicate callback acknowledged", "status", rec.Status)
			return &Result{Outcome: OutcomeDuplicate, Record: rec}, nil

		default:
			log.Warn("callback conflicts with terminal state", "status", rec.Status, "target", target)
			return nil, fmt.Errorf("%w: record %s is %s, callback implies %s", ErrConflictingCallback, rec.ID, rec.Status, target)
		}
	}
	return nil, fmt.Errorf("updating record %s: %w", rec.ID, store.ErrStatusMismatch)
}

func (r *Reconciler) lookup(ctx context.Context, title string) (*models.TuningRecord, error) {
	recs, err := r.store.GetRecordsByTitle(ctx, title)
	if err != nil {
		return nil, fmt.Errorf("looking up title: %w", err)
	}
	switch len(recs) {
	case 0:
		return nil, ErrRecordNotFound
	case 1:
		return recs[0], nil
	default:
		return nil, fmt.Errorf("%w: %d records titled %q", ErrDuplicateTitle, len(recs), title)
	}
}

func (r *Reconciler) reload(ctx context.Context, rec *models.TuningRecord) (*models.TuningRecord, error) {
	current, err := r.store.GetRecord(ctx, rec.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reloading record: %w", err)
	}
	return current, nil
}

// callbackOutcome labels a reconciliation result for metrics.
func callbackOutcome(res *Result, err error) string {
	switch {
	case err == nil && res != nil:
		return string(res.Outcome)
	case errors.Is(err, ErrMalformedCallback):
		return "malformed"
	case errors.Is(err, ErrRecordNotFound):
		return "unmatched"
	case errors.Is(err, ErrDuplicateTitle):
		return "duplicate_title"
	case errors.Is(err, ErrConflictingCallback):
		return "conflict"
	case errors.Is(err, ErrRecordNotSubmitted):
		return "not_submitted"
	default:
		return "error"
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
