// Package tuning owns the lifecycle of tuning records: submission to the
// external tuning service, callback reconciliation and owner operations.
package tuning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/astria"
	"github.com/kiranshivaraju/tryon/internal/blob"
	"github.com/kiranshivaraju/tryon/internal/cache"
	"github.com/kiranshivaraju/tryon/internal/metrics"
	"github.com/kiranshivaraju/tryon/internal/store"
	"github.com/kiranshivaraju/tryon/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Options configures a Service.
type Options struct {
	CallbackURL        string
	IdentityBaseTuneID string
	ProductBaseTuneID  string
	UploadConcurrency  int
	StatusTTL          time.Duration
}

// Service orchestrates submissions and owner-initiated record operations.
type Service struct {
	store   store.Store
	blobs   blob.Store
	client  astria.Client
	cache   cache.Cache
	metrics *metrics.Metrics
	opts    Options
}

// NewService creates a new Service.
func NewService(st store.Store, blobs blob.Store, client astria.Client, ca cache.Cache, m *metrics.Metrics, opts Options) *Service {
	if opts.UploadConcurrency < 1 {
		opts.UploadConcurrency = 1
	}
	if opts.StatusTTL <= 0 {
		opts.StatusTTL = 30 * time.Minute
	}
	return &Service{
		store:   st,
		blobs:   blobs,
		client:  client,
		cache:   ca,
		metrics: m,
		opts:    opts,
	}
}

// ImageInput is one reference image. Either Data is uploaded to blob
// storage, or URL names an image that is already publicly reachable.
type ImageInput struct {
	Filename    string
	ContentType string
	Data        []byte
	URL         string
}

// SubmitInput is a request to train a new model.
type SubmitInput struct {
	OwnerID   uuid.UUID
	Kind      models.Kind
	Name      string
	ProductID *uuid.UUID
	Images    []ImageInput
}

// Submit creates a PENDING record, stores its images, submits the tune job
// and advances the record to TRAINING. Once the record exists it is returned
// alongside any error so callers can report its id; it is left in place for
// retry or delete.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*models.TuningRecord, error) {
	rec, err := s.create(ctx, in)
	if err != nil {
		s.metrics.Submission(string(in.Kind), outcomeOf(err))
		return nil, err
	}
	rec, err = s.uploadAndSubmit(ctx, rec, in.Images)
	s.metrics.Submission(string(in.Kind), outcomeOf(err))
	return rec, err
}

func (s *Service) create(ctx context.Context, in SubmitInput) (*models.TuningRecord, error) {
	if !in.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrValidation, in.Kind)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if in.OwnerID == uuid.Nil {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}
	if err := PolicyFor(in.Kind).Check(len(in.Images)); err != nil {
		return nil, err
	}
	for i, img := range in.Images {
		if len(img.Data) == 0 && img.URL == "" {
			return nil, fmt.Errorf("%w: image %d is empty", ErrValidation, i)
		}
	}

	now := time.Now().UTC()
	id := uuid.New()
	rec := &models.TuningRecord{
		ID:        id,
		OwnerID:   in.OwnerID,
		Kind:      in.Kind,
		Title:     Title(in.Kind, id),
		Name:      strings.TrimSpace(in.Name),
		Status:    models.StatusPending,
		ProductID: in.ProductID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if base := s.baseTuneID(in.Kind); base != "" {
		rec.BaseTuneID = &base
	}
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating record: %w", err)
	}
	s.cacheStatus(ctx, rec)

	slog.Info("tuning record created", "record_id", rec.ID, "title", rec.Title, "kind", rec.Kind, "images", len(in.Images))
	return rec, nil
}

func (s *Service) uploadAndSubmit(ctx context.Context, rec *models.TuningRecord, images []ImageInput) (*models.TuningRecord, error) {
	stored, err := s.uploadImages(ctx, rec, images)
	rec.Images = stored
	if err != nil {
		slog.Error("image upload failed", "record_id", rec.ID, "title", rec.Title, "stored", len(stored), "error", err)
		return rec, err
	}
	return s.submit(ctx, rec)
}

// uploadImages fans uploads out under the configured concurrency limit. The
// first failure cancels uploads that have not started; images already stored
// stay attached to the record.
func (s *Service) uploadImages(ctx context.Context, rec *models.TuningRecord, images []ImageInput) ([]*models.Image, error) {
	results := make([]*models.Image, len(images))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.UploadConcurrency)

	for i, in := range images {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			img, err := s.storeImage(gctx, rec, i, in)
			if err != nil {
				return fmt.Errorf("%w: image %d: %v", ErrUploadFailed, i, err)
			}
			results[i] = img
			return nil
		})
	}
	err := g.Wait()

	stored := make([]*models.Image, 0, len(images))
	for _, img := range results {
		if img != nil {
			stored = append(stored, img)
		}
	}
	if err != nil && !errors.Is(err, ErrUploadFailed) {
		err = fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return stored, err
}

func (s *Service) storeImage(ctx context.Context, rec *models.TuningRecord, index int, in ImageInput) (*models.Image, error) {
	url, name := in.URL, ""
	if len(in.Data) > 0 {
		name = blob.ObjectName(rec.ID, index, in.Filename)
		var err error
		url, err = s.blobs.Upload(ctx, name, in.Data, in.ContentType)
		if err != nil {
			return nil, err
		}
	}
	role := imageRole(rec.Kind, index)
	img := &models.Image{
		ID:         uuid.New(),
		RecordID:   rec.ID,
		URL:        url,
		ObjectName: name,
		Role:       &role,
		Position:   index,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.AddImage(ctx, img); err != nil {
		return nil, fmt.Errorf("recording image: %w", err)
	}
	return img, nil
}

// submit sends a PENDING record to the tuning service and records the job.
func (s *Service) submit(ctx context.Context, rec *models.TuningRecord) (*models.TuningRecord, error) {
	urls := make([]string, 0, len(rec.Images))
	for _, img := range rec.Images {
		urls = append(urls, img.URL)
	}

	req := astria.SubmitRequest{
		Title:       rec.Title,
		Name:        rec.Name,
		ImageURLs:   urls,
		CallbackURL: s.opts.CallbackURL,
	}
	if rec.BaseTuneID != nil {
		req.BaseTuneID = *rec.BaseTuneID
	}
	sub, err := s.client.SubmitTune(ctx, req)
	if err != nil {
		slog.Error("tune submission failed", "record_id", rec.ID, "title", rec.Title, "error", err)
		return rec, fmt.Errorf("submitting tune: %w", err)
	}

	updated, err := s.store.UpdateRecordStatus(ctx, rec.ID, models.StatusPending, models.StatusTraining,
		models.RecordUpdate{ExternalJobID: &sub.JobID, ExternalToken: &sub.Token})
	if errors.Is(err, store.ErrStatusMismatch) {
		// A concurrent retry of the same title may have recorded this job first.
		current, gerr := s.store.GetRecord(ctx, rec.ID)
		if gerr == nil && current.ExternalJobID != nil && *current.ExternalJobID == sub.JobID {
			updated, err = current, nil
		}
	}
	if err != nil {
		slog.Error("recording submission failed", "record_id", rec.ID, "title", rec.Title, "job_id", sub.JobID, "error", err)
		return rec, fmt.Errorf("recording submission: %w", err)
	}

	updated.Images = rec.Images
	s.cacheStatus(ctx, updated)
	slog.Info("tune submitted", "record_id", updated.ID, "title", updated.Title, "job_id", sub.JobID)
	return updated, nil
}

// Retry resubmits a PENDING record under its original title.
func (s *Service) Retry(ctx context.Context, ownerID, recordID uuid.UUID) (*models.TuningRecord, error) {
	rec, err := s.Get(ctx, ownerID, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Status != models.StatusPending {
		return rec, fmt.Errorf("%w: status is %s", ErrNotRetryable, rec.Status)
	}
	if err := PolicyFor(rec.Kind).Check(len(rec.Images)); err != nil {
		return rec, err
	}
	rec, err = s.submit(ctx, rec)
	s.metrics.Submission(string(rec.Kind), outcomeOf(err))
	return rec, err
}

// Get returns one of the owner's records with its images.
func (s *Service) Get(ctx context.Context, ownerID, recordID uuid.UUID) (*models.TuningRecord, error) {
	rec, err := s.store.GetRecord(ctx, recordID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}
	if rec.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	if rec.Images, err = s.store.ListImages(ctx, rec.ID); err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	return rec, nil
}

// List returns one page of the owner's records, newest first, together
// with the total number of records matching the filter.
func (s *Service) List(ctx context.Context, filter store.RecordFilter) ([]*models.TuningRecord, int, error) {
	recs, total, err := s.store.ListRecords(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("listing records: %w", err)
	}
	for _, rec := range recs {
		if rec.Images, err = s.store.ListImages(ctx, rec.ID); err != nil {
			return nil, 0, fmt.Errorf("listing images: %w", err)
		}
	}
	return recs, total, nil
}

// Status reports a record's lifecycle state, preferring the cache.
func (s *Service) Status(ctx context.Context, ownerID, recordID uuid.UUID) (models.Status, error) {
	if rs, found, err := s.cache.GetRecordStatus(ctx, recordID); err == nil && found {
		if rs.OwnerID != ownerID {
			return "", ErrNotFound
		}
		return rs.Status, nil
	}

	rec, err := s.store.GetRecord(ctx, recordID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting record: %w", err)
	}
	if rec.OwnerID != ownerID {
		return "", ErrNotFound
	}
	s.cacheStatus(ctx, rec)
	return rec.Status, nil
}

// Delete removes a record, its stored images and its cached status. It
// tolerates records with no or partial images. Deleting a TRAINING record
// orphans the external job; its late callback goes unmatched.
func (s *Service) Delete(ctx context.Context, ownerID, recordID uuid.UUID) error {
	rec, err := s.store.GetRecord(ctx, recordID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("getting record: %w", err)
	}
	if rec.OwnerID != ownerID {
		return ErrNotFound
	}

	imgs, err := s.store.ListImages(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("listing images: %w", err)
	}
	if len(imgs) > 0 {
		ids := make([]uuid.UUID, len(imgs))
		for i, img := range imgs {
			ids[i] = img.ID
		}
		if err := s.store.RemoveImages(ctx, ids); err != nil {
			return fmt.Errorf("removing image rows: %w", err)
		}
	}

	removed, err := blob.RemovePrefix(ctx, s.blobs, blob.RecordPrefix(rec.ID))
	if err != nil {
		return fmt.Errorf("removing images: %w", err)
	}
	if err := s.store.DeleteRecord(ctx, rec.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting record: %w", err)
	}
	_ = s.cache.Delete(ctx, cache.RecordStatusKey(rec.ID))

	slog.Info("tuning record deleted", "record_id", rec.ID, "title", rec.Title, "status", rec.Status,
		"images_removed", len(imgs), "blobs_removed", removed)
	return nil
}

func (s *Service) baseTuneID(kind models.Kind) string {
	if kind == models.KindProduct {
		return s.opts.ProductBaseTuneID
	}
	return s.opts.IdentityBaseTuneID
}

func (s *Service) cacheStatus(ctx context.Context, rec *models.TuningRecord) {
	cacheStatus(ctx, s.cache, rec, s.opts.StatusTTL)
}

func cacheStatus(ctx context.Context, ca cache.Cache, rec *models.TuningRecord, ttl time.Duration) {
	rs := cache.RecordStatus{RecordID: rec.ID, OwnerID: rec.OwnerID, Status: rec.Status}
	if err := ca.SetRecordStatus(ctx, rs, ttl); err != nil {
		slog.Warn("caching record status failed", "record_id", rec.ID, "error", err)
	}
}

// outcomeOf labels a submission result for metrics.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrUploadFailed):
		return "upload_failed"
	case errors.Is(err, ErrServiceUnavailable):
		return "service_unavailable"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrNotRetryable):
		return "not_retryable"
	default:
		return "error"
	}
}
