package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStatusMismatch is returned by UpdateRecordStatus when the stored record
// no longer matches the expected status or carries a different external job id.
var ErrStatusMismatch = errors.New("record status precondition failed")

// ErrInvalidTransition is returned when the requested status change is not
// part of the record lifecycle.
var ErrInvalidTransition = errors.New("invalid record status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	SetProductTuneRecord(ctx context.Context, productID, recordID uuid.UUID) error

	CreateRecord(ctx context.Context, rec *models.TuningRecord) error
	GetRecord(ctx context.Context, id uuid.UUID) (*models.TuningRecord, error)
	GetRecordsByTitle(ctx context.Context, title string) ([]*models.TuningRecord, error)
	// ListRecords returns one page of matching records, newest first, and the
	// total number of matches.
	ListRecords(ctx context.Context, filter RecordFilter) ([]*models.TuningRecord, int, error)
	// UpdateRecordStatus atomically moves a record from expected to next and
	// applies upd. ExternalJobID is filled only when absent; a different
	// stored value fails the update with ErrStatusMismatch.
	UpdateRecordStatus(ctx context.Context, id uuid.UUID, expected, next models.Status, upd models.RecordUpdate) (*models.TuningRecord, error)
	DeleteRecord(ctx context.Context, id uuid.UUID) error

	ListImages(ctx context.Context, recordID uuid.UUID) ([]*models.Image, error)
	AddImage(ctx context.Context, img *models.Image) error
	RemoveImages(ctx context.Context, ids []uuid.UUID) error
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// RecordFilter selects one owner's records, optionally narrowed by kind and
// status. Page is 1-based.
type RecordFilter struct {
	OwnerID uuid.UUID
	Kind    models.Kind
	Status  models.Status
	Page    int
	Limit   int
}

// Normalize clamps paging to sane bounds and returns the row offset.
func (f RecordFilter) Normalize() (RecordFilter, int) {
	if f.Limit <= 0 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	return f, (f.Page - 1) * f.Limit
}

var validTransitions = map[models.Status][]models.Status{
	models.StatusPending:  {models.StatusTraining},
	models.StatusTraining: {models.StatusReady, models.StatusFailed},
}

// ValidTransition reports whether a record may move from one status to another.
func ValidTransition(from, to models.Status) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
