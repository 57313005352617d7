// Package memstore provides an in-memory store.Store for tests. It honours
// the same per-record compare-and-set contract as the Postgres store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/internal/store"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// Store is a mutex-guarded map-backed store.Store.
type Store struct {
	mu       sync.Mutex
	keys     map[uuid.UUID]*models.APIKey
	products map[uuid.UUID]*models.Product
	records  map[uuid.UUID]*models.TuningRecord
	images   map[uuid.UUID]*models.Image

	// Errs injects a failure for the named method (e.g. "UpdateRecordStatus").
	Errs map[string]error
	// PingErr is returned by Ping.
	PingErr error
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		keys:     make(map[uuid.UUID]*models.APIKey),
		products: make(map[uuid.UUID]*models.Product),
		records:  make(map[uuid.UUID]*models.TuningRecord),
		images:   make(map[uuid.UUID]*models.Image),
		Errs:     make(map[string]error),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) fail(method string) error {
	return s.Errs[method]
}

func (s *Store) Ping(_ context.Context) error { return s.PingErr }

// --- API Keys ---

func (s *Store) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetAPIKeyByPrefix"); err != nil {
		return nil, err
	}
	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *Store) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateAPIKey"); err != nil {
		return err
	}
	if _, ok := s.keys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	c := *key
	s.keys[key.ID] = &c
	return nil
}

// --- Products ---

func (s *Store) CreateProduct(_ context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateProduct"); err != nil {
		return err
	}
	if _, ok := s.products[p.ID]; ok {
		return store.ErrDuplicateKey
	}
	c := *p
	s.products[p.ID] = &c
	return nil
}

func (s *Store) GetProduct(_ context.Context, id uuid.UUID) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetProduct"); err != nil {
		return nil, err
	}
	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *Store) SetProductTuneRecord(_ context.Context, productID, recordID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetProductTuneRecord"); err != nil {
		return err
	}
	p, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	p.TuneRecordID = &recordID
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Tuning Records ---

func (s *Store) CreateRecord(_ context.Context, rec *models.TuningRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("CreateRecord"); err != nil {
		return err
	}
	if _, ok := s.records[rec.ID]; ok {
		return store.ErrDuplicateKey
	}
	for _, r := range s.records {
		if r.Title == rec.Title {
			return store.ErrDuplicateKey
		}
	}
	s.records[rec.ID] = copyRecord(rec)
	return nil
}

// ForceInsert stores rec without the title uniqueness check, so tests can
// reproduce a violated invariant.
func (s *Store) ForceInsert(rec *models.TuningRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = copyRecord(rec)
}

func (s *Store) GetRecord(_ context.Context, id uuid.UUID) (*models.TuningRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetRecord"); err != nil {
		return nil, err
	}
	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyRecord(r), nil
}

func (s *Store) GetRecordsByTitle(_ context.Context, title string) ([]*models.TuningRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetRecordsByTitle"); err != nil {
		return nil, err
	}
	out := []*models.TuningRecord{}
	for _, r := range s.records {
		if r.Title == title {
			out = append(out, copyRecord(r))
		}
	}
	return out, nil
}

func (s *Store) ListRecords(_ context.Context, filter store.RecordFilter) ([]*models.TuningRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListRecords"); err != nil {
		return nil, 0, err
	}
	filter, offset := filter.Normalize()

	matched := []*models.TuningRecord{}
	for _, r := range s.records {
		if r.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Kind != "" && r.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		matched = append(matched, r)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	out := []*models.TuningRecord{}
	for i := offset; i < len(matched) && i < offset+filter.Limit; i++ {
		out = append(out, copyRecord(matched[i]))
	}
	return out, len(matched), nil
}

func (s *Store) UpdateRecordStatus(_ context.Context, id uuid.UUID, expected, next models.Status, upd models.RecordUpdate) (*models.TuningRecord, error) {
	if !store.ValidTransition(expected, next) {
		return nil, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, expected, next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateRecordStatus"); err != nil {
		return nil, err
	}
	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status != expected {
		return nil, fmt.Errorf("%w: expected %s, found %s", store.ErrStatusMismatch, expected, r.Status)
	}
	if upd.ExternalJobID != nil && r.ExternalJobID != nil && *r.ExternalJobID != *upd.ExternalJobID {
		return nil, fmt.Errorf("%w: external job id differs", store.ErrStatusMismatch)
	}

	r.Status = next
	r.UpdatedAt = time.Now().UTC()
	if r.ExternalJobID == nil && upd.ExternalJobID != nil {
		v := *upd.ExternalJobID
		r.ExternalJobID = &v
	}
	if upd.ExternalToken != nil {
		v := *upd.ExternalToken
		r.ExternalToken = &v
	}
	// Timestamps keep microsecond precision, as TIMESTAMPTZ columns do.
	if upd.TrainedAt != nil {
		v := upd.TrainedAt.Truncate(time.Microsecond)
		r.TrainedAt = &v
	}
	if upd.ExpiresAt != nil {
		v := upd.ExpiresAt.Truncate(time.Microsecond)
		r.ExpiresAt = &v
	}
	return copyRecord(r), nil
}

func (s *Store) DeleteRecord(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("DeleteRecord"); err != nil {
		return err
	}
	if _, ok := s.records[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.records, id)
	for imgID, img := range s.images {
		if img.RecordID == id {
			delete(s.images, imgID)
		}
	}
	for _, p := range s.products {
		if p.TuneRecordID != nil && *p.TuneRecordID == id {
			p.TuneRecordID = nil
		}
	}
	return nil
}

// --- Images ---

func (s *Store) ListImages(_ context.Context, recordID uuid.UUID) ([]*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("ListImages"); err != nil {
		return nil, err
	}
	out := []*models.Image{}
	for _, img := range s.images {
		if img.RecordID == recordID {
			c := *img
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *Store) AddImage(_ context.Context, img *models.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AddImage"); err != nil {
		return err
	}
	if _, ok := s.records[img.RecordID]; !ok {
		return store.ErrNotFound
	}
	c := *img
	s.images[img.ID] = &c
	return nil
}

func (s *Store) RemoveImages(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("RemoveImages"); err != nil {
		return err
	}
	for _, id := range ids {
		delete(s.images, id)
	}
	return nil
}

func copyRecord(r *models.TuningRecord) *models.TuningRecord {
	c := *r
	c.Images = nil
	return &c
}
