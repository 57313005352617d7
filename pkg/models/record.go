// Package models contains shared data models used across the try-on codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a TuningRecord.
type Status string

const (
	StatusPending  Status = "pending"
	StatusTraining Status = "training"
	StatusReady    Status = "ready"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusTraining, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Kind discriminates identity models (a person's reference photos) from
// product tunes (a garment's reference photos).
type Kind string

const (
	KindIdentity Kind = "identity"
	KindProduct  Kind = "product"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindIdentity || k == KindProduct
}

// TuningRecord tracks one externally-trained image model from submission
// until the tuning service reports completion or failure.
//
// Title is the join key used by callbacks and always encodes ID.
type TuningRecord struct {
	ID            uuid.UUID  `db:"id"              json:"id"`
	OwnerID       uuid.UUID  `db:"owner_id"        json:"owner_id"`
	Kind          Kind       `db:"kind"            json:"kind"`
	Title         string     `db:"title"           json:"title"`
	Name          string     `db:"name"            json:"name"`
	Status        Status     `db:"status"          json:"status"`
	ProductID     *uuid.UUID `db:"product_id"      json:"product_id,omitempty"`
	BaseTuneID    *string    `db:"base_tune_id"    json:"base_tune_id,omitempty"`
	ExternalJobID *string    `db:"external_job_id" json:"external_job_id,omitempty"`
	ExternalToken *string    `db:"external_token"  json:"-"`
	TrainedAt     *time.Time `db:"trained_at"      json:"trained_at,omitempty"`
	ExpiresAt     *time.Time `db:"expires_at"      json:"expires_at,omitempty"`
	Images        []*Image   `db:"-"               json:"images"`
	CreatedAt     time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"      json:"updated_at"`
}

// RecordUpdate carries the optional fields written alongside a status
// transition. Nil fields are left untouched.
type RecordUpdate struct {
	ExternalJobID *string
	ExternalToken *string
	TrainedAt     *time.Time
	ExpiresAt     *time.Time
}
