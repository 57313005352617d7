package models

import (
	"time"

	"github.com/google/uuid"
)

// Image roles.
const (
	ImageRoleReference  = "reference"
	ImageRoleMain       = "main"
	ImageRoleAdditional = "additional"
)

// Image is a reference photo attached to a TuningRecord. ObjectName is the
// blob storage key the URL was produced from.
type Image struct {
	ID         uuid.UUID `db:"id"          json:"id"`
	RecordID   uuid.UUID `db:"record_id"   json:"record_id"`
	URL        string    `db:"url"         json:"url"`
	ObjectName string    `db:"object_name" json:"-"`
	Role       *string   `db:"role"        json:"role,omitempty"`
	Position   int       `db:"position"    json:"position"`
	CreatedAt  time.Time `db:"created_at"  json:"created_at"`
}
