package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is the canonical product category.
type Category string

const (
	CategoryShirts      Category = "shirts"
	CategoryPants       Category = "pants"
	CategoryCoats       Category = "coats"
	CategoryDresses     Category = "dresses"
	CategoryShoes       Category = "shoes"
	CategoryHats        Category = "hats"
	CategoryAccessories Category = "accessories"
	CategorySwimwear    Category = "swimwear"
)

var categories = map[Category]bool{
	CategoryShirts:      true,
	CategoryPants:       true,
	CategoryCoats:       true,
	CategoryDresses:     true,
	CategoryShoes:       true,
	CategoryHats:        true,
	CategoryAccessories: true,
	CategorySwimwear:    true,
}

// ParseCategory validates free-form input against the known categories.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !categories[c] {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Tunable reports whether garments of this category can be tuned for try-on.
func (c Category) Tunable() bool {
	switch c {
	case CategoryShirts, CategoryPants, CategoryCoats, CategoryDresses, CategorySwimwear:
		return true
	}
	return false
}

// Product is the slice of the catalog the try-on pipeline needs.
type Product struct {
	ID            uuid.UUID  `db:"id"              json:"id"`
	OwnerID       uuid.UUID  `db:"owner_id"        json:"owner_id"`
	Name          string     `db:"name"            json:"name"`
	Brand         string     `db:"brand"           json:"brand"`
	Category      Category   `db:"category"        json:"category"`
	Sizes         []string   `db:"sizes"           json:"sizes"`
	Colors        []string   `db:"colors"          json:"colors"`
	MainImageURL  string     `db:"main_image_url"  json:"main_image_url"`
	ModelImageURL *string    `db:"model_image_url" json:"model_image_url,omitempty"`
	TuneRecordID  *uuid.UUID `db:"tune_record_id"  json:"tune_record_id,omitempty"`
	CreatedAt     time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"      json:"updated_at"`
}

// RequiresTune reports whether try-on for this product must wait for its
// tune to finish.
func (p *Product) RequiresTune() bool {
	return p.TuneRecordID != nil
}
