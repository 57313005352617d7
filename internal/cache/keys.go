package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func RecordStatusKey(recordID uuid.UUID) string {
	return fmt.Sprintf("record:status:%s", recordID)
}

// TryOnResultKey identifies a rendered try-on for one model and product pair.
// variant distinguishes renders of the same pair with different options.
func TryOnResultKey(modelRecordID uuid.UUID, productID uuid.UUID, variant string) string {
	return fmt.Sprintf("tryon:result:%s:%s:%s", modelRecordID, productID, variant)
}

// RateLimitKey identifies one owner's request counter for the window that
// starts at window.
func RateLimitKey(ownerID uuid.UUID, window time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", ownerID, window.Unix())
}
