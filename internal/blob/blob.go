// Package blob stores reference images for tuning records. Drivers exist for
// the local filesystem, Amazon S3 and Google Cloud Storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidName = errors.New("blob: invalid object name")

// Store is the blob storage interface consumed by the tuning orchestrator.
// Upload returns a URL the external tuning service can fetch.
type Store interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, names []string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.]`)

// Sanitize replaces every character outside [A-Za-z0-9.] with an underscore.
func Sanitize(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

// ObjectName derives the storage key for the index-th image of a record.
// The result always starts with RecordPrefix(recordID).
func ObjectName(recordID uuid.UUID, index int, original string) string {
	original = Sanitize(original)
	if original == "" {
		original = "image"
	}
	return fmt.Sprintf("%s%d_%s", RecordPrefix(recordID), index, original)
}

// RecordPrefix is the shared prefix of every object uploaded for a record.
func RecordPrefix(recordID uuid.UUID) string {
	return recordID.String() + "_"
}

// RemovePrefix deletes every object whose name starts with prefix and
// returns the number removed.
func RemovePrefix(ctx context.Context, s Store, prefix string) (int, error) {
	if strings.TrimSpace(prefix) == "" {
		return 0, fmt.Errorf("%w: empty prefix", ErrInvalidName)
	}
	names, err := s.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list %q: %w", prefix, err)
	}
	if len(names) == 0 {
		return 0, nil
	}
	if err := s.Remove(ctx, names); err != nil {
		return 0, fmt.Errorf("remove %d objects: %w", len(names), err)
	}
	return len(names), nil
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
