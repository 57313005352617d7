package tuning

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// ErrInvalidTitle is returned by ParseTitle for strings Title never produces.
var ErrInvalidTitle = errors.New("invalid record title")

const titleSep = "_"

// Title is the external-namespace name of a record: "<kind>_<id>". Neither
// part contains the separator, so the id is recoverable.
func Title(kind models.Kind, id uuid.UUID) string {
	return string(kind) + titleSep + id.String()
}

// ParseTitle inverts Title. Only the canonical lowercase hyphenated id form
// is accepted.
func ParseTitle(title string) (models.Kind, uuid.UUID, error) {
	prefix, rest, ok := strings.Cut(title, titleSep)
	if !ok {
		return "", uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidTitle, title)
	}
	kind := models.Kind(prefix)
	if !kind.Valid() {
		return "", uuid.Nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidTitle, prefix)
	}
	id, err := uuid.Parse(rest)
	if err != nil || id.String() != rest {
		return "", uuid.Nil, fmt.Errorf("%w: bad id %q", ErrInvalidTitle, rest)
	}
	return kind, id, nil
}
