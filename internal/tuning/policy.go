package tuning

import (
	"fmt"

	"github.com/kiranshivaraju/tryon/pkg/models"
)

// ImagePolicy bounds how many reference images a submission may carry.
// A zero Max means unbounded.
type ImagePolicy struct {
	Min int
	Max int
}

// PolicyFor returns the image count policy for a record kind.
func PolicyFor(kind models.Kind) ImagePolicy {
	if kind == models.KindIdentity {
		return ImagePolicy{Min: 5, Max: 10}
	}
	return ImagePolicy{Min: 1}
}

// Check validates n against the policy.
func (p ImagePolicy) Check(n int) error {
	if n < p.Min {
		return fmt.Errorf("%w: at least %d images required, got %d", ErrValidation, p.Min, n)
	}
	if p.Max > 0 && n > p.Max {
		return fmt.Errorf("%w: at most %d images allowed, got %d", ErrValidation, p.Max, n)
	}
	return nil
}

// imageRole labels the index-th image of a submission.
func imageRole(kind models.Kind, index int) string {
	if kind == models.KindIdentity {
		return models.ImageRoleReference
	}
	if index == 0 {
		return models.ImageRoleMain
	}
	return models.ImageRoleAdditional
}
