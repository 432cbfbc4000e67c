// Package revision fixes the target revision of a request.
package revision

import (
	"context"
	"errors"
	"fmt"

	"github.com/danieljhkim/deltaserve/internal/repo"
)

// ErrInvalidRevision indicates a requested revision that does not exist.
var ErrInvalidRevision = errors.New("invalid revision")

// Resolver maps an optional requested revision to an existing one.
type Resolver struct {
	repo repo.Repository
}

// NewResolver creates a Resolver over r.
func NewResolver(r repo.Repository) *Resolver {
	return &Resolver{repo: r}
}

// Resolve returns *requested if it exists, or the youngest revision at the
// moment of the call when requested is nil.
func (r *Resolver) Resolve(ctx context.Context, requested *int64) (int64, error) {
	youngest, err := r.repo.Youngest(ctx)
	if err != nil {
		return 0, err
	}
	if requested == nil {
		return youngest, nil
	}
	rev := *requested
	if rev < 0 || rev > youngest {
		return 0, fmt.Errorf("%w: r%d (youngest is r%d)", ErrInvalidRevision, rev, youngest)
	}
	return rev, nil
}
