package postgres

import (
	"context"
	"fmt"

	"github.com/pscheid92/flowcollab/internal/domain"
	"github.com/pscheid92/flowcollab/internal/platform/breaker"
	"github.com/sony/gobreaker"
)

const breakerComponent = "postgres"

// BreakerDirectory stops querying the directory while it keeps failing, so
// presence broadcasts fall back to bare ids without waiting on timeouts.
type BreakerDirectory struct {
	inner domain.UserDirectory
	cb    *gobreaker.CircuitBreaker
}

var _ domain.UserDirectory = (*BreakerDirectory)(nil)

func NewBreakerDirectory(inner domain.UserDirectory, observe breaker.StateObserver) *BreakerDirectory {
	return &BreakerDirectory{inner: inner, cb: breaker.New(breakerComponent, observe)}
}

func (d *BreakerDirectory) GetByIDs(ctx context.Context, userIDs []string) ([]domain.User, error) {
	result, err := d.cb.Execute(func() (any, error) {
		return d.inner.GetByIDs(ctx, userIDs)
	})
	if err != nil {
		return nil, fmt.Errorf("user directory: %w", err)
	}
	users, _ := result.([]domain.User)
	return users, nil
}

func (d *BreakerDirectory) State() gobreaker.State {
	return d.cb.State()
}
