package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pscheid92/flowcollab/internal/domain"
)

const getUsersByIDs = `
SELECT id, COALESCE(email, ''), COALESCE(first_name, ''), COALESCE(last_name, '')
FROM users
WHERE id = ANY($1)`

// UserRepo implements domain.UserDirectory backed by PostgreSQL.
type UserRepo struct {
	pool *pgxpool.Pool
}

var _ domain.UserDirectory = (*UserRepo)(nil)

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// GetByIDs returns the profiles that exist, in no particular order.
func (r *UserRepo) GetByIDs(ctx context.Context, userIDs []string) ([]domain.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := r.pool.Query(ctx, getUsersByIDs, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}

	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.User, error) {
		var u domain.User
		err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName)
		return u, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan users: %w", err)
	}
	return users, nil
}
