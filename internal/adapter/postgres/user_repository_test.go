package postgres

import (
	"context"
	"testing"

	"github.com/pscheid92/flowcollab/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepo_GetByIDs(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepo(pool)
	insertUser(t, pool, "u1", "ada@example.com", "Ada", "Lovelace")
	insertUser(t, pool, "u2", "grace@example.com", "Grace", "Hopper")

	users, err := repo.GetByIDs(context.Background(), []string{"u1", "u2", "ghost"})
	require.NoError(t, err)

	assert.ElementsMatch(t, []domain.User{
		{ID: "u1", Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace"},
		{ID: "u2", Email: "grace@example.com", FirstName: "Grace", LastName: "Hopper"},
	}, users)
}

func TestUserRepo_NullColumnsBecomeEmpty(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewUserRepo(pool)
	insertUser(t, pool, "u3", "", "", "")

	users, err := repo.GetByIDs(context.Background(), []string{"u3"})
	require.NoError(t, err)
	assert.Equal(t, []domain.User{{ID: "u3"}}, users)
}

func TestUserRepo_NoIDs(t *testing.T) {
	repo := NewUserRepo(nil)

	users, err := repo.GetByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, users)
}
