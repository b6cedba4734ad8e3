package postgres

import (
	"context"
	"fmt"

	"github.com/vip-wager/wager-hub/internal/domain/shared"
	"github.com/vip-wager/wager-hub/internal/domain/wager"
)

// UserRepository implements wager.UserRepository for PostgreSQL.
type UserRepository struct {
	q Querier
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(q Querier) *UserRepository {
	return &UserRepository{q: q}
}

const userColumns = `id, external_id, username, is_placeholder, linked_at, created_at`

func scanUser(row rowScanner) (*wager.User, error) {
	var u wager.User
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Username, &u.IsPlaceholder, &u.LinkedAt, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByExternalID returns the user linked to an affiliate id.
func (r *UserRepository) GetByExternalID(ctx context.Context, externalID string) (*wager.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_id = $1`
	u, err := scanUser(r.q.QueryRow(ctx, query, externalID))
	if err != nil {
		if IsNoRows(err) {
			return nil, notFound("user", "GetByExternalID", "user %s not found", externalID)
		}
		return nil, fmt.Errorf("failed to get user by external id: %w", err)
	}
	return u, nil
}

// GetByID returns a user by local id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*wager.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, notFound("user", "GetByID", "user %s not found", id)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// Create inserts a new user. A duplicate external id is a conflict.
func (r *UserRepository) Create(ctx context.Context, u *wager.User) error {
	query := `
		INSERT INTO users (id, external_id, username, is_placeholder, linked_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.q.Exec(ctx, query, u.ID, u.ExternalID, u.Username, u.IsPlaceholder, u.LinkedAt, u.CreatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.WrapError("user", "Create", shared.ErrConcurrentModification,
				fmt.Sprintf("user %s already exists", u.ExternalID), err)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// LinkingStats counts linked and placeholder users.
func (r *UserRepository) LinkingStats(ctx context.Context) (*wager.LinkingStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE NOT is_placeholder),
			COUNT(*) FILTER (WHERE is_placeholder),
			(SELECT COUNT(*) FROM raw_wager_stats),
			(SELECT COUNT(*) FROM computed_wager_stats),
			(SELECT COUNT(DISTINCT user_id) FROM wager_adjustments)
		FROM users
	`
	var s wager.LinkingStats
	err := r.q.QueryRow(ctx, query).Scan(
		&s.TotalUsers,
		&s.LinkedUsers,
		&s.PlaceholderUsers,
		&s.UsersWithRawStats,
		&s.UsersWithComputed,
		&s.UsersWithAdjustments,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get linking stats: %w", err)
	}
	return &s, nil
}
