package users

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/warden/internal/shared"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, display_name, password_hash, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.PasswordHash,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.NotFoundf("principal not found")
		}
		return User{}, err
	}
	return user, nil
}

// Get fetches a principal by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail fetches a principal by email.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// List returns all principals ordered by id.
func (r *PGRepository) List(ctx context.Context) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, user)
	}
	return list, rows.Err()
}

// Create inserts a new principal.
func (r *PGRepository) Create(ctx context.Context, user User) (User, error) {
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, display_name, password_hash, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 RETURNING `+userColumns,
		user.Email, user.DisplayName, user.PasswordHash, user.IsActive, now)
	created, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, shared.Conflictf("principal %q already exists", user.Email)
		}
		return User{}, err
	}
	return created, nil
}

// Update rewrites a principal's mutable attributes.
func (r *PGRepository) Update(ctx context.Context, user User) (User, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE users SET display_name = $2, password_hash = $3, is_active = $4, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+userColumns,
		user.ID, user.DisplayName, user.PasswordHash, user.IsActive)
	return scanUser(row)
}

// Assign links a principal to a role; duplicate assignments are ignored.
func (r *PGRepository) Assign(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id, created_at)
		 VALUES ($1, $2, NOW()) ON CONFLICT DO NOTHING`, userID, roleID)
	return err
}

// Revoke removes a role assignment.
func (r *PGRepository) Revoke(ctx context.Context, userID, roleID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	return err
}

// RoleIDsOf returns the role ids assigned to a principal.
func (r *PGRepository) RoleIDsOf(ctx context.Context, userID int64) ([]int64, error) {
	return r.collect(ctx,
		`SELECT role_id FROM user_roles WHERE user_id = $1 ORDER BY role_id`, userID)
}

// HoldersOf returns the principal ids assigned to a role.
func (r *PGRepository) HoldersOf(ctx context.Context, roleID int64) ([]int64, error) {
	return r.collect(ctx,
		`SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`, roleID)
}

// RevokeAllForRole removes every assignment of a role, used by forced role
// deletion.
func (r *PGRepository) RevokeAllForRole(ctx context.Context, roleID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID)
	return err
}

func (r *PGRepository) collect(ctx context.Context, query string, arg any) ([]int64, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
