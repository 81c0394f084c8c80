package roles

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/warden/internal/platform/db"
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

const roleColumns = `id, name, display_name, description, parent_id, is_system, is_active, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.DisplayName, &role.Description,
		&role.ParentID, &role.IsSystem, &role.IsActive, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, shared.NotFoundf("role not found")
		}
		return Role{}, err
	}
	return role, nil
}

// Get fetches a role by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// GetByName fetches a role by name.
func (r *PGRepository) GetByName(ctx context.Context, name string) (Role, error) {
	return scanRole(r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}

// List returns all roles ordered by id.
func (r *PGRepository) List(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, role)
	}
	return list, rows.Err()
}

// Create inserts a new role.
func (r *PGRepository) Create(ctx context.Context, role Role) (Role, error) {
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx,
		`INSERT INTO roles (name, display_name, description, parent_id, is_system, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 RETURNING `+roleColumns,
		role.Name, role.DisplayName, role.Description, role.ParentID, role.IsSystem, role.IsActive, now)
	created, err := scanRole(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, shared.Conflictf("role %q already exists", role.Name)
		}
		return Role{}, err
	}
	return created, nil
}

// Update rewrites a role's mutable attributes.
func (r *PGRepository) Update(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE roles
		 SET name = $2, display_name = $3, description = $4, is_active = $5, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+roleColumns,
		role.ID, role.Name, role.DisplayName, role.Description, role.IsActive)
	updated, err := scanRole(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, shared.Conflictf("role %q already exists", role.Name)
		}
		return Role{}, err
	}
	return updated, nil
}

// SetParent rewrites the parent edge of a role.
func (r *PGRepository) SetParent(ctx context.Context, id int64, parentID *int64) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE roles SET parent_id = $2, updated_at = NOW() WHERE id = $1`, id, parentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("role not found")
	}
	return nil
}

// Delete removes a role row together with its grant edges.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.NotFoundf("role not found")
		}
		return nil
	})
}

// Grants returns the direct permission ids of a role.
func (r *PGRepository) Grants(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT permission_id FROM role_permissions WHERE role_id = $1 ORDER BY permission_id`, roleID)
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

// Attach adds a direct grant edge; duplicate edges are ignored.
func (r *PGRepository) Attach(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id, created_at)
		 VALUES ($1, $2, NOW()) ON CONFLICT DO NOTHING`, roleID, permissionID)
	return err
}

// Detach removes a direct grant edge.
func (r *PGRepository) Detach(ctx context.Context, roleID, permissionID int64) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	return err
}

// ClearGrants removes every grant edge of a role.
func (r *PGRepository) ClearGrants(ctx context.Context, roleID int64) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID)
	return err
}

// RolesGranting returns the ids of roles holding a direct grant of the
// given permission.
func (r *PGRepository) RolesGranting(ctx context.Context, permissionID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT role_id FROM role_permissions WHERE permission_id = $1 ORDER BY role_id`, permissionID)
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

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Repository = (*PGRepository)(nil)
