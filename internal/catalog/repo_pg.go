package catalog

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

const permColumns = `id, name, label, module, risk, is_system, depends_on, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	err := row.Scan(&perm.ID, &perm.Name, &perm.Label, &perm.Module, &perm.Risk,
		&perm.IsSystem, &perm.DependsOn, &perm.CreatedAt, &perm.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, shared.NotFoundf("permission not found")
		}
		return Permission{}, err
	}
	return perm, nil
}

// Get fetches a permission by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (Permission, error) {
	return scanPermission(r.pool.QueryRow(ctx,
		`SELECT `+permColumns+` FROM permissions WHERE id = $1`, id))
}

// GetByName fetches a permission by its stable name.
func (r *PGRepository) GetByName(ctx context.Context, name string) (Permission, error) {
	return scanPermission(r.pool.QueryRow(ctx,
		`SELECT `+permColumns+` FROM permissions WHERE name = $1`, name))
}

// List returns all permissions ordered by name.
func (r *PGRepository) List(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+permColumns+` FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// Create inserts a new permission.
func (r *PGRepository) Create(ctx context.Context, perm Permission) (Permission, error) {
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx,
		`INSERT INTO permissions (name, label, module, risk, is_system, depends_on, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 RETURNING `+permColumns,
		perm.Name, perm.Label, perm.Module, perm.Risk, perm.IsSystem, perm.DependsOn, now)
	created, err := scanPermission(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Permission{}, shared.Conflictf("permission %q already exists", perm.Name)
		}
		return Permission{}, err
	}
	return created, nil
}

// Update rewrites a permission's mutable attributes.
func (r *PGRepository) Update(ctx context.Context, perm Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE permissions
		 SET name = $2, label = $3, module = $4, risk = $5, depends_on = $6, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+permColumns,
		perm.ID, perm.Name, perm.Label, perm.Module, perm.Risk, perm.DependsOn)
	updated, err := scanPermission(row)
	if err != nil {
		if isUniqueViolation(err) {
			return Permission{}, shared.Conflictf("permission %q already exists", perm.Name)
		}
		return Permission{}, err
	}
	return updated, nil
}

// Delete removes a permission by id.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFoundf("permission not found")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Repository = (*PGRepository)(nil)
