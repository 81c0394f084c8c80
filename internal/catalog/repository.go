package catalog

import "context"

// Repository defines persistence operations for the permission catalog.
type Repository interface {
	Get(ctx context.Context, id int64) (Permission, error)
	GetByName(ctx context.Context, name string) (Permission, error)
	List(ctx context.Context) ([]Permission, error)
	Create(ctx context.Context, perm Permission) (Permission, error)
	Update(ctx context.Context, perm Permission) (Permission, error)
	Delete(ctx context.Context, id int64) error
}
