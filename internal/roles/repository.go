package roles

import "context"

// Repository defines persistence operations for the role forest and the
// direct permission grants attached to each role.
type Repository interface {
	Get(ctx context.Context, id int64) (Role, error)
	GetByName(ctx context.Context, name string) (Role, error)
	List(ctx context.Context) ([]Role, error)
	Create(ctx context.Context, role Role) (Role, error)
	Update(ctx context.Context, role Role) (Role, error)
	SetParent(ctx context.Context, id int64, parentID *int64) error
	Delete(ctx context.Context, id int64) error

	Grants(ctx context.Context, roleID int64) ([]int64, error)
	Attach(ctx context.Context, roleID, permissionID int64) error
	Detach(ctx context.Context, roleID, permissionID int64) error
	ClearGrants(ctx context.Context, roleID int64) error
	RolesGranting(ctx context.Context, permissionID int64) ([]int64, error)
}
