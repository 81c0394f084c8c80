package users

import "context"

// Repository defines persistence operations for principals and their role
// assignments.
type Repository interface {
	Get(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context) ([]User, error)
	Create(ctx context.Context, user User) (User, error)
	Update(ctx context.Context, user User) (User, error)

	Assign(ctx context.Context, userID, roleID int64) error
	Revoke(ctx context.Context, userID, roleID int64) error
	RoleIDsOf(ctx context.Context, userID int64) ([]int64, error)
	HoldersOf(ctx context.Context, roleID int64) ([]int64, error)
	RevokeAllForRole(ctx context.Context, roleID int64) error
}
