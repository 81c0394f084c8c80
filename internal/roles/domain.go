package roles

import "time"

// Role is a named bundle of permissions, organizable into a forest: each
// role has at most one parent and inherits every ancestor's direct grants.
type Role struct {
	ID          int64
	Name        string
	DisplayName string
	Description string
	ParentID    *int64
	IsSystem    bool
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
