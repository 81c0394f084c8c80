package users

import "time"

// User is an administrative principal that can be granted roles.
type User struct {
	ID           int64
	Email        string
	DisplayName  string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
