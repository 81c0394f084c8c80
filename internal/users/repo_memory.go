package users

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/warden/internal/shared"
)

// MemoryRepository is an in-process Repository used by tests and embedders
// that run the engine without PostgreSQL.
type MemoryRepository struct {
	mu          sync.RWMutex
	users       map[int64]User
	assignments map[int64]map[int64]struct{} // userID -> roleID set
	nextID      int64
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:       make(map[int64]User),
		assignments: make(map[int64]map[int64]struct{}),
	}
}

// Get fetches a principal by id.
func (r *MemoryRepository) Get(ctx context.Context, id int64) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return User{}, shared.NotFoundf("principal not found")
	}
	return user, nil
}

// GetByEmail fetches a principal by email.
func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, shared.NotFoundf("principal not found")
}

// List returns all principals ordered by id.
func (r *MemoryRepository) List(ctx context.Context) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]User, 0, len(r.users))
	for _, user := range r.users {
		list = append(list, user)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// Create inserts a new principal.
func (r *MemoryRepository) Create(ctx context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return User{}, shared.Conflictf("principal %q already exists", user.Email)
		}
	}
	r.nextID++
	user.ID = r.nextID
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = user
	return user, nil
}

// Update rewrites a principal's mutable attributes.
func (r *MemoryRepository) Update(ctx context.Context, user User) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.users[user.ID]
	if !ok {
		return User{}, shared.NotFoundf("principal not found")
	}
	user.Email = current.Email
	user.CreatedAt = current.CreatedAt
	user.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = user
	return user, nil
}

// Assign links a principal to a role.
func (r *MemoryRepository) Assign(ctx context.Context, userID, roleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.assignments[userID] == nil {
		r.assignments[userID] = make(map[int64]struct{})
	}
	r.assignments[userID][roleID] = struct{}{}
	return nil
}

// Revoke removes a role assignment.
func (r *MemoryRepository) Revoke(ctx context.Context, userID, roleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assignments[userID], roleID)
	return nil
}

// RoleIDsOf returns the role ids assigned to a principal.
func (r *MemoryRepository) RoleIDsOf(ctx context.Context, userID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.assignments[userID]))
	for id := range r.assignments[userID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// HoldersOf returns the principal ids assigned to a role.
func (r *MemoryRepository) HoldersOf(ctx context.Context, roleID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []int64
	for userID, roleSet := range r.assignments {
		if _, ok := roleSet[roleID]; ok {
			ids = append(ids, userID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// RevokeAllForRole removes every assignment of a role.
func (r *MemoryRepository) RevokeAllForRole(ctx context.Context, roleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, roleSet := range r.assignments {
		delete(roleSet, roleID)
	}
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
