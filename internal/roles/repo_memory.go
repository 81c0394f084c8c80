package roles

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
	mu     sync.RWMutex
	roles  map[int64]Role
	grants map[int64]map[int64]struct{}
	nextID int64
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		roles:  make(map[int64]Role),
		grants: make(map[int64]map[int64]struct{}),
	}
}

// Get fetches a role by id.
func (r *MemoryRepository) Get(ctx context.Context, id int64) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	if !ok {
		return Role{}, shared.NotFoundf("role not found")
	}
	return role, nil
}

// GetByName fetches a role by name.
func (r *MemoryRepository) GetByName(ctx context.Context, name string) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, role := range r.roles {
		if role.Name == name {
			return role, nil
		}
	}
	return Role{}, shared.NotFoundf("role not found")
}

// List returns all roles ordered by id.
func (r *MemoryRepository) List(ctx context.Context) ([]Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		list = append(list, role)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// Create inserts a new role.
func (r *MemoryRepository) Create(ctx context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.roles {
		if existing.Name == role.Name {
			return Role{}, shared.Conflictf("role %q already exists", role.Name)
		}
	}
	r.nextID++
	role.ID = r.nextID
	now := time.Now().UTC()
	role.CreatedAt = now
	role.UpdatedAt = now
	r.roles[role.ID] = role
	return role, nil
}

// Update rewrites a role's mutable attributes, preserving the parent edge.
func (r *MemoryRepository) Update(ctx context.Context, role Role) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.roles[role.ID]
	if !ok {
		return Role{}, shared.NotFoundf("role not found")
	}
	for id, existing := range r.roles {
		if id != role.ID && existing.Name == role.Name {
			return Role{}, shared.Conflictf("role %q already exists", role.Name)
		}
	}
	role.ParentID = current.ParentID
	role.IsSystem = current.IsSystem
	role.CreatedAt = current.CreatedAt
	role.UpdatedAt = time.Now().UTC()
	r.roles[role.ID] = role
	return role, nil
}

// SetParent rewrites the parent edge of a role.
func (r *MemoryRepository) SetParent(ctx context.Context, id int64, parentID *int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[id]
	if !ok {
		return shared.NotFoundf("role not found")
	}
	role.ParentID = parentID
	role.UpdatedAt = time.Now().UTC()
	r.roles[id] = role
	return nil
}

// Delete removes a role row and its grant edges.
func (r *MemoryRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[id]; !ok {
		return shared.NotFoundf("role not found")
	}
	delete(r.roles, id)
	delete(r.grants, id)
	return nil
}

// Grants returns the direct permission ids of a role.
func (r *MemoryRepository) Grants(ctx context.Context, roleID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.grants[roleID]))
	for id := range r.grants[roleID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Attach adds a direct grant edge.
func (r *MemoryRepository) Attach(ctx context.Context, roleID, permissionID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grants[roleID] == nil {
		r.grants[roleID] = make(map[int64]struct{})
	}
	r.grants[roleID][permissionID] = struct{}{}
	return nil
}

// Detach removes a direct grant edge.
func (r *MemoryRepository) Detach(ctx context.Context, roleID, permissionID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants[roleID], permissionID)
	return nil
}

// ClearGrants removes every grant edge of a role.
func (r *MemoryRepository) ClearGrants(ctx context.Context, roleID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants, roleID)
	return nil
}

// RolesGranting returns the ids of roles granting the given permission.
func (r *MemoryRepository) RolesGranting(ctx context.Context, permissionID int64) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []int64
	for roleID, perms := range r.grants {
		if _, ok := perms[permissionID]; ok {
			ids = append(ids, roleID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

var _ Repository = (*MemoryRepository)(nil)
