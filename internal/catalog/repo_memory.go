package catalog

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
	perms  map[int64]Permission
	nextID int64
}

// NewMemoryRepository constructs an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{perms: make(map[int64]Permission)}
}

// Get fetches a permission by id.
func (r *MemoryRepository) Get(ctx context.Context, id int64) (Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	perm, ok := r.perms[id]
	if !ok {
		return Permission{}, shared.NotFoundf("permission not found")
	}
	return perm, nil
}

// GetByName fetches a permission by name.
func (r *MemoryRepository) GetByName(ctx context.Context, name string) (Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, perm := range r.perms {
		if perm.Name == name {
			return perm, nil
		}
	}
	return Permission{}, shared.NotFoundf("permission not found")
}

// List returns all permissions ordered by name.
func (r *MemoryRepository) List(ctx context.Context) ([]Permission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	perms := make([]Permission, 0, len(r.perms))
	for _, perm := range r.perms {
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms, nil
}

// Create inserts a new permission.
func (r *MemoryRepository) Create(ctx context.Context, perm Permission) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.perms {
		if existing.Name == perm.Name {
			return Permission{}, shared.Conflictf("permission %q already exists", perm.Name)
		}
	}
	r.nextID++
	perm.ID = r.nextID
	now := time.Now().UTC()
	perm.CreatedAt = now
	perm.UpdatedAt = now
	r.perms[perm.ID] = perm
	return perm, nil
}

// Update rewrites a permission's mutable attributes.
func (r *MemoryRepository) Update(ctx context.Context, perm Permission) (Permission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.perms[perm.ID]
	if !ok {
		return Permission{}, shared.NotFoundf("permission not found")
	}
	for id, existing := range r.perms {
		if id != perm.ID && existing.Name == perm.Name {
			return Permission{}, shared.Conflictf("permission %q already exists", perm.Name)
		}
	}
	perm.CreatedAt = current.CreatedAt
	perm.IsSystem = current.IsSystem
	perm.UpdatedAt = time.Now().UTC()
	r.perms[perm.ID] = perm
	return perm, nil
}

// Delete removes a permission by id.
func (r *MemoryRepository) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.perms[id]; !ok {
		return shared.NotFoundf("permission not found")
	}
	delete(r.perms, id)
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
