package roles

import (
	"context"
	"regexp"
	"strings"

	"github.com/odyssey-erp/warden/internal/catalog"
	"github.com/odyssey-erp/warden/internal/shared"
)

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// PermissionDirectory is the slice of the permission catalog the role graph
// needs to validate grants.
type PermissionDirectory interface {
	Get(ctx context.Context, id int64) (catalog.Permission, error)
}

// Service is the authoritative owner of role identity, hierarchy edges and
// direct permission grants. Hierarchy mutations are serialized per affected
// tree so the cycle-detection read and the edge write are atomic together.
type Service struct {
	repo     Repository
	perms    PermissionDirectory
	locks    *subtreeLocks
	maxDepth int
}

// NewService constructs a role-graph service. maxDepth bounds the number of
// levels in any parent chain (roots are level zero).
func NewService(repo Repository, perms PermissionDirectory, maxDepth int) *Service {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &Service{repo: repo, perms: perms, locks: newSubtreeLocks(), maxDepth: maxDepth}
}

// checkGrants rejects permission ids that do not exist in the catalog, so
// no caller can create dangling grant edges.
func (s *Service) checkGrants(ctx context.Context, permissionIDs []int64) error {
	for _, permID := range permissionIDs {
		if _, err := s.perms.Get(ctx, permID); err != nil {
			if shared.KindOf(err) == shared.KindNotFound {
				return shared.Validationf("unknown permission %d", permID)
			}
			return err
		}
	}
	return nil
}

// MaxDepth reports the configured hierarchy bound.
func (s *Service) MaxDepth() int {
	return s.maxDepth
}

// snapshot loads the full forest into an arena index.
func (s *Service) snapshot(ctx context.Context) (Index, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	return BuildIndex(list), nil
}

// lockSubtrees acquires the subtree locks rooted above each of the given
// roles. Roots are recomputed after acquisition; if a concurrent mutation
// moved a role into another tree the locks are retaken.
func (s *Service) lockSubtrees(ctx context.Context, ids ...int64) (Index, func(), error) {
	for attempt := 0; attempt < 5; attempt++ {
		ix, err := s.snapshot(ctx)
		if err != nil {
			return nil, nil, err
		}
		roots := make([]int64, 0, len(ids))
		for _, id := range ids {
			roots = append(roots, ix.RootOf(id))
		}
		release := s.locks.acquire(roots...)

		// Re-read under the lock and confirm the roots are stable.
		locked, err := s.snapshot(ctx)
		if err != nil {
			release()
			return nil, nil, err
		}
		stable := true
		for i, id := range ids {
			if locked.RootOf(id) != roots[i] {
				stable = false
				break
			}
		}
		if stable {
			return locked, release, nil
		}
		release()
	}
	return nil, nil, shared.Conflictf("hierarchy is being reorganized, retry")
}

// CreateInput carries the attributes of a new role.
type CreateInput struct {
	Name          string
	DisplayName   string
	Description   string
	ParentID      *int64
	PermissionIDs []int64
	IsSystem      bool
}

// Create validates and inserts a new role with its initial direct grants.
// Every grant must reference an existing catalog permission.
func (s *Service) Create(ctx context.Context, in CreateInput) (Role, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || !roleNamePattern.MatchString(in.Name) || len(in.Name) > 100 {
		return Role{}, shared.Validationf("role name %q must be snake_case", in.Name)
	}
	if err := s.checkGrants(ctx, in.PermissionIDs); err != nil {
		return Role{}, err
	}
	if in.ParentID != nil {
		ix, release, err := s.lockSubtrees(ctx, *in.ParentID)
		if err != nil {
			return Role{}, err
		}
		defer release()
		parent, ok := ix[*in.ParentID]
		if !ok {
			return Role{}, shared.Conflictf("parent role %d is unreachable", *in.ParentID)
		}
		if ix.Depth(parent.ID)+1 >= s.maxDepth {
			return Role{}, shared.Conflictf("hierarchy too deep: limit is %d levels", s.maxDepth)
		}
		return s.insert(ctx, in)
	}
	return s.insert(ctx, in)
}

func (s *Service) insert(ctx context.Context, in CreateInput) (Role, error) {
	role, err := s.repo.Create(ctx, Role{
		Name:        in.Name,
		DisplayName: strings.TrimSpace(in.DisplayName),
		Description: strings.TrimSpace(in.Description),
		ParentID:    in.ParentID,
		IsSystem:    in.IsSystem,
		IsActive:    true,
	})
	if err != nil {
		return Role{}, err
	}
	for _, permID := range in.PermissionIDs {
		if err := s.repo.Attach(ctx, role.ID, permID); err != nil {
			return Role{}, err
		}
	}
	return role, nil
}

// Update rewrites display metadata and the active flag. The name of a
// system role is immutable.
func (s *Service) Update(ctx context.Context, role Role) (Role, error) {
	current, err := s.repo.Get(ctx, role.ID)
	if err != nil {
		return Role{}, err
	}
	role.Name = strings.TrimSpace(role.Name)
	if current.IsSystem && role.Name != current.Name {
		return Role{}, shared.Denyf("system_entity", "system role %q cannot be renamed", current.Name)
	}
	if !roleNamePattern.MatchString(role.Name) || len(role.Name) > 100 {
		return Role{}, shared.Validationf("role name %q must be snake_case", role.Name)
	}
	return s.repo.Update(ctx, role)
}

// SetParent revalidates and rewrites the parent edge of a role, guarding
// against cycles and over-deep chains. A nil parent detaches the role into
// a new tree root.
func (s *Service) SetParent(ctx context.Context, id int64, parentID *int64) error {
	lockIDs := []int64{id}
	if parentID != nil {
		lockIDs = append(lockIDs, *parentID)
	}
	ix, release, err := s.lockSubtrees(ctx, lockIDs...)
	if err != nil {
		return err
	}
	defer release()

	if _, ok := ix[id]; !ok {
		return shared.NotFoundf("role not found")
	}
	if parentID != nil {
		if _, ok := ix[*parentID]; !ok {
			return shared.Conflictf("parent role %d is unreachable", *parentID)
		}
		if ix.WouldCycle(id, *parentID) {
			return shared.Conflictf("cyclic dependency: role %d is an ancestor of role %d", id, *parentID)
		}
		if ix.Depth(*parentID)+1+ix.Height(id) >= s.maxDepth {
			return shared.Conflictf("hierarchy too deep: limit is %d levels", s.maxDepth)
		}
	}
	return s.repo.SetParent(ctx, id, parentID)
}

// SyncPermissions replaces the direct grants of a role with the given set,
// attaching and detaching only the difference.
func (s *Service) SyncPermissions(ctx context.Context, id int64, permissionIDs []int64) error {
	if err := s.checkGrants(ctx, permissionIDs); err != nil {
		return err
	}
	_, release, err := s.lockSubtrees(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	current, err := s.repo.Grants(ctx, id)
	if err != nil {
		return err
	}
	existing := make(map[int64]struct{}, len(current))
	for _, permID := range current {
		existing[permID] = struct{}{}
	}
	keep := make(map[int64]struct{}, len(permissionIDs))
	for _, permID := range permissionIDs {
		keep[permID] = struct{}{}
		if _, ok := existing[permID]; !ok {
			if err := s.repo.Attach(ctx, id, permID); err != nil {
				return err
			}
		}
	}
	for permID := range existing {
		if _, ok := keep[permID]; !ok {
			if err := s.repo.Detach(ctx, id, permID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Delete removes a role. Children block the delete unless force is set, in
// which case they are reparented to nil (never silently deleted). Grant
// edges are always removed. System roles are never deletable.
func (s *Service) Delete(ctx context.Context, id int64, force bool) error {
	ix, release, err := s.lockSubtrees(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	role, ok := ix[id]
	if !ok {
		return shared.NotFoundf("role not found")
	}
	if role.IsSystem {
		return shared.Denyf("system_entity", "system role %q cannot be deleted", role.Name)
	}
	children := make([]Role, 0)
	for _, candidate := range ix {
		if candidate.ParentID != nil && *candidate.ParentID == id {
			children = append(children, candidate)
		}
	}
	if len(children) > 0 && !force {
		return shared.Conflictf("role has %d child roles", len(children))
	}
	for _, child := range children {
		if err := s.repo.SetParent(ctx, child.ID, nil); err != nil {
			return err
		}
	}
	if err := s.repo.ClearGrants(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// Get fetches a role by id.
func (s *Service) Get(ctx context.Context, id int64) (Role, error) {
	return s.repo.Get(ctx, id)
}

// GetByName fetches a role by name.
func (s *Service) GetByName(ctx context.Context, name string) (Role, error) {
	return s.repo.GetByName(ctx, name)
}

// List returns all roles ordered by id.
func (s *Service) List(ctx context.Context) ([]Role, error) {
	return s.repo.List(ctx)
}

// Grants returns the direct permission ids of a role.
func (s *Service) Grants(ctx context.Context, id int64) ([]int64, error) {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Grants(ctx, id)
}

// RolesGranting returns the ids of roles holding a direct grant of the
// given permission.
func (s *Service) RolesGranting(ctx context.Context, permissionID int64) ([]int64, error) {
	return s.repo.RolesGranting(ctx, permissionID)
}

// Ancestors returns the chain from the root down to (excluding) the role.
func (s *Service) Ancestors(ctx context.Context, id int64) ([]Role, error) {
	ix, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := ix[id]; !ok {
		return nil, shared.NotFoundf("role not found")
	}
	return ix.Ancestors(id), nil
}

// Descendants returns every role below the given one, node to leaves.
func (s *Service) Descendants(ctx context.Context, id int64) ([]Role, error) {
	ix, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := ix[id]; !ok {
		return nil, shared.NotFoundf("role not found")
	}
	return ix.Descendants(id), nil
}

// Depth returns the distance from the role to its tree root.
func (s *Service) Depth(ctx context.Context, id int64) (int, error) {
	ix, err := s.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if _, ok := ix[id]; !ok {
		return 0, shared.NotFoundf("role not found")
	}
	return ix.Depth(id), nil
}
