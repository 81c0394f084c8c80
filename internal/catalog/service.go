package catalog

import (
	"context"
	"strings"

	"github.com/odyssey-erp/warden/internal/shared"
)

// Service owns permission definitions and enforces naming safety on every
// create and rename.
type Service struct {
	repo    Repository
	naming  *Validator
	maxDeps int
}

// NewService constructs a catalog Service. maxDeps bounds the size of a
// permission's dependency set.
func NewService(repo Repository, naming *Validator, maxDeps int) *Service {
	if maxDeps <= 0 {
		maxDeps = 10
	}
	return &Service{repo: repo, naming: naming, maxDeps: maxDeps}
}

// Naming exposes the validator so other layers apply identical name rules.
func (s *Service) Naming() *Validator {
	return s.naming
}

// CreateInput carries the attributes of a new permission.
type CreateInput struct {
	Name      string
	Label     string
	Module    string
	Risk      RiskType
	IsSystem  bool
	DependsOn []int64
}

// Create validates and inserts a new permission definition.
func (s *Service) Create(ctx context.Context, in CreateInput) (Permission, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.naming.ValidateName(in.Name); err != nil {
		return Permission{}, err
	}
	if err := ValidateText("label", in.Label); err != nil {
		return Permission{}, err
	}
	if !in.Risk.Valid() {
		return Permission{}, shared.Validationf("unknown risk type %q", in.Risk)
	}
	if err := s.validateDependencies(ctx, 0, in.DependsOn); err != nil {
		return Permission{}, err
	}
	return s.repo.Create(ctx, Permission{
		Name:      in.Name,
		Label:     strings.TrimSpace(in.Label),
		Module:    strings.TrimSpace(in.Module),
		Risk:      in.Risk,
		IsSystem:  in.IsSystem,
		DependsOn: in.DependsOn,
	})
}

// Rename changes a permission's name and label. System permissions keep
// their identity; only the label may change.
func (s *Service) Rename(ctx context.Context, id int64, name, label string) (Permission, error) {
	perm, err := s.repo.Get(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	name = strings.TrimSpace(name)
	if perm.IsSystem && name != perm.Name {
		return Permission{}, shared.Denyf("system_entity", "system permission %q cannot be renamed", perm.Name)
	}
	if err := s.naming.ValidateName(name); err != nil {
		return Permission{}, err
	}
	if err := ValidateText("label", label); err != nil {
		return Permission{}, err
	}
	perm.Name = name
	perm.Label = strings.TrimSpace(label)
	return s.repo.Update(ctx, perm)
}

// Delete removes a permission. System permissions are never deletable; the
// caller is responsible for ensuring no role still references the id.
func (s *Service) Delete(ctx context.Context, id int64) error {
	perm, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return shared.Denyf("system_entity", "system permission %q cannot be deleted", perm.Name)
	}
	return s.repo.Delete(ctx, id)
}

// Get fetches a permission by id.
func (s *Service) Get(ctx context.Context, id int64) (Permission, error) {
	return s.repo.Get(ctx, id)
}

// GetByName fetches a permission by name.
func (s *Service) GetByName(ctx context.Context, name string) (Permission, error) {
	return s.repo.GetByName(ctx, name)
}

// List returns the full catalog ordered by name.
func (s *Service) List(ctx context.Context) ([]Permission, error) {
	return s.repo.List(ctx)
}

// Ensure upserts a system permission, used when seeding the core scopes.
func (s *Service) Ensure(ctx context.Context, name, label, module string, risk RiskType) (Permission, error) {
	if existing, err := s.repo.GetByName(ctx, name); err == nil {
		return existing, nil
	}
	return s.repo.Create(ctx, Permission{
		Name:     name,
		Label:    label,
		Module:   module,
		Risk:     risk,
		IsSystem: true,
	})
}

// validateDependencies checks existence, size and acyclicity of the
// dependency hint relation. selfID is zero for new permissions.
func (s *Service) validateDependencies(ctx context.Context, selfID int64, deps []int64) error {
	if len(deps) == 0 {
		return nil
	}
	if len(deps) > s.maxDeps {
		return shared.Validationf("at most %d dependencies allowed", s.maxDeps)
	}
	seen := make(map[int64]struct{}, len(deps))
	for _, depID := range deps {
		if depID == selfID && selfID != 0 {
			return shared.Validationf("permission cannot depend on itself")
		}
		if _, dup := seen[depID]; dup {
			return shared.Validationf("duplicate dependency %d", depID)
		}
		seen[depID] = struct{}{}
		if _, err := s.repo.Get(ctx, depID); err != nil {
			return shared.Validationf("dependency %d does not exist", depID)
		}
	}
	// Transitive walk with a visited set; a revisit of selfID means the new
	// edges would close a dependency cycle.
	visited := map[int64]struct{}{}
	frontier := append([]int64(nil), deps...)
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		if id == selfID && selfID != 0 {
			return shared.Validationf("dependency cycle detected")
		}
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		perm, err := s.repo.Get(ctx, id)
		if err != nil {
			continue
		}
		frontier = append(frontier, perm.DependsOn...)
	}
	return nil
}
