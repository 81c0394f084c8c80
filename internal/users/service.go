package users

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/warden/internal/roles"
	"github.com/odyssey-erp/warden/internal/shared"
)

// RoleDirectory is the slice of the role graph the principal service needs.
type RoleDirectory interface {
	GetByName(ctx context.Context, name string) (roles.Role, error)
}

// Service handles principal management and role assignment. Super-admin
// status is derived from holding the distinguished system role, never
// stored on the principal itself.
type Service struct {
	repo  Repository
	roles RoleDirectory
}

// NewService constructs a principal service.
func NewService(repo Repository, directory RoleDirectory) *Service {
	return &Service{repo: repo, roles: directory}
}

// Get fetches a principal by id.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// GetByEmail fetches a principal by email.
func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	return s.repo.GetByEmail(ctx, strings.TrimSpace(strings.ToLower(email)))
}

// List returns all principals.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Create registers a new active principal with a bcrypt password hash.
func (s *Service) Create(ctx context.Context, email, displayName, password string) (User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return User{}, shared.Validationf("email is required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	return s.repo.Create(ctx, User{
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hashed),
		IsActive:     true,
	})
}

// SetActive flips the active flag on a principal.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) (User, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	user.IsActive = active
	return s.repo.Update(ctx, user)
}

// AssignRole links a principal to a role.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	if _, err := s.repo.Get(ctx, userID); err != nil {
		return err
	}
	return s.repo.Assign(ctx, userID, roleID)
}

// RevokeRole removes a role assignment.
func (s *Service) RevokeRole(ctx context.Context, userID, roleID int64) error {
	if _, err := s.repo.Get(ctx, userID); err != nil {
		return err
	}
	return s.repo.Revoke(ctx, userID, roleID)
}

// RolesOf returns the role ids assigned to a principal.
func (s *Service) RolesOf(ctx context.Context, userID int64) ([]int64, error) {
	return s.repo.RoleIDsOf(ctx, userID)
}

// AssignedCount returns how many principals hold the role.
func (s *Service) AssignedCount(ctx context.Context, roleID int64) (int, error) {
	holders, err := s.repo.HoldersOf(ctx, roleID)
	if err != nil {
		return 0, err
	}
	return len(holders), nil
}

// RevokeAllForRole strips a role from every holder, used by forced deletes.
func (s *Service) RevokeAllForRole(ctx context.Context, roleID int64) error {
	return s.repo.RevokeAllForRole(ctx, roleID)
}

// PrincipalsHoldingAny returns the distinct principals assigned to any of
// the given roles, used for subtree cache invalidation.
func (s *Service) PrincipalsHoldingAny(ctx context.Context, roleIDs []int64) ([]int64, error) {
	seen := make(map[int64]struct{})
	var out []int64
	for _, roleID := range roleIDs {
		holders, err := s.repo.HoldersOf(ctx, roleID)
		if err != nil {
			return nil, err
		}
		for _, userID := range holders {
			if _, dup := seen[userID]; dup {
				continue
			}
			seen[userID] = struct{}{}
			out = append(out, userID)
		}
	}
	return out, nil
}

// superAdminRoleID resolves the id of the distinguished system role.
func (s *Service) superAdminRoleID(ctx context.Context) (int64, error) {
	role, err := s.roles.GetByName(ctx, shared.SuperAdminRole)
	if err != nil {
		return 0, err
	}
	return role.ID, nil
}

// IsSuperAdmin reports whether the principal holds the super-admin role.
func (s *Service) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	superID, err := s.superAdminRoleID(ctx)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	assigned, err := s.repo.RoleIDsOf(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, roleID := range assigned {
		if roleID == superID {
			return true, nil
		}
	}
	return false, nil
}

// ActiveSuperAdmins returns the ids of active principals holding the
// super-admin role. The engine refuses any operation that would empty it.
func (s *Service) ActiveSuperAdmins(ctx context.Context) ([]int64, error) {
	superID, err := s.superAdminRoleID(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	holders, err := s.repo.HoldersOf(ctx, superID)
	if err != nil {
		return nil, err
	}
	var active []int64
	for _, userID := range holders {
		user, err := s.repo.Get(ctx, userID)
		if err != nil {
			continue
		}
		if user.IsActive {
			active = append(active, userID)
		}
	}
	return active, nil
}

func isNotFound(err error) bool {
	return shared.KindOf(err) == shared.KindNotFound
}
