// Package guard is the authorization-of-authorization-changes layer: every
// mutation of the role graph, permission catalog or principal assignments
// passes a fixed pipeline of protective predicates before it may commit.
package guard

import (
	"context"
	"fmt"
	"strconv"

	"log/slog"

	"github.com/odyssey-erp/warden/internal/audit"
	"github.com/odyssey-erp/warden/internal/catalog"
	"github.com/odyssey-erp/warden/internal/rbac"
	"github.com/odyssey-erp/warden/internal/roles"
	"github.com/odyssey-erp/warden/internal/shared"
	"github.com/odyssey-erp/warden/internal/users"
)

// Config bounds the guard layer.
type Config struct {
	MaxBulkTargets int
	RateLimits     RateLimits
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{MaxBulkTargets: 50, RateLimits: DefaultRateLimits()}
}

// Guard intercepts every mutating operation. On a full predicate pass it
// forwards the mutation, invalidates the resolution cache for everything
// affected, and emits a completion record; on any predicate failure the
// mutation never happens and a denial record is emitted.
type Guard struct {
	cfg      Config
	roles    *roles.Service
	catalog  *catalog.Service
	users    *users.Service
	resolver *rbac.Resolver
	limiter  Limiter
	audit    audit.Recorder
	logger   *slog.Logger
}

// New constructs the guard layer.
func New(cfg Config, roleSvc *roles.Service, catalogSvc *catalog.Service, userSvc *users.Service, resolver *rbac.Resolver, limiter Limiter, recorder audit.Recorder, logger *slog.Logger) *Guard {
	if cfg.MaxBulkTargets <= 0 {
		cfg.MaxBulkTargets = 50
	}
	return &Guard{
		cfg:      cfg,
		roles:    roleSvc,
		catalog:  catalogSvc,
		users:    userSvc,
		resolver: resolver,
		limiter:  limiter,
		audit:    recorder,
		logger:   logger,
	}
}

// CheckPermission is the read-path entry: no guardrails, cache fast path.
func (g *Guard) CheckPermission(ctx context.Context, principalID int64, permission string) (bool, error) {
	return g.resolver.HasPermission(ctx, principalID, permission)
}

// EffectivePermissions returns the fully resolved set for a principal.
func (g *Guard) EffectivePermissions(ctx context.Context, principalID int64) ([]string, error) {
	return g.resolver.ResolvePrincipalPermissions(ctx, principalID)
}

// consume enforces predicate 9 and produces the denial error on overflow.
func (g *Guard) consume(ctx context.Context, actorID int64, class OpClass) error {
	if g.limiter == nil {
		return nil
	}
	ok, err := g.limiter.Allow(ctx, actorID, class)
	if err != nil {
		return err
	}
	if !ok {
		return shared.RateLimitedf("%s operations capped, retry after the window elapses", class)
	}
	return nil
}

func (g *Guard) auditDeny(ctx context.Context, actorID int64, operation, entity, entityID string, cause error) {
	rec := audit.Record{
		ActorID:   actorID,
		Operation: operation,
		Entity:    entity,
		EntityID:  entityID,
		Outcome:   audit.OutcomeDenied,
		Predicate: shared.PredicateOf(cause),
		Reason:    cause.Error(),
	}
	if err := g.audit.Record(ctx, rec); err != nil && g.logger != nil {
		g.logger.Error("audit denial record", slog.Any("error", err))
	}
}

func (g *Guard) auditComplete(ctx context.Context, actorID int64, operation, entity, entityID string, meta map[string]any) error {
	return g.audit.Record(ctx, audit.Record{
		ActorID:   actorID,
		Operation: operation,
		Entity:    entity,
		EntityID:  entityID,
		Outcome:   audit.OutcomeCompleted,
		Meta:      meta,
	})
}

func (g *Guard) auditFailed(ctx context.Context, actorID int64, operation, entity, entityID, reason string) {
	rec := audit.Record{
		ActorID:   actorID,
		Operation: operation,
		Entity:    entity,
		EntityID:  entityID,
		Outcome:   audit.OutcomeFailed,
		Reason:    reason,
	}
	if err := g.audit.Record(ctx, rec); err != nil && g.logger != nil {
		g.logger.Error("audit failure record", slog.Any("error", err))
	}
}

// invalidateSubtree drops cached sets for a role, its descendants, and
// every principal holding any of them.
func (g *Guard) invalidateSubtree(ctx context.Context, roleID int64) {
	roleIDs := []int64{roleID}
	if descendants, err := g.roles.Descendants(ctx, roleID); err == nil {
		for _, desc := range descendants {
			roleIDs = append(roleIDs, desc.ID)
		}
	}
	principals, err := g.users.PrincipalsHoldingAny(ctx, roleIDs)
	if err != nil {
		principals = nil
	}
	if err := g.resolver.Cache().Invalidate(ctx, roleIDs, principals); err != nil && g.logger != nil {
		g.logger.Error("cache invalidate subtree", slog.Int64("role", roleID), slog.Any("error", err))
	}
}

// invalidateRolesAndPrincipals drops cached sets for explicit id lists,
// used when the subtree had to be captured before a mutation destroyed it.
func (g *Guard) invalidateRolesAndPrincipals(ctx context.Context, roleIDs, principalIDs []int64) {
	if err := g.resolver.Cache().Invalidate(ctx, roleIDs, principalIDs); err != nil && g.logger != nil {
		g.logger.Error("cache invalidate", slog.Any("error", err))
	}
}

func (g *Guard) invalidatePrincipal(ctx context.Context, principalID int64) {
	g.invalidateRolesAndPrincipals(ctx, nil, []int64{principalID})
}

// invalidateAll is the blunt hatch used after catalog mutations, which can
// change permission names inside arbitrarily many cached sets.
func (g *Guard) invalidateAll(ctx context.Context) {
	if err := g.resolver.Cache().InvalidateAll(ctx); err != nil && g.logger != nil {
		g.logger.Error("cache invalidate all", slog.Any("error", err))
	}
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ---- role operations -------------------------------------------------

// CreateRoleInput is the payload for CreateRole.
type CreateRoleInput struct {
	Name          string
	DisplayName   string
	Description   string
	ParentID      *int64
	PermissionIDs []int64
}

// CreateRole validates and creates a role with its initial direct grants.
func (g *Guard) CreateRole(ctx context.Context, actorID int64, in CreateRoleInput) (roles.Role, error) {
	const op = "roles.create"
	act, err := g.requireActor(ctx, actorID)
	if err != nil {
		g.auditDeny(ctx, actorID, op, "role", in.Name, err)
		return roles.Role{}, err
	}
	deny := func(cause error) (roles.Role, error) {
		g.auditDeny(ctx, actorID, op, "role", in.Name, cause)
		return roles.Role{}, cause
	}
	if err := g.requireCapability(ctx, act, shared.PermRolesCreate); err != nil {
		return deny(err)
	}
	permNames := make([]string, 0, len(in.PermissionIDs))
	for _, permID := range in.PermissionIDs {
		perm, err := g.catalog.Get(ctx, permID)
		if err != nil {
			return deny(shared.Validationf("unknown permission %d", permID))
		}
		permNames = append(permNames, perm.Name)
	}
	if !act.super {
		held, err := g.heldPermissions(ctx, act)
		if err != nil {
			return roles.Role{}, err
		}
		for _, name := range permNames {
			if _, ok := held[name]; !ok {
				return deny(shared.Denyf(PredicateEscalation, "cannot grant permission %q you do not hold", name))
			}
		}
		if in.ParentID != nil {
			maxLevel, err := g.actorMaxLevel(ctx, act)
			if err != nil {
				return roles.Role{}, err
			}
			parentLevel, err := g.roles.Depth(ctx, *in.ParentID)
			if err == nil && parentLevel >= maxLevel {
				return deny(shared.Denyf(PredicateEscalation, "parent role is at or above your own level"))
			}
		}
	}
	if err := g.validateRoleTexts(in.Name, in.DisplayName, in.Description); err != nil {
		return deny(err)
	}
	if err := g.consume(ctx, actorID, OpCreate); err != nil {
		return deny(err)
	}

	role, err := g.roles.Create(ctx, roles.CreateInput{
		Name:          in.Name,
		DisplayName:   in.DisplayName,
		Description:   in.Description,
		ParentID:      in.ParentID,
		PermissionIDs: in.PermissionIDs,
	})
	if err != nil {
		g.auditFailed(ctx, actorID, op, "role", in.Name, err.Error())
		return roles.Role{}, err
	}
	if err := g.auditComplete(ctx, actorID, op, "role", formatID(role.ID), map[string]any{"name": role.Name}); err != nil {
		// Auditability is a hard guarantee: roll the creation back.
		_ = g.roles.Delete(ctx, role.ID, true)
		return roles.Role{}, fmt.Errorf("guard: audit record: %w", err)
	}
	return role, nil
}

// EditRoleInput is the payload for EditRole.
type EditRoleInput struct {
	ID          int64
	Name        string
	DisplayName string
	Description string
	IsActive    bool
}

// EditRole rewrites role metadata. System roles keep their name.
func (g *Guard) EditRole(ctx context.Context, actorID int64, in EditRoleInput) (roles.Role, error) {
	const op = "roles.edit"
	act, err := g.requireActor(ctx, actorID)
	if err != nil {
		g.auditDeny(ctx, actorID, op, "role", formatID(in.ID), err)
		return roles.Role{}, err
	}
	deny := func(cause error) (roles.Role, error) {
		g.auditDeny(ctx, actorID, op, "role", formatID(in.ID), cause)
		return roles.Role{}, cause
	}
	if err := g.requireCapability(ctx, act, shared.PermRolesEdit); err != nil {
		return deny(err)
	}
	prior, err := g.roles.Get(ctx, in.ID)
	if err != nil {
		return roles.Role{}, err
	}
	if prior.IsSystem && in.Name != prior.Name {
		return deny(shared.Denyf(PredicateSystemEntity, "system role %q cannot be renamed", prior.Name))
	}
	if err := g.validateRoleTexts(in.Name, in.DisplayName, in.Description); err != nil {
		return deny(err)
	}
	if err := g.consume(ctx, actorID, OpEdit); err != nil {
		return deny(err)
	}

	updated, err := g.roles.Update(ctx, roles.Role{
		ID:          in.ID,
		Name:        in.Name,
		DisplayName: in.DisplayName,
		Description: in.Description,
		IsActive:    in.IsActive,
	})
	if err != nil {
		g.auditFailed(ctx, actorID, op, "role", formatID(in.ID), err.Error())
		return roles.Role{}, err
	}
	if err := g.auditComplete(ctx, actorID, op, "role", formatID(in.ID), map[string]any{"name": updated.Name}); err != nil {
		_, _ = g.roles.Update(ctx, prior)
		return roles.Role{}, fmt.Errorf("guard: audit record: %w", err)
	}
	return updated, nil
}

// SetParent revalidates and moves a role under a new parent.
func (g *Guard) SetParent(ctx context.Context, actorID, roleID int64, parentID *int64) error {
	const op = "roles.set_parent"
	act, err := g.requireActor(ctx, actorID)
	if err != nil {
		g.auditDeny(ctx, actorID, op, "role", formatID(roleID), err)
		return err
	}
	deny := func(cause error) error {
		g.auditDeny(ctx, actorID, op, "role", formatID(roleID), cause)
		return cause
	}
	if err := g.requireCapability(ctx, act, shared.PermRolesEdit); err != nil {
		return deny(err)
	}
	prior, err := g.roles.Get(ctx, roleID)
	if err != nil {
		return err
	}
	if !act.super {
		currentLevel, err := g.roles.Depth(ctx, roleID)
		if err != nil {
			return err
		}
		newLevel := 0
		if parentID != nil {
			parentLevel, err := g.roles.Depth(ctx, *parentID)
			if err != nil {
				return err
			}
			newLevel = parentLevel + 1
		}
		held, err := g.users.RolesOf(ctx, actorID)
		if err != nil {
			return err
		}
		for _, heldID := range held {
			if heldID == roleID && newLevel < currentLevel {
				return deny(shared.Protectf(PredicateSelfProtection, "cannot lower the level of a role you hold"))
			}
		}
		if parentID != nil {
			maxLevel, err := g.actorMaxLevel(ctx, act)
			if err != nil {
				return err
			}
			if newLevel-1 >= maxLevel {
				return deny(shared.Denyf(PredicateEscalation, "parent role is at or above your own level"))
			}
		}
	}
	if err := g.consume(ctx, actorID, OpEdit); err != nil {
		return deny(err)
	}

	if err := g.roles.SetParent(ctx, roleID, parentID); err != nil {
		g.auditFailed(ctx, actorID, op, "role", formatID(roleID), err.Error())
		return err
	}
	// A parent change shifts the inherited set of every descendant.
	g.invalidateSubtree(ctx, roleID)
	if err := g.auditComplete(ctx, actorID, op, "role", formatID(roleID), map[string]any{"parent": parentID}); err != nil {
		_ = g.roles.SetParent(ctx, roleID, prior.ParentID)
		g.invalidateSubtree(ctx, roleID)
		return fmt.Errorf("guard: audit record: %w", err)
	}
	return nil
}

// SyncPermissions replaces a role's direct grants.
func (g *Guard) SyncPermissions(ctx context.Context, actorID, roleID int64, permissionIDs []int64) error {
	const op = "roles.sync_permissions"
	act, err := g.requireActor(ctx, actorID)
	if err != nil {
		g.auditDeny(ctx, actorID, op, "role", formatID(roleID), err)
		return err
	}
	deny := func(cause error) error {
		g.auditDeny(ctx, actorID, op, "role", formatID(roleID), cause)
		return cause
	}
	if err := g.requireCapability(ctx, act, shared.PermRolesEdit); err != nil {
		return deny(err)
	}
	if _, err := g.roles.Get(ctx, roleID); err != nil {
		return err
	}
	permNames := make([]string, 0, len(permissionIDs))
	for _, permID := range permissionIDs {
		perm, err := g.catalog.Get(ctx, permID)
		if err != nil {
			return deny(shared.Validationf("unknown permission %d", permID))
		}
		permNames = append(permNames, perm.Name)
	}
	if !act.super {
		held, err := g.heldPermissions(ctx, act)
		if err != nil {
			return err
		}
		for _, name := range permNames {
			if _, ok := held[name]; !ok {
				return deny(shared.Denyf(PredicateEscalation, "cannot grant permission %q you do not hold", name))
			}
		}
	}
	if err := g.consume(ctx, actorID, OpEdit); err != nil {
		return deny(err)
	}

	prior, err := g.roles.Grants(ctx, roleID)
	if err != nil {
		return err
	}
	if err := g.roles.SyncPermissions(ctx, roleID, permissionIDs); err != nil {
		g.auditFailed(ctx, actorID, op, "role", formatID(roleID), err.Error())
		return err
	}
	g.invalidateSubtree(ctx, roleID)
	if err := g.auditComplete(ctx, actorID, op, "role", formatID(roleID), map[string]any{"permissions": permissionIDs}); err != nil {
		_ = g.roles.SyncPermissions(ctx, roleID, prior)
		g.invalidateSubtree(ctx, roleID)
		return fmt.Errorf("guard: audit record: %w", err)
	}
	return nil
}

// DeleteRole removes a role. Assigned principals block the delete unless
// force is set; children are reparented to the root, never deleted.
func (g *Guard) DeleteRole(ctx context.Context, actorID, roleID int64, force bool) error {
	act, err := g.requireActor(ctx, actorID)
	if err != nil {
		g.auditDeny(ctx, actorID, "roles.delete", "role", formatID(roleID), err)
		return err
	}
	if err := g.requireCapability(ctx, act, shared.PermRolesDelete); err != nil {
		g.auditDeny(ctx, actorID, "roles.delete", "role", formatID(roleID), err)
		return err
	}
	apply, err := g.planDeleteRole(ctx, act, roleID, force)
	if err != nil {
		g.auditDeny(ctx, actorID, "roles.delete", "role", formatID(roleID), err)
		return err
	}
	if err := g.consume(ctx, actorID, OpDelete); err != nil {
		g.auditDeny(ctx, actorID, "roles.delete", "role", formatID(roleID), err)
		return err
	}
	return apply(ctx)
}

// planDeleteRole runs predicates 3-7 for a role deletion and returns the
// commit step. Split out so bulk deletes share the exact same checks.
func (g *Guard) planDeleteRole(ctx context.Context, act actorInfo, roleID int64, force bool) (func(context.Context) error, error) {
	const op = "roles.delete"
	role, err := g.roles.Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if role.IsSystem {
		return nil, shared.Denyf(PredicateSystemEntity, "system role %q cannot be deleted", role.Name)
	}
	assigned, err := g.users.AssignedCount(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if assigned > 0 && !force {
		return nil, &shared.Error{
			Kind:    shared.KindConflict,
			Reason:  fmt.Sprintf("role has %d assigned principals", assigned),
			Details: map[string]any{"assigned": assigned},
		}
	}
	if !force {
		descendants, err := g.roles.Descendants(ctx, roleID)
		if err != nil {
			return nil, err
		}
		children := 0
		for _, desc := range descendants {
			if desc.ParentID != nil && *desc.ParentID == roleID {
				children++
			}
		}
		if children > 0 {
			return nil, shared.Conflictf("role has %d child roles", children)
		}
	}
	return func(ctx context.Context) error {
		// Capture the blast radius before the edges disappear.
		affected := []int64{roleID}
		if descendants, err := g.roles.Descendants(ctx, roleID); err == nil {
			for _, desc := range descendants {
				affected = append(affected, desc.ID)
			}
		}
		principals, _ := g.users.PrincipalsHoldingAny(ctx, affected)

		// Destructive: the completion record is written first so a sink
		// outage blocks the delete instead of losing it.
		if err := g.auditComplete(ctx, act.user.ID, op, "role", formatID(roleID),
			map[string]any{"name": role.Name, "force": force}); err != nil {
			return fmt.Errorf("guard: audit record: %w", err)
		}
		if force {
			if err := g.users.RevokeAllForRole(ctx, roleID); err != nil {
				g.auditFailed(ctx, act.user.ID, op, "role", formatID(roleID), err.Error())
				return err
			}
		}
		if err := g.roles.Delete(ctx, roleID, force); err != nil {
			g.auditFailed(ctx, act.user.ID, op, "role", formatID(roleID), err.Error())
			return err
		}
		g.invalidateRolesAndPrincipals(ctx, affected, principals)
		return nil
	}, nil
}

// ---- assignment operations -------------------------------------------

// AssignRole links a principal to a role.
func (g *Guard) AssignRole(ctx context.Context, actorID, principalID, roleID int64) error {
	act, err := g.requireActor(ctx, actorID)
	if err != nil {
		g.auditDeny(ctx, actorID, "roles.assign", "principal", formatID(principalID), err)
		return err
	}
	if err := g.requireCapability(ctx, act, shared.PermRolesAssign); err != nil {
		g.auditDeny(ctx, actorID, "roles.assign", "principal", formatID(principalID), err)
		return err
	}
	apply, err := g.planAssignRole(ctx, act, principalID, roleID)
	if err != nil {
		g.auditDeny(ctx, actorID, "roles.assign", "principal", formatID(principalID), err)
		return err
	}
	if err := g.consume(ctx, actorID, OpEdit); err != nil {
		g.auditDeny(ctx, actorID, "roles.assign", "principal", formatID(principalID), err)
		return err
	}
	return apply(ctx)
}

func (g *Guard) planAssignRole(ctx context.Context, act actorInfo, principalID, roleID int64) (func(context.Context) error, error) {
	const op = "roles.assign"
	role, err := g.roles.Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if _, err := g.users.Get(ctx, principalID); err != nil {
		return nil, err
	}
	if !act.super {
		if role.Name == shared.SuperAdminRole {
			return nil, shared.Denyf(PredicateEscalation, "only super admins may grant %q", shared.SuperAdminRole)
		}
		maxLevel, err := g.actorMaxLevel(ctx, act)
		if err != nil {
			return nil, err
		}
		level, err := g.roles.Depth(ctx, roleID)
		if err != nil {
			return nil, err
		}
		if level >= maxLevel {
			return nil, shared.Denyf(PredicateEscalation, "cannot assign a role at or above your own level")
		}
	}
	return func(ctx context.Context) error {
		if err := g.users.AssignRole(ctx, principalID, roleID); err != nil {
			g.auditFailed(ctx, act.user.ID, op, "principal", formatID(principalID), err.Error())
			return err
		}
		g.invalidatePrincipal(ctx, principalID)
		if err := g.auditComplete(ctx, act.user.ID, op, "principal", formatID(principalID),
			map[string]any{"role": roleID}); err != nil {
			_ = g.users.RevokeRole(ctx, principalID, roleID)
			g.invalidatePrincipal(ctx, principalID)
			return fmt.Errorf("guard: audit record: %w", err)
		}
		return nil
	}, nil
}

// RevokeRole removes a role assignment.
func (g *Guard) RevokeRole(ctx context.Context, actorID, principalID, roleID int64) error {
	act, err := g.requireActor(ctx, actorID)
	if err != nil {
		g.auditDeny(ctx, actorID, "roles.revoke", "principal", formatID(principalID), err)
		return err
	}
	if err := g.requireCapability(ctx, act, shared.PermRolesAssign); err != nil {
		g.auditDeny(ctx, actorID, "roles.revoke", "principal", formatID(principalID), err)
		return err
	}
	apply, err := g.planRevokeRole(ctx, act, principalID, roleID)
	if err != nil {
		g.auditDeny(ctx, actorID, "roles.revoke", "principal", formatID(principalID), err)
		return err
	}
	if err := g.consume(ctx, actorID, OpEdit); err != nil {
		g.auditDeny(ctx, actorID, "roles.revoke", "principal", formatID(principalID), err)
		return err
	}
	return apply(ctx)
}

func (g *Guard) planRevokeRole(ctx context.Context, act actorInfo, principalID, roleID int64) (func(context.Context) error, error) {
	const op = "roles.revoke"
	role, err := g.roles.Get(ctx, roleID)
	if err != nil {
		return nil, err
	}
	if _, err := g.users.Get(ctx, principalID); err != nil {
		return nil, err
	}
	if role.Name == shared.SuperAdminRole {
		if principalID == act.user.ID {
			return nil, shared.Protectf(PredicateSelfProtection, "cannot revoke your own super admin status")
		}
		if err := g.ensureNotLastSuperAdmin(ctx, principalID); err != nil {
			return nil, err
		}
	}
	return func(ctx context.Context) error {
		if err := g.users.RevokeRole(ctx, principalID, roleID); err != nil {
			g.auditFailed(ctx, act.user.ID, op, "principal", formatID(principalID), err.Error())
			return err
		}
		g.invalidatePrincipal(ctx, principalID)
		if err := g.auditComplete(ctx, act.user.ID, op, "principal", formatID(principalID),
			map[string]any{"role": roleID}); err != nil {
			_ = g.users.AssignRole(ctx, principalID, roleID)
			g.invalidatePrincipal(ctx, principalID)
			return fmt.Errorf("guard: audit record: %w", err)
		}
		return nil
	}, nil
}

// SetPrincipalActive flips a principal's active flag under self-lockout
// and sole-super-admin protection.
func (g *Guard) SetPrincipalActive(ctx context.Context, actorID, principalID int64, active bool) error {
	const op = "users.set_active"
	act, err := g.requireActor(ctx, actorID)
	if err != nil {
		g.auditDeny(ctx, actorID, op, "principal", formatID(principalID), err)
		return err
	}
	deny := func(cause error) error {
		g.auditDeny(ctx, actorID, op, "principal", formatID(principalID), cause)
		return cause
	}
	if err := g.requireCapability(ctx, act, shared.PermUsersEdit); err != nil {
		return deny(err)
	}
	prior, err := g.users.Get(ctx, principalID)
	if err != nil {
		return err
	}
	if !active {
		if principalID == actorID {
			return deny(shared.Protectf(PredicateSelfProtection, "cannot deactivate your own account"))
		}
		super, err := g.users.IsSuperAdmin(ctx, principalID)
		if err != nil {
			return err
		}
		if super {
			if err := g.ensureNotLastSuperAdmin(ctx, principalID); err != nil {
				return deny(err)
			}
		}
	}
	if err := g.consume(ctx, actorID, OpEdit); err != nil {
		return deny(err)
	}

	if _, err := g.users.SetActive(ctx, principalID, active); err != nil {
		g.auditFailed(ctx, actorID, op, "principal", formatID(principalID), err.Error())
		return err
	}
	g.invalidatePrincipal(ctx, principalID)
	if err := g.auditComplete(ctx, actorID, op, "principal", formatID(principalID),
		map[string]any{"active": active}); err != nil {
		_, _ = g.users.SetActive(ctx, principalID, prior.IsActive)
		g.invalidatePrincipal(ctx, principalID)
		return fmt.Errorf("guard: audit record: %w", err)
	}
	return nil
}

// ---- permission operations -------------------------------------------

// CreatePermission validates and adds a catalog entry.
func (g *Guard) CreatePermission(ctx context.Context, actorID int64, in catalog.CreateInput) (catalog.Permission, error) {
	const op = "permissions.create"
	act, err := g.requireActor(ctx, actorID)
	if err != nil {
		g.auditDeny(ctx, actorID, op, "permission", in.Name, err)
		return catalog.Permission{}, err
	}
	deny := func(cause error) (catalog.Permission, error) {
		g.auditDeny(ctx, actorID, op, "permission", in.Name, cause)
		return catalog.Permission{}, cause
	}
	if err := g.requireCapability(ctx, act, shared.PermPermissionsCreate); err != nil {
		return deny(err)
	}
	if !act.super && (in.IsSystem || in.Module == "system") {
		return deny(shared.Denyf(PredicateSystemEntity, "only super admins may define system permissions"))
	}
	if err := g.consume(ctx, actorID, OpCreate); err != nil {
		return deny(err)
	}

	perm, err := g.catalog.Create(ctx, in)
	if err != nil {
		if shared.KindOf(err) == shared.KindValidation {
			return deny(tagPredicate(err, PredicateContentSafety))
		}
		g.auditFailed(ctx, actorID, op, "permission", in.Name, err.Error())
		return catalog.Permission{}, err
	}
	g.invalidateAll(ctx)
	if err := g.auditComplete(ctx, actorID, op, "permission", formatID(perm.ID),
		map[string]any{"name": perm.Name}); err != nil {
		_ = g.catalog.Delete(ctx, perm.ID)
		g.invalidateAll(ctx)
		return catalog.Permission{}, fmt.Errorf("guard: audit record: %w", err)
	}
	return perm, nil
}

// RenamePermission changes a permission's name and label.
func (g *Guard) RenamePermission(ctx context.Context, actorID, permissionID int64, name, label string) (catalog.Permission, error) {
	const op = "permissions.edit"
	act, err := g.requireActor(ctx, actorID)
	if err != nil {
		g.auditDeny(ctx, actorID, op, "permission", formatID(permissionID), err)
		return catalog.Permission{}, err
	}
	deny := func(cause error) (catalog.Permission, error) {
		g.auditDeny(ctx, actorID, op, "permission", formatID(permissionID), cause)
		return catalog.Permission{}, cause
	}
	if err := g.requireCapability(ctx, act, shared.PermPermissionsEdit); err != nil {
		return deny(err)
	}
	prior, err := g.catalog.Get(ctx, permissionID)
	if err != nil {
		return catalog.Permission{}, err
	}
	if prior.IsSystem && name != prior.Name {
		return deny(shared.Denyf(PredicateSystemEntity, "system permission %q cannot be renamed", prior.Name))
	}
	if !act.super && isSystemScoped(prior) {
		return deny(shared.Denyf(PredicateSystemEntity, "only super admins may edit system permissions"))
	}
	if err := g.consume(ctx, actorID, OpEdit); err != nil {
		return deny(err)
	}

	perm, err := g.catalog.Rename(ctx, permissionID, name, label)
	if err != nil {
		if shared.KindOf(err) == shared.KindValidation {
			return deny(tagPredicate(err, PredicateContentSafety))
		}
		g.auditFailed(ctx, actorID, op, "permission", formatID(permissionID), err.Error())
		return catalog.Permission{}, err
	}
	g.invalidateAll(ctx)
	if err := g.auditComplete(ctx, actorID, op, "permission", formatID(permissionID),
		map[string]any{"name": perm.Name}); err != nil {
		_, _ = g.catalog.Rename(ctx, permissionID, prior.Name, prior.Label)
		g.invalidateAll(ctx)
		return catalog.Permission{}, fmt.Errorf("guard: audit record: %w", err)
	}
	return perm, nil
}

// DeletePermission removes a catalog entry once nothing references it.
func (g *Guard) DeletePermission(ctx context.Context, actorID, permissionID int64) error {
	const op = "permissions.delete"
	act, err := g.requireActor(ctx, actorID)
	if err != nil {
		g.auditDeny(ctx, actorID, op, "permission", formatID(permissionID), err)
		return err
	}
	deny := func(cause error) error {
		g.auditDeny(ctx, actorID, op, "permission", formatID(permissionID), cause)
		return cause
	}
	if err := g.requireCapability(ctx, act, shared.PermPermissionsDelete); err != nil {
		return deny(err)
	}
	perm, err := g.catalog.Get(ctx, permissionID)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return deny(shared.Denyf(PredicateSystemEntity, "system permission %q cannot be deleted", perm.Name))
	}
	referencing, err := g.roles.RolesGranting(ctx, permissionID)
	if err != nil {
		return err
	}
	if len(referencing) > 0 {
		return deny(&shared.Error{
			Kind:    shared.KindConflict,
			Reason:  fmt.Sprintf("permission %q is still granted to %d roles", perm.Name, len(referencing)),
			Details: map[string]any{"roles": referencing},
		})
	}
	if err := g.consume(ctx, actorID, OpDelete); err != nil {
		return deny(err)
	}

	if err := g.auditComplete(ctx, actorID, op, "permission", formatID(permissionID),
		map[string]any{"name": perm.Name}); err != nil {
		return fmt.Errorf("guard: audit record: %w", err)
	}
	if err := g.catalog.Delete(ctx, permissionID); err != nil {
		g.auditFailed(ctx, actorID, op, "permission", formatID(permissionID), err.Error())
		return err
	}
	g.invalidateAll(ctx)
	return nil
}
