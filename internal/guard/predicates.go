package guard

import (
	"context"
	"errors"

	"github.com/odyssey-erp/warden/internal/catalog"
	"github.com/odyssey-erp/warden/internal/shared"
	"github.com/odyssey-erp/warden/internal/users"
)

// Predicate names surfaced on denials, in pipeline order.
const (
	PredicateAuthentication = "authentication"
	PredicateCapability     = "capability"
	PredicateSelfProtection = "self_protection"
	PredicateSoleSuperAdmin = "sole_super_admin"
	PredicateSystemEntity   = "system_entity"
	PredicateEscalation     = "escalation"
	PredicateContentSafety  = "content_safety"
	PredicateBulkBounds     = "bulk_bounds"
	PredicateRateLimit      = "rate_limit"
)

// actorInfo caches what the pipeline needs to know about the caller.
type actorInfo struct {
	user  users.User
	super bool
}

// requireActor enforces predicate 1: the caller must be a known, active
// principal.
func (g *Guard) requireActor(ctx context.Context, actorID int64) (actorInfo, error) {
	user, err := g.users.Get(ctx, actorID)
	if err != nil {
		return actorInfo{}, shared.Denyf(PredicateAuthentication, "unknown principal %d", actorID)
	}
	if !user.IsActive {
		return actorInfo{}, shared.Denyf(PredicateAuthentication, "principal %d is inactive", actorID)
	}
	super, err := g.users.IsSuperAdmin(ctx, actorID)
	if err != nil {
		return actorInfo{}, err
	}
	return actorInfo{user: user, super: super}, nil
}

// requireCapability enforces predicate 2 against the actor's effective set.
func (g *Guard) requireCapability(ctx context.Context, act actorInfo, permission string) error {
	if act.super {
		return nil
	}
	ok, err := g.resolver.HasPermission(ctx, act.user.ID, permission)
	if err != nil {
		return err
	}
	if !ok {
		return shared.Denyf(PredicateCapability, "missing capability %q", permission)
	}
	return nil
}

// actorMaxLevel is the deepest level among the actor's roles; level grows
// with inherited privilege, so it bounds what the actor may touch.
func (g *Guard) actorMaxLevel(ctx context.Context, act actorInfo) (int, error) {
	roleIDs, err := g.users.RolesOf(ctx, act.user.ID)
	if err != nil {
		return 0, err
	}
	maxLevel := 0
	for _, roleID := range roleIDs {
		depth, err := g.roles.Depth(ctx, roleID)
		if err != nil {
			continue
		}
		if depth > maxLevel {
			maxLevel = depth
		}
	}
	return maxLevel, nil
}

// heldPermissions materializes the actor's effective set for escalation
// comparisons.
func (g *Guard) heldPermissions(ctx context.Context, act actorInfo) (map[string]struct{}, error) {
	perms, err := g.resolver.ResolvePrincipalPermissions(ctx, act.user.ID)
	if err != nil {
		return nil, err
	}
	held := make(map[string]struct{}, len(perms))
	for _, name := range perms {
		held[name] = struct{}{}
	}
	return held, nil
}

// ensureNotLastSuperAdmin enforces predicate 4: refusing any operation
// that would strip or deactivate the only remaining active super-admin.
func (g *Guard) ensureNotLastSuperAdmin(ctx context.Context, principalID int64) error {
	active, err := g.users.ActiveSuperAdmins(ctx)
	if err != nil {
		return err
	}
	if len(active) == 1 && active[0] == principalID {
		return shared.Protectf(PredicateSoleSuperAdmin, "operation would leave zero active super admins")
	}
	return nil
}

// validateRoleTexts applies the catalog's naming and content-safety rules
// to role identity and free text (predicate 7).
func (g *Guard) validateRoleTexts(name, displayName, description string) error {
	if err := g.catalog.Naming().ValidateName(name); err != nil {
		return tagPredicate(err, PredicateContentSafety)
	}
	if err := catalog.ValidateText("display name", displayName); err != nil {
		return tagPredicate(err, PredicateContentSafety)
	}
	if err := catalog.ValidateText("description", description); err != nil {
		return tagPredicate(err, PredicateContentSafety)
	}
	return nil
}

// tagPredicate attributes an engine error to a pipeline predicate without
// changing its kind.
func tagPredicate(err error, predicate string) error {
	var e *shared.Error
	if errors.As(err, &e) && e.Predicate == "" {
		tagged := *e
		tagged.Predicate = predicate
		return &tagged
	}
	return err
}

// isSystemScoped reports whether a permission belongs to the protected
// system surface that only super-admins may touch.
func isSystemScoped(perm catalog.Permission) bool {
	return perm.IsSystem || perm.Module == "system"
}
