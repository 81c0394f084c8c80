package rbac

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/warden/internal/catalog"
	"github.com/odyssey-erp/warden/internal/roles"
	"github.com/odyssey-erp/warden/internal/users"
)

// Resolver computes effective permission sets: a role's direct grants
// unioned with every ancestor's, and a principal's union across all held
// roles. It never mutates; a cold read recomputes against current graph
// state and populates the cache before returning.
type Resolver struct {
	roles   *roles.Service
	catalog *catalog.Service
	users   *users.Service
	cache   *Cache
	group   singleflight.Group
}

// NewResolver constructs a Resolver.
func NewResolver(roleSvc *roles.Service, catalogSvc *catalog.Service, userSvc *users.Service, cache *Cache) *Resolver {
	return &Resolver{roles: roleSvc, catalog: catalogSvc, users: userSvc, cache: cache}
}

// Cache exposes the resolution cache for invalidation by the guard layer.
func (r *Resolver) Cache() *Cache {
	return r.cache
}

// permissionNames maps the grant ids of the given roles to sorted,
// deduplicated permission names.
func (r *Resolver) permissionNames(ctx context.Context, roleIDs []int64) ([]string, error) {
	all, err := r.catalog.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]string, len(all))
	for _, perm := range all {
		byID[perm.ID] = perm.Name
	}
	set := make(map[string]struct{})
	for _, roleID := range roleIDs {
		grants, err := r.roles.Grants(ctx, roleID)
		if err != nil {
			return nil, err
		}
		for _, permID := range grants {
			if name, ok := byID[permID]; ok {
				set[name] = struct{}{}
			}
		}
	}
	return sortedSet(set), nil
}

// ResolveRolePermissions returns the effective permission set of a role:
// its direct grants unioned with every ancestor's direct grants.
func (r *Resolver) ResolveRolePermissions(ctx context.Context, roleID int64) ([]string, error) {
	key, keyErr := r.cache.RoleKey(ctx, roleID)
	if keyErr == nil {
		if perms, hit, err := r.cache.Get(ctx, key); err == nil && hit {
			return perms, nil
		}
	} else {
		// Cache down: still need a per-role singleflight key.
		key = fmt.Sprintf("role:%d", roleID)
	}
	out, err, _ := r.group.Do(key, func() (any, error) {
		// The generation is captured before any graph read so a Put
		// racing an invalidation loses.
		gen, genErr := r.cache.Generation(ctx, key)
		role, err := r.roles.Get(ctx, roleID)
		if err != nil {
			return nil, err
		}
		ancestors, err := r.roles.Ancestors(ctx, roleID)
		if err != nil {
			return nil, err
		}
		chain := make([]int64, 0, len(ancestors)+1)
		for _, ancestor := range ancestors {
			chain = append(chain, ancestor.ID)
		}
		chain = append(chain, role.ID)
		perms, err := r.permissionNames(ctx, chain)
		if err != nil {
			return nil, err
		}
		if keyErr == nil && genErr == nil {
			_ = r.cache.Put(ctx, key, perms, gen)
		}
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

// ResolvePrincipalPermissions returns the effective permission set of a
// principal. Super-admins resolve to the full catalog.
func (r *Resolver) ResolvePrincipalPermissions(ctx context.Context, principalID int64) ([]string, error) {
	if _, err := r.users.Get(ctx, principalID); err != nil {
		return nil, err
	}
	key, keyErr := r.cache.PrincipalKey(ctx, principalID)
	if keyErr == nil {
		if perms, hit, err := r.cache.Get(ctx, key); err == nil && hit {
			return perms, nil
		}
	} else {
		key = fmt.Sprintf("principal:%d", principalID)
	}
	out, err, _ := r.group.Do(key, func() (any, error) {
		gen, genErr := r.cache.Generation(ctx, key)
		super, err := r.users.IsSuperAdmin(ctx, principalID)
		if err != nil {
			return nil, err
		}
		var perms []string
		if super {
			all, err := r.catalog.List(ctx)
			if err != nil {
				return nil, err
			}
			set := make(map[string]struct{}, len(all))
			for _, perm := range all {
				set[perm.Name] = struct{}{}
			}
			perms = sortedSet(set)
		} else {
			roleIDs, err := r.users.RolesOf(ctx, principalID)
			if err != nil {
				return nil, err
			}
			set := make(map[string]struct{})
			for _, roleID := range roleIDs {
				resolved, err := r.ResolveRolePermissions(ctx, roleID)
				if err != nil {
					return nil, err
				}
				for _, name := range resolved {
					set[name] = struct{}{}
				}
			}
			perms = sortedSet(set)
		}
		if keyErr == nil && genErr == nil {
			_ = r.cache.Put(ctx, key, perms, gen)
		}
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

// HasPermission reports whether a principal effectively holds the named
// permission. Super-admins short-circuit true without materializing the
// full set.
func (r *Resolver) HasPermission(ctx context.Context, principalID int64, permission string) (bool, error) {
	super, err := r.users.IsSuperAdmin(ctx, principalID)
	if err != nil {
		return false, err
	}
	if super {
		return true, nil
	}
	perms, err := r.ResolvePrincipalPermissions(ctx, principalID)
	if err != nil {
		return false, err
	}
	for _, name := range perms {
		if name == permission {
			return true, nil
		}
	}
	return false, nil
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
