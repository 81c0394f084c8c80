package rbac

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/warden/internal/catalog"
	"github.com/odyssey-erp/warden/internal/roles"
	"github.com/odyssey-erp/warden/internal/shared"
	"github.com/odyssey-erp/warden/internal/users"
)

type fixture struct {
	roles    *roles.Service
	catalog  *catalog.Service
	users    *users.Service
	resolver *Resolver
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	catalogSvc := catalog.NewService(catalog.NewMemoryRepository(), catalog.NewValidator(nil, nil), 10)
	roleSvc := roles.NewService(roles.NewMemoryRepository(), catalogSvc, 5)
	userSvc := users.NewService(users.NewMemoryRepository(), roleSvc)
	resolver := NewResolver(roleSvc, catalogSvc, userSvc, NewCache(client, 0))
	return &fixture{roles: roleSvc, catalog: catalogSvc, users: userSvc, resolver: resolver, redis: mr}
}

func (f *fixture) permission(t *testing.T, name string) catalog.Permission {
	t.Helper()
	module, _, _ := strings.Cut(name, ".")
	perm, err := f.catalog.Create(context.Background(), catalog.CreateInput{
		Name: name, Label: name, Module: module, Risk: catalog.RiskView,
	})
	require.NoError(t, err)
	return perm
}

func (f *fixture) role(t *testing.T, name string, parent *int64, perms ...int64) roles.Role {
	t.Helper()
	role, err := f.roles.Create(context.Background(), roles.CreateInput{
		Name: name, DisplayName: name, ParentID: parent, PermissionIDs: perms,
	})
	require.NoError(t, err)
	return role
}

func TestResolveRolePermissionsInheritsAncestors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.permission(t, "inventory.view")
	b := f.permission(t, "inventory.edit")
	c := f.permission(t, "inventory.adjust")

	root := f.role(t, "root_ops", nil, a.ID)
	middle := f.role(t, "lead", &root.ID, b.ID)
	leaf := f.role(t, "operator", &middle.ID, c.ID)

	perms, err := f.resolver.ResolveRolePermissions(ctx, leaf.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"inventory.adjust", "inventory.edit", "inventory.view"}, perms)

	// The middle role never sees downward.
	perms, err = f.resolver.ResolveRolePermissions(ctx, middle.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"inventory.edit", "inventory.view"}, perms)
}

func TestResolvePrincipalUnionsRoles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.permission(t, "inventory.view")
	b := f.permission(t, "reports.view")

	warehouse := f.role(t, "warehouse", nil, a.ID)
	analyst := f.role(t, "analyst", nil, b.ID)

	user, err := f.users.Create(ctx, "x@example.com", "X", "password123")
	require.NoError(t, err)
	require.NoError(t, f.users.AssignRole(ctx, user.ID, warehouse.ID))
	require.NoError(t, f.users.AssignRole(ctx, user.ID, analyst.ID))

	perms, err := f.resolver.ResolvePrincipalPermissions(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"inventory.view", "reports.view"}, perms)

	ok, err := f.resolver.HasPermission(ctx, user.ID, "reports.view")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.resolver.HasPermission(ctx, user.ID, "reports.edit")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSuperAdminResolvesFullCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.permission(t, "inventory.view")
	f.permission(t, "reports.view")
	super := f.role(t, shared.SuperAdminRole, nil)

	root, err := f.users.Create(ctx, "root@example.com", "Root", "password123")
	require.NoError(t, err)
	require.NoError(t, f.users.AssignRole(ctx, root.ID, super.ID))

	perms, err := f.resolver.ResolvePrincipalPermissions(ctx, root.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"inventory.view", "reports.view"}, perms)

	ok, err := f.resolver.HasPermission(ctx, root.ID, "anything.at_all")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestResolutionStaysFreshAfterInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.permission(t, "inventory.view")
	b := f.permission(t, "inventory.edit")
	role := f.role(t, "clerk", nil, a.ID)

	user, err := f.users.Create(ctx, "x@example.com", "X", "password123")
	require.NoError(t, err)
	require.NoError(t, f.users.AssignRole(ctx, user.ID, role.ID))

	perms, err := f.resolver.ResolvePrincipalPermissions(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"inventory.view"}, perms)

	// Mutate the grant set, then invalidate the way the guard layer does.
	require.NoError(t, f.roles.SyncPermissions(ctx, role.ID, []int64{a.ID, b.ID}))
	require.NoError(t, f.resolver.Cache().Invalidate(ctx, []int64{role.ID}, []int64{user.ID}))

	perms, err = f.resolver.ResolvePrincipalPermissions(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"inventory.edit", "inventory.view"}, perms)
}

// grantsGate parks one Grants read while armed, so a test can commit a
// mutation in the middle of a cache fill.
type grantsGate struct {
	roles.Repository
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *grantsGate) Grants(ctx context.Context, roleID int64) ([]int64, error) {
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return g.Repository.Grants(ctx, roleID)
}

func TestResolveDropsFillThatRacedInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	gate := &grantsGate{
		Repository: roles.NewMemoryRepository(),
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	catalogSvc := catalog.NewService(catalog.NewMemoryRepository(), catalog.NewValidator(nil, nil), 10)
	roleSvc := roles.NewService(gate, catalogSvc, 5)
	userSvc := users.NewService(users.NewMemoryRepository(), roleSvc)
	resolver := NewResolver(roleSvc, catalogSvc, userSvc, NewCache(client, 0))
	ctx := context.Background()

	a, err := catalogSvc.Create(ctx, catalog.CreateInput{
		Name: "inventory.view", Label: "View", Module: "inventory", Risk: catalog.RiskView,
	})
	require.NoError(t, err)
	b, err := catalogSvc.Create(ctx, catalog.CreateInput{
		Name: "inventory.edit", Label: "Edit", Module: "inventory", Risk: catalog.RiskEdit,
	})
	require.NoError(t, err)
	clerk, err := roleSvc.Create(ctx, roles.CreateInput{
		Name: "clerk", DisplayName: "Clerk", PermissionIDs: []int64{a.ID},
	})
	require.NoError(t, err)

	// Start a cold resolve and park it after its grant read began.
	gate.armed.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = resolver.ResolveRolePermissions(ctx, clerk.ID)
	}()
	<-gate.entered

	// A mutation commits and invalidates while the fill is parked.
	require.NoError(t, roleSvc.SyncPermissions(ctx, clerk.ID, []int64{a.ID, b.ID}))
	require.NoError(t, resolver.Cache().Invalidate(ctx, []int64{clerk.ID}, nil))

	close(gate.release)
	<-done

	// The parked fill must not have poisoned the cache: a read issued
	// after the mutation's success sees the post-mutation set.
	perms, err := resolver.ResolveRolePermissions(ctx, clerk.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"inventory.edit", "inventory.view"}, perms)
}

func TestResolverSurvivesRedisOutage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.permission(t, "inventory.view")
	role := f.role(t, "clerk", nil, a.ID)
	user, err := f.users.Create(ctx, "x@example.com", "X", "password123")
	require.NoError(t, err)
	require.NoError(t, f.users.AssignRole(ctx, user.ID, role.ID))

	f.redis.Close()

	perms, err := f.resolver.ResolvePrincipalPermissions(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"inventory.view"}, perms)
}
