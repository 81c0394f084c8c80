package roles

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/warden/internal/catalog"
	"github.com/odyssey-erp/warden/internal/shared"
)

// permDirStub answers catalog lookups for a fixed set of ids.
type permDirStub map[int64]struct{}

func (d permDirStub) Get(ctx context.Context, id int64) (catalog.Permission, error) {
	if _, ok := d[id]; !ok {
		return catalog.Permission{}, shared.NotFoundf("permission %d not found", id)
	}
	return catalog.Permission{ID: id}, nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	known := make(permDirStub)
	for id := int64(1); id <= 10; id++ {
		known[id] = struct{}{}
	}
	return NewService(NewMemoryRepository(), known, 4)
}

func mustCreate(t *testing.T, svc *Service, in CreateInput) Role {
	t.Helper()
	role, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	return role
}

func TestCreateValidatesNameAndDepth(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "Shift Lead"})
	require.Equal(t, shared.KindValidation, shared.KindOf(err))

	root := mustCreate(t, svc, CreateInput{Name: "ops"})
	lead := mustCreate(t, svc, CreateInput{Name: "shift_lead", ParentID: &root.ID})
	operator := mustCreate(t, svc, CreateInput{Name: "operator", ParentID: &lead.ID})

	// maxDepth is 4: ops(0) -> shift_lead(1) -> operator(2) -> trainee(3)
	// fits, a fifth level does not.
	trainee := mustCreate(t, svc, CreateInput{Name: "trainee", ParentID: &operator.ID})
	_, err = svc.Create(ctx, CreateInput{Name: "intern", ParentID: &trainee.ID})
	require.Equal(t, shared.KindConflict, shared.KindOf(err))

	_, err = svc.Create(ctx, CreateInput{Name: "ops"})
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestSetParentRejectsCycles(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	root := mustCreate(t, svc, CreateInput{Name: "ops"})
	lead := mustCreate(t, svc, CreateInput{Name: "shift_lead", ParentID: &root.ID})
	operator := mustCreate(t, svc, CreateInput{Name: "operator", ParentID: &lead.ID})

	require.Equal(t, shared.KindConflict, shared.KindOf(svc.SetParent(ctx, root.ID, &operator.ID)))
	require.Equal(t, shared.KindConflict, shared.KindOf(svc.SetParent(ctx, lead.ID, &lead.ID)))

	// Detaching into a new root is always legal.
	require.NoError(t, svc.SetParent(ctx, operator.ID, nil))
	depth, err := svc.Depth(ctx, operator.ID)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestSetParentEnforcesSubtreeDepth(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// Tree A: a0 -> a1 -> a2 (height 2). Tree B: b0 -> b1.
	a0 := mustCreate(t, svc, CreateInput{Name: "a0"})
	a1 := mustCreate(t, svc, CreateInput{Name: "a1", ParentID: &a0.ID})
	mustCreate(t, svc, CreateInput{Name: "a2", ParentID: &a1.ID})
	b0 := mustCreate(t, svc, CreateInput{Name: "b0"})
	b1 := mustCreate(t, svc, CreateInput{Name: "b1", ParentID: &b0.ID})

	// Moving a0 (height 2) under b1 (depth 1) needs 1+1+2 = 4 >= maxDepth.
	require.Equal(t, shared.KindConflict, shared.KindOf(svc.SetParent(ctx, a0.ID, &b1.ID)))
	// Under b0 (depth 0) it fits.
	require.NoError(t, svc.SetParent(ctx, a0.ID, &b0.ID))
}

func TestSyncPermissionsDiffs(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	role := mustCreate(t, svc, CreateInput{Name: "clerk", PermissionIDs: []int64{1, 2, 3}})

	require.NoError(t, svc.SyncPermissions(ctx, role.ID, []int64{2, 3, 4}))
	grants, err := svc.Grants(ctx, role.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3, 4}, grants)

	require.NoError(t, svc.SyncPermissions(ctx, role.ID, nil))
	grants, err = svc.Grants(ctx, role.ID)
	require.NoError(t, err)
	require.Empty(t, grants)
}

func TestGrantsRequireKnownPermissions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "clerk", PermissionIDs: []int64{1, 999}})
	require.Equal(t, shared.KindValidation, shared.KindOf(err))

	role := mustCreate(t, svc, CreateInput{Name: "clerk", PermissionIDs: []int64{1}})
	err = svc.SyncPermissions(ctx, role.ID, []int64{1, 999})
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
	grants, err := svc.Grants(ctx, role.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{1}, grants)
}

func TestDeleteBlocksChildrenUnlessForced(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	root := mustCreate(t, svc, CreateInput{Name: "ops", PermissionIDs: []int64{7}})
	child := mustCreate(t, svc, CreateInput{Name: "shift_lead", ParentID: &root.ID})

	require.Equal(t, shared.KindConflict, shared.KindOf(svc.Delete(ctx, root.ID, false)))

	require.NoError(t, svc.Delete(ctx, root.ID, true))
	_, err := svc.Get(ctx, root.ID)
	require.Equal(t, shared.KindNotFound, shared.KindOf(err))

	// Children are orphaned into new roots, never deleted.
	survivor, err := svc.Get(ctx, child.ID)
	require.NoError(t, err)
	require.Nil(t, survivor.ParentID)

	// Grant edges of the deleted role are gone.
	granting, err := svc.RolesGranting(ctx, 7)
	require.NoError(t, err)
	require.Empty(t, granting)
}

func TestDeleteProtectsSystemRoles(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	system := mustCreate(t, svc, CreateInput{Name: "super_admin", IsSystem: true})
	err := svc.Delete(ctx, system.ID, true)
	require.Equal(t, shared.KindDenied, shared.KindOf(err))
}

func TestUpdateProtectsSystemNames(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	system := mustCreate(t, svc, CreateInput{Name: "super_admin", IsSystem: true})
	_, err := svc.Update(ctx, Role{ID: system.ID, Name: "renamed", DisplayName: "X", IsActive: true})
	require.Equal(t, shared.KindDenied, shared.KindOf(err))

	updated, err := svc.Update(ctx, Role{ID: system.ID, Name: "super_admin", DisplayName: "Root", IsActive: true})
	require.NoError(t, err)
	require.Equal(t, "Root", updated.DisplayName)
}

func TestAncestorsAndDescendantsThroughService(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	root := mustCreate(t, svc, CreateInput{Name: "ops"})
	lead := mustCreate(t, svc, CreateInput{Name: "shift_lead", ParentID: &root.ID})
	operator := mustCreate(t, svc, CreateInput{Name: "operator", ParentID: &lead.ID})

	chain, err := svc.Ancestors(ctx, operator.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, root.ID, chain[0].ID)

	below, err := svc.Descendants(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, below, 2)

	_, err = svc.Ancestors(ctx, 404)
	require.Equal(t, shared.KindNotFound, shared.KindOf(err))
}
