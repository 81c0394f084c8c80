package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/warden/internal/shared"
)

func newTestService() *Service {
	return NewService(NewMemoryRepository(), NewValidator(nil, nil), 3)
}

func TestCreateValidatesNameAndRisk(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Name: "system.wipe", Label: "Wipe", Module: "ops", Risk: RiskDelete})
	require.Error(t, err)
	require.Equal(t, shared.KindValidation, shared.KindOf(err))

	_, err = svc.Create(ctx, CreateInput{Name: "ops.wipe", Label: "Wipe", Module: "ops", Risk: RiskType("catastrophic")})
	require.Error(t, err)

	perm, err := svc.Create(ctx, CreateInput{Name: "ops.wipe", Label: "Wipe", Module: "ops", Risk: RiskDelete})
	require.NoError(t, err)
	require.NotZero(t, perm.ID)

	_, err = svc.Create(ctx, CreateInput{Name: "ops.wipe", Label: "Again", Module: "ops", Risk: RiskDelete})
	require.Equal(t, shared.KindConflict, shared.KindOf(err))
}

func TestCreateDependencyRules(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	base, err := svc.Create(ctx, CreateInput{Name: "docs.view", Label: "View docs", Module: "docs", Risk: RiskView})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateInput{Name: "docs.edit", Label: "Edit docs", Module: "docs", Risk: RiskEdit, DependsOn: []int64{999}})
	require.Equal(t, shared.KindValidation, shared.KindOf(err))

	_, err = svc.Create(ctx, CreateInput{Name: "docs.edit", Label: "Edit docs", Module: "docs", Risk: RiskEdit, DependsOn: []int64{base.ID, base.ID}})
	require.Equal(t, shared.KindValidation, shared.KindOf(err))

	edit, err := svc.Create(ctx, CreateInput{Name: "docs.edit", Label: "Edit docs", Module: "docs", Risk: RiskEdit, DependsOn: []int64{base.ID}})
	require.NoError(t, err)
	require.Equal(t, []int64{base.ID}, edit.DependsOn)

	// maxDeps is 3 for the test service.
	a, _ := svc.Create(ctx, CreateInput{Name: "docs.a", Label: "A", Module: "docs", Risk: RiskView})
	b, _ := svc.Create(ctx, CreateInput{Name: "docs.b", Label: "B", Module: "docs", Risk: RiskView})
	_, err = svc.Create(ctx, CreateInput{Name: "docs.manage", Label: "Manage", Module: "docs", Risk: RiskManage,
		DependsOn: []int64{base.ID, edit.ID, a.ID, b.ID}})
	require.Equal(t, shared.KindValidation, shared.KindOf(err))
}

func TestRenameProtectsSystemIdentity(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	perm, err := svc.Ensure(ctx, "roles.view", "View roles", "roles", RiskView)
	require.NoError(t, err)

	_, err = svc.Rename(ctx, perm.ID, "roles.peek", "Peek")
	require.Equal(t, shared.KindDenied, shared.KindOf(err))

	// Same name, new label is fine.
	renamed, err := svc.Rename(ctx, perm.ID, "roles.view", "Inspect roles")
	require.NoError(t, err)
	require.Equal(t, "Inspect roles", renamed.Label)
}

func TestDeleteProtectsSystemPermissions(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	system, err := svc.Ensure(ctx, "roles.view", "View roles", "roles", RiskView)
	require.NoError(t, err)
	require.Equal(t, shared.KindDenied, shared.KindOf(svc.Delete(ctx, system.ID)))

	plain, err := svc.Create(ctx, CreateInput{Name: "docs.view", Label: "View", Module: "docs", Risk: RiskView})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, plain.ID))
	_, err = svc.Get(ctx, plain.ID)
	require.Equal(t, shared.KindNotFound, shared.KindOf(err))
}

func TestEnsureIsIdempotent(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	first, err := svc.Ensure(ctx, "users.view", "View principals", "users", RiskView)
	require.NoError(t, err)
	second, err := svc.Ensure(ctx, "users.view", "View principals", "users", RiskView)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}
