package guard

import (
	"context"

	"github.com/odyssey-erp/warden/internal/shared"
)

// Bulk operation names.
const (
	BulkDeleteRoles = "roles.delete"
	BulkAssignRole  = "roles.assign"
	BulkRevokeRole  = "roles.revoke"
)

// BulkInput describes one batched operation over many targets. For role
// deletion the targets are role ids; for assignment operations they are
// principal ids and RoleID names the role being granted or revoked.
type BulkInput struct {
	Operation string
	TargetIDs []int64
	RoleID    int64
	Force     bool
}

// BulkDenial reports one rejected target.
type BulkDenial struct {
	ID        int64  `json:"id"`
	Predicate string `json:"predicate,omitempty"`
	Reason    string `json:"reason"`
}

// BulkResult reports the outcome per target. A batch where every target
// is denied still returns a nil error; only batch-level failures error.
type BulkResult struct {
	Allowed []int64      `json:"allowed"`
	Denied  []BulkDenial `json:"denied"`
}

// Bulk runs one operation over up to MaxBulkTargets targets. The batch
// consumes a single rate-limit token; each target then passes the full
// per-target predicate set, so one protected target never blocks the
// rest of the batch.
func (g *Guard) Bulk(ctx context.Context, actorID int64, in BulkInput) (BulkResult, error) {
	act, err := g.requireActor(ctx, actorID)
	if err != nil {
		g.auditDeny(ctx, actorID, in.Operation, "bulk", "", err)
		return BulkResult{}, err
	}
	deny := func(cause error) (BulkResult, error) {
		g.auditDeny(ctx, actorID, in.Operation, "bulk", "", cause)
		return BulkResult{}, cause
	}

	var capability string
	switch in.Operation {
	case BulkDeleteRoles:
		capability = shared.PermRolesDelete
	case BulkAssignRole, BulkRevokeRole:
		capability = shared.PermRolesAssign
	default:
		return deny(shared.Validationf("unknown bulk operation %q", in.Operation))
	}
	if err := g.requireCapability(ctx, act, capability); err != nil {
		return deny(err)
	}
	if len(in.TargetIDs) == 0 {
		return deny(shared.Denyf(PredicateBulkBounds, "bulk operation requires at least one target"))
	}
	if len(in.TargetIDs) > g.cfg.MaxBulkTargets {
		return deny(shared.Denyf(PredicateBulkBounds, "bulk operation limited to %d targets, got %d", g.cfg.MaxBulkTargets, len(in.TargetIDs)))
	}
	seen := make(map[int64]struct{}, len(in.TargetIDs))
	for _, id := range in.TargetIDs {
		if _, dup := seen[id]; dup {
			return deny(shared.Denyf(PredicateBulkBounds, "duplicate target %d", id))
		}
		seen[id] = struct{}{}
	}
	if err := g.consume(ctx, actorID, OpBulk); err != nil {
		return deny(err)
	}

	res := BulkResult{Allowed: make([]int64, 0, len(in.TargetIDs))}
	for _, target := range in.TargetIDs {
		var apply func(context.Context) error
		var planErr error
		switch in.Operation {
		case BulkDeleteRoles:
			apply, planErr = g.planDeleteRole(ctx, act, target, in.Force)
		case BulkAssignRole:
			apply, planErr = g.planAssignRole(ctx, act, target, in.RoleID)
		case BulkRevokeRole:
			apply, planErr = g.planRevokeRole(ctx, act, target, in.RoleID)
		}
		if planErr != nil {
			// Predicate rejection of a single target: record the denial
			// and move on.
			g.auditDeny(ctx, actorID, in.Operation, "bulk_target", formatID(target), planErr)
			res.Denied = append(res.Denied, BulkDenial{
				ID:        target,
				Predicate: shared.PredicateOf(planErr),
				Reason:    planErr.Error(),
			})
			continue
		}
		if err := apply(ctx); err != nil {
			// The apply step writes its own audit records.
			res.Denied = append(res.Denied, BulkDenial{
				ID:        target,
				Predicate: shared.PredicateOf(err),
				Reason:    err.Error(),
			})
			continue
		}
		res.Allowed = append(res.Allowed, target)
	}
	return res, nil
}
