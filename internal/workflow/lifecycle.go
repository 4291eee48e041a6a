package workflow

import (
	"fmt"

	"filedesk/api/internal/rbac"
	"filedesk/api/internal/store"
)

// Guards are pure functions that evaluate preconditions without side effects.

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Reason  string
}

// Error converts the guard result to an error if not allowed.
func (r GuardResult) Error() error {
	if r.Allowed {
		return nil
	}
	return fmt.Errorf("%s", r.Reason)
}

func allowed() GuardResult {
	return GuardResult{Allowed: true}
}

func denied(format string, args ...any) GuardResult {
	return GuardResult{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// TransitionContext provides context for status transition guards.
type TransitionContext struct {
	ProposalID string
	From       store.ProposalStatus
	To         store.ProposalStatus
}

// CanTransition evaluates whether a proposal may move between two statuses.
// Rules:
// - Only pending proposals move
// - The target status must be terminal
func CanTransition(ctx TransitionContext) GuardResult {
	if ctx.From != store.StatusPending {
		return denied("proposal %s is already %s and can no longer change", ctx.ProposalID, ctx.From)
	}
	if !ctx.To.Terminal() {
		return denied("proposal %s cannot move to %q", ctx.ProposalID, ctx.To)
	}
	return allowed()
}

// ProposeContext provides context for opening a record for edit and submitting.
type ProposeContext struct {
	Role          rbac.Role
	TargetID      string
	HasDelegation bool
}

// CanPropose evaluates whether an actor may draft a proposal for a target.
// Rules:
// - Role must carry the propose action
// - Non-privileged roles must hold an active delegation to the target
func CanPropose(ctx ProposeContext) GuardResult {
	if !rbac.Can(ctx.Role, rbac.ActionPropose) {
		return denied("role %s cannot propose changes", ctx.Role)
	}
	if !rbac.Privileged(ctx.Role) && !ctx.HasDelegation {
		return denied("you are not assigned to %s; ask an editor to delegate it to you", ctx.TargetID)
	}
	return allowed()
}

// CanReview evaluates whether a role may approve, reject or delete proposals.
func CanReview(role rbac.Role) GuardResult {
	if !rbac.Can(role, rbac.ActionReview) {
		return denied("role %s cannot review proposals", role)
	}
	return allowed()
}

// CanRead evaluates whether a role may view records and proposals.
func CanRead(role rbac.Role) GuardResult {
	if !rbac.Can(role, rbac.ActionRead) {
		return denied("role %s cannot view records", role)
	}
	return allowed()
}
