// Package authz evaluates the project role matrix from the spec: which
// action a caller's role permits, with non-membership and
// permission-denied kept as distinct outcomes so the HTTP layer can map
// them to 404 and 403 respectively (never letting a 403 leak the
// existence of a project the caller cannot see).
package authz

import "context"

// Role is a project-scoped membership level.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleReviewer Role = "reviewer"
	RoleViewer   Role = "viewer"
)

// Action is a single gate in the role matrix (spec.md §4.3).
type Action string

const (
	ActionReadProject      Action = "read_project"
	ActionWriteDecision    Action = "write_decision"
	ActionCreateExport     Action = "create_export"
	ActionReadOthersExport Action = "read_others_export"
	ActionCancelExport     Action = "cancel_export"
)

// Identity is the external identity collaborator (spec.md §6): the core
// never validates credentials itself, it only consumes the resolved
// caller identity and its project roles.
type Identity interface {
	ID() string
	Email() string
	// RoleIn resolves the caller's role within a project. ok is false when
	// the caller is not a member, which callers must map to 404, not 403.
	RoleIn(ctx context.Context, projectID string) (Role, bool, error)
}

// OrgPolicy captures the org-level toggles the matrix defers to (spec.md
// §4.3, §9 open question (a)): whether viewers may create exports, and
// whether reviewers may see other reviewers' export jobs. These are
// configuration, never a hardcoded branch in the evaluator.
type OrgPolicy struct {
	ViewerMayCreateExport       bool
	ReviewerMaySeeOthersExports bool
}

// Evaluator answers whether a role may perform an action under a given
// policy. It holds no mutable state and is safe for concurrent use.
type Evaluator struct{}

// NewEvaluator returns a stateless Evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Allow reports whether role may perform action under policy. The matrix
// mirrors spec.md §4.3 exactly:
//
//	Action                  admin  reviewer  viewer
//	read_project            yes    yes       yes
//	write_decision          yes    yes       no
//	create_export           yes    yes       policy-gated
//	read_others_export      yes    policy-gated  no
//	cancel_export           yes    yes       policy-gated (same as create)
func (e *Evaluator) Allow(role Role, action Action, policy OrgPolicy) bool {
	switch action {
	case ActionReadProject:
		return role == RoleAdmin || role == RoleReviewer || role == RoleViewer
	case ActionWriteDecision:
		return role == RoleAdmin || role == RoleReviewer
	case ActionCreateExport:
		if role == RoleAdmin || role == RoleReviewer {
			return true
		}

		return role == RoleViewer && policy.ViewerMayCreateExport
	case ActionReadOthersExport:
		if role == RoleAdmin {
			return true
		}

		return role == RoleReviewer && policy.ReviewerMaySeeOthersExports
	case ActionCancelExport:
		// Cancelling one's own queued/running export requires the same
		// standing as creating one (spec.md §4.3: "(if allowed to create)").
		return e.Allow(role, ActionCreateExport, policy)
	default:
		return false
	}
}

// Resolve looks up the caller's role for a project and reports the
// disposition the HTTP layer must use: ok=false, member=false means
// "404 not_found" (non-membership hides existence); ok=false,
// member=true means "403 forbidden" (visible resource, denied action).
func Resolve(
	ctx context.Context,
	evaluator *Evaluator,
	identity Identity,
	projectID string,
	action Action,
	policy OrgPolicy,
) (allowed, isMember bool, err error) {
	role, member, err := identity.RoleIn(ctx, projectID)
	if err != nil {
		return false, false, err
	}

	if !member {
		return false, false, nil
	}

	return evaluator.Allow(role, action, policy), true, nil
}
