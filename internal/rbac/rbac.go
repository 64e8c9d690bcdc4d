package rbac

import "approvaldesk/internal/approval"

type Role string
type Action string

const (
	RoleRequester Role = "requester"
	RoleReviewer  Role = "reviewer"
	RoleAdmin     Role = "admin"
)

const (
	ActionView    Action = "view"
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionBypass  Action = "bypass"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleReviewer:
		return action == ActionView || action == ActionApprove || action == ActionReject
	case RoleRequester:
		return action == ActionView
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleRequester, RoleReviewer, RoleAdmin:
		return Role(role)
	default:
		return RoleRequester
	}
}

// Policy maps the configured capability names onto role actions, so a role
// grants a capability when it may perform the matching action.
type Policy struct {
	actions map[string]Action
}

func NewPolicy(perms approval.Permissions) Policy {
	p := Policy{actions: map[string]Action{}}
	for capability, action := range map[string]Action{
		perms.View:    ActionView,
		perms.Approve: ActionApprove,
		perms.Reject:  ActionReject,
		perms.Bypass:  ActionBypass,
	} {
		if capability != "" {
			p.actions[capability] = action
		}
	}
	return p
}

// Grants reports whether role holds capability.
func (p Policy) Grants(role Role, capability string) bool {
	action, ok := p.actions[capability]
	return ok && Can(role, action)
}
