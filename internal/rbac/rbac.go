package rbac

import (
	"strings"

	"golang.org/x/text/cases"
)

type Role string
type Action string

const (
	RoleViewer     Role = "viewer"
	RoleEmployee   Role = "employee"
	RoleSupervisor Role = "supervisor"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionAssign Action = "assign"
	ActionReview Action = "review"
)

// Review stages a role can be bound to.
const (
	StageAutoCheck  = "auto_check"
	StageSupervisor = "supervisor_review"
	StageManager    = "manager_review"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager, RoleSupervisor:
		return action == ActionRead || action == ActionWrite || action == ActionAssign || action == ActionReview
	case RoleEmployee:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// CanDecide reports whether role is the one bound to a review stage.
// The automated stage has no human reviewer.
func CanDecide(role Role, stage string) bool {
	switch stage {
	case StageSupervisor:
		return role == RoleSupervisor
	case StageManager:
		return role == RoleManager
	default:
		return false
	}
}

// CanEdit reports whether an actor with role may write content to a
// document in the given status and lock state.
func CanEdit(role Role, status, lockedBy string) bool {
	if !Can(role, ActionWrite) {
		return false
	}
	return status == "draft" && lockedBy == ""
}

var folder = cases.Fold()

func Normalize(role string) Role {
	switch r := Role(folder.String(strings.TrimSpace(role))); r {
	case RoleViewer, RoleEmployee, RoleSupervisor, RoleManager, RoleAdmin:
		return r
	default:
		return RoleViewer
	}
}

// Valid reports whether role names a known role without defaulting.
func Valid(role string) bool {
	r := Role(folder.String(strings.TrimSpace(role)))
	return r == RoleViewer || r == RoleEmployee || r == RoleSupervisor || r == RoleManager || r == RoleAdmin
}
