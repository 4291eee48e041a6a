package rbac

type Role string
type Action string

const (
	RoleObserver   Role = "observer"
	RoleSupervisor Role = "supervisor"
	RoleEditor     Role = "editor"
	RoleAdmin      Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionPropose Action = "propose"
	ActionWrite   Action = "write"
	ActionReview  Action = "review"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionWrite || action == ActionReview
	case RoleSupervisor:
		return action == ActionRead || action == ActionPropose
	case RoleObserver:
		return action == ActionRead
	default:
		return false
	}
}

// Privileged roles edit canonical records directly and review proposals.
func Privileged(role Role) bool {
	return role == RoleEditor || role == RoleAdmin
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleObserver, RoleSupervisor, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleObserver
	}
}
