package rbac

type Role string
type Action string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
	ActionAdmin Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

// Normalize maps unknown roles to RoleUser.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
