package rbac

type Role string
type Action string

const (
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

const (
	ActionRead     Action = "read"
	ActionSwap     Action = "swap"
	ActionModerate Action = "moderate"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleSuperAdmin:
		return true
	case RoleAdmin:
		return action == ActionRead || action == ActionModerate
	case RoleMember:
		return action == ActionRead || action == ActionSwap
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAdmin, RoleSuperAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}

// IsStaff reports whether the role belongs to the admin console rather
// than a regular member account.
func IsStaff(role Role) bool {
	return role == RoleAdmin || role == RoleSuperAdmin
}
