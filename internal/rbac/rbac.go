package rbac

type Role string
type Action string

const (
	RoleAnonymous Role = "anonymous"
	RoleUser      Role = "user"
	RoleCorrector Role = "corrector"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	ActionEdit     Action = "edit"
	ActionCorrect  Action = "correct"
	ActionModerate Action = "moderate"
	ActionCommit   Action = "commit"
)

// Can reports whether role holds the capability. Correctors fix other
// people's unconfirmed messages but cannot moderate or commit.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin, RoleModerator:
		return true
	case RoleCorrector:
		return action == ActionEdit || action == ActionCorrect
	case RoleUser:
		return action == ActionEdit
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleCorrector, RoleModerator, RoleAdmin:
		return Role(role)
	default:
		return RoleAnonymous
	}
}
