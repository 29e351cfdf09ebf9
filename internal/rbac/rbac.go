package rbac

type Role string
type Action string

const (
	RoleNone      Role = ""
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead        Action = "read"
	ActionComment     Action = "comment"
	ActionEditContent Action = "edit_content"
	ActionGrant       Action = "grant"
)

// Can reports whether role is allowed to perform action on a page.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionEditContent
	case RoleCommenter:
		return action == ActionRead || action == ActionComment
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Parse maps a stored role name to a Role. Unknown names grant nothing.
func Parse(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleNone
	}
}

func Valid(role string) bool {
	return Parse(role) != RoleNone
}
