package model

type Role string

const (
	RoleLearner Role = "learner"
	RoleGuru    Role = "guru"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleLearner, RoleGuru, RoleAdmin:
		return true
	}
	return false
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) Source() EventSource {
	if a.Role == RoleAdmin || a.Role == RoleGuru {
		return SourceAdmin
	}
	return SourceUser
}
