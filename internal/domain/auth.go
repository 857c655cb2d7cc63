package domain

// Role is carried in access tokens issued by the auth collaborator.
type Role string

const (
	RoleModule   Role = "MODULE"
	RoleOperator Role = "OPERATOR"
	RoleAdmin    Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleModule, RoleOperator, RoleAdmin:
		return true
	}
	return false
}
