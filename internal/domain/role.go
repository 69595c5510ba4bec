package domain

// Role enumerates portal principals.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleStaff   Role = "STAFF"
	RoleAdmin   Role = "ADMIN"
)

// IsStaff reports whether the role acts on behalf of the support desk.
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

// Actor identifies who performs an operation.
type Actor struct {
	ID   string
	Role Role
}
