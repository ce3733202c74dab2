package store

import "deptdocs/core/internal/domain"

// Credentials is a user together with the stored password hash. It never
// leaves the server.
type Credentials struct {
	User         domain.User
	PasswordHash string
}

type NewUser struct {
	DisplayName  string
	Email        string
	PasswordHash string
	Roles        []string
}

// Scope restricts document reads to what a principal may view: everything
// for administrators, otherwise global documents plus the principal's
// departments.
type Scope struct {
	All         bool
	Departments []int64
}

func ScopeFor(p domain.Principal) Scope {
	if p.IsAdmin() {
		return Scope{All: true}
	}
	return Scope{Departments: append([]int64(nil), p.Departments...)}
}
