// Package guard decides whether a resolved session may reach a route and
// turns that decision into a response.
package guard

import (
	"genascope/internal/auth/controller"
	"genascope/internal/token"
)

type Decision int

const (
	Loading Decision = iota
	Allowed
	DeniedUnauthenticated
	DeniedWrongAccessType
	DeniedWrongRole
	DeniedExpired
)

func (d Decision) String() string {
	switch d {
	case Loading:
		return "loading"
	case Allowed:
		return "allowed"
	case DeniedUnauthenticated:
		return "denied_unauthenticated"
	case DeniedWrongAccessType:
		return "denied_wrong_access_type"
	case DeniedWrongRole:
		return "denied_wrong_role"
	case DeniedExpired:
		return "denied_expired"
	default:
		return "unknown"
	}
}

// Guard evaluates a session view. Implementations are pure: no store or
// backend access.
type Guard interface {
	Evaluate(v controller.View) Decision
}

// Strict admits regular sessions only, optionally restricted to roles.
// Simplified sessions are turned away whatever their role.
type Strict struct {
	AllowedRoles []token.Role
}

func (g Strict) Evaluate(v controller.View) Decision {
	switch {
	case v.Pending():
		return Loading
	case !v.Authenticated():
		return DeniedUnauthenticated
	case v.IsSimplified():
		return DeniedWrongAccessType
	case len(g.AllowedRoles) > 0 && !v.HasRole(g.AllowedRoles...):
		return DeniedWrongRole
	default:
		return Allowed
	}
}

// Permissive admits regular and simplified sessions. A simplified session
// whose token lapsed is reported as expired rather than unauthenticated so
// the patient sees why.
type Permissive struct{}

func (Permissive) Evaluate(v controller.View) Decision {
	switch {
	case v.Pending():
		return Loading
	case v.Authenticated():
		return Allowed
	case v.Expired:
		return DeniedExpired
	default:
		return DeniedUnauthenticated
	}
}

// Roles shared by the route table.
var (
	StaffRoles = []token.Role{token.RoleClinician, token.RolePhysician, token.RoleAdmin, token.RoleSuperAdmin}
	AdminRoles = []token.Role{token.RoleAdmin, token.RoleSuperAdmin}
)
