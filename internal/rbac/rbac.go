package rbac

import "strings"

type Role string
type Action string

const (
	RoleSocio          Role = "socio"
	RoleAdministrativo Role = "administrativo"
	RoleAdmin          Role = "admin"
)

const (
	ActionRead    Action = "read"
	ActionExport  Action = "export"
	ActionImport  Action = "import"
	ActionPeriods Action = "periods"
	ActionAdmin   Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleAdministrativo:
		return action == ActionRead || action == ActionExport || action == ActionImport || action == ActionPeriods
	case RoleSocio:
		return action == ActionRead
	default:
		return false
	}
}

// CanUser also honours backend scopes: a scope named like the action grants it.
func CanUser(role string, scopes []string, action Action) bool {
	if Can(Normalize(role), action) {
		return true
	}
	for _, scope := range scopes {
		if strings.EqualFold(strings.TrimSpace(scope), string(action)) {
			return true
		}
	}
	return false
}

func Normalize(role string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(role)))
	switch r {
	case RoleSocio, RoleAdministrativo, RoleAdmin:
		return r
	default:
		return RoleSocio
	}
}
