// Package policy centralizes the access rules: the RBAC zone table and the
// attribute/context risk scoring. Everything here is pure domain logic -
// no I/O, no side effects - so the rules stay exhaustively testable.
package policy

import (
	"strings"

	"veritas/internal/domain"
)

// Zone is a coarse sensitivity tier a resource path belongs to.
type Zone string

const (
	ZonePublic Zone = "public"
	ZoneSecure Zone = "secure"
	ZoneAdmin  Zone = "admin"
)

// roleZones is the fixed role-to-allowed-zones table.
var roleZones = map[domain.Role][]Zone{
	domain.RoleAdmin:      {ZonePublic, ZoneSecure, ZoneAdmin},
	domain.RoleDeveloper:  {ZonePublic, ZoneSecure},
	domain.RoleUser:       {ZonePublic, ZoneSecure},
	domain.RoleGuest:      {ZonePublic},
	domain.RoleRestricted: {},
}

// ClassifyZone maps a resource path onto its zone by prefix match. Admin
// surfaces win over secure so /api/secure/admin-panel is treated as admin.
func ClassifyZone(path string) Zone {
	switch {
	case strings.Contains(path, "/admin"):
		return ZoneAdmin
	case strings.Contains(path, "/secure"):
		return ZoneSecure
	default:
		return ZonePublic
	}
}

// CheckPermissions applies the RBAC table: the subject's role must include
// the zone the resource path classifies into. Deterministic, no side
// effects. The returned reason is human-readable and ends up in audit
// events verbatim.
func CheckPermissions(role domain.Role, path string) (bool, string) {
	allowed := roleZones[role]
	zone := ClassifyZone(path)

	switch zone {
	case ZoneAdmin:
		if !containsZone(allowed, ZoneAdmin) {
			return false, "Role 'admin' required for this sector."
		}
	case ZoneSecure:
		if !containsZone(allowed, ZoneSecure) {
			return false, "Identity validation required for secure zones."
		}
	}
	return true, "RBAC Clear"
}

func containsZone(zones []Zone, z Zone) bool {
	for _, have := range zones {
		if have == z {
			return true
		}
	}
	return false
}
