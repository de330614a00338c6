// Package permission implements the allow/deny gate consulted before every
// tool invocation. Decisions combine role defaults with per-tenant overrides.
package permission

import "strings"

// Permission levels a role can hold on a platform module.
const (
	PermRead  = "read"
	PermWrite = "write"
)

// Gate decides whether a role may perform an action on a module.
type Gate interface {
	HasPermission(role, module, permission string, overrides map[string]bool) bool
}

// RoleGate is the default Gate backed by a static role matrix. Tenant
// overrides are keyed "<module>.<permission>" and take precedence over the
// role defaults in both directions.
type RoleGate struct {
	matrix map[string]map[string]string
}

// Default role defaults: the permission each role holds on every module
// unless the matrix narrows it per module.
var roleDefaults = map[string]string{
	"admin":   PermWrite,
	"manager": PermWrite,
	"member":  PermWrite,
	"viewer":  PermRead,
}

// NewRoleGate builds a gate with the platform's stock role matrix.
// Members get write access to day-to-day modules but read-only access to
// administrative ones; viewers are read-only everywhere.
func NewRoleGate() *RoleGate {
	return &RoleGate{
		matrix: map[string]map[string]string{
			"member": {
				"invoicing": PermRead,
				"erp":       PermRead,
				"settings":  "",
			},
			"viewer": {
				"settings": "",
			},
		},
	}
}

// HasPermission reports whether role may perform permission on module.
// An override entry wins over role defaults; an unknown role is denied.
func (g *RoleGate) HasPermission(role, module, permission string, overrides map[string]bool) bool {
	if module == "" || permission == "" {
		return false
	}
	if overrides != nil {
		if allowed, ok := overrides[OverrideKey(module, permission)]; ok {
			return allowed
		}
	}

	level, ok := roleDefaults[role]
	if !ok {
		return false
	}
	if perModule, ok := g.matrix[role]; ok {
		if moduleLevel, ok := perModule[module]; ok {
			level = moduleLevel
		}
	}
	return allows(level, permission)
}

// OverrideKey builds the canonical tenant-override key for a capability.
func OverrideKey(module, permission string) string {
	return module + "." + permission
}

// allows reports whether a held level satisfies the requested permission.
// Write implies read.
func allows(held, requested string) bool {
	switch strings.ToLower(requested) {
	case PermRead:
		return held == PermRead || held == PermWrite
	case PermWrite:
		return held == PermWrite
	default:
		return false
	}
}
