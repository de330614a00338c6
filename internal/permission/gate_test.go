package permission

import "testing"

func TestRoleGate_HasPermission(t *testing.T) {
	gate := NewRoleGate()

	tests := []struct {
		name       string
		role       string
		module     string
		permission string
		overrides  map[string]bool
		want       bool
	}{
		{name: "admin writes anywhere", role: "admin", module: "tasks", permission: PermWrite, want: true},
		{name: "member writes tasks", role: "member", module: "tasks", permission: PermWrite, want: true},
		{name: "member cannot write invoicing", role: "member", module: "invoicing", permission: PermWrite, want: false},
		{name: "member reads invoicing", role: "member", module: "invoicing", permission: PermRead, want: true},
		{name: "viewer cannot write", role: "viewer", module: "tasks", permission: PermWrite, want: false},
		{name: "viewer reads", role: "viewer", module: "crm", permission: PermRead, want: true},
		{name: "viewer has no settings access", role: "viewer", module: "settings", permission: PermRead, want: false},
		{name: "unknown role denied", role: "ghost", module: "tasks", permission: PermRead, want: false},
		{name: "empty module denied", role: "admin", module: "", permission: PermRead, want: false},
		{
			name: "override grants beyond role",
			role: "viewer", module: "tasks", permission: PermWrite,
			overrides: map[string]bool{"tasks.write": true},
			want:      true,
		},
		{
			name: "override revokes role default",
			role: "admin", module: "tasks", permission: PermWrite,
			overrides: map[string]bool{"tasks.write": false},
			want:      false,
		},
		{
			name: "unrelated override ignored",
			role: "viewer", module: "tasks", permission: PermWrite,
			overrides: map[string]bool{"crm.write": true},
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gate.HasPermission(tt.role, tt.module, tt.permission, tt.overrides)
			if got != tt.want {
				t.Errorf("HasPermission(%s, %s, %s) = %v, want %v", tt.role, tt.module, tt.permission, got, tt.want)
			}
		})
	}
}

func TestRoleGate_WriteImpliesRead(t *testing.T) {
	gate := NewRoleGate()
	if !gate.HasPermission("manager", "crm", PermRead, nil) {
		t.Error("write-level role should satisfy read requests")
	}
}
