package rbac

import "testing"

func TestCan(t *testing.T) {
	tests := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleAdmin, ActionGrant, true},
		{RoleAdmin, ActionEditContent, true},
		{RoleEditor, ActionEditContent, true},
		{RoleEditor, ActionGrant, false},
		{RoleCommenter, ActionEditContent, false},
		{RoleCommenter, ActionComment, true},
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionEditContent, false},
		{RoleNone, ActionRead, false},
	}

	for _, tt := range tests {
		if got := Can(tt.role, tt.action); got != tt.want {
			t.Errorf("Can(%q, %q) = %v, want %v", tt.role, tt.action, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	if Parse("editor") != RoleEditor {
		t.Fatal("expected editor role")
	}
	if Parse("owner") != RoleNone {
		t.Fatal("expected unknown role to grant nothing")
	}
	if Valid("") {
		t.Fatal("expected empty role to be invalid")
	}
}
