package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleViewer, ActionRead, true},
		{RoleViewer, ActionWrite, false},
		{RoleViewer, ActionMerge, false},
		{RoleEditor, ActionWrite, true},
		{RoleEditor, ActionApprove, true},
		{RoleEditor, ActionMerge, true},
		{RoleEditor, ActionAdmin, false},
		{RoleAdmin, ActionAdmin, true},
		{Role("ghost"), ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("admin") != RoleAdmin {
		t.Fatal("admin must normalize to itself")
	}
	if Normalize("unknown") != RoleViewer {
		t.Fatal("unknown roles fall back to viewer")
	}
}
