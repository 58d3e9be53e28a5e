package google

import "testing"

func TestScopesToPermissions_KnownScope(t *testing.T) {
	got := ScopesToPermissions([]string{"https://www.googleapis.com/auth/drive"})
	if len(got) != 1 || got[0] != "full_drive_access" {
		t.Errorf("got %v, want [full_drive_access]", got)
	}
}

func TestScopesToPermissions_UnknownScopePassthrough(t *testing.T) {
	got := ScopesToPermissions([]string{"https://example.com/auth/custom"})
	if len(got) != 1 || got[0] != "https://example.com/auth/custom" {
		t.Errorf("unknown scope should pass through unchanged, got %v", got)
	}
}

func TestScopesToPermissions_SkipsBlank(t *testing.T) {
	got := ScopesToPermissions([]string{"", "  "})
	if len(got) != 0 {
		t.Errorf("expected blank scopes to be skipped, got %v", got)
	}
}
