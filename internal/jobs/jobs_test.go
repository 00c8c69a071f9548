package jobs

import "testing"

func TestGenerateID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := GenerateID()
		if !ValidID(id) {
			t.Fatalf("GenerateID() = %q does not match the ID format", id)
		}
		if seen[id] {
			t.Fatalf("duplicate ID %q", id)
		}
		seen[id] = true
	}
}

func TestParseRoute(t *testing.T) {
	tests := []struct {
		path       string
		wantID     string
		wantAction string
		wantOK     bool
	}{
		{"/jobs/untrunc-0123456789ab", "untrunc-0123456789ab", "", true},
		{"/jobs/0123456789ab", "untrunc-0123456789ab", "", true},
		{"/jobs/untrunc-0123456789ab/report", "untrunc-0123456789ab", "report", true},
		{"/jobs/untrunc-0123456789ab/", "untrunc-0123456789ab", "", true},
		{"/jobs/", "", "", false},
		{"/jobs/not-a-job", "", "", false},
		{"/other/untrunc-0123456789ab", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			id, action, ok := ParseRoute(tt.path, "/jobs/")
			if ok != tt.wantOK || id != tt.wantID || action != tt.wantAction {
				t.Errorf("ParseRoute(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.path, id, action, ok, tt.wantID, tt.wantAction, tt.wantOK)
			}
		})
	}
}
