package version

import (
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	origVersion, origCommit := Version, Commit
	defer func() { Version, Commit = origVersion, origCommit }()

	tests := []struct {
		commit string
		want   string
	}{
		{"unknown", "1.2.0"},
		{"abc", "1.2.0"},
		{"abc1234567890", "1.2.0 (abc1234)"},
	}
	Version = "1.2.0"
	for _, tt := range tests {
		Commit = tt.commit
		if got := Info(); got != tt.want {
			t.Errorf("Info() with commit %q = %q, want %q", tt.commit, got, tt.want)
		}
	}
}

func TestFull(t *testing.T) {
	got := Full()
	for _, want := range []string{"squint version " + Version, "commit: " + Commit, "built: " + BuildDate} {
		if !strings.Contains(got, want) {
			t.Errorf("Full() = %q, missing %q", got, want)
		}
	}
}
