package version

import (
	"runtime/debug"
	"testing"
)

func TestApplyVCS(t *testing.T) {
	settings := []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "9f1c2ab47d0e5c3b8a61f02d7e4c9b3a5d6e7f80"},
		{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}

	tests := []struct {
		name       string
		in         Info
		wantCommit string
		wantBuilt  string
	}{
		{"unstamped", Info{Commit: "none"}, "9f1c2ab47d0e5c3b8a61f02d7e4c9b3a5d6e7f80", "2026-10-01T12:00:00Z"},
		{"stamped wins", Info{Commit: "abc123", BuildDate: "2026-10-02"}, "abc123", "2026-10-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := tt.in
			i.applyVCS(settings)
			if i.Commit != tt.wantCommit {
				t.Errorf("Commit = %q, want %q", i.Commit, tt.wantCommit)
			}
			if i.BuildDate != tt.wantBuilt {
				t.Errorf("BuildDate = %q, want %q", i.BuildDate, tt.wantBuilt)
			}
			if i.CommitDate != "2026-10-01T12:00:00Z" {
				t.Errorf("CommitDate = %q", i.CommitDate)
			}
			if i.VCSDirty == nil || !*i.VCSDirty {
				t.Errorf("VCSDirty = %v, want true", i.VCSDirty)
			}
		})
	}
}

func TestApplyVCS_IgnoresBadModified(t *testing.T) {
	var i Info
	i.applyVCS([]debug.BuildSetting{{Key: "vcs.modified", Value: "maybe"}, {Key: "vcs.revision", Value: ""}})
	if i.VCSDirty != nil || i.Commit != "" {
		t.Fatalf("got %+v, want untouched", i)
	}
}
