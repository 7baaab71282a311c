package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestResolvePrefersLinkTimeValues(t *testing.T) {
	oldV, oldC, oldB := Version, Commit, BuildTime
	t.Cleanup(func() { Version, Commit, BuildTime = oldV, oldC, oldB })

	Version, Commit, BuildTime = "v1.2.3", "0123456789abcdef", "2026-01-02T03:04:05Z"
	info := Resolve()
	if info.Version != "v1.2.3" || info.Commit != "0123456789abcdef" || info.BuildTime != "2026-01-02T03:04:05Z" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.GoVersion != runtime.Version() {
		t.Fatalf("go version = %q", info.GoVersion)
	}
	if got := String(); got != "v1.2.3 (0123456789ab)" {
		t.Fatalf("String() = %q", got)
	}
}

func TestResolveDefaultsVersion(t *testing.T) {
	oldV := Version
	t.Cleanup(func() { Version = oldV })

	Version = ""
	if info := Resolve(); strings.TrimSpace(info.Version) == "" {
		t.Fatalf("expected a non-empty version")
	}
}
