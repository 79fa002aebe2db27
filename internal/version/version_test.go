package version

import (
	"runtime"
	"strings"
	"testing"
)

func TestInfo(t *testing.T) {
	prev := Version
	defer func() { Version = prev }()
	Version = "v1.2.3"

	got := Info()
	if !strings.HasPrefix(got, "v1.2.3 (") || !strings.Contains(got, runtime.Version()) {
		t.Fatalf("unexpected info: %q", got)
	}
}
