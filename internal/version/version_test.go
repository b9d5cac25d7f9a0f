package version

import "testing"

func TestCurrent(t *testing.T) {
	prev := Version
	Version = "1.2.3"
	t.Cleanup(func() { Version = prev })

	info := Current()
	if info.Version != "1.2.3" || info.GitSHA != GitSHA || info.BuildTime != BuildTime {
		t.Fatalf("Current() = %+v", info)
	}
	if got, want := info.String(), "1.2.3 ("+GitSHA+", built "+BuildTime+")"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
