package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/enginectl/enginectl/internal/testutil/testlog"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

func TestLoadRequestOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)
	base := request{Version: "2024.1", Port: 50123, NonGraphical: true}
	got, err := loadRequest(writeProfile(t, `
version = "2024.2"
pid = 4242
close_app = true
`), base)
	if err != nil {
		t.Fatalf("load request: %v", err)
	}
	if got.Version != "2024.2" {
		t.Fatalf("version = %q", got.Version)
	}
	if got.PID != 4242 || !got.CloseApp {
		t.Fatalf("overrides not applied: %+v", got)
	}
	// Keys absent from the profile keep the base value.
	if got.Port != 50123 || !got.NonGraphical {
		t.Fatalf("base values lost: %+v", got)
	}
}

func TestLoadRequestBlankVersionKeepsBase(t *testing.T) {
	testlog.Start(t)
	base := request{Version: "2024.1"}
	got, err := loadRequest(writeProfile(t, `
version = "  "
force_new = true
`), base)
	if err != nil {
		t.Fatalf("load request: %v", err)
	}
	if got.Version != "2024.1" {
		t.Fatalf("blank version must keep base, got %q", got.Version)
	}
	if !got.ForceNew {
		t.Fatalf("force_new override lost")
	}
}

func TestLoadRequestZeroOverridesWin(t *testing.T) {
	testlog.Start(t)
	base := request{Port: 50123, NonGraphical: true}
	got, err := loadRequest(writeProfile(t, `
port = 0
non_graphical = false
`), base)
	if err != nil {
		t.Fatalf("load request: %v", err)
	}
	// Explicitly written zero values override the base.
	if got.Port != 0 || got.NonGraphical {
		t.Fatalf("explicit zero overrides lost: %+v", got)
	}
}

func TestLoadRequestMissingFile(t *testing.T) {
	testlog.Start(t)
	if _, err := loadRequest(filepath.Join(t.TempDir(), "absent.toml"), request{}); err == nil {
		t.Fatalf("missing profile must fail")
	}
}
