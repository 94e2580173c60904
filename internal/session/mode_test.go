package session

import (
	"errors"
	"testing"

	"github.com/enginectl/enginectl/internal/testutil/testlog"
)

func TestSelectStartModeRules(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		env  ModeEnv
		want StartMode
	}{
		{"embedded console wins", ModeEnv{EmbeddedConsole: true, GOOS: "windows", LegacyAutomation: true}, StartModeConsole},
		{"posix is always grpc", ModeEnv{GOOS: "linux", LegacyAutomation: true}, StartModeGrpc},
		{"windows without legacy flag", ModeEnv{GOOS: "windows"}, StartModeGrpc},
		{"remote session forces grpc", ModeEnv{GOOS: "windows", LegacyAutomation: true, RemoteSession: true}, StartModeGrpc},
		{
			"reattach pid answering on grpc",
			ModeEnv{GOOS: "windows", LegacyAutomation: true, ReattachPID: 42,
				PIDProbe: func(pid int) bool { return true }},
			StartModeGrpc,
		},
		{
			"reattach pid silent on grpc",
			ModeEnv{GOOS: "windows", LegacyAutomation: true, ReattachPID: 42,
				PIDProbe: func(pid int) bool { return false }},
			StartModeCom,
		},
		{
			"force new skips the reattach rule",
			ModeEnv{GOOS: "windows", LegacyAutomation: true, ReattachPID: 42, ForceNew: true, Version: "2021.1"},
			StartModeCom,
		},
		{"version at the grpc cutover", ModeEnv{GOOS: "windows", LegacyAutomation: true, Version: "2022.2"}, StartModeGrpc},
		{"version just below the cutover", ModeEnv{GOOS: "windows", LegacyAutomation: true, Version: "2022.1"}, StartModeCom},
		{"older year", ModeEnv{GOOS: "windows", LegacyAutomation: true, Version: "2021.2"}, StartModeCom},
		{"newer year", ModeEnv{GOOS: "windows", LegacyAutomation: true, Version: "2023.1"}, StartModeGrpc},
		{"compact spelling", ModeEnv{GOOS: "windows", LegacyAutomation: true, Version: "231"}, StartModeGrpc},
	}
	for _, tc := range cases {
		got, err := SelectStartMode(tc.env)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: mode = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSelectStartModeUnresolvedIsFatal(t *testing.T) {
	testlog.Start(t)
	_, err := SelectStartMode(ModeEnv{GOOS: "windows", LegacyAutomation: true, Version: "garbage"})
	if !errors.Is(err, ErrModeUnresolved) {
		t.Fatalf("expected ErrModeUnresolved, got %v", err)
	}
}

func TestNormalizeVersion(t *testing.T) {
	testlog.Start(t)
	for raw, want := range map[string]string{
		"2024.2":   "2024.2",
		"24.2":     "2024.2",
		"242":      "2024.2",
		"v2022.2":  "2022.2",
		" 2023.1 ": "2023.1",
	} {
		got, err := NormalizeVersion(raw)
		if err != nil {
			t.Fatalf("normalize %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("normalize %q = %q, want %q", raw, got, want)
		}
	}
	for _, raw := range []string{"", "abc", "2024", "24.0", "24.x", "9999.1"} {
		if _, err := NormalizeVersion(raw); !errors.Is(err, ErrInvalidVersion) {
			t.Fatalf("normalize %q: expected ErrInvalidVersion, got %v", raw, err)
		}
	}
}
