package launcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/enginectl/enginectl/internal/testutil/testlog"
)

type fakeTable struct {
	liveAfter int
	polls     int
	pidLive   bool
}

func (f *fakeTable) PortLive(host string, port int) bool {
	f.polls++
	return f.liveAfter > 0 && f.polls >= f.liveAfter
}

func (f *fakeTable) PIDLive(pid int) bool { return f.pidLive }

func (f *fakeTable) LivePorts() []int { return nil }

func TestValidateExecutableAllowList(t *testing.T) {
	testlog.Start(t)
	p := &Process{}
	if err := p.ValidateExecutable("/opt/engine/simengine"); err != nil {
		t.Fatalf("simengine should be allowed: %v", err)
	}
	if err := p.ValidateExecutable(`C:\Engine\SimEngine.exe`); err != nil {
		t.Fatalf("windows engine binary should be allowed: %v", err)
	}
	if err := p.ValidateExecutable("/tmp/evil/payload"); !errors.Is(err, ErrExecutableNotAllowed) {
		t.Fatalf("expected ErrExecutableNotAllowed, got %v", err)
	}

	custom := &Process{Allowed: []string{"otherengine"}}
	if err := custom.ValidateExecutable("/opt/otherengine"); err != nil {
		t.Fatalf("custom allow-list entry rejected: %v", err)
	}
	if err := custom.ValidateExecutable("/opt/engine/simengine"); !errors.Is(err, ErrExecutableNotAllowed) {
		t.Fatalf("expected ErrExecutableNotAllowed for name off the custom list, got %v", err)
	}
}

func TestArgvOrdersTokenFirst(t *testing.T) {
	testlog.Start(t)
	p := &Process{}
	argv := p.Argv(LaunchSpec{
		Token:          "0.0.0.0:50123:InsecureMode",
		NonGraphical:   true,
		WaitForLicense: true,
		LogfilePath:    "/tmp/engine.log",
	})
	want := []string{"-grpcsrv", "0.0.0.0:50123:InsecureMode", "-ng", "-waitforlicense", "-Logfile", "/tmp/engine.log"}
	if strings.Join(argv, " ") != strings.Join(want, " ") {
		t.Fatalf("argv = %v, want %v", argv, want)
	}

	// The non-graphical insecure launch line ends "-grpcsrv token -ng".
	argv = p.Argv(LaunchSpec{Token: "0.0.0.0:50123:InsecureMode", NonGraphical: true})
	if strings.Join(argv, " ") != "-grpcsrv 0.0.0.0:50123:InsecureMode -ng" {
		t.Fatalf("argv = %v", argv)
	}
}

func writeEngineStub(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("engine stub script requires a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "simengine")
	script := "#!/bin/sh\nsleep 1\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write engine stub: %v", err)
	}
	return path
}

func TestLaunchReportsReadiness(t *testing.T) {
	testlog.Start(t)
	table := &fakeTable{liveAfter: 3}
	p := &Process{Table: table}
	res, err := p.Launch(context.Background(), LaunchSpec{
		Path:             writeEngineStub(t),
		Token:            "0.0.0.0:50123:InsecureMode",
		Port:             50123,
		NonGraphical:     true,
		ReadinessTimeout: 2 * time.Second,
		PollInterval:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected readiness, got %+v", res)
	}
	if res.Port != 50123 {
		t.Fatalf("port = %d", res.Port)
	}
	if res.PID <= 0 {
		t.Fatalf("pid = %d", res.PID)
	}
}

func TestLaunchTimeoutIsInBand(t *testing.T) {
	testlog.Start(t)
	table := &fakeTable{}
	p := &Process{Table: table}
	res, err := p.Launch(context.Background(), LaunchSpec{
		Path:             writeEngineStub(t),
		Token:            "0.0.0.0:50124:InsecureMode",
		Port:             50124,
		ReadinessTimeout: 20 * time.Millisecond,
		PollInterval:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("timeout must not be an error: %v", err)
	}
	if res.OK {
		t.Fatalf("expected timeout outcome")
	}
	if res.Port != 0 {
		t.Fatalf("timed-out launch must report port 0, got %d", res.Port)
	}
}

func TestLaunchRejectsUnknownExecutableBeforeSpawn(t *testing.T) {
	testlog.Start(t)
	p := &Process{Table: &fakeTable{}}
	_, err := p.Launch(context.Background(), LaunchSpec{Path: "/bin/sh"})
	if !errors.Is(err, ErrExecutableNotAllowed) {
		t.Fatalf("expected ErrExecutableNotAllowed, got %v", err)
	}
}
