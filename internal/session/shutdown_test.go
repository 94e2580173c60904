package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/enginectl/enginectl/internal/testutil/testlog"
)

type fakeProjects struct {
	calls int
	err   error
}

func (p *fakeProjects) CloseProjects(ctx context.Context) error {
	p.calls++
	return p.err
}

func shutdownSession(handle *fakeHandle) *Session {
	return &Session{
		state:        StateConnected,
		PID:          55,
		handle:       handle,
		refs:         1,
		table:        &stubTable{},
		closeTimeout: 10 * time.Millisecond,
		pollInterval: time.Millisecond,
	}
}

func TestShutdownRunsOnce(t *testing.T) {
	testlog.Start(t)
	handle := &fakeHandle{}
	projects := &fakeProjects{}
	sd := &Shutdown{Session: shutdownSession(handle), Registry: NewRegistry(), Projects: projects}

	if !sd.ReleaseAndClose(context.Background(), true, false) {
		t.Fatalf("shutdown failed")
	}
	if !sd.ReleaseAndClose(context.Background(), true, true) {
		t.Fatalf("repeat shutdown must be a no-op returning true")
	}
	if projects.calls != 1 {
		t.Fatalf("projects closed %d times", projects.calls)
	}
	if handle.closes != 1 {
		t.Fatalf("handle closed %d times", handle.closes)
	}
}

func TestShutdownDetachOnlyLeavesEngineRunning(t *testing.T) {
	testlog.Start(t)
	handle := &fakeHandle{}
	s := shutdownSession(handle)
	s.LaunchedByManager = true
	sd := &Shutdown{Session: s}

	if !sd.ReleaseAndClose(context.Background(), false, false) {
		t.Fatalf("shutdown failed")
	}
	if handle.quitCalls != 0 {
		t.Fatalf("detach-only shutdown must not quit the engine, got %d calls", handle.quitCalls)
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %s", s.State())
	}
}

func TestShutdownCloseAppTerminates(t *testing.T) {
	testlog.Start(t)
	handle := &fakeHandle{}
	s := shutdownSession(handle)
	sd := &Shutdown{Session: s}

	if !sd.ReleaseAndClose(context.Background(), false, true) {
		t.Fatalf("shutdown failed")
	}
	if handle.quitCalls != 1 {
		t.Fatalf("close-app shutdown must quit the engine, got %d calls", handle.quitCalls)
	}
}

func TestShutdownStepFailureDoesNotHaltProgress(t *testing.T) {
	testlog.Start(t)
	handle := &fakeHandle{}
	s := shutdownSession(handle)
	projects := &fakeProjects{err: errors.New("remote side hung up")}
	reg := NewRegistry()
	aux := &fakeCloser{}
	reg.AddAux(aux)
	sd := &Shutdown{Session: s, Registry: reg, Projects: projects}

	if sd.ReleaseAndClose(context.Background(), true, true) {
		t.Fatalf("failed step must surface as false")
	}
	if aux.closed != 1 {
		t.Fatalf("aux closed %d times", aux.closed)
	}
	if s.State() != StateClosed {
		t.Fatalf("session must still close after a failed step, state = %s", s.State())
	}
}

func TestShutdownReleasesProxies(t *testing.T) {
	testlog.Start(t)
	handle := &fakeHandle{}
	s := shutdownSession(handle)
	s.CacheProxy("model", struct{}{})
	s.CacheProxy("results", struct{}{})
	sd := &Shutdown{Session: s}

	if !sd.ReleaseAndClose(context.Background(), false, false) {
		t.Fatalf("shutdown failed")
	}
	if n := s.DropProxies(); n != 0 {
		t.Fatalf("%d proxies survived shutdown", n)
	}
}
