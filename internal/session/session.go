// Package session owns the lifecycle of connections to external engine
// processes: start-mode selection, connect, registration, release, and
// close. One Session is one live or previously-live engine connection,
// identified by the engine's process id once connected.
//
// The package is strictly synchronous and holds no locks: concurrent
// use of a Registry or Session from multiple goroutines is a caller
// error, not a supported case. Callers needing concurrency serialize
// externally.
package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enginectl/enginectl/internal/activetable"
	"github.com/enginectl/enginectl/internal/launcher"
	"github.com/enginectl/enginectl/internal/observability"
	"github.com/enginectl/enginectl/internal/portalloc"
	"github.com/enginectl/enginectl/internal/transport"
)

var ErrEngineNotReady = errors.New("session: engine never became reachable")

// Handle fetches racing a fresh process start get this many attempts.
const connectAttempts = 3

const (
	defaultCloseTimeout = 60 * time.Second
	defaultPollInterval = time.Second
	connectRetryDelay   = 500 * time.Millisecond
)

// OpenOptions select how one fresh session reaches its engine.
type OpenOptions struct {
	Mode        StartMode
	Transport   transport.Mode
	ListenFlags transport.ListenFlags
	Host        string
	Port        int

	// Version is the requested engine version; Student the requested
	// edition. Both are checked against what the engine reports.
	Version      string
	Student      bool
	NonGraphical bool

	// UseScheduler submits through the batch scheduler instead of
	// spawning locally. Adopt connects to an already-running engine and
	// performs no process management at all.
	UseScheduler bool
	Adopt        bool
}

// Deps are the collaborators a fresh session connects through.
type Deps struct {
	Table     activetable.Table
	Registry  *Registry
	Process   *launcher.Process
	Scheduler *launcher.Scheduler

	// Templates for the launch paths; Open fills token/port/host.
	LaunchSpec    launcher.LaunchSpec
	SchedulerSpec launcher.SchedulerSpec

	// NewConnector builds the dial path for a resolved target; tests
	// and the console path substitute their own.
	NewConnector func(target string, mode transport.Mode) (Connector, error)
	Embedded     Connector

	// Kill is the forced-termination escalation; defaults to an OS kill.
	Kill func(pid int) error

	CloseTimeout time.Duration
	PollInterval time.Duration
}

// Session is the per-connection record and state machine.
type Session struct {
	state State
	mode  StartMode

	PID               int
	Version           string
	Student           bool
	Graphical         bool
	Machine           string
	Port              int
	Transport         transport.Mode
	LaunchedByManager bool

	handle  Handle
	refs    int
	proxies map[string]any

	registry     *Registry
	table        activetable.Table
	kill         func(pid int) error
	closeTimeout time.Duration
	pollInterval time.Duration
}

func (s *Session) State() State    { return s.state }
func (s *Session) Mode() StartMode { return s.mode }
func (s *Session) Handle() Handle  { return s.handle }
func (s *Session) Refs() int       { return s.refs }

// Ping probes the live handle; used by the registry reuse policy.
func (s *Session) Ping(ctx context.Context) error {
	if s.handle == nil {
		return fmt.Errorf("session: no handle")
	}
	return s.handle.Ping(ctx)
}

// CacheProxy keeps a caller-built remote proxy for teardown accounting.
func (s *Session) CacheProxy(name string, proxy any) {
	if s.proxies == nil {
		s.proxies = make(map[string]any)
	}
	s.proxies[name] = proxy
}

// DropProxies releases every cached remote proxy reference.
func (s *Session) DropProxies() int {
	n := len(s.proxies)
	s.proxies = nil
	return n
}

// Open builds a fresh session and drives it to Connected. Reuse of
// existing sessions is the registry's job, never Open's.
func Open(ctx context.Context, opts OpenOptions, deps Deps) (*Session, error) {
	s := &Session{
		state:        StateUninitialized,
		table:        deps.Table,
		registry:     deps.Registry,
		kill:         deps.Kill,
		closeTimeout: deps.CloseTimeout,
		pollInterval: deps.PollInterval,
		Transport:    opts.Transport,
	}
	if s.kill == nil {
		s.kill = defaultKill
	}
	if s.closeTimeout <= 0 {
		s.closeTimeout = defaultCloseTimeout
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}

	if opts.Mode == StartModeUnknown {
		return nil, ErrModeUnresolved
	}
	s.mode = opts.Mode
	if err := s.transition(StateModeSelected); err != nil {
		return nil, err
	}
	if err := s.transition(StateConnecting); err != nil {
		return nil, err
	}

	var (
		handle Handle
		err    error
	)
	switch opts.Mode {
	case StartModeConsole:
		if deps.Embedded == nil {
			err = ErrConsoleUnattached
			break
		}
		handle, err = deps.Embedded.Connect(ctx)
	case StartModeCom:
		err = ErrComUnsupported
	case StartModeGrpc:
		handle, err = s.connectGrpc(ctx, opts, deps)
	default:
		err = ErrModeUnresolved
	}
	if err != nil {
		s.state = StateClosed
		return nil, err
	}
	s.handle = handle

	info, err := handle.Info(ctx)
	if err != nil {
		handle.Close()
		s.state = StateClosed
		return nil, err
	}
	if info.PID > 0 {
		s.PID = info.PID
	}
	if v, err := NormalizeVersion(info.Version); err == nil {
		s.Version = v
	} else {
		s.Version = info.Version
	}
	s.Student = info.Student
	s.Graphical = info.Graphical
	s.Machine = info.Machine
	if opts.Student != info.Student {
		log.Warn().Bool("requested_student", opts.Student).Bool("reported_student", info.Student).
			Msg("student edition mismatch between request and engine")
	}

	if err := s.transition(StateConnected); err != nil {
		handle.Close()
		return nil, err
	}
	s.refs = 1

	if s.registry != nil {
		s.registry.register(s)
	}
	log.Info().Int("pid", s.PID).Str("version", s.Version).Str("mode", s.mode.String()).
		Int("port", s.Port).Bool("launched", s.LaunchedByManager).Msg("session connected")
	return s, nil
}

// connectGrpc resolves a port, launches if needed, and dials the engine
// with a small fixed retry budget for post-spawn races.
func (s *Session) connectGrpc(ctx context.Context, opts OpenOptions, deps Deps) (Handle, error) {
	port := opts.Port
	if port == 0 {
		var err error
		port, err = portalloc.FindFreePort(deps.Table.LivePorts())
		if err != nil {
			return nil, err
		}
	}
	args, err := transport.Build(opts.Transport, opts.Host, port, opts.ListenFlags)
	if err != nil {
		return nil, err
	}
	s.Port = port

	dialHost := "127.0.0.1"
	if !opts.Adopt {
		if opts.UseScheduler {
			spec := deps.SchedulerSpec
			spec.Token = args.Token()
			spec.Port = port
			spec.NonGraphical = opts.NonGraphical
			res, err := deps.Scheduler.Submit(ctx, spec)
			if err != nil {
				return nil, err
			}
			if !res.OK {
				return nil, fmt.Errorf("%w: %s", ErrEngineNotReady, res.Reason)
			}
			dialHost = res.Host
			s.Machine = res.Host
			s.LaunchedByManager = true
		} else {
			spec := deps.LaunchSpec
			spec.Token = args.Token()
			spec.Port = port
			spec.NonGraphical = opts.NonGraphical
			res, err := deps.Process.Launch(ctx, spec)
			if err != nil {
				return nil, err
			}
			if !res.OK {
				return nil, fmt.Errorf("%w: port %d", ErrEngineNotReady, port)
			}
			s.PID = res.PID
			s.LaunchedByManager = true
		}
	} else if h := opts.Host; h != "" && h != "0.0.0.0" {
		dialHost = h
	}

	target := net.JoinHostPort(dialHost, strconv.Itoa(port))
	connector, err := deps.NewConnector(target, opts.Transport)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		handle, err := connector.Connect(ctx)
		if err == nil {
			return handle, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransientConnect) {
			break
		}
		log.Debug().Int("attempt", attempt).Err(err).Msg("handle fetch retry")
		time.Sleep(connectRetryDelay)
	}
	return nil, lastErr
}

// Release detaches the caller from the session but leaves the remote
// process running and the registry entry (with its handle) in place for
// later reattachment. Idempotent.
func (s *Session) Release() bool {
	switch s.state {
	case StateReleased, StateClosed:
		return true
	case StateConnected:
	default:
		return false
	}
	if s.refs > 0 {
		s.refs--
	}
	s.state = StateReleased
	log.Info().Int("pid", s.PID).Int("refs", s.refs).Msg("session released")
	return true
}

// CloseOptions tune Close's termination policy.
type CloseOptions struct {
	// Terminate forces process termination even for engines this
	// manager did not launch.
	Terminate bool
	// DetachOnly disconnects without terminating anything, regardless
	// of who launched the engine.
	DetachOnly bool
}

// Close tears the session down: graceful quit, bounded wait for the pid
// to leave the active table, forced kill on timeout. A process this
// manager did not launch is never terminated unless Terminate is set.
// Post-Closed calls are no-ops returning true.
func (s *Session) Close(ctx context.Context, opts CloseOptions) bool {
	if s.state == StateClosed {
		return true
	}
	terminate := !opts.DetachOnly && (opts.Terminate || s.LaunchedByManager)

	if s.handle != nil && terminate {
		if err := s.handle.Quit(ctx); err != nil {
			log.Warn().Int("pid", s.PID).Err(err).Msg("graceful quit request failed")
		}
		if !s.awaitExit(ctx) {
			log.Warn().Int("pid", s.PID).Dur("timeout", s.closeTimeout).
				Msg("engine did not exit in time, escalating to kill")
			observability.RecordForcedKill()
			if err := s.kill(s.PID); err != nil {
				log.Warn().Int("pid", s.PID).Err(err).Msg("forced kill failed")
			}
		}
	}
	if s.handle != nil {
		if err := s.handle.Close(); err != nil {
			log.Warn().Int("pid", s.PID).Err(err).Msg("close handle")
		}
		s.handle = nil
	}
	if s.registry != nil {
		s.registry.Remove(s.PID)
	}
	s.refs = 0
	s.state = StateClosed
	log.Info().Int("pid", s.PID).Bool("terminated", terminate).Msg("session closed")
	return true
}

// awaitExit polls the active table until the pid disappears or the
// close timeout passes.
func (s *Session) awaitExit(ctx context.Context) bool {
	if s.PID <= 0 || s.table == nil {
		return true
	}
	deadline := time.Now().Add(s.closeTimeout)
	for {
		if !s.table.PIDLive(s.PID) {
			return true
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			return false
		}
		time.Sleep(s.pollInterval)
	}
}

// reattach is the registry's reuse path back into Connected.
func (s *Session) reattach() bool {
	if s.state == StateConnected {
		s.refs++
		return true
	}
	if s.state != StateReleased {
		return false
	}
	if err := s.transition(StateConnected); err != nil {
		return false
	}
	s.refs++
	return true
}

func (s *Session) clearAttributes() {
	s.proxies = nil
	s.refs = 0
}

func defaultKill(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}
