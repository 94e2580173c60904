// Package launcher starts engine processes, either directly on this
// machine or through a batch scheduler, and waits for them to become
// reachable. Readiness timeouts are in-band results, not errors: the
// caller branches on them.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enginectl/enginectl/internal/activetable"
	"github.com/enginectl/enginectl/internal/observability"
)

var (
	ErrExecutableNotAllowed = errors.New("launcher: executable not allowed")
	ErrExecutableMissing    = errors.New("launcher: executable not found")
)

// Only these base names may be spawned. Caller-controlled paths must not
// become arbitrary-binary execution.
var DefaultAllowedExecutables = []string{
	"simengine",
	"simengine.exe",
	"simenginesv",
	"simenginesv.exe",
}

const (
	DefaultReadinessTimeout = 120 * time.Second
	DefaultPollInterval     = time.Second
)

// LaunchSpec describes one local engine spawn.
type LaunchSpec struct {
	Path           string
	Token          string
	Port           int
	Host           string
	NonGraphical   bool
	WaitForLicense bool
	LogfilePath    string

	// Env entries are appended to the inherited environment verbatim.
	Env map[string]string

	ReadinessTimeout time.Duration
	PollInterval     time.Duration
}

// LaunchResult reports the readiness outcome. OK false means the engine
// never reached the requested port in time; that is an expected
// operational outcome, not an error.
type LaunchResult struct {
	OK      bool
	Port    int
	PID     int
	Elapsed time.Duration
}

// Process launches engine executables detached from this process and
// polls the active table for readiness.
type Process struct {
	Table   activetable.Table
	Allowed []string

	// LicenseHost, when set, enables a best-effort license-server
	// availability probe before spawn. Failures only warn.
	LicenseHost string
}

// ValidateExecutable enforces the spawn allow-list before any process is
// created.
func (p *Process) ValidateExecutable(path string) error {
	base := strings.ToLower(filepath.Base(strings.TrimSpace(path)))
	allowed := p.Allowed
	if len(allowed) == 0 {
		allowed = DefaultAllowedExecutables
	}
	for _, name := range allowed {
		if base == strings.ToLower(name) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrExecutableNotAllowed, base)
}

// Argv computes the engine command line for a spec.
func (p *Process) Argv(spec LaunchSpec) []string {
	args := []string{"-grpcsrv", spec.Token}
	if spec.NonGraphical {
		args = append(args, "-ng")
	}
	if spec.WaitForLicense {
		args = append(args, "-waitforlicense")
	}
	if spec.LogfilePath != "" {
		args = append(args, "-Logfile", spec.LogfilePath)
	}
	return args
}

// Launch validates, spawns detached, and polls for readiness. The spawn
// itself can fail with an error; a readiness timeout cannot.
func (p *Process) Launch(ctx context.Context, spec LaunchSpec) (LaunchResult, error) {
	if err := p.ValidateExecutable(spec.Path); err != nil {
		return LaunchResult{}, err
	}
	if _, err := os.Stat(spec.Path); err != nil {
		return LaunchResult{}, fmt.Errorf("%w: %s", ErrExecutableMissing, spec.Path)
	}

	if p.LicenseHost != "" {
		if err := CheckLicenseServer(p.LicenseHost, 2*time.Second); err != nil {
			log.Warn().Str("license_host", p.LicenseHost).Err(err).
				Msg("license server probe failed, launching anyway")
		}
	}

	cmd := exec.Command(spec.Path, p.Argv(spec)...)
	cmd.Env = append(os.Environ(), flattenEnv(spec.Env)...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = detachedSysProcAttr()

	if err := cmd.Start(); err != nil {
		return LaunchResult{}, fmt.Errorf("launcher: spawn %s: %w", spec.Path, err)
	}
	pid := cmd.Process.Pid
	// The engine outlives us; drop the handle so it is not reaped here.
	if err := cmd.Process.Release(); err != nil {
		log.Warn().Int("pid", pid).Err(err).Msg("release spawned process handle")
	}

	log.Info().Int("pid", pid).Int("port", spec.Port).Str("token", spec.Token).
		Msg("engine process spawned, waiting for readiness")

	result := p.awaitPort(ctx, spec, pid)
	if result.OK {
		observability.RecordLaunch("success", result.Elapsed)
		log.Info().Int("pid", pid).Int("port", result.Port).
			Dur("elapsed", result.Elapsed).Msg("engine started")
	} else {
		observability.RecordLaunch("timeout", result.Elapsed)
		log.Error().Int("pid", pid).Int("port", spec.Port).
			Dur("elapsed", result.Elapsed).Msg("engine failed to reach port before timeout")
	}
	return result, nil
}

func (p *Process) awaitPort(ctx context.Context, spec LaunchSpec, pid int) LaunchResult {
	timeout := spec.ReadinessTimeout
	if timeout <= 0 {
		timeout = DefaultReadinessTimeout
	}
	interval := spec.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	host := spec.Host
	if host == "" {
		host = "127.0.0.1"
	}

	start := time.Now()
	deadline := start.Add(timeout)
	for {
		if p.Table.PortLive(host, spec.Port) {
			return LaunchResult{OK: true, Port: spec.Port, PID: pid, Elapsed: time.Since(start)}
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			return LaunchResult{OK: false, Port: 0, PID: pid, Elapsed: time.Since(start)}
		}
		time.Sleep(interval)
	}
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
