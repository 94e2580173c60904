package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/enginectl/enginectl/internal/observability"
	"github.com/enginectl/enginectl/internal/portalloc"
)

var (
	ErrBadResourceString    = errors.New("launcher: invalid scheduler resource string")
	ErrSchedulerPathMissing = errors.New("launcher: scheduler engine path required")
)

// LSF announces the allocated execution host on stderr.
var startedPattern = regexp.MustCompile(`<<Starting on ([^>]+)>>`)

const (
	DefaultMaxStderrLines    = 64
	DefaultAllocationTimeout = 10 * time.Minute
	DefaultStartupTimeout    = 2 * time.Minute
)

// SchedulerSpec describes one batch submission. Either the synthesized
// bsub form (Cores/Resource/Queue) or a verbatim Custom template is
// used; the transport token is appended in both cases.
type SchedulerSpec struct {
	EnginePath     string
	Token          string
	Port           int
	NonGraphical   bool
	WaitForLicense bool
	LogfilePath    string

	Cores    int
	Resource string
	Queue    string
	Custom   []string

	MaxStderrLines    int
	AllocationTimeout time.Duration
	StartupTimeout    time.Duration
	PollInterval      time.Duration
}

// SubmitResult reports the submission outcome. The two timeout failures
// are distinct: Reason says whether the resource was never allocated or
// the engine never started on the allocated host.
type SubmitResult struct {
	OK      bool
	Host    string
	Reason  string
	Elapsed time.Duration
}

// Scheduler submits engine jobs through a batch system reached via a
// Runner (local shell or SSH to a login node).
type Scheduler struct {
	Runner Runner

	// Probe overrides the host:port occupancy check in tests.
	Probe func(host string, port int, timeout time.Duration) bool
}

// Command synthesizes the submission argv.
func (s *Scheduler) Command(spec SchedulerSpec) ([]string, error) {
	if len(spec.Custom) > 0 {
		out := append([]string{}, spec.Custom...)
		return append(out, "-grpcsrv", spec.Token), nil
	}
	if strings.TrimSpace(spec.EnginePath) == "" {
		return nil, ErrSchedulerPathMissing
	}
	if err := validateResourceString(spec.Resource); err != nil {
		return nil, err
	}
	cores := spec.Cores
	if cores <= 0 {
		cores = 1
	}
	out := []string{"bsub", "-n", strconv.Itoa(cores), "-R", spec.Resource, "-Is",
		spec.EnginePath, "-grpcsrv", spec.Token}
	if spec.Queue != "" {
		out = append(out, "-q", spec.Queue)
	}
	if spec.NonGraphical {
		out = append(out, "-ng")
	}
	if spec.WaitForLicense {
		out = append(out, "-waitforlicense")
	}
	if spec.LogfilePath != "" {
		out = append(out, "-Logfile", spec.LogfilePath)
	}
	return out, nil
}

// Submit runs the scheduler command, waits for the allocation banner on
// stderr, then waits for the engine port on the allocated host. Both
// waits are bounded and fail in-band.
func (s *Scheduler) Submit(ctx context.Context, spec SchedulerSpec) (SubmitResult, error) {
	argv, err := s.Command(spec)
	if err != nil {
		return SubmitResult{}, err
	}

	start := time.Now()
	pr, pw := io.Pipe()
	var stdout strings.Builder
	job, err := s.Runner.Start(argv[0], argv[1:], &stdout, pw)
	if err != nil {
		pw.Close()
		return SubmitResult{}, fmt.Errorf("launcher: scheduler submit: %w", err)
	}
	go func() {
		// Unblock the stderr scanner once the job exits.
		pw.CloseWithError(job.Wait())
	}()

	log.Info().Strs("argv", argv).Msg("scheduler job submitted")

	host, ok := s.awaitAllocation(ctx, spec, pr)
	if !ok {
		if err := job.Kill(); err != nil {
			log.Warn().Err(err).Msg("kill unallocated scheduler job")
		}
		elapsed := time.Since(start)
		observability.RecordLaunch("alloc_timeout", elapsed)
		log.Error().Dur("elapsed", elapsed).Int("port", spec.Port).
			Msg("scheduler resource never allocated")
		return SubmitResult{Reason: "resource never allocated", Elapsed: elapsed}, nil
	}
	log.Info().Str("host", host).Msg("scheduler allocated execution host")

	if !s.awaitStartup(ctx, spec, host) {
		elapsed := time.Since(start)
		observability.RecordLaunch("start_timeout", elapsed)
		log.Error().Str("host", host).Int("port", spec.Port).Dur("elapsed", elapsed).
			Msg("resource allocated but engine never started")
		return SubmitResult{Host: host, Reason: "allocated but engine never started", Elapsed: elapsed}, nil
	}

	elapsed := time.Since(start)
	observability.RecordLaunch("success", elapsed)
	log.Info().Str("host", host).Int("port", spec.Port).Dur("elapsed", elapsed).
		Msg("engine started on scheduler host")
	return SubmitResult{OK: true, Host: host, Elapsed: elapsed}, nil
}

// awaitAllocation scans stderr line-by-line for the started-on banner,
// bounded by a line budget and the allocation timeout.
func (s *Scheduler) awaitAllocation(ctx context.Context, spec SchedulerSpec, stderr io.Reader) (string, bool) {
	maxLines := spec.MaxStderrLines
	if maxLines <= 0 {
		maxLines = DefaultMaxStderrLines
	}
	timeout := spec.AllocationTimeout
	if timeout <= 0 {
		timeout = DefaultAllocationTimeout
	}

	// The scanner keeps draining stderr past the line budget so the job
	// never blocks on a full pipe; only the first maxLines are inspected.
	lines := make(chan string, maxLines)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stderr)
		count := 0
		for scanner.Scan() {
			if count < maxLines {
				lines <- scanner.Text()
				count++
			}
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for seen := 0; seen < maxLines; {
		select {
		case line, open := <-lines:
			if !open {
				return "", false
			}
			seen++
			if m := startedPattern.FindStringSubmatch(line); m != nil {
				return strings.TrimSpace(m[1]), true
			}
			log.Debug().Str("stderr", line).Msg("scheduler output")
		case <-timer.C:
			return "", false
		case <-ctx.Done():
			return "", false
		}
	}
	return "", false
}

// awaitStartup polls the allocated host for the engine port. This wait
// is independent from the allocation wait.
func (s *Scheduler) awaitStartup(ctx context.Context, spec SchedulerSpec, host string) bool {
	timeout := spec.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}
	interval := spec.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	probe := s.Probe
	if probe == nil {
		probe = portalloc.IsPortOccupied
	}

	deadline := time.Now().Add(timeout)
	for {
		if probe(host, spec.Port, interval) {
			return true
		}
		if ctx.Err() != nil || time.Now().After(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}

// validateResourceString rejects resource requests that could smuggle
// shell constructs into the submission line.
func validateResourceString(res string) error {
	trimmed := strings.TrimSpace(res)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrBadResourceString)
	}
	if strings.ContainsAny(trimmed, ";|&`$\n") {
		return fmt.Errorf("%w: %q", ErrBadResourceString, res)
	}
	return nil
}
