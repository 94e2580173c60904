package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrModeUnresolved    = errors.New("session: start mode unresolved")
	ErrComUnsupported    = errors.New("session: legacy com bridge is a platform plug-in, not part of the core")
	ErrInvalidVersion    = errors.New("session: invalid version")
	ErrConsoleUnattached = errors.New("session: no embedded console handle available")
)

// StartMode is the closed set of connection strategies.
type StartMode int

const (
	StartModeUnknown StartMode = iota
	StartModeConsole
	StartModeCom
	StartModeGrpc
)

func (m StartMode) String() string {
	switch m {
	case StartModeConsole:
		return "console"
	case StartModeCom:
		return "com"
	case StartModeGrpc:
		return "grpc"
	default:
		return "unknown"
	}
}

// Versions from this release onward default to the gRPC channel; older
// ones default to the legacy automation bridge.
const (
	grpcDefaultYear    = 2022
	grpcDefaultRelease = 2
)

// ModeEnv feeds the pure start-mode decision. GOOS is injected for
// testability; PIDProbe reports whether a given pid answers on gRPC.
type ModeEnv struct {
	EmbeddedConsole  bool
	GOOS             string
	LegacyAutomation bool
	RemoteSession    bool
	ReattachPID      int
	ForceNew         bool
	Version          string
	PIDProbe         func(pid int) bool
}

// SelectStartMode resolves the connection strategy. The rules apply in
// order; an unrecognized combination is fatal, never retried.
func SelectStartMode(env ModeEnv) (StartMode, error) {
	if env.EmbeddedConsole {
		return StartModeConsole, nil
	}
	if env.GOOS != "windows" || !env.LegacyAutomation {
		return StartModeGrpc, nil
	}
	if env.RemoteSession {
		return StartModeGrpc, nil
	}
	if env.ReattachPID > 0 && !env.ForceNew {
		if env.PIDProbe != nil && env.PIDProbe(env.ReattachPID) {
			return StartModeGrpc, nil
		}
		return StartModeCom, nil
	}
	year, release, err := parseVersion(env.Version)
	if err != nil {
		return StartModeUnknown, fmt.Errorf("%w: version %q", ErrModeUnresolved, env.Version)
	}
	if year > grpcDefaultYear || (year == grpcDefaultYear && release >= grpcDefaultRelease) {
		return StartModeGrpc, nil
	}
	return StartModeCom, nil
}

// NormalizeVersion canonicalizes engine version spellings ("24.2",
// "242", "v2024.2") to the "2024.2" form.
func NormalizeVersion(raw string) (string, error) {
	year, release, err := parseVersion(raw)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d.%d", year, release), nil
}

func parseVersion(raw string) (int, int, error) {
	v := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "v"))
	if v == "" {
		return 0, 0, fmt.Errorf("%w: empty", ErrInvalidVersion)
	}
	// Compact "242" form: two-digit year plus release digit.
	if !strings.Contains(v, ".") {
		if len(v) != 3 {
			return 0, 0, fmt.Errorf("%w: %q", ErrInvalidVersion, raw)
		}
		v = v[:2] + "." + v[2:]
	}
	parts := strings.SplitN(v, ".", 2)
	year, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidVersion, raw)
	}
	release, err := strconv.Atoi(parts[1])
	if err != nil || release <= 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidVersion, raw)
	}
	if year < 100 {
		year += 2000
	}
	if year < 2000 || year > 2100 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidVersion, raw)
	}
	return year, release, nil
}
