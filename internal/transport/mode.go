// Package transport models the security/channel scheme used between this
// manager and an engine process, and renders the descriptor token the
// engine expects on its command line.
package transport

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidMode = errors.New("transport: invalid mode")

// Mode is the closed set of transport security schemes an engine server
// can be started with.
type Mode int

const (
	ModeInsecure Mode = iota
	ModeUnixSocket
	ModeMutualTLS
	ModeWindowsNoUA
)

func (m Mode) String() string {
	switch m {
	case ModeInsecure:
		return "insecure"
	case ModeUnixSocket:
		return "unix_socket"
	case ModeMutualTLS:
		return "mutual_tls"
	case ModeWindowsNoUA:
		return "windows_no_ua"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// tokenName is the engine-facing spelling used inside the -grpcsrv token.
func (m Mode) tokenName() string {
	switch m {
	case ModeInsecure:
		return "InsecureMode"
	case ModeUnixSocket:
		return "UnixSocketMode"
	case ModeMutualTLS:
		return "MutualTlsMode"
	case ModeWindowsNoUA:
		return "WindowsNoUAMode"
	default:
		return ""
	}
}

// ParseMode accepts either the config spelling or the token spelling.
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "insecure", "insecuremode", "":
		return ModeInsecure, nil
	case "unix_socket", "unixsocket", "unixsocketmode":
		return ModeUnixSocket, nil
	case "mutual_tls", "mutualtls", "mutualtlsmode":
		return ModeMutualTLS, nil
	case "windows_no_ua", "windowsnoua", "windowsnouamode":
		return ModeWindowsNoUA, nil
	default:
		return ModeInsecure, fmt.Errorf("%w: %q", ErrInvalidMode, raw)
	}
}
