// Package portalloc finds unused local ports for freshly launched engine
// servers. Allocation is advisory: the launch readiness poll is what
// confirms a port actually came live.
package portalloc

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Engine discovery reserves [ReservedLow, ReservedHigh) for its own
// default listeners; allocation must stay out of that block.
const (
	ReservedLow  = 50051
	ReservedHigh = 50070
)

const (
	defaultAttempts   = 16
	defaultRetryDelay = 50 * time.Millisecond
)

var ErrNoFreePort = errors.New("portalloc: no free port found")

// InReservedBlock reports whether a port falls inside the reserved range.
func InReservedBlock(port int) bool {
	return port >= ReservedLow && port < ReservedHigh
}

// FindFreePort binds an ephemeral loopback socket and returns the
// OS-assigned port, rejecting the reserved block and any port the active
// table already reports live. Retries with a short delay.
func FindFreePort(live []int) (int, error) {
	taken := make(map[int]struct{}, len(live))
	for _, p := range live {
		taken[p] = struct{}{}
	}
	for attempt := 0; attempt < defaultAttempts; attempt++ {
		port, err := bindEphemeral()
		if err != nil {
			return 0, err
		}
		if _, used := taken[port]; !used && !InReservedBlock(port) {
			return port, nil
		}
		time.Sleep(defaultRetryDelay)
	}
	return 0, ErrNoFreePort
}

func bindEphemeral() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// IsPortOccupied probes host:port with a short-timeout TCP connect.
func IsPortOccupied(host string, port int, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, strconv.Itoa(port)), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
