package launcher

import (
	"fmt"
	"net"
	"strings"
	"time"
)

const defaultLicensePort = "1055"

// CheckLicenseServer probes the license daemon with a TCP connect. The
// launch path treats failure as a warning only; engines queue on
// -waitforlicense themselves.
func CheckLicenseServer(hostport string, timeout time.Duration) error {
	addr := strings.TrimSpace(hostport)
	if addr == "" {
		return fmt.Errorf("launcher: license host is empty")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, defaultLicensePort)
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return fmt.Errorf("launcher: license server unreachable at %s: %w", addr, err)
	}
	conn.Close()
	return nil
}
