package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrListenFlagsConflict = errors.New("transport: local_only and listen_all_interfaces are mutually exclusive")
	ErrInvalidPort         = errors.New("transport: invalid port")
)

// ListenFlags are the two global listen-scope switches. At most one may
// be set.
type ListenFlags struct {
	LocalOnly           bool
	ListenAllInterfaces bool
}

func (f ListenFlags) Validate() error {
	if f.LocalOnly && f.ListenAllInterfaces {
		return ErrListenFlagsConflict
	}
	return nil
}

// ServerArgs is the immutable connection descriptor for one engine
// server endpoint. Build it with Build; a zero Port means unresolved.
type ServerArgs struct {
	Mode Mode
	Host string
	Port int
}

// Build resolves the listen host from the flags and validates the port.
// LocalOnly pins the loopback interface; otherwise the engine listens on
// all interfaces unless an explicit host was supplied.
func Build(mode Mode, host string, port int, flags ListenFlags) (ServerArgs, error) {
	if err := flags.Validate(); err != nil {
		return ServerArgs{}, err
	}
	if port < 0 {
		return ServerArgs{}, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	resolved := strings.TrimSpace(host)
	switch {
	case flags.LocalOnly:
		resolved = "127.0.0.1"
	case flags.ListenAllInterfaces || resolved == "":
		resolved = "0.0.0.0"
	}
	return ServerArgs{Mode: mode, Host: resolved, Port: port}, nil
}

// Token renders the engine CLI descriptor. UnixSocket servers take the
// bare port once resolved; everything else is host:port:Mode, with the
// port elided while unresolved.
func (a ServerArgs) Token() string {
	if a.Mode == ModeUnixSocket && a.Port > 0 {
		return strconv.Itoa(a.Port)
	}
	if a.Port > 0 {
		return a.Host + ":" + strconv.Itoa(a.Port) + ":" + a.Mode.tokenName()
	}
	return a.Host + ":" + a.Mode.tokenName()
}
