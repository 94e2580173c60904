// Package activetable is the client-side view of the engine's
// session-discovery surface: which ports and process ids currently host
// a live engine instance. The manager polls this view; it never
// implements the discovery query itself.
package activetable

import (
	"time"

	"github.com/enginectl/enginectl/internal/portalloc"
)

// Table reports engine liveness. Production code uses ProbeTable; tests
// inject fakes.
type Table interface {
	PortLive(host string, port int) bool
	PIDLive(pid int) bool
	LivePorts() []int
}

// ProbeTable implements Table with TCP connect probes and OS process
// checks. ScanPorts bounds the LivePorts sweep; it defaults to the
// engine's reserved discovery block.
type ProbeTable struct {
	Host         string
	ScanPorts    []int
	ProbeTimeout time.Duration
}

func NewProbeTable() *ProbeTable {
	ports := make([]int, 0, portalloc.ReservedHigh-portalloc.ReservedLow)
	for p := portalloc.ReservedLow; p < portalloc.ReservedHigh; p++ {
		ports = append(ports, p)
	}
	return &ProbeTable{
		Host:         "127.0.0.1",
		ScanPorts:    ports,
		ProbeTimeout: 250 * time.Millisecond,
	}
}

func (t *ProbeTable) PortLive(host string, port int) bool {
	if host == "" || host == "0.0.0.0" {
		host = t.Host
	}
	return portalloc.IsPortOccupied(host, port, t.ProbeTimeout)
}

func (t *ProbeTable) PIDLive(pid int) bool {
	return pidLive(pid)
}

func (t *ProbeTable) LivePorts() []int {
	var live []int
	for _, port := range t.ScanPorts {
		if portalloc.IsPortOccupied(t.Host, port, t.ProbeTimeout) {
			live = append(live, port)
		}
	}
	return live
}
