package portalloc

import (
	"net"
	"testing"
	"time"

	"github.com/enginectl/enginectl/internal/testutil/testlog"
)

func TestReservedBlockBounds(t *testing.T) {
	testlog.Start(t)
	for port, want := range map[int]bool{
		50050: false,
		50051: true,
		50060: true,
		50069: true,
		50070: false,
	} {
		if got := InReservedBlock(port); got != want {
			t.Fatalf("InReservedBlock(%d) = %v, want %v", port, got, want)
		}
	}
}

func TestFindFreePortStaysOutOfReservedBlock(t *testing.T) {
	testlog.Start(t)
	for i := 0; i < 10; i++ {
		port, err := FindFreePort(nil)
		if err != nil {
			t.Fatalf("find free port: %v", err)
		}
		if port <= 0 {
			t.Fatalf("non-positive port %d", port)
		}
		if InReservedBlock(port) {
			t.Fatalf("allocated port %d inside reserved block", port)
		}
	}
}

func TestIsPortOccupied(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if !IsPortOccupied("127.0.0.1", port, 250*time.Millisecond) {
		t.Fatalf("expected port %d occupied", port)
	}

	ln.Close()
	if IsPortOccupied("127.0.0.1", port, 100*time.Millisecond) {
		t.Fatalf("expected port %d free after close", port)
	}
}
