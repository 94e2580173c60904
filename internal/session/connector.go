package session

import (
	"context"
	"errors"
)

var ErrTransientConnect = errors.New("session: transient connect failure")

// Info is what the engine reports about itself once a handle is open.
type Info struct {
	PID       int    `json:"pid"`
	Version   string `json:"version"`
	Student   bool   `json:"student"`
	Graphical bool   `json:"graphical"`
	Machine   string `json:"machine"`
}

// Handle is one live connection to an engine's root object. The manager
// never interprets the remote object model beyond this surface.
type Handle interface {
	Info(ctx context.Context) (Info, error)
	Ping(ctx context.Context) error
	Quit(ctx context.Context) error
	Close() error
}

// Connector opens handles for one connection strategy. The core ships
// the gRPC and embedded-console variants; the legacy native-automation
// bridge is a platform plug-in implementing this same interface.
type Connector interface {
	Connect(ctx context.Context) (Handle, error)
}

// EmbeddedConnector adopts an engine the caller is already running
// inside of. No process management happens on this path.
type EmbeddedConnector struct {
	Handle Handle
}

func (c *EmbeddedConnector) Connect(ctx context.Context) (Handle, error) {
	if c.Handle == nil {
		return nil, ErrConsoleUnattached
	}
	if err := c.Handle.Ping(ctx); err != nil {
		return nil, err
	}
	return c.Handle, nil
}
