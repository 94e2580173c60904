package session

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/enginectl/enginectl/internal/observability"
)

// ProjectCloser closes open remote projects before the app goes away.
// The remote object model itself lives outside this component.
type ProjectCloser interface {
	CloseProjects(ctx context.Context) error
}

// Shutdown is the idempotent multi-step teardown sequence. Every step
// is best-effort: a failure is logged and the remaining steps still
// run. Safe to invoke from the explicit path and the process-exit path
// in either order.
type Shutdown struct {
	Session  *Session
	Registry *Registry
	Projects ProjectCloser

	done bool
}

// ReleaseAndClose runs the teardown sequence. closeProjects asks the
// remote side to close open projects first; closeApp terminates the
// engine rather than merely disconnecting. Returns false only when a
// step failed; progress is never halted.
func (c *Shutdown) ReleaseAndClose(ctx context.Context, closeProjects, closeApp bool) bool {
	if c.done {
		return true
	}
	c.done = true
	ok := true

	if c.Session != nil {
		n := c.Session.DropProxies()
		observability.RecordTeardownStep("release_proxies", true)
		if n > 0 {
			log.Debug().Int("count", n).Msg("released cached remote proxies")
		}
	}

	if c.Registry != nil {
		auxOK := c.Registry.CloseAux()
		observability.RecordTeardownStep("close_aux", auxOK)
		ok = ok && auxOK
	}

	if closeProjects && c.Projects != nil {
		err := c.Projects.CloseProjects(ctx)
		observability.RecordTeardownStep("close_projects", err == nil)
		if err != nil {
			ok = false
			log.Warn().Err(err).Msg("close remote projects failed")
		}
	}

	if c.Session != nil {
		var closed bool
		if closeApp {
			closed = c.Session.Close(ctx, CloseOptions{Terminate: true})
		} else {
			closed = c.Session.Close(ctx, CloseOptions{DetachOnly: true})
		}
		observability.RecordTeardownStep("close_session", closed)
		ok = ok && closed
		c.Session.clearAttributes()
	}

	log.Info().Bool("close_projects", closeProjects).Bool("close_app", closeApp).
		Bool("ok", ok).Msg("shutdown sequence finished")
	return ok
}
