package session

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/enginectl/enginectl/internal/observability"
)

// Registry is the process-wide table of engine sessions, keyed by
// engine pid, plus insertion order for the legacy most-recent policy.
//
// It holds no lock: single-threaded access is a precondition, matching
// the rest of this package.
type Registry struct {
	sessions map[int]*Session
	order    []*Session
	aux      []io.Closer
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[int]*Session)}
}

// Selector narrows Acquire's reuse search. Zero values mean "not
// supplied". MultiSession switches from the legacy single-session
// policy to selector-based matching.
type Selector struct {
	Version      string
	Port         int
	PID          int
	ForceNew     bool
	MultiSession bool
}

// Builder constructs a fresh connected session when reuse declines.
type Builder func(ctx context.Context) (*Session, error)

// Acquire implements the reuse policy. The returned bool tags the
// result: true for an existing session, false for a fresh one.
//
//  1. Multi-session with ForceNew always creates.
//  2. Multi-session with any selector field set matches by port, then
//     pid, then version. That precedence is fixed and tested.
//  3. Legacy single-session mode returns the most recent entry when its
//     handle still answers, evicting it otherwise.
//  4. Anything else creates.
func (r *Registry) Acquire(ctx context.Context, sel Selector, build Builder) (*Session, bool, error) {
	if sel.MultiSession && sel.ForceNew {
		return r.create(ctx, build)
	}
	if len(r.order) > 0 && sel.MultiSession && (sel.Port > 0 || sel.PID > 0 || sel.Version != "") {
		if match := r.match(sel); match != nil {
			match.reattach()
			return match, true, nil
		}
		return r.create(ctx, build)
	}
	if len(r.order) > 0 && !sel.MultiSession {
		recent := r.order[len(r.order)-1]
		if recent.Ping(ctx) == nil {
			recent.reattach()
			return recent, true, nil
		}
		log.Warn().Int("pid", recent.PID).Msg("registered session no longer answers, evicting")
		// Close releases the dead handle; DetachOnly because the process
		// is not ours to reap here.
		recent.Close(ctx, CloseOptions{DetachOnly: true})
		r.Remove(recent.PID)
	}
	return r.create(ctx, build)
}

func (r *Registry) match(sel Selector) *Session {
	if sel.Port > 0 {
		for _, s := range r.order {
			if s.Port == sel.Port {
				return s
			}
		}
		return nil
	}
	if sel.PID > 0 {
		return r.sessions[sel.PID]
	}
	if sel.Version != "" {
		want, err := NormalizeVersion(sel.Version)
		if err != nil {
			want = sel.Version
		}
		for _, s := range r.order {
			if s.Version == want {
				return s
			}
		}
	}
	return nil
}

func (r *Registry) create(ctx context.Context, build Builder) (*Session, bool, error) {
	s, err := build(ctx)
	if err != nil {
		return nil, false, err
	}
	// Open registers sessions constructed with a registry dep; cover
	// builders that did not.
	if _, ok := r.sessions[s.PID]; !ok {
		r.register(s)
	}
	return s, false, nil
}

// register inserts or replaces the entry for a pid. At most one session
// per pid lives in the table.
func (r *Registry) register(s *Session) {
	if old, ok := r.sessions[s.PID]; ok && old != s {
		log.Warn().Int("pid", s.PID).Msg("replacing registry entry for pid")
		r.dropFromOrder(old)
	}
	r.sessions[s.PID] = s
	r.order = append(r.order, s)
	observability.SetActiveSessions(len(r.sessions))
}

// Remove deletes the entry for a pid, if present.
func (r *Registry) Remove(pid int) {
	s, ok := r.sessions[pid]
	if !ok {
		return
	}
	delete(r.sessions, pid)
	r.dropFromOrder(s)
	observability.SetActiveSessions(len(r.sessions))
}

func (r *Registry) dropFromOrder(target *Session) {
	for i, s := range r.order {
		if s == target {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

// ByPID returns the registered session for a pid.
func (r *Registry) ByPID(pid int) (*Session, bool) {
	s, ok := r.sessions[pid]
	return s, ok
}

// AddAux tracks an auxiliary file-backed session closed during
// shutdown. The secondary table holds teardown duty only; nothing reads
// it back.
func (r *Registry) AddAux(c io.Closer) {
	if c != nil {
		r.aux = append(r.aux, c)
	}
}

// CloseAux closes and clears every auxiliary session, logging failures
// without stopping.
func (r *Registry) CloseAux() bool {
	ok := true
	for _, c := range r.aux {
		if err := c.Close(); err != nil {
			ok = false
			log.Warn().Err(err).Msg("close auxiliary session")
		}
	}
	r.aux = nil
	return ok
}

// SessionInfo is the status-server projection of one registry entry.
type SessionInfo struct {
	PID       int    `json:"pid"`
	Version   string `json:"version"`
	Port      int    `json:"port"`
	Machine   string `json:"machine,omitempty"`
	State     string `json:"state"`
	Mode      string `json:"mode"`
	Transport string `json:"transport"`
	Launched  bool   `json:"launched_by_manager"`
	Refs      int    `json:"refs"`
}

func (r *Registry) Snapshot() []SessionInfo {
	out := make([]SessionInfo, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, SessionInfo{
			PID:       s.PID,
			Version:   s.Version,
			Port:      s.Port,
			Machine:   s.Machine,
			State:     s.state.String(),
			Mode:      s.mode.String(),
			Transport: s.Transport.String(),
			Launched:  s.LaunchedByManager,
			Refs:      s.refs,
		})
	}
	return out
}

// CloseAll closes every registered session; the cmd signal path uses it
// as the process-exit teardown.
func (r *Registry) CloseAll(ctx context.Context) {
	for len(r.order) > 0 {
		s := r.order[len(r.order)-1]
		s.Close(ctx, CloseOptions{})
	}
	r.CloseAux()
}
