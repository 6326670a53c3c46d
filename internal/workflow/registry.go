package workflow

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownSession is returned for a session id the registry does not hold.
var ErrUnknownSession = errors.New("session not found")

// Registry holds independent sessions keyed by id. Sessions share the
// stages and recorder but no mutable state.
type Registry struct {
	stages   Stages
	recorder Recorder

	mu       sync.RWMutex
	sessions map[string]*Orchestrator
}

// NewRegistry creates an empty registry.
func NewRegistry(stages Stages, recorder Recorder) *Registry {
	return &Registry{
		stages:   stages,
		recorder: recorder,
		sessions: make(map[string]*Orchestrator),
	}
}

// Create starts a new idle session.
func (r *Registry) Create() *Orchestrator {
	o := New(uuid.NewString(), r.stages, r.recorder)
	r.mu.Lock()
	r.sessions[o.ID()] = o
	r.mu.Unlock()
	return o
}

// Get returns the session with the given id.
func (r *Registry) Get(id string) (*Orchestrator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return o, nil
}

// Delete resets and forgets a session. Outstanding attempts finish in the
// background and are discarded.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	o, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSession
	}
	o.Reset()
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Wait blocks until background stage runs of all live sessions settle.
func (r *Registry) Wait() {
	r.mu.RLock()
	list := make([]*Orchestrator, 0, len(r.sessions))
	for _, o := range r.sessions {
		list = append(list, o)
	}
	r.mu.RUnlock()
	for _, o := range list {
		o.Wait()
	}
}
