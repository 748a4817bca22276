package orchestrator

import (
	"sync"

	"github.com/emotifriend/backend/internal/gateway"
	"github.com/emotifriend/backend/internal/media"
	"github.com/emotifriend/backend/internal/store"
)

// DeviceProvider resolves the live capture device of a user. The websocket
// hub is the production implementation.
type DeviceProvider interface {
	DeviceFor(userID string) media.Device
}

// Deps is everything a per-user session needs.
type Deps struct {
	Gateway      gateway.Gateway
	Conversation *store.Conversation
	Devices      DeviceProvider
	Sink         Sink
	Config       Config
}

// Registry hands out one orchestrator per user, created lazily on first use
// and kept for the life of the process.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Orchestrator
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps,
		sessions: make(map[string]*Orchestrator),
	}
}

// Get returns the user's session, creating it if needed. The empty user id
// maps to one shared anonymous session whose conversation never persists.
func (r *Registry) Get(userID string) *Orchestrator {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o, ok := r.sessions[userID]; ok {
		return o
	}
	capture := media.NewManager(r.deps.Devices.DeviceFor(userID))
	o := New(r.deps.Gateway, r.deps.Conversation, capture, r.deps.Sink, r.deps.Config, userID)
	r.sessions[userID] = o
	return o
}
