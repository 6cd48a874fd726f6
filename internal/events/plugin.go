package events

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PluginStatus represents the activation state of a plugin.
type PluginStatus string

const (
	PluginStatusActive   PluginStatus = "active"
	PluginStatusInactive PluginStatus = "inactive"
)

// ErrPluginNotFound is returned for an unknown plugin id.
var ErrPluginNotFound = errors.New("plugin not found")

// ErrDuplicateEndpoint is returned when an endpoint is already registered.
var ErrDuplicateEndpoint = errors.New("endpoint already registered")

// Plugin is an external JSON-RPC service that receives event notifications.
type Plugin struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Endpoint  string       `json:"endpoint"`
	Events    []string     `json:"events"`
	Status    PluginStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`

	// LastAddedID is the newest entry the plugin acknowledged.
	LastAddedID int64 `json:"last_added_id"`
	// Failures counts deliveries failed since the last success.
	Failures int `json:"consecutive_failures"`
}

// PluginRegistry is a thread-safe in-memory index of registered plugins.
type PluginRegistry struct {
	mu      sync.RWMutex
	plugins map[uuid.UUID]*Plugin
}

func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{plugins: make(map[uuid.UUID]*Plugin)}
}

// Register assigns p an ID and creation time and adds it. Endpoints are
// unique across plugins.
func (r *PluginRegistry) Register(p *Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.plugins {
		if existing.Endpoint == p.Endpoint {
			return fmt.Errorf("%w: %s", ErrDuplicateEndpoint, p.Endpoint)
		}
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now().UTC()
	if p.Status == "" {
		p.Status = PluginStatusActive
	}
	r.plugins[p.ID] = p
	return nil
}

// Restore adds plugins loaded from a PluginStore, keeping their IDs.
func (r *PluginRegistry) Restore(plugins []*Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range plugins {
		r.plugins[p.ID] = p
	}
}

func (r *PluginRegistry) Get(id uuid.UUID) (*Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return p, nil
}

// List returns all plugins ordered by creation time.
func (r *PluginRegistry) List() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Plugin) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Endpoint, b.Endpoint)
	})
	return out
}

func (r *PluginRegistry) Delete(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	delete(r.plugins, id)
	return nil
}

// RecordDelivery updates the delivery bookkeeping of plugin id after an
// attempt to deliver entry addedID. Plugins are replaced, not mutated, so
// pointers handed out earlier stay consistent.
func (r *PluginRegistry) RecordDelivery(id uuid.UUID, addedID int64, ok bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, found := r.plugins[id]
	if !found {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	next := *p
	next.Events = slices.Clone(p.Events)
	if ok {
		next.Failures = 0
		next.LastAddedID = max(next.LastAddedID, addedID)
	} else {
		next.Failures++
	}
	r.plugins[id] = &next
	return nil
}

// ForEvent returns all active plugins subscribed to event.
func (r *PluginRegistry) ForEvent(event string) []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Plugin
	for _, p := range r.plugins {
		if p.Status == PluginStatusActive && slices.Contains(p.Events, event) {
			out = append(out, p)
		}
	}
	return out
}
