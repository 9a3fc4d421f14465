package realtime

import (
	"context"
	"fmt"
	"sync"
)

var ErrUnknownConnection = fmt.Errorf("connection is not registered")
var ErrAlreadyRegistered = fmt.Errorf("connection is already registered")
var ErrUnavailable = fmt.Errorf("connection is unavailable")

// Scope selects the connections an event is delivered to.
type Scope struct {
	identity string
}

// All addresses every registered connection.
var All = Scope{}

// User addresses every connection registered with the given identity.
func User(identity string) Scope {
	return Scope{identity: identity}
}

func (s Scope) IsAll() bool {
	return s.identity == ""
}

func (s Scope) Identity() string {
	return s.identity
}

func (s Scope) String() string {
	if s.IsAll() {
		return "all"
	}
	return "user:" + s.identity
}

// Conn is a live client connection. Send must not block; a connection that
// cannot accept the payload returns ErrUnavailable.
type Conn interface {
	ID() string
	Send(ctx context.Context, event string, payload []byte) error
}

type Listener func(ctx context.Context, event string, payload []byte) error

type ListenerID uint64

// Forward returns a listener that writes events to the connection.
func Forward(conn Conn) Listener {
	return func(ctx context.Context, event string, payload []byte) error {
		return conn.Send(ctx, event, payload)
	}
}

// Target is a listener resolved for one publish.
type Target struct {
	ConnID   string
	Identity string
	Listener Listener
}

//go:generate moq -rm -out registry_mock.go . Registry

type Registry interface {
	Register(conn Conn, identity string) error
	Unregister(conn Conn)
	AddListener(conn Conn, event string, listener Listener) (ListenerID, error)
	RemoveListener(conn Conn, event string, id ListenerID)
	Targets(event string, scope Scope) []Target
	Count() int
}

type listenerEntry struct {
	id       ListenerID
	listener Listener
}

type connection struct {
	identity  string
	listeners map[string][]listenerEntry
}

type registry struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	nextID uint64
}

func NewRegistry() Registry {
	return &registry{
		conns: map[string]*connection{},
	}
}

func (r *registry) Register(conn Conn, identity string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[conn.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, conn.ID())
	}

	r.conns[conn.ID()] = &connection{
		identity:  identity,
		listeners: map[string][]listenerEntry{},
	}

	return nil
}

func (r *registry) Unregister(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, conn.ID())
}

func (r *registry) AddListener(conn Conn, event string, listener Listener) (ListenerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[conn.ID()]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownConnection, conn.ID())
	}

	r.nextID++
	id := ListenerID(r.nextID)
	c.listeners[event] = append(c.listeners[event], listenerEntry{id: id, listener: listener})

	return id, nil
}

func (r *registry) RemoveListener(conn Conn, event string, id ListenerID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[conn.ID()]
	if !ok {
		return
	}

	entries := c.listeners[event]
	kept := make([]listenerEntry, 0, len(entries))
	for _, e := range entries {
		if e.id != id {
			kept = append(kept, e)
		}
	}

	if len(kept) == 0 {
		delete(c.listeners, event)
		return
	}

	c.listeners[event] = kept
}

// Targets returns a snapshot of the listeners that should receive event. The
// result is safe to iterate after the lock is released.
func (r *registry) Targets(event string, scope Scope) []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := []Target{}

	for connID, c := range r.conns {
		if !scope.IsAll() && c.identity != scope.Identity() {
			continue
		}

		for _, e := range c.listeners[event] {
			targets = append(targets, Target{
				ConnID:   connID,
				Identity: c.identity,
				Listener: e.listener,
			})
		}
	}

	return targets
}

func (r *registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}
