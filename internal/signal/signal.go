// Package signal provides typed change notifications with explicit
// subscriptions.
//
// Every Connect returns a Connection that the subscriber must Disconnect when
// it is disposed. Long-lived subscribers collect their connections in a Group
// and disconnect the whole group from their Dispose method.
package signal

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Signal delivers values of type T to connected handlers.
//
// Handlers run synchronously on the emitting goroutine, outside the signal's
// lock, in the order they were connected.
type Signal[T any] struct {
	mu    sync.RWMutex
	conns []*Connection
	slots map[*Connection]func(T)
}

// New creates an empty signal.
func New[T any]() *Signal[T] {
	return &Signal[T]{
		slots: make(map[*Connection]func(T)),
	}
}

// Connect registers fn and returns the connection controlling it.
func (s *Signal[T]) Connect(fn func(T)) *Connection {
	c := &Connection{id: uuid.New().String()}
	c.active.Store(true)

	s.mu.Lock()
	if s.slots == nil {
		s.slots = make(map[*Connection]func(T))
	}
	s.conns = append(s.conns, c)
	s.slots[c] = fn
	s.mu.Unlock()

	c.detach = func() { s.remove(c) }
	return c
}

// Emit delivers v to every active handler.
func (s *Signal[T]) Emit(v T) {
	s.mu.RLock()
	conns := make([]*Connection, len(s.conns))
	copy(conns, s.conns)
	s.mu.RUnlock()

	for _, c := range conns {
		// A handler earlier in the list may have disconnected this one.
		if !c.IsActive() {
			continue
		}
		s.mu.RLock()
		fn := s.slots[c]
		s.mu.RUnlock()
		if fn != nil {
			fn(v)
		}
	}
}

// Count returns the number of active connections.
func (s *Signal[T]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// DisconnectAll disconnects every handler.
func (s *Signal[T]) DisconnectAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.slots = make(map[*Connection]func(T))
	s.mu.Unlock()

	for _, c := range conns {
		c.active.Store(false)
	}
}

func (s *Signal[T]) remove(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.slots, c)
	for i, cc := range s.conns {
		if cc == c {
			s.conns = append(s.conns[:i:i], s.conns[i+1:]...)
			break
		}
	}
}

// Connection is one handler registration on a signal.
type Connection struct {
	id     string
	active atomic.Bool
	once   sync.Once
	detach func()
}

// ID returns the unique connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// IsActive reports whether the handler still receives values.
func (c *Connection) IsActive() bool {
	return c.active.Load()
}

// Disconnect stops delivery to the handler. Once it returns, the handler is
// not invoked by any later Emit. Safe to call more than once.
func (c *Connection) Disconnect() {
	c.once.Do(func() {
		c.active.Store(false)
		if c.detach != nil {
			c.detach()
		}
	})
}

// Group owns the connections of one subscriber.
type Group struct {
	mu    sync.Mutex
	conns []*Connection
}

// Add records connections in the group.
func (g *Group) Add(conns ...*Connection) {
	g.mu.Lock()
	g.conns = append(g.conns, conns...)
	g.mu.Unlock()
}

// Len returns the number of connections held.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// DisconnectAll disconnects and forgets every connection in the group.
func (g *Group) DisconnectAll() {
	g.mu.Lock()
	conns := g.conns
	g.conns = nil
	g.mu.Unlock()

	for _, c := range conns {
		c.Disconnect()
	}
}
