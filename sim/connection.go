package sim

import "github.com/gammazero/deque"

// connection is one simulated TCP connection. It is cold until its first
// request has paid the handshake.
type connection struct {
	id     int
	origin string
	warm   bool
}

// connectionPool bounds concurrent connections to one origin. Released
// connections go to the front of the idle deque so the most recently used
// (warm) connection is reused first.
type connectionPool struct {
	origin string
	limit  int
	opened int
	idle   deque.Deque[*connection]
}

func newConnectionPool(origin string, limit int) *connectionPool {
	return &connectionPool{origin: origin, limit: limit}
}

// acquire returns an idle connection, opens a new one if the pool has room,
// or returns nil when every connection is busy.
func (p *connectionPool) acquire(nextID func() int) *connection {
	if p.idle.Len() > 0 {
		return p.idle.PopFront()
	}
	if p.opened < p.limit {
		p.opened++
		return &connection{id: nextID(), origin: p.origin}
	}
	return nil
}

func (p *connectionPool) release(c *connection) {
	p.idle.PushFront(c)
}
