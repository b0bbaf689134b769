// Package pgsql is an asynchronous PostgreSQL query gateway: a bounded
// pool of persistent backend sessions, a FIFO waiter queue for
// requests submitted when the pool is saturated, and a per-query
// handle that tracks one submission from Init through Done. Every
// operation that would block in a synchronous driver instead parks
// the calling connection on the shared reactor and resumes it when
// the database becomes ready, so the event loop never stalls on a
// query the way it never stalls on a slow client.
package pgsql

import (
	"errors"
	"sync"

	"github.com/searchktools/fast-server/core/pgsql/wire"
	"github.com/searchktools/fast-server/core/reactor"
)

// ErrNoConnString is returned the first time Submit needs to dial a
// new session and no DSN has been configured.
var ErrNoConnString = errors.New("pgsql: no connection string configured")

// ErrQueued is returned by Submit when the pool is saturated and the
// handle has been parked on the waiter FIFO instead of dialing or
// attaching a session. It is not a failure: the caller is expected to
// already be asleep (Submit parks it) and will resume through the
// normal wakeup path once a session frees up.
var ErrQueued = errors.New("pgsql: request queued, pool saturated")

// State is the QueryHandle lifecycle: Init -> Wait -> Result|Error -> Done/Complete.
type State int

const (
	StateInit State = iota
	StateWait
	StateResult
	StateError
	StateDone
	StateComplete
)

// Config configures a Pool.
type Config struct {
	ConnString string
	PoolSize   int
}

// session is one persistent backend connection, either idle on the
// free list or attached to exactly one Handle.
type session struct {
	conn   *wire.Conn
	handle *Handle
}

// Pool is a bounded set of persistent PostgreSQL sessions shared by
// every request on the process. Its free list, release and the waiter
// FIFO are the Go rendering of the source's pgsql_conn_free list and
// pgsql_wait_queue.
type Pool struct {
	mu      sync.Mutex
	cfg     Config
	reactor *reactor.Reactor

	free    []*session
	count   int
	waiters []*Handle
}

// New creates a Pool bound to the given reactor. Sessions are dialed
// lazily, on first Submit, up to cfg.PoolSize.
func New(cfg Config, rt *reactor.Reactor) *Pool {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 2
	}
	return &Pool{cfg: cfg, reactor: rt}
}

// Stats reports a snapshot of pool occupancy, for the debug/metrics endpoint.
type Stats struct {
	SessionsFree  int
	SessionsBusy  int
	WaitersQueued int
}

// Stats returns a point-in-time snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		SessionsFree:  len(p.free),
		SessionsBusy:  p.count - len(p.free),
		WaitersQueued: len(p.waiters),
	}
}

// Close finalizes every idle session still held by the pool. Callers
// should drain in-flight work first (Stats().SessionsBusy == 0 &&
// WaitersQueued == 0) — Close does not interrupt a session still
// attached to a Handle, it only reclaims ones already sitting free.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, sess := range p.free {
		p.reactor.Unregister(sess.conn.Socket())
		sess.conn.Finalize()
	}
	p.free = nil
	p.count = 0
}

// dial creates a brand-new session and counts it against the pool
// ceiling. Caller must hold p.mu.
func (p *Pool) dial() (*session, error) {
	if p.cfg.ConnString == "" {
		return nil, ErrNoConnString
	}

	conn, err := wire.Connect(p.cfg.ConnString)
	if err != nil {
		return nil, err
	}

	p.count++
	return &session{conn: conn}, nil
}

// removeWaiter drops h from the waiter FIFO if it is currently queued
// there. Safe to call when h is not a waiter.
func (p *Pool) removeWaiter(h *Handle) {
	for i, w := range p.waiters {
		if w == h {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// wakeNextWaiter pops the head of the waiter FIFO, if any, and resumes
// it — the Go rendering of pgsql_queue_wakeup. Caller must hold p.mu;
// it is released before the sleeper is woken, since Wake may run the
// resumed code synchronously and that code may re-enter the pool.
func (p *Pool) wakeNextWaiter() {
	if len(p.waiters) == 0 {
		return
	}
	h := p.waiters[0]
	p.waiters = p.waiters[1:]
	h.waiting = false

	p.mu.Unlock()
	h.sleeper.Wake()
	p.mu.Lock()
}
