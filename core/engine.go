package core

import (
	"log"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/searchktools/fast-server/core/http"
	"github.com/searchktools/fast-server/core/pools"
	"github.com/searchktools/fast-server/core/reactor"
	"github.com/searchktools/fast-server/core/router"
)

// HandlerFunc defines the handler function type (accepts http.Context interface)
type HandlerFunc func(ctx http.Context)

// Connection states
const (
	StateReading = iota
	StateProcessing
	StateWriting
	StateKeepalive
	// StateSleeping marks a connection whose HTTP request is parked on
	// a suspension point (an in-flight pgsql query, most commonly) and
	// must not be touched by the HTTP step loop until it wakes.
	StateSleeping
	// StateTunnel marks a connection hijacked into a raw byte pipe; it
	// no longer speaks HTTP and is driven entirely by its own reactor
	// callback (core/tunnel).
	StateTunnel
)

// Cleanup is implemented by any per-request resource that must be torn
// down if its owning connection disappears before the resource
// finishes naturally — a pgsql.Handle whose request is deleted while a
// query is still in flight, for instance.
type Cleanup interface {
	Cleanup()
}

// Connection represents an active connection. Beyond the base
// read/write/state bookkeeping the teacher engine already had, it
// carries the three pieces every reactor-integrated extension needs:
// a sleep/wake pair (the suspension points of spec.md §5), a single
// extension slot for handler-private data, and a symmetric disconnect
// hook for cross-linked connections (the tunnel's Pipe Link).
type Connection struct {
	fd         int
	state      int
	readBuf    []byte
	readOffset int
	request    *http.Request
	context    *http.FDContext
	lastActive time.Time
	keepAlive  bool
	closeAfter bool

	// pendingWrite holds bytes Write couldn't push onto the fd without
	// blocking; FlushPending retries them once the reactor reports the
	// fd writable again.
	pendingWrite []byte

	// Protocol is a coarse tag ("http" for a connection still speaking
	// the base protocol, "unknown" once a tunnel has hijacked it).
	Protocol string

	// Ext is the handler-private extension slot: the peer *Connection
	// for a tunnel link, or nothing for an ordinary HTTP connection.
	Ext any

	// Disconnect is fired at most once, from closeConnection (which
	// Engine.Close and the engine's own error and idle-timeout paths all
	// go through), before the connection's resources are released.
	Disconnect func(*Connection)

	// Queries lists resources that must be torn down if this
	// connection is closed while they are still attached to it —
	// principally in-flight pgsql.Handles.
	Queries []Cleanup

	asleep bool
	resume func()
}

// Reset implements ConnectionPoolable interface
func (c *Connection) Reset() {
	c.fd = -1
	c.state = StateReading
	c.readBuf = nil
	c.readOffset = 0
	c.request = nil
	c.context = nil
	c.lastActive = time.Time{}
	c.keepAlive = false
	c.closeAfter = false
	c.pendingWrite = nil
	c.Protocol = ""
	c.Ext = nil
	c.Disconnect = nil
	c.Queries = nil
	c.asleep = false
	c.resume = nil
}

// SetFD implements ConnectionPoolable interface
func (c *Connection) SetFD(fd int) {
	c.fd = fd
	c.lastActive = time.Now()
}

// FD returns the connection's raw file descriptor.
func (c *Connection) FD() int { return c.fd }

// Hijack marks the connection as taken over by a longer-lived protocol
// (a tunnel byte pipe, most notably): the HTTP step loop's post-handler
// keepalive/reset dance is skipped for it from here on, exactly as for
// a parked (Sleep'd) connection.
func (c *Connection) Hijack() {
	c.state = StateTunnel
}

// HasPendingWrite reports whether some of the last Write's bytes are
// still buffered locally, not yet written to the fd.
func (c *Connection) HasPendingWrite() bool { return len(c.pendingWrite) > 0 }

// Touch records activity on the connection, resetting its idle clock.
// Extensions driven outside handleConnectionEvent (the tunnel's
// pipeData, most notably) call this themselves, since rebinding a fd's
// reactor callback takes it out of handleConnectionEvent's normal
// lastActive refresh.
func (c *Connection) Touch() { c.lastActive = time.Now() }

// Sleep parks the connection: the HTTP step loop will not advance it
// again until Wake is called. resume is invoked by Wake, on the same
// goroutine, once the connection becomes eligible to run again.
func (c *Connection) Sleep(resume func()) {
	c.asleep = true
	c.resume = resume
	c.state = StateSleeping
}

// Wake makes the connection eligible to run again and invokes the
// resumption callback passed to Sleep. A Wake with no matching Sleep
// is a no-op, so callers never need to track whether a request is
// already awake.
func (c *Connection) Wake() {
	if !c.asleep {
		return
	}
	c.asleep = false
	fn := c.resume
	c.resume = nil
	if fn != nil {
		fn()
	}
}

// Asleep reports whether the connection is currently parked.
func (c *Connection) Asleep() bool { return c.asleep }

// Engine is a high-performance zero-allocation HTTP engine with epoll/kqueue
type Engine struct {
	router      *router.RadixRouter
	reactor     *reactor.Reactor
	connections map[int]*Connection
	connMu      sync.RWMutex

	maxConnections int
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Fine-grained memory pools
	contextPool    *pools.SmartPool
	requestPool    *pools.SmartPool
	bytePool       *pools.BytePool
	connectionPool *pools.ConnectionPool
	workerPool     *pools.WorkerPool // Work-stealing goroutine pool
}

// NewEngine creates a new engine instance
func NewEngine() *Engine {
	rt, err := reactor.New()
	if err != nil {
		reactor.Fatal("engine: could not create reactor: %v", err)
	}

	e := &Engine{
		router:         router.NewRadixRouter(),
		reactor:        rt,
		connections:    make(map[int]*Connection, 10000),
		maxConnections: 100000,
		readTimeout:    10 * time.Second,
		writeTimeout:   10 * time.Second,
		idleTimeout:    5 * time.Second, // Short idle timeout for aggressive cleanup
	}

	// Apply GC optimizations for high throughput
	pools.OptimizeForHighThroughput()

	// Initialize fine-grained pools
	e.bytePool = pools.NewBytePool()

	// Connection pool
	e.connectionPool = pools.NewConnectionPool(10000, func() any {
		return &Connection{
			fd:    -1,
			state: StateReading,
		}
	})

	e.contextPool = pools.NewSmartPool(pools.SmartPoolConfig{
		New: func() any {
			return &http.FDContext{}
		},
		Reset: func(obj any) {
			if ctx, ok := obj.(*http.FDContext); ok {
				ctx.Reset(0, nil)
			}
		},
		WarmupSize:    500,  // Increased from 300
		TargetHitRate: 0.95, // Target 95% hit rate
	})

	e.requestPool = pools.NewSmartPool(pools.SmartPoolConfig{
		New: func() any {
			return &http.Request{}
		},
		Reset: func(obj any) {
			if req, ok := obj.(*http.Request); ok {
				// Simple reset without calling external function
				req.Method = ""
				req.Path = ""
				req.Proto = ""
				req.Body = req.Body[:0]
			}
		},
		WarmupSize:    500,
		TargetHitRate: 0.95,
	})

	// Start auto-optimization
	e.contextPool.StartAutoOptimize(30 * time.Second)
	e.requestPool.StartAutoOptimize(30 * time.Second)

	// Initialize work-stealing worker pool
	numWorkers := runtime.NumCPU()
	e.workerPool = pools.NewWorkerPool(numWorkers)

	log.Printf("📊 Fine-grained pools initialized:")
	log.Printf("   - Connection pool: 10000 capacity")
	log.Printf("   - Context pool: 500 warmup, 95%% target")
	log.Printf("   - Request pool: 500 warmup, 95%% target")
	log.Printf("   - Byte pool: 4-tier (512/2K/8K/32K)")
	log.Printf("   - Worker pool: %d workers (work-stealing)", numWorkers)
	log.Printf("   - GC: Optimized for high throughput (GOGC=300)")

	return e
}

// GET registers a GET route
func (e *Engine) GET(path string, handler HandlerFunc) {
	e.router.Add("GET", path, func(ctx any) {
		handler(ctx.(http.Context))
	})
}

// POST registers a POST route
func (e *Engine) POST(path string, handler HandlerFunc) {
	e.router.Add("POST", path, func(ctx any) {
		handler(ctx.(http.Context))
	})
}

// PUT registers a PUT route
func (e *Engine) PUT(path string, handler HandlerFunc) {
	e.router.Add("PUT", path, func(ctx any) {
		handler(ctx.(http.Context))
	})
}

// DELETE registers a DELETE route
func (e *Engine) DELETE(path string, handler HandlerFunc) {
	e.router.Add("DELETE", path, func(ctx any) {
		handler(ctx.(http.Context))
	})
}

// PATCH registers a PATCH route
func (e *Engine) PATCH(path string, handler HandlerFunc) {
	e.router.Add("PATCH", path, func(ctx any) {
		handler(ctx.(http.Context))
	})
}

// HEAD registers a HEAD route
func (e *Engine) HEAD(path string, handler HandlerFunc) {
	e.router.Add("HEAD", path, func(ctx any) {
		handler(ctx.(http.Context))
	})
}

// OPTIONS registers an OPTIONS route
func (e *Engine) OPTIONS(path string, handler HandlerFunc) {
	e.router.Add("OPTIONS", path, func(ctx any) {
		handler(ctx.(http.Context))
	})
}

// Reactor exposes the engine's shared epoll/kqueue reactor so that
// extensions living outside this package — the tunnel and the pgsql
// gateway — can register their own fds (peer sockets, database
// sessions) on the exact same event loop as client connections.
func (e *Engine) Reactor() *reactor.Reactor { return e.reactor }

// BytePool exposes the engine's tiered byte-slice pool for reuse by
// extensions that need reactor-sized read buffers.
func (e *Engine) BytePool() *pools.BytePool { return e.bytePool }

// IdleTimeout returns the duration after which an inactive connection
// is eligible for cleanup.
func (e *Engine) IdleTimeout() time.Duration { return e.idleTimeout }

// Connection looks up a tracked connection by fd.
func (e *Engine) Connection(fd int) (*Connection, bool) {
	e.connMu.RLock()
	defer e.connMu.RUnlock()
	conn, ok := e.connections[fd]
	return conn, ok
}

// NewPeerConnection allocates and tracks a non-HTTP connection — most
// notably a tunnel's dialed peer socket — under the engine's
// connection table, so idle-cleanup and symmetric disconnect apply to
// it exactly as they do to client connections.
func (e *Engine) NewPeerConnection(fd int, protocol string) *Connection {
	conn := e.connectionPool.Get().(*Connection)
	conn.SetFD(fd)
	conn.state = StateTunnel
	conn.Protocol = protocol
	conn.keepAlive = false
	conn.readBuf = e.bytePool.Get(8192)

	e.connMu.Lock()
	e.connections[fd] = conn
	e.connMu.Unlock()

	return conn
}

// Write performs a best-effort non-blocking write. Whatever doesn't
// fit right now is buffered on conn and retried later by FlushPending,
// once the reactor reports the fd writable again — Write itself never
// blocks or busy-spins on EAGAIN. The tunnel relay is the one caller
// that can hand it more data than a single write() will take, feeding
// an arbitrarily slow peer.
func (e *Engine) Write(conn *Connection, data []byte) error {
	if len(conn.pendingWrite) > 0 {
		// Already backed up; queue behind what's outstanding rather than
		// interleaving writes out of order.
		conn.pendingWrite = append(conn.pendingWrite, data...)
		return nil
	}

	n, err := writeNonBlocking(conn.fd, data)
	if err != nil {
		return err
	}

	if n < len(data) {
		conn.pendingWrite = append([]byte(nil), data[n:]...)
		return e.reactor.SetWritable(conn.fd, true)
	}

	return nil
}

// FlushPending retries a connection's buffered write once its fd
// reports writable again. Returns nil once draining completes (or
// there was nothing pending); a non-nil error means the fd is broken.
func (e *Engine) FlushPending(conn *Connection) error {
	if len(conn.pendingWrite) == 0 {
		return nil
	}

	n, err := writeNonBlocking(conn.fd, conn.pendingWrite)
	if err != nil {
		return err
	}

	conn.pendingWrite = conn.pendingWrite[n:]
	if len(conn.pendingWrite) == 0 {
		return e.reactor.SetWritable(conn.fd, false)
	}
	return nil
}

// writeNonBlocking attempts a single non-blocking write, treating
// EAGAIN/EWOULDBLOCK as zero progress rather than an error.
func writeNonBlocking(fd int, data []byte) (int, error) {
	n, err := syscall.Write(fd, data)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return 0, nil
		}
		return n, err
	}
	return n, nil
}

// ReadBuf returns the connection's reusable read buffer, growing it in
// place to at least size bytes via the engine's byte pool.
func (e *Engine) ReadBuf(conn *Connection, size int) []byte {
	if conn.readBuf == nil || cap(conn.readBuf) < size {
		if conn.readBuf != nil {
			e.bytePool.Put(conn.readBuf)
		}
		conn.readBuf = e.bytePool.Get(size)
	}
	return conn.readBuf
}

// Close tears down a tracked connection: fires its disconnect hook and
// any attached query cleanups exactly once, then releases the fd and
// pooled objects. Safe to call more than once for the same fd — the
// second call finds nothing registered and returns.
func (e *Engine) Close(fd int) {
	e.closeConnection(fd)
}

// Run starts the server
func (e *Engine) Run(addr string) error {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return err
	}

	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		return err
	}
	defer ln.Close()

	lnFile, err := ln.File()
	if err != nil {
		return err
	}
	lfd := int(lnFile.Fd())

	if err := syscall.SetNonblock(lfd, true); err != nil {
		return err
	}

	defer e.reactor.Close()

	if err := e.reactor.Register(lfd, false, func(error) {
		e.acceptConnections(lfd)
	}); err != nil {
		return err
	}

	log.Printf("🚀 High-Performance Server listening on %s", addr)
	log.Printf("⚡ Full epoll/kqueue with syscall.Write()")
	log.Printf("📊 Smart pools initialized with 500 objects warmup")

	go e.cleanupIdleConnections()

	for {
		// Wait up to 100ms (shorter timeout for better responsiveness)
		fds, err := e.reactor.Wait(100)
		if err != nil {
			log.Printf("Poller wait error: %v", err)
			continue
		}

		for _, fd := range fds {
			e.reactor.Dispatch(fd)
		}
	}
}

// acceptConnections accepts multiple pending connections
func (e *Engine) acceptConnections(lfd int) {
	for {
		nfd, _, err := syscall.Accept(lfd)
		if err != nil {
			if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
				return
			}
			log.Printf("Accept error: %v", err)
			return
		}

		if err := syscall.SetNonblock(nfd, true); err != nil {
			syscall.Close(nfd)
			continue
		}

		// TCP_NODELAY: Disable Nagle's algorithm
		syscall.SetsockoptInt(nfd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)

		// SO_KEEPALIVE: Enable TCP keepalive
		syscall.SetsockoptInt(nfd, syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1)

		// Configure keepalive timing (macOS: TCP_KEEPALIVE = 0x10)
		// Wait 30s before first probe
		syscall.SetsockoptInt(nfd, syscall.IPPROTO_TCP, 0x10, 30)

		conn := e.connectionPool.Get().(*Connection)
		conn.SetFD(nfd)
		conn.state = StateReading
		conn.Protocol = "http"
		conn.readBuf = e.bytePool.Get(8192)
		conn.readOffset = 0
		conn.keepAlive = true

		if err := e.reactor.Register(nfd, false, func(err error) {
			if err != nil {
				e.closeConnection(nfd)
				return
			}
			e.handleConnectionEvent(nfd)
		}); err != nil {
			e.connectionPool.Put(conn)
			syscall.Close(nfd)
			continue
		}

		e.connMu.Lock()
		e.connections[nfd] = conn
		e.connMu.Unlock()
	}
}

// handleConnectionEvent handles events on a connection
func (e *Engine) handleConnectionEvent(fd int) {
	e.connMu.RLock()
	conn, ok := e.connections[fd]
	e.connMu.RUnlock()

	if !ok {
		return
	}

	conn.lastActive = time.Now()

	switch conn.state {
	case StateReading, StateKeepalive:
		e.handleRead(conn)
	case StateWriting:
		conn.state = StateKeepalive
	case StateSleeping, StateTunnel:
		// Parked on a suspension point, or hijacked into a raw pipe:
		// the HTTP step loop must not touch this connection. Its own
		// reactor callback (pgsql session readiness, tunnel peer data)
		// drives it instead.
	}
}

// handleRead reads and processes HTTP requests
func (e *Engine) handleRead(conn *Connection) {
	n, err := syscall.Read(conn.fd, conn.readBuf[conn.readOffset:])
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return
		}
		e.closeConnection(conn.fd)
		return
	}

	if n == 0 {
		e.closeConnection(conn.fd)
		return
	}

	conn.readOffset += n

	req, err := http.ParseRequest(conn.readBuf[:conn.readOffset])
	if err != nil {
		if conn.readOffset >= len(conn.readBuf) {
			e.sendError(conn, 400, "Bad Request")
			e.closeConnection(conn.fd)
		}
		// Partial request, wait for more data
		return
	}

	conn.readOffset = 0
	conn.request = req
	conn.state = StateProcessing

	e.processRequest(conn)
}

// processRequest processes a single request
func (e *Engine) processRequest(conn *Connection) {
	// For lightweight HTTP handlers, process inline for minimal latency
	// Worker pool can be enabled for CPU-intensive handlers
	h, params := e.router.Find(conn.request.Method, conn.request.Path)

	if h == nil {
		e.sendError(conn, 404, "Not Found")
		e.checkKeepAlive(conn)
		return
	}

	ctx := e.contextPool.Get().(*http.FDContext)
	ctx.Reset(conn.fd, conn.request)

	for k, v := range params {
		ctx.SetParam(k, v)
	}

	h(ctx)

	e.contextPool.Put(ctx)

	// A handler that parked the connection (tunnel hijack, pgsql
	// submit) owns the rest of its lifecycle; the keepalive/reset dance
	// below only applies to a request that ran to completion inline.
	if conn.state == StateSleeping || conn.state == StateTunnel {
		return
	}

	e.checkKeepAlive(conn)
}

// sendError sends an error response
func (e *Engine) sendError(conn *Connection, code int, message string) {
	response := []byte("HTTP/1.1 ")
	response = appendInt(response, code)
	response = append(response, ' ')
	response = append(response, message...)
	response = append(response, "\r\n\r\n"...)

	syscall.Write(conn.fd, response)
}

// checkKeepAlive checks if connection should be kept alive
func (e *Engine) checkKeepAlive(conn *Connection) {
	if conn.request.Proto == "HTTP/1.0" || conn.request.Connection == "close" {
		e.closeConnection(conn.fd)
	} else {
		// Keep connection alive - reset for next request
		conn.state = StateReading
		conn.readOffset = 0
		http.ReleaseRequest(conn.request)
		conn.request = nil
		conn.lastActive = time.Now()
	}
}

// closeConnection closes and cleans up a connection
func (e *Engine) closeConnection(fd int) {
	e.connMu.Lock()
	conn, ok := e.connections[fd]
	if ok {
		delete(e.connections, fd)
	}
	e.connMu.Unlock()

	if ok {
		// 1. Fire the symmetric disconnect hook (tunnel Pipe Link) and
		// any attached query-handle cleanups before anything else is
		// torn down, so they can still see a consistent connection.
		if conn.Disconnect != nil {
			hook := conn.Disconnect
			conn.Disconnect = nil
			hook(conn)
		}
		for _, q := range conn.Queries {
			q.Cleanup()
		}
		conn.Queries = nil

		// 2. Remove from the reactor first (stop receiving events)
		e.reactor.Unregister(fd)

		// 3. Clean up pooled objects
		if conn.request != nil {
			e.requestPool.Put(conn.request)
			conn.request = nil
		}
		if conn.context != nil {
			e.contextPool.Put(conn.context)
			conn.context = nil
		}
		if conn.readBuf != nil {
			e.bytePool.Put(conn.readBuf)
			conn.readBuf = nil
		}

		// 4. Close the fd
		syscall.Close(fd)

		// 5. Reset and return connection to pool
		conn.Reset()
		e.connectionPool.Put(conn)
	}
}

// cleanupIdleConnections periodically removes idle connections
func (e *Engine) cleanupIdleConnections() {
	ticker := time.NewTicker(1 * time.Second) // Run every second
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		var toClose []int

		e.connMu.RLock()
		for fd, conn := range e.connections {
			// Close connections that have been idle too long (in any state except processing/sleeping)
			if conn.state != StateProcessing && conn.state != StateSleeping &&
				now.Sub(conn.lastActive) > e.idleTimeout {
				toClose = append(toClose, fd)
			}
		}
		e.connMu.RUnlock()

		for _, fd := range toClose {
			e.closeConnection(fd)
		}
	}
}

// Helper function to append int to byte slice
func appendInt(b []byte, i int) []byte {
	if i == 0 {
		return append(b, '0')
	}

	if i < 0 {
		b = append(b, '-')
		i = -i
	}

	var digits [20]byte
	n := 0
	for i > 0 {
		digits[n] = byte('0' + i%10)
		i /= 10
		n++
	}

	for n > 0 {
		n--
		b = append(b, digits[n])
	}

	return b
}
