// Package tunnel hijacks an accepted HTTP connection into a raw
// bidirectional byte pipe to an arbitrary dialed TCP endpoint. It is
// the framework's demonstration of how far the reactor's connection
// abstraction can be pushed beyond HTTP request/response: once the
// handler returns, both sides of the pipe are driven purely by fd
// readiness, byte-for-byte, until either side goes away.
package tunnel

import (
	"log"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/searchktools/fast-server/core"
	"github.com/searchktools/fast-server/core/http"
)

// chunkSize bounds a single relay read, matching the engine's default
// connection read buffer.
const chunkSize = 8192

// Metrics is the narrow slice of core/observability.PoolMetrics that
// the tunnel needs, kept as a local interface so this package doesn't
// import core/observability just to bump two gauges.
type Metrics interface {
	IncTunnelLinks()
	DecTunnelLinks()
}

type noopMetrics struct{}

func (noopMetrics) IncTunnelLinks() {}
func (noopMetrics) DecTunnelLinks() {}

// Handler opens a tunnel from the calling connection to the host:port
// named by the "host" and "port" query parameters. Register it on a
// route (GET /tunnel, say); on success the client connection is
// hijacked and stops speaking HTTP — every subsequent byte it sends is
// relayed verbatim to the dialed peer, and vice versa. metrics may be
// nil, in which case link counts simply aren't tracked. dialTimeout
// bounds the synchronous outbound dial; zero means no timeout.
func Handler(engine *core.Engine, metrics Metrics, dialTimeout time.Duration) core.HandlerFunc {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return func(ctx http.Context) {
		host := ctx.Query("host")
		port := ctx.Query("port")
		if host == "" || port == "" {
			ctx.Error(400, "host and port are required")
			return
		}

		nport, err := strconv.ParseUint(port, 10, 16)
		if err != nil || nport == 0 || nport > 32767 {
			ctx.Error(400, "invalid port")
			return
		}

		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			ctx.Error(400, "invalid IPv4 host")
			return
		}

		fdctx, ok := ctx.(*http.FDContext)
		if !ok {
			ctx.Error(500, "tunnel requires the fd-based context")
			return
		}
		fd := fdctx.FD()

		conn, ok := engine.Connection(fd)
		if !ok {
			ctx.Error(500, "connection not tracked")
			return
		}

		peerFD, err := dial(host, uint16(nport), dialTimeout)
		if err != nil {
			log.Printf("tunnel: dial %s:%d failed: %v", host, nport, err)
			ctx.Error(500, "could not reach target")
			return
		}

		if err := link(engine, conn, peerFD, metrics, ctx.Body()); err != nil {
			syscall.Close(peerFD)
			log.Printf("tunnel: link failed: %v", err)
			ctx.Error(500, "tunnel setup failed")
			return
		}

		metrics.IncTunnelLinks()
		log.Printf("tunnel: opened %d -> %s:%d (peer fd %d)", fd, host, nport, peerFD)
		ctx.String(200, "")
	}
}

// dial opens a TCP connection to addr:port with net.DialTimeout (the
// only blocking syscall the tunnel ever makes), then hands back its
// raw, non-blocking fd so the reactor can take over from here.
func dial(host string, port uint16, timeout time.Duration) (int, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	var conn net.Conn
	var err error
	if timeout > 0 {
		conn, err = net.DialTimeout("tcp", addr, timeout)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return -1, err
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		conn.Close()
		return -1, syscall.EINVAL
	}

	file, err := tcpConn.File()
	// File() dups the fd into a blocking-mode os.File; the original
	// net.Conn is no longer needed once we own the duplicate.
	tcpConn.Close()
	if err != nil {
		return -1, err
	}

	fd := int(file.Fd())
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return -1, err
	}

	return fd, nil
}

// link cross-wires client and peer: each becomes the other's Ext, each
// gets a symmetric Disconnect hook, and both are registered on the
// shared reactor with a pipeData callback that forwards whatever it
// reads straight to the other side. pending is whatever bytes the
// parser found past the request's headers in the same read() that
// carried the hijack request — the resolved form of Open Question
// OQ-1 — and is forwarded to peer before either side switches over.
func link(engine *core.Engine, client *core.Connection, peerFD int, metrics Metrics, pending []byte) error {
	peer := engine.NewPeerConnection(peerFD, "unknown")

	client.Ext = peer
	peer.Ext = client
	client.Disconnect = disconnectHook(engine, metrics)
	peer.Disconnect = disconnectHook(engine, metrics)
	client.Protocol = "unknown"
	client.Hijack()

	if err := engine.Reactor().Register(peerFD, false, pipeData(engine, peer)); err != nil {
		return err
	}

	if len(pending) > 0 {
		if err := engine.Write(peer, pending); err != nil {
			return err
		}
	}

	// The client fd is already registered (it got here via the normal
	// accept path); rebind its callback from the HTTP step loop to the
	// pipe relay without touching the poller's watch list.
	engine.Reactor().Rebind(client.FD(), pipeData(engine, client))

	return nil
}

// pipeData relays bytes read from src to its linked peer. Registered
// as the reactor callback for both ends of a pipe. Every invocation —
// whether it carries an actual readable event or just a writable one
// for a backlog this side was asked to drain — counts as traffic, so
// src.Touch() keeps cleanupIdleConnections from mistaking a live
// tunnel for a stale one (rebinding a fd to this callback takes it out
// of handleConnectionEvent's own lastActive refresh).
func pipeData(engine *core.Engine, src *core.Connection) func(error) {
	return func(err error) {
		if err != nil {
			engine.Close(src.FD())
			return
		}

		src.Touch()

		// Drain whatever this side still owes its peer before reading
		// more off of it: engine.Write buffers short writes rather than
		// blocking, and SetWritable(true) is what scheduled this very
		// wakeup in that case.
		if ferr := engine.FlushPending(src); ferr != nil {
			engine.Close(src.FD())
			return
		}
		if src.HasPendingWrite() {
			return
		}

		buf := engine.ReadBuf(src, chunkSize)
		n, rerr := syscall.Read(src.FD(), buf)
		if rerr != nil {
			if rerr == syscall.EAGAIN || rerr == syscall.EWOULDBLOCK {
				return
			}
			engine.Close(src.FD())
			return
		}
		if n == 0 {
			engine.Close(src.FD())
			return
		}

		dst, ok := src.Ext.(*core.Connection)
		if !ok || dst == nil {
			return
		}

		if werr := engine.Write(dst, buf[:n]); werr != nil {
			engine.Close(src.FD())
			engine.Close(dst.FD())
			return
		}

		dst.Touch()
	}
}

// disconnectHook builds the symmetric teardown hook fired when either
// side of a pipe closes. It severs the cross-link before tearing down
// the peer, so the peer's own Engine.Close doesn't loop back into this
// connection's Disconnect a second time.
func disconnectHook(engine *core.Engine, metrics Metrics) func(*core.Connection) {
	return func(c *core.Connection) {
		peer, ok := c.Ext.(*core.Connection)
		if !ok || peer == nil {
			return
		}
		c.Ext = nil
		peer.Ext = nil
		peer.Disconnect = nil
		peer.Protocol = ""
		metrics.DecTunnelLinks()
		engine.Close(peer.FD())
	}
}
