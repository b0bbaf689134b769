// Package wire is a from-scratch libpq-shaped async PostgreSQL client
// built directly on the wire protocol codec, not database/sql: connect
// is a blocking dial-and-handshake, everything after that is
// non-blocking and driven by the caller polling a raw fd, exactly the
// shape core/pgsql needs to park a request on a reactor instead of a
// goroutine.
package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgproto3"
)

// Status classifies what a Result represents, the Go rendering of
// libpq's PQresultStatus switch.
type Status int

const (
	StatusCommandOK Status = iota
	StatusTuplesOK
	StatusEmptyQuery
	StatusError
)

// Result is a fully-drained response to one query: either a command
// tag (INSERT/UPDATE/DELETE/CREATE ...) or a tuple set.
type Result struct {
	status Status
	fields []string
	rows   [][]string
	errMsg string
}

// Status reports what kind of result this is.
func (r *Result) Status() Status { return r.status }

// NTuples returns the number of rows in a tuple result.
func (r *Result) NTuples() int { return len(r.rows) }

// NFields returns the number of columns in a tuple result.
func (r *Result) NFields() int { return len(r.fields) }

// Value returns the textual value of row, col. Empty string if out of range.
func (r *Result) Value(row, col int) string {
	if row < 0 || row >= len(r.rows) {
		return ""
	}
	if col < 0 || col >= len(r.rows[row]) {
		return ""
	}
	return r.rows[row][col]
}

// ErrorMessage returns the server's error text for a StatusError result.
func (r *Result) ErrorMessage() string { return r.errMsg }

// fdReadWriter adapts a raw fd to io.Reader/io.Writer. On the read
// side, EAGAIN/EWOULDBLOCK is surfaced as io.ErrNoProgress rather than
// a hard error: pgproto3's chunked reader keeps whatever partial
// message bytes it already buffered and resumes correctly on the next
// call, which is exactly what lets a single Frontend be driven across
// repeated non-blocking reactor wakeups instead of one blocking read.
//
// On the write side, EAGAIN is not surfaced to pgproto3 at all:
// whatever doesn't fit in a single non-blocking write() is copied into
// pending and reported as fully written, since a short write to the
// socket is not the same thing as a short write of this io.Writer
// (pgproto3 has nowhere to park the unwritten remainder and would
// otherwise have to treat it as a hard error). flush retries pending
// later, once Socket() reports writable.
type fdReadWriter struct {
	fd      int
	pending []byte
}

func (rw *fdReadWriter) Read(p []byte) (int, error) {
	n, err := syscall.Read(rw.fd, p)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return 0, io.ErrNoProgress
		}
		return 0, err
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (rw *fdReadWriter) Write(p []byte) (int, error) {
	if len(rw.pending) > 0 {
		rw.pending = append(rw.pending, p...)
		return len(p), nil
	}

	n, err := syscall.Write(rw.fd, p)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			rw.pending = append([]byte(nil), p...)
			return len(p), nil
		}
		return n, err
	}
	if n < len(p) {
		rw.pending = append([]byte(nil), p[n:]...)
	}
	return len(p), nil
}

// flush retries whatever write() couldn't take last time. Returns nil
// once pending is fully drained (or was already empty); a non-nil
// error means the socket itself is broken.
func (rw *fdReadWriter) flush() error {
	if len(rw.pending) == 0 {
		return nil
	}
	n, err := syscall.Write(rw.fd, rw.pending)
	if err != nil {
		if err == syscall.EAGAIN || err == syscall.EWOULDBLOCK {
			return nil
		}
		return err
	}
	rw.pending = rw.pending[n:]
	return nil
}

// Conn is one backend session: a frontend protocol pump plus the
// message queue accumulated by ConsumeInput between result fetches.
type Conn struct {
	fd     int
	fe     *pgproto3.Frontend
	rw     *fdReadWriter
	queue  []pgproto3.BackendMessage
	closed bool
}

// dsn holds the handful of connection parameters this driver
// understands. Trust/cleartext auth only — see DESIGN.md OQ-2.
type dsn struct {
	host, port, user, password, database string
}

func parseDSN(s string) (dsn, error) {
	d := dsn{host: "localhost", port: "5432", user: "postgres", database: "postgres"}

	if strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://") {
		u, err := url.Parse(s)
		if err != nil {
			return dsn{}, err
		}
		if u.Hostname() != "" {
			d.host = u.Hostname()
		}
		if u.Port() != "" {
			d.port = u.Port()
		}
		if u.User != nil {
			d.user = u.User.Username()
			if pw, ok := u.User.Password(); ok {
				d.password = pw
			}
		}
		if strings.TrimPrefix(u.Path, "/") != "" {
			d.database = strings.TrimPrefix(u.Path, "/")
		}
		return d, nil
	}

	// key=value DSN, the libpq "connection string" form.
	for _, field := range strings.Fields(s) {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "host":
			d.host = kv[1]
		case "port":
			d.port = kv[1]
		case "user":
			d.user = kv[1]
		case "password":
			d.password = kv[1]
		case "dbname":
			d.database = kv[1]
		}
	}
	return d, nil
}

// resolveIPv4 resolves host to a 4-byte IPv4 address, blocking.
func resolveIPv4(host string) ([]byte, error) {
	if ip := net.ParseIP(host); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
		return nil, fmt.Errorf("pgsql: %s is not an IPv4 address", host)
	}

	addrs, err := net.LookupIP(host)
	if err != nil {
		return nil, err
	}
	for _, a := range addrs {
		if v4 := a.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("pgsql: no IPv4 address found for %s", host)
}

// Connect performs the blocking dial and startup handshake. This is
// the only blocking call in the package, matching spec.md's "connect
// by connection string, blocking" — once it returns, every other
// operation on Conn is non-blocking.
func Connect(connString string) (*Conn, error) {
	cfg, err := parseDSN(connString)
	if err != nil {
		return nil, fmt.Errorf("pgsql: invalid connection string: %w", err)
	}

	portNum, err := strconv.Atoi(cfg.port)
	if err != nil {
		return nil, fmt.Errorf("pgsql: invalid port %q", cfg.port)
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}

	addr, err := resolveIPv4(cfg.host)
	if err != nil {
		syscall.Close(fd)
		return nil, err
	}

	sa := &syscall.SockaddrInet4{Port: portNum}
	copy(sa.Addr[:], addr)

	if err := syscall.Connect(fd, sa); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pgsql: connect: %w", err)
	}

	rw := &fdReadWriter{fd: fd}
	fe := pgproto3.NewFrontend(rw, rw)

	fe.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters: map[string]string{
			"user":     cfg.user,
			"database": cfg.database,
		},
	})
	if err := fe.Flush(); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("pgsql: startup: %w", err)
	}

	ready := false
	for !ready {
		msg, err := fe.Receive()
		if err != nil {
			syscall.Close(fd)
			return nil, fmt.Errorf("pgsql: startup: %w", err)
		}

		switch m := msg.(type) {
		case *pgproto3.AuthenticationOk:
		case *pgproto3.AuthenticationCleartextPassword:
			fe.Send(&pgproto3.PasswordMessage{Password: cfg.password})
			if err := fe.Flush(); err != nil {
				syscall.Close(fd)
				return nil, fmt.Errorf("pgsql: auth: %w", err)
			}
		case *pgproto3.AuthenticationMD5Password, *pgproto3.AuthenticationSASL:
			syscall.Close(fd)
			return nil, fmt.Errorf("pgsql: unsupported authentication method %T", m)
		case *pgproto3.ReadyForQuery:
			ready = true
		case *pgproto3.ErrorResponse:
			syscall.Close(fd)
			return nil, errors.New("pgsql: " + m.Message)
		case *pgproto3.BackendKeyData:
		case *pgproto3.ParameterStatus:
		default:
			// Ignore anything else sent before ReadyForQuery.
		}
	}

	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return nil, err
	}

	return &Conn{fd: fd, fe: fe, rw: rw}, nil
}

// Socket returns the session's raw fd, for registration on a reactor.
func (c *Conn) Socket() int { return c.fd }

// SendQuery submits sql via the simple query protocol. Non-blocking:
// Flush never blocks (fdReadWriter buffers whatever doesn't fit), but
// the bytes may not all be on the wire yet — check HasPendingWrite and
// register for writable interest too when they aren't.
func (c *Conn) SendQuery(sql string) error {
	c.fe.Send(&pgproto3.Query{String: sql})
	return c.fe.Flush()
}

// HasPendingWrite reports whether some of the last SendQuery's bytes
// are still buffered locally, not yet written to the socket.
func (c *Conn) HasPendingWrite() bool { return len(c.rw.pending) > 0 }

// FlushPending retries writing whatever didn't make it onto the wire
// on the last attempt. Call this when Socket() reports writable.
func (c *Conn) FlushPending() error { return c.rw.flush() }

// ConsumeInput drains whatever is currently available on the socket
// into the frontend's message queue without blocking. It is the
// rendering of PQconsumeInput: it advances the protocol state but
// does not itself decide whether a result is ready — call IsBusy for
// that.
func (c *Conn) ConsumeInput() error {
	for {
		msg, err := c.fe.Receive()
		if err != nil {
			if errors.Is(err, io.ErrNoProgress) {
				return nil
			}
			return err
		}

		clone := cloneMessage(msg)
		c.queue = append(c.queue, clone)

		if _, ok := clone.(*pgproto3.ReadyForQuery); ok {
			return nil
		}
	}
}

// IsBusy reports whether a complete result is not yet available.
func (c *Conn) IsBusy() bool {
	for _, msg := range c.queue {
		if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
			return false
		}
	}
	return true
}

// GetResult drains one queued result from the queue. Returns a nil
// Result, nil error once the queue has been fully consumed for this
// query cycle, matching PQgetResult's NULL-terminated result sequence.
func (c *Conn) GetResult() (*Result, error) {
	if len(c.queue) == 0 {
		return nil, nil
	}

	res := &Result{}
	consumed := 0

	for i, msg := range c.queue {
		consumed = i + 1

		switch m := msg.(type) {
		case *pgproto3.RowDescription:
			res.fields = make([]string, len(m.Fields))
			for fi, f := range m.Fields {
				res.fields[fi] = string(f.Name)
			}
		case *pgproto3.DataRow:
			row := make([]string, len(m.Values))
			for vi, v := range m.Values {
				if v == nil {
					row[vi] = ""
					continue
				}
				row[vi] = string(v)
			}
			res.rows = append(res.rows, row)
		case *pgproto3.CommandComplete:
			res.status = StatusCommandOK
			if len(res.rows) > 0 || len(res.fields) > 0 {
				res.status = StatusTuplesOK
			}
			c.queue = c.queue[consumed:]
			return res, nil
		case *pgproto3.EmptyQueryResponse:
			res.status = StatusEmptyQuery
			c.queue = c.queue[consumed:]
			return res, nil
		case *pgproto3.ErrorResponse:
			res.status = StatusError
			res.errMsg = m.Message
			c.queue = c.queue[consumed:]
			return res, nil
		case *pgproto3.ReadyForQuery:
			c.queue = c.queue[consumed:]
			if res.fields == nil && res.rows == nil && res.errMsg == "" {
				return nil, nil
			}
			return res, nil
		}
	}

	c.queue = nil
	return res, nil
}

// Clear drops any buffered, unread result state. The wire driver keeps
// no server-side cursor to cancel, so this simply empties the queue.
func (c *Conn) Clear() {
	c.queue = nil
}

// Finalize closes the session. Safe to call more than once.
func (c *Conn) Finalize() {
	if c.closed {
		return
	}
	c.closed = true
	syscall.Close(c.fd)
}

// cloneMessage copies a backend message out of pgproto3's internal
// reusable buffer, since the Frontend overwrites it on the next Receive.
func cloneMessage(msg pgproto3.BackendMessage) pgproto3.BackendMessage {
	switch m := msg.(type) {
	case *pgproto3.RowDescription:
		fields := append([]pgproto3.FieldDescription(nil), m.Fields...)
		return &pgproto3.RowDescription{Fields: fields}
	case *pgproto3.DataRow:
		values := make([][]byte, len(m.Values))
		for i, v := range m.Values {
			if v != nil {
				values[i] = append([]byte(nil), v...)
			}
		}
		return &pgproto3.DataRow{Values: values}
	case *pgproto3.CommandComplete:
		return &pgproto3.CommandComplete{CommandTag: append([]byte(nil), m.CommandTag...)}
	case *pgproto3.ErrorResponse:
		cp := *m
		return &cp
	case *pgproto3.ReadyForQuery:
		cp := *m
		return &cp
	case *pgproto3.EmptyQueryResponse:
		return &pgproto3.EmptyQueryResponse{}
	default:
		return msg
	}
}
