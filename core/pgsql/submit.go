package pgsql

import (
	"github.com/searchktools/fast-server/core/pgsql/wire"
	"github.com/searchktools/fast-server/core/reactor"
)

// Submit attaches h to query and either starts it on a session
// immediately or parks it on the waiter FIFO, sleeping the caller on
// both the queued path and the submitted path — the rendering of
// kore_pgsql_async. If dialing a new session or sending the query
// fails, Submit returns that error with the handle in StateError and
// the caller is left awake. resume is
// invoked (via sleeper.Wake) once the handle is ready to make
// progress again: either a session freed up for it, or its query
// produced a readable result.
func (p *Pool) Submit(h *Handle, sleeper reactor.Sleeper, resume func(), query string) error {
	h.pool = p
	h.sleeper = sleeper
	h.query = query
	h.state = StateInit
	h.result = nil
	h.errMsg = ""

	p.mu.Lock()

	if len(p.free) == 0 {
		if p.count >= p.cfg.PoolSize {
			h.waiting = true
			p.waiters = append(p.waiters, h)
			p.mu.Unlock()
			sleeper.Sleep(resume)
			return ErrQueued
		}

		sess, err := p.dial()
		if err != nil {
			p.mu.Unlock()
			h.state = StateError
			h.errMsg = err.Error()
			return err
		}
		p.free = append(p.free, sess)
	}

	sess := p.free[0]
	p.free = p.free[1:]
	p.mu.Unlock()

	sess.handle = h
	h.session = sess

	if err := sess.conn.SendQuery(query); err != nil {
		p.cleanupSession(sess, err)
		return err
	}

	h.state = StateWait
	sleeper.Sleep(resume)

	if err := p.reactor.Register(sess.conn.Socket(), sess.conn.HasPendingWrite(), p.onReadable(sess)); err != nil {
		p.cleanupSession(sess, err)
		return err
	}

	return nil
}

// onReadable is the reactor callback for a session's fd becoming
// ready — readable once the query's reply starts arriving, or
// writable first if SendQuery couldn't push the whole query onto the
// wire in one non-blocking write. The rendering of kore_pgsql_handle,
// extended with the write-drain step the source never needed (libpq's
// blocking connect makes its own send call block until complete).
func (p *Pool) onReadable(sess *session) reactor.Callback {
	return func(err error) {
		if err != nil {
			p.cleanupSession(sess, err)
			return
		}

		if sess.conn.HasPendingWrite() {
			if ferr := sess.conn.FlushPending(); ferr != nil {
				p.cleanupSession(sess, ferr)
				return
			}
			if sess.conn.HasPendingWrite() {
				// Still backed up; wait for the next writable wakeup
				// before expecting a reply that hasn't been sent yet.
				return
			}
			if serr := p.reactor.SetWritable(sess.conn.Socket(), false); serr != nil {
				p.cleanupSession(sess, serr)
				return
			}
		}

		h := sess.handle
		if h == nil {
			return
		}

		if cerr := sess.conn.ConsumeInput(); cerr != nil {
			h.state = StateError
			h.errMsg = cerr.Error()
		} else {
			p.readResult(h, sess)
		}

		// Still StateWait: the connection stays asleep on the resume
		// closure installed by Submit, and this same callback fires
		// again on the session's next readiness event. Anything else
		// (Result/Error/Done) is ready for the driver to continue, so
		// wake the original caller now.
		if h.state != StateWait {
			h.sleeper.Wake()
		}
	}
}

// readResult classifies the next buffered message on sess, the Go
// rendering of pgsql_read_result's five-way switch on result status.
func (p *Pool) readResult(h *Handle, sess *session) {
	if sess.conn.IsBusy() {
		h.state = StateWait
		return
	}

	res, err := sess.conn.GetResult()
	if err != nil {
		h.state = StateError
		h.errMsg = err.Error()
		return
	}

	if res == nil {
		h.state = StateDone
		return
	}

	switch res.Status() {
	case wire.StatusCommandOK, wire.StatusEmptyQuery:
		h.state = StateDone
	case wire.StatusTuplesOK:
		h.result = toResult(res)
		h.state = StateResult
	case wire.StatusError:
		h.state = StateError
		h.errMsg = res.ErrorMessage()
	}
}

// toResult snapshots a wire.Result into the handle-facing Result type.
func toResult(res *wire.Result) *Result {
	ntuples := res.NTuples()
	nfields := res.NFields()
	return &Result{
		ntuples: ntuples,
		nfields: nfields,
		value:   res.Value,
	}
}

// Continue advances h past a StateResult/StateError snapshot, the
// rendering of kore_pgsql_continue: clear the buffered result/error,
// and if the session has more to say (another statement's result in
// the same simple-query response), re-enter onReadable synchronously.
func (p *Pool) Continue(h *Handle) {
	h.result = nil
	h.errMsg = ""

	switch h.state {
	case StateInit, StateWait:
	case StateDone:
		h.sleeper.Wake()
		p.release(h)
	case StateError, StateResult:
		p.onReadable(h.session)(nil)
	default:
		reactor.Fatal("pgsql: unknown handle state %d", h.state)
	}
}

// release returns h's session to the free list and wakes the next
// waiter, the rendering of pgsql_conn_release.
func (p *Pool) release(h *Handle) {
	sess := h.session
	if sess == nil {
		return
	}

	sess.conn.Clear()
	p.reactor.Unregister(sess.conn.Socket())

	p.mu.Lock()
	sess.handle = nil
	p.free = append(p.free, sess)
	h.session = nil
	h.state = StateComplete
	p.wakeNextWaiter()
	p.mu.Unlock()
}

// cleanupSession tears a session down after an unrecoverable I/O
// error, the rendering of pgsql_conn_cleanup: the in-flight handle (if
// any) is woken with an error, and the session itself is finalized
// rather than returned to the free list.
func (p *Pool) cleanupSession(sess *session, err error) {
	p.reactor.Unregister(sess.conn.Socket())

	if h := sess.handle; h != nil {
		h.state = StateError
		h.errMsg = err.Error()
		h.session = nil
		sess.handle = nil
		h.sleeper.Wake()
	}

	sess.conn.Finalize()

	p.mu.Lock()
	p.count--
	p.mu.Unlock()
}
