package pgsql

import "github.com/searchktools/fast-server/core/reactor"

// Handle is the per-query state machine: one Handle corresponds to
// exactly one in-flight query, attached to at most one session at a
// time. Its Cleanup method satisfies core.Cleanup, so a Handle can be
// listed in core.Connection.Queries; nothing in this package adds it
// there.
type Handle struct {
	pool    *Pool
	session *session
	sleeper reactor.Sleeper

	query   string
	state   State
	result  *Result
	errMsg  string
	waiting bool
}

// Result is the query outcome handed to a Simple-Query Driver's
// Result callback — the tuple/cell accessors spec.md §6 names.
type Result struct {
	ntuples int
	nfields int
	value   func(row, col int) string
}

// NTuples returns the number of rows.
func (r *Result) NTuples() int { return r.ntuples }

// NFields returns the number of columns.
func (r *Result) NFields() int { return r.nfields }

// Value returns the textual value at row, col.
func (r *Result) Value(row, col int) string { return r.value(row, col) }

// State reports the handle's current lifecycle state.
func (h *Handle) State() State { return h.state }

// Result returns the last fetched result, or nil if none or not a tuple result.
func (h *Handle) Result() *Result { return h.result }

// Error returns the last error message, if State is StateError.
func (h *Handle) Error() string { return h.errMsg }

// Cleanup unconditionally and idempotently tears the handle down:
// frees any buffered result/error and releases an attached session
// back to the pool. Per spec.md §9's REDESIGN FLAG, this runs
// regardless of how far submission got — the source only calls
// cleanup when state != 0, silently leaking a session on some early
// failure paths; this implementation does not.
func (h *Handle) Cleanup() {
	if h.pool == nil {
		return
	}

	h.result = nil
	h.errMsg = ""

	if h.waiting {
		h.pool.mu.Lock()
		h.pool.removeWaiter(h)
		h.pool.mu.Unlock()
		h.waiting = false
	}

	if h.session != nil {
		h.pool.release(h)
	}

	h.state = StateComplete
	h.pool = nil
	h.sleeper = nil
}
