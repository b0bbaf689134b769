package pgsql

import (
	"log"

	"github.com/searchktools/fast-server/core/reactor"
)

// step is what one state function of the Simple-Query Driver tells
// Run to do next, the Go rendering of HTTP_STATE_CONTINUE/RETRY/COMPLETE.
type step int

const (
	stepContinue step = iota
	stepRetry
	stepComplete
)

type simpleState int

const (
	stateInit simpleState = iota
	stateQuery
	stateWait
	stateResult
	stateDone
)

// Control is the handler-author-facing surface of the Simple-Query
// Driver: set SQL in Init, read the Result in Result, always clean up
// in Done.
type Control struct {
	Handle

	// Init is called once, first. Set SQL here (and UserData, if
	// needed) and return nil. Returning an error ends the query
	// immediately and skips straight to Done.
	Init func(c *Control) error

	// Result is called once, only if the query produced tuples,
	// before Done.
	Result func(c *Control)

	// Done is always called exactly once, last, whether the query
	// succeeded, failed, or Init itself declined to run it.
	Done func(c *Control)

	// SetStatus, if set, is invoked with 500 the moment a query's
	// session fails (StateError), before Done runs — the rendering of
	// pgsql_simple_state_wait's req->status = HTTP_STATUS_INTERNAL_ERROR
	// side effect. Leave nil for a query with no HTTP response to mark
	// (a background job, say).
	SetStatus func(code int)

	SQL      string
	UserData any

	pool  *Pool
	state simpleState
}

// Run drives ctrl's five-state machine to completion or to its next
// parked point, starting from whatever state it last left off at. It
// is re-entered by the resume closure installed via sleeper.Sleep, so
// the whole lifecycle of one query spans possibly many Run calls, one
// per reactor wakeup.
func Run(pool *Pool, sleeper reactor.Sleeper, ctrl *Control) {
	ctrl.pool = pool

	for {
		var s step

		switch ctrl.state {
		case stateInit:
			s = runInit(ctrl)
		case stateQuery:
			s = runQuery(pool, sleeper, ctrl)
		case stateWait:
			s = runWait(pool, ctrl)
		case stateResult:
			s = runResult(ctrl)
		case stateDone:
			s = runDone(pool, ctrl)
		default:
			reactor.Fatal("pgsql: unknown simple-query state %d", ctrl.state)
		}

		switch s {
		case stepContinue:
			continue
		case stepRetry:
			return
		case stepComplete:
			return
		}
	}
}

func runInit(ctrl *Control) step {
	if ctrl.Init == nil || ctrl.Done == nil {
		reactor.Fatal("pgsql: Control.Init and Control.Done are required")
	}

	ctrl.SQL = ""
	ctrl.UserData = nil
	ctrl.Handle.state = StateInit

	if err := ctrl.Init(ctrl); err != nil {
		ctrl.state = stateDone
		return stepContinue
	}

	ctrl.state = stateQuery
	return stepContinue
}

func runQuery(pool *Pool, sleeper reactor.Sleeper, ctrl *Control) step {
	if ctrl.SQL == "" {
		reactor.Fatal("pgsql: no SQL set after Init")
	}

	ctrl.state = stateWait

	resume := func() { Run(pool, sleeper, ctrl) }

	if err := pool.Submit(&ctrl.Handle, sleeper, resume, ctrl.SQL); err != nil {
		if ctrl.Handle.state == StateInit {
			// Still queued behind the waiter FIFO: not yet attached
			// to a session, nothing more to do until woken.
			ctrl.state = stateQuery
			return stepRetry
		}
		return stepContinue
	}

	return stepContinue
}

func runWait(pool *Pool, ctrl *Control) step {
	switch ctrl.Handle.state {
	case StateWait:
		return stepRetry
	case StateComplete:
		ctrl.state = stateDone
		return stepContinue
	case StateError:
		if ctrl.SetStatus != nil {
			ctrl.SetStatus(500)
		}
		log.Printf("pgsql error: %s", ctrl.Handle.errMsg)
		ctrl.state = stateDone
		return stepContinue
	case StateResult:
		ctrl.state = stateResult
		return stepContinue
	default:
		pool.Continue(&ctrl.Handle)
		return stepContinue
	}
}

func runResult(ctrl *Control) step {
	if ctrl.Result != nil {
		ctrl.Result(ctrl)
	}
	ctrl.state = stateDone
	return stepContinue
}

func runDone(pool *Pool, ctrl *Control) step {
	ctrl.Done(ctrl)

	// Unconditional and idempotent: spec.md §9's REDESIGN FLAG over the
	// source, which only cleans up when state != 0 and so can leak an
	// attached session on some early-failure paths.
	ctrl.Handle.Cleanup()

	return stepComplete
}
