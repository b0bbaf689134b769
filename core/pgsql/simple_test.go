package pgsql

import "testing"

func TestRunWithoutConnStringReachesDoneWithError(t *testing.T) {
	pool := New(Config{PoolSize: 1}, nil)
	var sleeper fakeSleeper

	var doneCalled, resultCalled bool
	var gotErr string

	ctrl := &Control{
		Init: func(c *Control) error {
			c.SQL = "select 1"
			return nil
		},
		Result: func(c *Control) {
			resultCalled = true
		},
		Done: func(c *Control) {
			doneCalled = true
			gotErr = c.Error()
		},
	}

	Run(pool, &sleeper, ctrl)

	if !doneCalled {
		t.Fatal("expected Done to be called")
	}
	if resultCalled {
		t.Error("expected Result not to be called on a dial failure")
	}
	if gotErr == "" {
		t.Error("expected a non-empty error message in Done")
	}
	// Cleanup runs unconditionally after Done, regardless of how far
	// submission got.
	if ctrl.Handle.State() != StateComplete {
		t.Errorf("expected StateComplete after Cleanup, got %v", ctrl.Handle.State())
	}
}

func TestRunInitErrorSkipsStraightToDone(t *testing.T) {
	pool := New(Config{PoolSize: 1}, nil)
	var sleeper fakeSleeper

	var doneCalled bool
	ctrl := &Control{
		Init: func(c *Control) error {
			return errInitDeclined
		},
		Done: func(c *Control) {
			doneCalled = true
		},
	}

	Run(pool, &sleeper, ctrl)

	if !doneCalled {
		t.Fatal("expected Done to be called even when Init declines the query")
	}
	// Cleanup is a no-op here: Init declined before any session was
	// ever attached, so there is nothing for it to release.
	if ctrl.Handle.State() != StateInit {
		t.Errorf("expected StateInit (Cleanup has nothing to release), got %v", ctrl.Handle.State())
	}
}

func TestRunSetStatusCalledWithFiveHundredOnSessionError(t *testing.T) {
	// No ConnString configured: Submit's dial fails immediately, which
	// lands the handle in StateError by the time runWait next sees it —
	// the same state a session that dies mid-query would produce.
	pool := New(Config{PoolSize: 1}, nil)
	var sleeper fakeSleeper

	var gotStatus, statusCalls int

	ctrl := &Control{
		Init: func(c *Control) error {
			c.SQL = "select 1"
			return nil
		},
		SetStatus: func(code int) {
			statusCalls++
			gotStatus = code
		},
		Done: func(c *Control) {},
	}

	Run(pool, &sleeper, ctrl)

	if statusCalls != 1 {
		t.Fatalf("expected SetStatus called exactly once, got %d", statusCalls)
	}
	if gotStatus != 500 {
		t.Errorf("expected status 500, got %d", gotStatus)
	}
}


type initDeclinedError struct{}

func (initDeclinedError) Error() string { return "init declined" }

var errInitDeclined error = initDeclinedError{}
