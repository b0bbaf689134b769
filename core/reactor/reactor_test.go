package reactor

import (
	"errors"
	"os"
	"testing"
)

func TestRegisterDispatch(t *testing.T) {
	rt, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	fired := false
	if err := rt.Register(int(r.Fd()), false, func(error) { fired = true }); err != nil {
		t.Fatal(err)
	}

	rt.Dispatch(int(r.Fd()))
	if !fired {
		t.Error("expected Dispatch to invoke the registered callback")
	}
}

func TestRebindSwapsCallbackWithoutReregistering(t *testing.T) {
	rt, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	fd := int(r.Fd())
	firstCalled, secondCalled := false, false

	if err := rt.Register(fd, false, func(error) { firstCalled = true }); err != nil {
		t.Fatal(err)
	}

	rt.Rebind(fd, func(error) { secondCalled = true })

	rt.Dispatch(fd)

	if firstCalled {
		t.Error("expected the original callback to no longer fire after Rebind")
	}
	if !secondCalled {
		t.Error("expected the rebound callback to fire")
	}
}

func TestRebindUnknownFDIsNoop(t *testing.T) {
	rt, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	// Must not panic, and must not register a callback for an fd that
	// was never Register'd.
	rt.Rebind(999999, func(error) {})
	rt.Dispatch(999999)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	rt, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	fd := int(r.Fd())
	called := false
	if err := rt.Register(fd, false, func(error) { called = true }); err != nil {
		t.Fatal(err)
	}

	rt.Unregister(fd)
	rt.Unregister(fd) // must not panic the second time

	rt.Dispatch(fd)
	if called {
		t.Error("expected no callback to fire after Unregister")
	}
}

func TestDispatchErrorCarriesError(t *testing.T) {
	rt, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	fd := int(r.Fd())
	wantErr := errors.New("boom")
	var gotErr error

	if err := rt.Register(fd, false, func(e error) { gotErr = e }); err != nil {
		t.Fatal(err)
	}

	rt.DispatchError(fd, wantErr)

	if gotErr != wantErr {
		t.Errorf("expected callback to receive %v, got %v", wantErr, gotErr)
	}
}

func TestSetWritableTogglesInterestOnRegisteredFD(t *testing.T) {
	rt, err := New()
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	fd := int(w.Fd())
	if err := rt.Register(fd, false, func(error) {}); err != nil {
		t.Fatal(err)
	}

	if err := rt.SetWritable(fd, true); err != nil {
		t.Fatalf("enabling writable interest on a registered fd: %v", err)
	}
	if err := rt.SetWritable(fd, false); err != nil {
		t.Fatalf("disabling writable interest on a registered fd: %v", err)
	}
}

type fakeSleeper struct {
	asleep bool
	resume func()
}

func (s *fakeSleeper) Sleep(resume func()) {
	s.asleep = true
	s.resume = resume
}

func (s *fakeSleeper) Wake() {
	if !s.asleep {
		return
	}
	s.asleep = false
	resume := s.resume
	s.resume = nil
	if resume != nil {
		resume()
	}
}

func TestSleeperWakeRunsResumeOnce(t *testing.T) {
	var s fakeSleeper
	calls := 0

	s.Sleep(func() { calls++ })
	s.Wake()
	s.Wake() // second Wake without a new Sleep must be a no-op

	if calls != 1 {
		t.Errorf("expected resume to run exactly once, got %d", calls)
	}
}
