package core

import (
	"os"
	"syscall"
	"testing"
	"time"
)

// TestWriteBuffersShortWriteAndFlushPendingDrains exercises the
// backpressure path a slow tunnel peer or HTTP client would trigger:
// Write must never block or busy-spin on EAGAIN, and whatever it
// couldn't push onto the fd must still make it out eventually via
// FlushPending once the reader catches up.
func TestWriteBuffersShortWriteAndFlushPendingDrains(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	wfd := int(w.Fd())
	if err := syscall.SetNonblock(wfd, true); err != nil {
		t.Fatal(err)
	}

	engine := NewEngine()
	conn := engine.NewPeerConnection(wfd, "test")
	if err := engine.Reactor().Register(wfd, false, func(error) {}); err != nil {
		t.Fatal(err)
	}

	// Saturate the pipe's kernel buffer so the next Write can only
	// partially complete.
	chunk := make([]byte, 65536)
	for {
		n, werr := syscall.Write(wfd, chunk)
		if werr != nil {
			if werr == syscall.EAGAIN || werr == syscall.EWOULDBLOCK {
				break
			}
			t.Fatal(werr)
		}
		if n == 0 {
			break
		}
	}

	payload := []byte("more bytes than the saturated pipe can take right now")
	if err := engine.Write(conn, payload); err != nil {
		t.Fatalf("Write returned an error instead of buffering: %v", err)
	}
	if !conn.HasPendingWrite() {
		t.Fatal("expected the unwritten remainder to be buffered as pending, not silently dropped")
	}

	// Drain the pipe concurrently so the backlog has somewhere to go.
	done := make(chan struct{})
	go func() {
		defer close(done)
		drain := make([]byte, 65536)
		for {
			n, rerr := r.Read(drain)
			if n == 0 || rerr != nil {
				return
			}
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for conn.HasPendingWrite() && time.Now().Before(deadline) {
		if ferr := engine.FlushPending(conn); ferr != nil {
			t.Fatalf("FlushPending: %v", ferr)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if conn.HasPendingWrite() {
		t.Fatal("expected FlushPending to eventually drain the backlog")
	}

	w.Close()
	<-done
}

// TestFlushPendingNoopWhenNothingBuffered confirms the common case —
// no backlog — costs nothing and reports success.
func TestFlushPendingNoopWhenNothingBuffered(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	defer w.Close()

	engine := NewEngine()
	conn := engine.NewPeerConnection(int(w.Fd()), "test")

	if err := engine.FlushPending(conn); err != nil {
		t.Errorf("expected nil error with nothing pending, got %v", err)
	}
	if conn.HasPendingWrite() {
		t.Error("expected no pending write")
	}
}
