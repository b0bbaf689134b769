// Package reactor wraps core/poller with an fd-to-owner callback
// registry, so every non-blocking I/O source in the process — client
// HTTP connections, tunnel peer sockets, PostgreSQL sessions — shares
// one epoll/kqueue set and one readiness dispatch loop.
package reactor

import (
	"log"
	"os"

	"github.com/searchktools/fast-server/core/poller"
)

// Callback is invoked when fd becomes ready (readable, or writable while
// writable interest is on), or with err != nil when the poller detects
// the fd is no longer usable.
type Callback func(err error)

// Sleeper is anything that can be parked on a suspension point and
// resumed later — core.Connection satisfies this structurally, so
// core/pgsql can park requests without importing the core package.
type Sleeper interface {
	// Sleep parks the caller; resume runs once Wake is called.
	Sleep(resume func())
	// Wake resumes a parked caller. A no-op if not currently asleep.
	Wake()
}

// Reactor owns the poller and the fd -> callback registry. It is the
// Go rendering of the host framework's "Reactor Interface": register,
// unregister, and one readiness callback per ready fd.
type Reactor struct {
	poller    poller.Poller
	callbacks map[int]Callback
}

// New creates a Reactor around a fresh platform poller.
func New() (*Reactor, error) {
	p, err := poller.NewPoller()
	if err != nil {
		return nil, err
	}
	return &Reactor{
		poller:    p,
		callbacks: make(map[int]Callback, 1024),
	}, nil
}

// Register adds fd to the watch set with the given owner callback.
// write requests writable-readiness delivery in addition to readable.
func (r *Reactor) Register(fd int, write bool, cb Callback) error {
	if err := r.poller.Add(fd, write); err != nil {
		return err
	}
	r.callbacks[fd] = cb
	return nil
}

// SetWritable toggles writable interest on an already-registered fd.
func (r *Reactor) SetWritable(fd int, enable bool) error {
	return r.poller.SetWritable(fd, enable)
}

// Rebind swaps the callback owning an already-registered fd without
// touching the poller's watch list. A connection hijacked into a
// tunnel (or handed off to the pgsql gateway) keeps its epoll/kqueue
// registration; only who answers for its readiness changes.
func (r *Reactor) Rebind(fd int, cb Callback) {
	if _, ok := r.callbacks[fd]; !ok {
		return
	}
	r.callbacks[fd] = cb
}

// Unregister removes fd from the watch set and drops its callback.
// Safe to call more than once for the same fd.
func (r *Reactor) Unregister(fd int) {
	if _, ok := r.callbacks[fd]; !ok {
		return
	}
	r.poller.Remove(fd)
	delete(r.callbacks, fd)
}

// Wait blocks up to timeoutMs and returns the ready fds, in readiness order.
func (r *Reactor) Wait(timeoutMs int) ([]int, error) {
	return r.poller.Wait(timeoutMs)
}

// Dispatch invokes the callback registered for fd, if any, with a nil
// error. Unknown fds (already unregistered by a prior callback in the
// same readiness batch) are silently ignored.
func (r *Reactor) Dispatch(fd int) {
	if cb, ok := r.callbacks[fd]; ok {
		cb(nil)
	}
}

// DispatchError invokes the callback registered for fd with a non-nil
// error, signalling an I/O failure detected by the poller or caller.
func (r *Reactor) DispatchError(fd int, err error) {
	if cb, ok := r.callbacks[fd]; ok {
		cb(err)
	}
}

// Close shuts down the underlying poller.
func (r *Reactor) Close() error {
	return r.poller.Close()
}

// Fatal aborts the worker process. Reserved for invariant violations
// that indicate a programming error rather than a runtime condition —
// a session on the free list without its free flag, an unknown
// QueryHandle state, a negative fd on a connection believed open.
func Fatal(format string, args ...any) {
	log.Printf("FATAL: "+format, args...)
	os.Exit(1)
}
