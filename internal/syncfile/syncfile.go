// Package syncfile implements a periodically-synced writable file
// (component C of relayq): each append is written straight through to the
// underlying file, with no in-memory buffer of its own, and a background
// schedule issues durability syncs at a bounded cadence.
package syncfile

import (
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Syncer is the subset of *os.File (or afero.File) that supports an explicit
// durability sync. afero's in-memory filesystem treats Sync as a no-op,
// which is exactly the semantics tests want.
type Syncer interface {
	afero.File
}

// Waiter is completed once a Sync covering the bytes written before it was
// registered has run: a single-assignment future over a durability result.
type Waiter struct {
	done chan struct{}
	err  error
}

// Wait blocks until the sync this waiter was registered against completes.
func (w *Waiter) Wait() error {
	<-w.done
	return w.err
}

func newWaiter() *Waiter {
	return &Waiter{done: make(chan struct{})}
}

func (w *Waiter) complete(err error) {
	w.err = err
	close(w.done)
}

// File is a write-through handle over an afero.File with a background sync
// cadence. A SyncEvery of 0 disables the background ticker: every Append
// syncs before it returns.
type File struct {
	log       *zap.Logger
	f         Syncer
	mu        sync.Mutex
	closed    bool
	pending   []*Waiter
	syncEvery time.Duration
	stop      chan struct{}
	stopped   chan struct{}
}

// Open wraps f with periodic-sync behavior. The ticker goroutine, if any,
// keeps running until Close is called.
func Open(f Syncer, syncEvery time.Duration, log *zap.Logger) *File {
	if log == nil {
		log = zap.NewNop()
	}
	sf := &File{
		log:       log,
		f:         f,
		syncEvery: syncEvery,
	}
	if syncEvery > 0 {
		sf.stop = make(chan struct{})
		sf.stopped = make(chan struct{})
		go sf.syncLoop()
	}
	return sf
}

func (sf *File) syncLoop() {
	defer close(sf.stopped)
	t := time.NewTicker(sf.syncEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := sf.Flush(); err != nil {
				sf.log.Warn("periodic sync failed", zap.Error(err))
			}
		case <-sf.stop:
			return
		}
	}
}

// Append writes bytes to the underlying file. With a positive SyncEvery it
// does not itself sync; call Flush (or wait for the next scheduled tick) for
// durability. With a SyncEvery of 0 it syncs before returning, and the
// returned waiter is already complete.
func (sf *File) Append(p []byte) (*Waiter, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed {
		return nil, errClosed
	}
	if _, err := sf.f.Write(p); err != nil {
		return nil, err
	}
	w := newWaiter()
	if sf.syncEvery <= 0 {
		err := sf.f.Sync()
		w.complete(err)
		return w, err
	}
	sf.pending = append(sf.pending, w)
	return w, nil
}

// Flush issues an explicit Sync and completes every waiter registered since
// the previous Flush.
func (sf *File) Flush() error {
	sf.mu.Lock()
	pending := sf.pending
	sf.pending = nil
	sf.mu.Unlock()

	err := sf.f.Sync()
	for _, w := range pending {
		w.complete(err)
	}
	return err
}

// Close flushes, stops the background ticker, and closes the underlying
// file. After Close returns without error, every byte appended is durable.
func (sf *File) Close() error {
	sf.mu.Lock()
	if sf.closed {
		sf.mu.Unlock()
		return nil
	}
	sf.closed = true
	sf.mu.Unlock()

	if sf.stop != nil {
		close(sf.stop)
		<-sf.stopped
	}

	err := sf.Flush()
	if cerr := sf.f.Close(); err == nil {
		err = cerr
	}
	return err
}

var errClosed = closedError{}

type closedError struct{}

func (closedError) Error() string { return "syncfile: file is closed" }
