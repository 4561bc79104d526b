// Package jq implements the Journaled Queue (component G): a durable,
// fan-out queue that composes one internal/journal.Journal with one
// in-memory queue/cbq buffer per reader. Puts are appended to the journal
// once and fanned out into every attached reader's buffer; each reader
// advances its own acknowledgement state independently.
package jq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relayq/relayq/internal/clock"
	"github.com/relayq/relayq/internal/journal"
	"github.com/relayq/relayq/internal/metrics"
	"github.com/relayq/relayq/internal/syncfile"
	"github.com/relayq/relayq/item"
	"github.com/relayq/relayq/queue/cbq"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrUnknownID is returned by Commit/Abort when id is not currently an open
// read for that reader.
var ErrUnknownID = errors.New("jq: id not open for this reader")

// journalReader is the subset of a journal reader handle's exported methods
// that this package needs. It is expressed as an interface because the
// concrete handle type returned by (*journal.Journal).Reader is internal to
// internal/journal.
type journalReader interface {
	Head() uint64
	IsDone(id uint64) bool
	Commit(id uint64)
}

// Options configures Open.
type Options struct {
	Dir         string
	Name        string
	Fs          afero.Fs
	Clock       clock.Clock
	MaxFileSize int64
	SyncEvery   time.Duration
	Log         *zap.Logger
	Metrics     *metrics.Set
	// MaxWaiters bounds concurrently blocked Get calls per reader. Zero
	// selects cbq.DefaultMaxWaiters.
	MaxWaiters int64
}

// Queue is a durable, multi-reader fan-out queue.
type Queue struct {
	name       string
	j          *journal.Journal
	metrics    *metrics.Set
	log        *zap.Logger
	maxWaiters int64

	mu      sync.Mutex
	readers map[string]*Reader
}

// Open recovers (or initializes) a journaled queue, reattaching an
// in-memory buffer — backfilled with every not-yet-acknowledged item — for
// each reader the underlying journal already knows about.
func Open(opts Options) (*Queue, error) {
	j, err := journal.Open(journal.Options{
		Dir:         opts.Dir,
		Name:        opts.Name,
		Fs:          opts.Fs,
		Clock:       opts.Clock,
		MaxFileSize: opts.MaxFileSize,
		SyncEvery:   opts.SyncEvery,
		Log:         opts.Log,
	})
	if err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewSet(opts.Name)
	}

	q := &Queue{
		name:       opts.Name,
		j:          j,
		metrics:    m,
		log:        log.With(zap.String("queue", opts.Name)),
		maxWaiters: opts.MaxWaiters,
		readers:    map[string]*Reader{},
	}

	for _, name := range j.ReaderNames() {
		if _, err := q.attachReaderLocked(name); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func displayName(name string) string {
	if name == journal.DefaultReader {
		return "default"
	}
	return name
}

// attachReaderLocked must be called with q.mu held.
func (q *Queue) attachReaderLocked(name string) (*Reader, error) {
	rh := q.j.Reader(name)
	r := &Reader{
		q:    q,
		name: name,
		rh:   rh,
		buf:  cbq.New(q.name+"/"+displayName(name), q.maxWaiters),
		open: map[item.ID]item.Item{},
	}

	items, err := q.j.ItemsAfter(rh.Head(), rh.IsDone)
	if err != nil {
		return nil, fmt.Errorf("jq: replay reader %q: %w", name, err)
	}
	for _, it := range items {
		r.buf.Put(it)
	}

	if name != journal.DefaultReader {
		// The journal retired its default reader when this named one was
		// created; stop fanning puts into the default's buffer too.
		delete(q.readers, journal.DefaultReader)
	}
	q.readers[name] = r
	q.log.Info("reader attached", zap.String("reader", displayName(name)), zap.Int("replayed", len(items)))
	return r, nil
}

// openReadCount sums every attached reader's currently open (delivered but
// not yet committed or aborted) item count.
func (q *Queue) openReadCount() int {
	q.mu.Lock()
	readers := make([]*Reader, 0, len(q.readers))
	for _, r := range q.readers {
		readers = append(readers, r)
	}
	q.mu.Unlock()

	total := 0
	for _, r := range readers {
		r.mu.Lock()
		total += len(r.open)
		r.mu.Unlock()
	}
	return total
}

// Put durably appends payload and enqueues it into every currently attached
// reader's in-memory buffer. The returned waiter resolves once the write is
// durable.
func (q *Queue) Put(payload []byte, expireMS int64) (item.ID, *syncfile.Waiter, error) {
	it, w, err := q.j.Put(payload, expireMS)
	if err != nil {
		return 0, nil, err
	}
	q.metrics.IncPut()

	start := time.Now()
	go func() {
		if werr := w.Wait(); werr == nil {
			q.metrics.ObservePutDurability(time.Since(start))
		}
	}()

	q.mu.Lock()
	readers := make([]*Reader, 0, len(q.readers))
	for _, r := range q.readers {
		readers = append(readers, r)
	}
	q.mu.Unlock()

	for _, r := range readers {
		r.buf.Put(it)
	}
	q.metrics.SetQueueSize(q.Size())
	q.metrics.SetJournalBytes(q.j.Stat().TotalDiskBytes)
	return it.ID, w, nil
}

// Reader returns the named reader, attaching it (replaying its backlog from
// the journal) the first time it is asked for.
func (q *Queue) Reader(name string) (*Reader, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r, ok := q.readers[name]; ok {
		return r, nil
	}
	return q.attachReaderLocked(name)
}

// existingReader looks up a reader by name without attaching one if absent.
func (q *Queue) existingReader(name string) (*Reader, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.readers[name]
	return r, ok
}

// Commit acknowledges id for the named reader, returning
// journal.ErrUnknownReader if that reader has never been attached via
// Reader.
func (q *Queue) Commit(name string, id item.ID) error {
	r, ok := q.existingReader(name)
	if !ok {
		return journal.ErrUnknownReader
	}
	return r.Commit(id)
}

// Abort returns id to the named reader's backlog, returning
// journal.ErrUnknownReader if that reader has never been attached via
// Reader.
func (q *Queue) Abort(name string, id item.ID) error {
	r, ok := q.existingReader(name)
	if !ok {
		return journal.ErrUnknownReader
	}
	return r.Abort(id)
}

// Checkpoint durably records every reader's progress and reclaims writer
// files no reader still needs. Reclamation inherently needs a view across
// every reader's head, so there is no narrower correct unit of durability
// than checkpointing all of them together; a single Reader's Checkpoint
// method delegates here.
func (q *Queue) Checkpoint() error {
	return q.j.Checkpoint()
}

// Close flushes and closes the underlying journal's writer file.
func (q *Queue) Close() error {
	return q.j.Close()
}

// Erase deletes every file belonging to this queue. The queue must not be
// used afterward.
func (q *Queue) Erase() error {
	return q.j.Erase()
}

// Size reports the sum of every attached reader's currently buffered
// (undelivered) item count. An admin surface over a multi-reader queue has
// no single "the" backlog, so this is the total outstanding work across all
// of them.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := 0
	for _, r := range q.readers {
		total += r.buf.Size()
	}
	return total
}

// ToDebug renders a human-readable summary of every attached reader plus
// the underlying journal's on-disk footprint.
func (q *Queue) ToDebug() string {
	q.mu.Lock()
	readers := make([]*Reader, 0, len(q.readers))
	for _, r := range q.readers {
		readers = append(readers, r)
	}
	q.mu.Unlock()

	st := q.j.Stat()
	out := fmt.Sprintf("jq[%s]: %d reader(s), %d writer file(s), %d bytes on disk",
		q.name, len(readers), st.WriterFileCount, st.TotalDiskBytes)
	for _, r := range readers {
		out += "\n  " + r.ToDebug()
	}
	return out
}

// Reader is one consumer's view of a Queue: its own in-memory backlog plus
// its own commit/abort state.
type Reader struct {
	q    *Queue
	name string
	rh   journalReader
	buf  *cbq.Queue

	mu   sync.Mutex
	open map[item.ID]item.Item
}

// Get blocks until an item is available or ctx ends, delivering the item as
// an open read: removed from the backlog but not yet committed or aborted.
func (r *Reader) Get(ctx context.Context) (item.Item, bool) {
	start := time.Now()
	it, ok := r.buf.Get(ctx)
	r.q.metrics.ObserveGetWait(time.Since(start))
	if !ok {
		return item.Item{}, false
	}

	r.mu.Lock()
	r.open[it.ID] = it
	r.mu.Unlock()

	r.q.metrics.IncGet()
	r.q.metrics.SetOpenReads(r.q.openReadCount())
	return it, true
}

// Commit acknowledges id, closing its open read and advancing this reader's
// head.
func (r *Reader) Commit(id item.ID) error {
	r.mu.Lock()
	_, ok := r.open[id]
	if ok {
		delete(r.open, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownID
	}
	r.rh.Commit(uint64(id))
	r.q.metrics.SetOpenReads(r.q.openReadCount())
	return nil
}

// Abort returns id to the front of this reader's backlog, ahead of any
// freshly put items, so it will be the next thing a subsequent Get returns.
func (r *Reader) Abort(id item.ID) error {
	r.mu.Lock()
	it, ok := r.open[id]
	if ok {
		delete(r.open, id)
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownID
	}
	r.buf.PutFront(it)
	r.q.metrics.SetOpenReads(r.q.openReadCount())
	return nil
}

// Checkpoint delegates to the owning Queue's Checkpoint.
func (r *Reader) Checkpoint() error {
	return r.q.Checkpoint()
}

// Size reports the number of items currently buffered (not yet delivered)
// for this reader.
func (r *Reader) Size() int {
	return r.buf.Size()
}

// ToDebug renders a human-readable summary of this reader's backlog.
func (r *Reader) ToDebug() string {
	return r.buf.ToDebug()
}
