// Package journal implements the durable, rotating, multi-reader append log
// that backs relayq's journaled queue (component E). A Journal owns a
// directory of writer files ("<name>.<timestampMs>") and per-reader
// checkpoint files ("<name>.read.<reader>"), and is responsible for startup
// recovery, id assignment, rotation, checkpoint persistence, and reclamation
// of fully-consumed writer files.
package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/relayq/relayq/internal/clock"
	"github.com/relayq/relayq/internal/syncfile"
	"github.com/relayq/relayq/internal/walcodec"
	"github.com/relayq/relayq/item"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultReader is the implicit reader name used when no explicit name is
// given to Reader. At most one reader may ever use this name: once any named
// reader exists, the default reader is retired.
const DefaultReader = ""

// DefaultMaxFileSize is used when Options.MaxFileSize is left at zero.
const DefaultMaxFileSize = 16 * 1024 * 1024

// ErrUnknownReader is returned by code above this package (queue/jq) when a
// caller names a reader that was never created via Reader.
var ErrUnknownReader = errors.New("journal: unknown reader")

// Options configures Open.
type Options struct {
	// Dir is the directory the journal's files live in. Must already exist.
	Dir string
	// Name is the queue name; all of this journal's files share this
	// prefix, which lets several queues coexist in one directory.
	Name string
	// Fs is the filesystem to use. Defaults to the OS filesystem.
	Fs afero.Fs
	// Clock is the time source used for rotation timestamps. Defaults to
	// the system clock.
	Clock clock.Clock
	// MaxFileSize rotates to a new writer file once the active file would
	// exceed this many bytes. Defaults to DefaultMaxFileSize.
	MaxFileSize int64
	// SyncEvery is the periodic durability-sync cadence passed to the
	// active writer file's syncfile.File. Zero means sync on every write.
	SyncEvery time.Duration
	// Log receives structured diagnostics. Defaults to a no-op logger.
	Log *zap.Logger
}

// Journal is a durable, rotating, multi-reader append log.
type Journal struct {
	name        string
	dir         string
	fs          afero.Fs
	clock       clock.Clock
	maxFileSize int64
	syncEvery   time.Duration
	log         *zap.Logger

	mu      sync.Mutex
	files   []*writerFile
	writer  *syncfile.File
	current *writerFile
	nextID  uint64
	readers map[string]*readerHandle
}

// Open recovers (or initializes) a journal rooted at opts.Dir/opts.Name.
func Open(opts Options) (*Journal, error) {
	if opts.Name == "" {
		return nil, errors.New("journal: Name is required")
	}
	if opts.Dir == "" {
		return nil, errors.New("journal: Dir is required")
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	cl := opts.Clock
	if cl == nil {
		cl = clock.System()
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	maxFileSize := opts.MaxFileSize
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}

	j := &Journal{
		name:        opts.Name,
		dir:         opts.Dir,
		fs:          fs,
		clock:       cl,
		maxFileSize: maxFileSize,
		syncEvery:   opts.SyncEvery,
		log:         log.With(zap.String("queue", opts.Name)),
		readers:     map[string]*readerHandle{},
	}

	scan, err := j.scanDirectory()
	if err != nil {
		return nil, err
	}
	j.files = scan.files

	if len(j.files) == 0 {
		j.nextID = 1
	} else {
		j.nextID = j.files[len(j.files)-1].info.TailID + 1
	}

	if len(scan.checkpoint) == 0 {
		j.readers[DefaultReader] = newReaderHandle(j, DefaultReader, 0, nil)
	} else {
		hasNamed := false
		for name := range scan.checkpoint {
			if name != DefaultReader {
				hasNamed = true
				break
			}
		}
		if hasNamed && scan.checkpoint[DefaultReader] {
			path := j.path(checkpointFileName(j.name, DefaultReader))
			if err := j.fs.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("journal: remove stale default checkpoint: %w", err)
			}
			delete(scan.checkpoint, DefaultReader)
		}
		for name := range scan.checkpoint {
			rh, err := j.loadReaderState(name, j.files)
			if err != nil {
				return nil, err
			}
			j.readers[name] = rh
		}
	}

	if err := j.openCurrentForWrite(); err != nil {
		return nil, err
	}

	j.log.Info("journal opened",
		zap.Int("writerFiles", len(j.files)),
		zap.Uint64("nextID", j.nextID),
		zap.Int("readers", len(j.readers)))

	return j, nil
}

func (j *Journal) path(name string) string {
	return filepath.Join(j.dir, name)
}

// openCurrentForWrite opens (or creates) the active writer file for
// appending, rotating a fresh file if there is none yet.
func (j *Journal) openCurrentForWrite() error {
	if len(j.files) == 0 {
		return j.rotateLocked()
	}
	last := j.files[len(j.files)-1]
	f, err := j.fs.OpenFile(last.info.Path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: reopen active writer file: %w", err)
	}
	j.current = last
	j.writer = syncfile.Open(f, j.syncEvery, j.log)
	return nil
}

// rotateLocked closes the current writer file (if any) and opens a new one
// named after the journal's clock. Caller must hold j.mu.
func (j *Journal) rotateLocked() error {
	if j.writer != nil {
		if err := j.writer.Close(); err != nil {
			return fmt.Errorf("journal: close rotated-out writer file: %w", err)
		}
		j.current.finalize()
	}

	ts := j.clock.Now().UnixMilli()
	name := writerFileName(j.name, ts)
	path := j.path(name)

	f, err := j.fs.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: create writer file: %w", err)
	}

	wf := &writerFile{info: FileInfo{Path: path}, ts: ts}
	j.files = append(j.files, wf)
	j.current = wf
	j.writer = syncfile.Open(f, j.syncEvery, j.log)
	return nil
}

// Put appends a new item and returns the durable item (with its assigned id
// and recorded add-time) plus a waiter that resolves once the write is
// durable. The composing queue layer (queue/jq) uses the returned Item to
// seed each reader's in-memory queue without re-deriving the add-time the
// journal itself assigned.
func (j *Journal) Put(payload []byte, expireMS int64) (item.Item, *syncfile.Waiter, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	id := item.ID(j.nextID)
	it := item.Item{ID: id, AddTimeMS: j.clock.Now().UnixMilli(), ExpireMS: expireMS, Payload: payload}
	frame := walcodec.EncodePut(it)

	if j.current.liveDiskSize > 0 && j.current.liveDiskSize+int64(len(frame)) > j.maxFileSize {
		if err := j.rotateLocked(); err != nil {
			return item.Item{}, nil, err
		}
	}

	w, err := j.writer.Append(frame)
	if err != nil {
		return item.Item{}, nil, fmt.Errorf("journal: append: %w", err)
	}

	if j.current.liveItemCount == 0 {
		j.current.info.HeadID = uint64(id)
	}
	j.current.liveTailID = uint64(id)
	j.current.liveItemCount++
	j.current.livePayloadSize += int64(len(payload))
	j.current.liveDiskSize += int64(len(frame))
	j.nextID++

	return it, w, nil
}

// FileInfoForID returns the writer file that contains id: the last file
// whose HeadID is at or below id. An id below the first file's HeadID
// resolves to the first file. id 0 never resolves to a file.
func (j *Journal) FileInfoForID(id uint64) (FileInfo, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if id == 0 || len(j.files) == 0 {
		return FileInfo{}, false
	}
	if id < j.files[0].info.HeadID {
		return j.files[0].info, true
	}
	idx := sort.Search(len(j.files), func(i int) bool { return j.files[i].info.HeadID > id })
	if idx == 0 {
		return FileInfo{}, false
	}
	return j.files[idx-1].info, true
}

// ReaderNames reports every reader currently known to this journal (those
// discovered at recovery plus those created since via Reader). queue/jq uses
// this at startup to reattach its own per-reader in-memory queues.
func (j *Journal) ReaderNames() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	names := make([]string, 0, len(j.readers))
	for name := range j.readers {
		names = append(names, name)
	}
	return names
}

// ItemsAfter returns every record still on disk with id greater than head
// and for which isDone reports false, in ascending id order. queue/jq uses
// this to seed (or reseed, after a crash) a reader's in-memory backlog with
// exactly the items it has not yet acknowledged: an open read not committed
// or aborted before a crash becomes available again.
func (j *Journal) ItemsAfter(head uint64, isDone func(uint64) bool) ([]item.Item, error) {
	j.mu.Lock()
	files := append([]*writerFile(nil), j.files...)
	j.mu.Unlock()

	var out []item.Item
	for _, f := range files {
		if f.info.TailID != 0 && f.info.TailID <= head {
			continue
		}
		items, err := j.readFileItems(f)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			id := uint64(it.ID)
			if id <= head || isDone(id) {
				continue
			}
			out = append(out, it)
		}
	}
	return out, nil
}

func (j *Journal) readFileItems(f *writerFile) ([]item.Item, error) {
	file, err := j.fs.Open(f.info.Path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", f.info.Path, err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("journal: stat %s: %w", f.info.Path, err)
	}

	scanner := walcodec.NewWriterScanner(file, stat.Size())
	var items []item.Item
	for {
		it, err := scanner.Next()
		if err == io.EOF || err == walcodec.ErrTornFrame {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("journal: decode %s: %w", f.info.Path, err)
		}
		items = append(items, it)
	}
	return items, nil
}

// Reader returns the named reader, creating it (at head 0, empty done set)
// if it does not yet exist. Creating the first explicitly-named reader
// retires the implicit default reader: its checkpoint file is removed and it
// is dropped from the journal. Asking for DefaultReader by name while named
// readers exist creates the default reader again alongside them.
func (j *Journal) Reader(name string) *readerHandle {
	j.mu.Lock()
	defer j.mu.Unlock()

	if rh, ok := j.readers[name]; ok {
		return rh
	}

	if name != DefaultReader {
		if _, ok := j.readers[DefaultReader]; ok {
			path := j.path(checkpointFileName(j.name, DefaultReader))
			if err := j.fs.Remove(path); err != nil && !os.IsNotExist(err) {
				j.log.Warn("failed removing default reader checkpoint", zap.Error(err))
			}
			delete(j.readers, DefaultReader)
		}
	}

	rh := newReaderHandle(j, name, 0, nil)
	j.readers[name] = rh
	return rh
}

// Stat is a read-only directory summary, the natural counterpart to Erase:
// where Erase destroys everything a journal owns, Stat reports how much of
// it there currently is, for collaborators like internal/adminapi that want
// a cheap overview without walking the reader/writer internals themselves.
type Stat struct {
	WriterFileCount int
	ReaderCount     int
	TotalDiskBytes  int64
	OldestFile      string
	NewestFile      string
}

// Stat reports a directory-level summary of this journal's on-disk state.
func (j *Journal) Stat() Stat {
	j.mu.Lock()
	defer j.mu.Unlock()

	st := Stat{WriterFileCount: len(j.files), ReaderCount: len(j.readers)}
	for i, f := range j.files {
		st.TotalDiskBytes += f.liveDiskSize
		if i == 0 {
			st.OldestFile = f.info.Path
		}
		st.NewestFile = f.info.Path
	}
	return st
}

// Checkpoint persists every reader's progress and reclaims writer files that
// no reader can still need. Readers are independent files on independent
// paths, so their persists run concurrently.
func (j *Journal) Checkpoint() error {
	j.mu.Lock()
	readers := make([]*readerHandle, 0, len(j.readers))
	for _, rh := range j.readers {
		readers = append(readers, rh)
	}
	j.mu.Unlock()

	var g errgroup.Group
	for _, rh := range readers {
		g.Go(rh.persist)
	}
	if err := g.Wait(); err != nil {
		return err
	}

	return j.reclaim(readers)
}

// reclaim deletes writer files whose ids are all at or below every reader's
// head,
// skipping the currently-active file: never delete the file the writer
// might still be appending to, or from which FileInfoForID might be asked.
func (j *Journal) reclaim(readers []*readerHandle) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(readers) == 0 || len(j.files) <= 1 {
		return nil
	}

	minHead := readers[0].Head()
	for _, rh := range readers[1:] {
		if h := rh.Head(); h < minHead {
			minHead = h
		}
	}

	kept := j.files[:0:0]
	for _, f := range j.files {
		isActive := f == j.current
		if !isActive && f.info.TailID <= minHead {
			if err := j.fs.Remove(f.info.Path); err != nil {
				return fmt.Errorf("journal: reclaim %s: %w", f.info.Path, err)
			}
			j.log.Info("reclaimed writer file", zap.String("file", f.info.Path), zap.Uint64("tailID", f.info.TailID))
			continue
		}
		kept = append(kept, f)
	}
	j.files = kept
	return nil
}

// Erase deletes every file belonging to this journal (all writer and
// checkpoint files). The journal must not be used afterward.
func (j *Journal) Erase() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer != nil {
		_ = j.writer.Close()
	}
	for _, f := range j.files {
		if err := j.fs.Remove(f.info.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("journal: erase %s: %w", f.info.Path, err)
		}
	}
	for name := range j.readers {
		path := j.path(checkpointFileName(j.name, name))
		if err := j.fs.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("journal: erase checkpoint %s: %w", path, err)
		}
	}
	j.files = nil
	j.readers = map[string]*readerHandle{}
	return nil
}

// Close flushes and closes the active writer file. It does not checkpoint;
// call Checkpoint first if reader durability across restarts matters.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.writer == nil {
		return nil
	}
	return j.writer.Close()
}
