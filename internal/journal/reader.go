package journal

import (
	"fmt"
	"sync"

	"github.com/relayq/relayq/internal/idset"
	"github.com/relayq/relayq/internal/walcodec"
	"go.uber.org/zap"
)

// readerHandle is one reader's durable progress against a journal: a head
// below which every id is done, plus the set of ids above head that have
// already been acknowledged out of order.
type readerHandle struct {
	j    *Journal
	name string

	mu   sync.Mutex
	head uint64
	done *idset.Set
}

func newReaderHandle(j *Journal, name string, head uint64, done []uint64) *readerHandle {
	return &readerHandle{
		j:    j,
		name: name,
		head: head,
		done: idset.FromSlice(done),
	}
}

// internalHeadToCheckpoint converts this package's inclusive head (the
// highest id fully consumed, 0 meaning none) into the on-disk ReadHead value,
// which names the first id that is NOT yet consumed.
func internalHeadToCheckpoint(head uint64) uint64 {
	if head == 0 {
		return 0
	}
	return head + 1
}

// checkpointHeadToInternal is the inverse of internalHeadToCheckpoint.
func checkpointHeadToInternal(raw uint64) uint64 {
	if raw == 0 {
		return 0
	}
	return raw - 1
}

// clampReaderRecovery handles a persisted head beyond anything still on
// disk: it cannot be trusted verbatim, since the writer files backing it may
// have been lost, so it is clamped down to the greatest id actually present.
// A head below the lowest id still on disk is raised to that id minus one,
// so the lowest id is replayed and later commits can advance the head.
func (j *Journal) clampReaderRecovery(rh *readerHandle, files []*writerFile) {
	var maxOnDisk, minOnDisk uint64
	for _, f := range files {
		if f.info.TailID > maxOnDisk {
			maxOnDisk = f.info.TailID
		}
		if f.info.HeadID != 0 && (minOnDisk == 0 || f.info.HeadID < minOnDisk) {
			minOnDisk = f.info.HeadID
		}
	}

	rh.mu.Lock()
	defer rh.mu.Unlock()

	if rh.head > maxOnDisk {
		j.log.Warn("clamping reader head to on-disk state",
			zap.String("reader", rh.name),
			zap.Uint64("persistedHead", rh.head),
			zap.Uint64("maxOnDisk", maxOnDisk))
		rh.head = maxOnDisk
	}
	if minOnDisk > 0 && rh.head+1 < minOnDisk {
		rh.head = minOnDisk - 1
	}
	rh.done.Difference(func(id uint64) bool { return id <= maxOnDisk })
	rh.head = rh.done.AbsorbContiguous(rh.head)
}

// Head reports the reader's current head (highest id such that every id at
// or below it is done).
func (rh *readerHandle) Head() uint64 {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	return rh.head
}

// IsDone reports whether id has already been committed by this reader,
// either because it falls at or below head or because it is in the
// out-of-order done set.
func (rh *readerHandle) IsDone(id uint64) bool {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	return id <= rh.head || rh.done.Contains(id)
}

// Commit records id as acknowledged and advances head through any
// contiguous run this closes. Head only ever moves forward.
func (rh *readerHandle) Commit(id uint64) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	if id <= rh.head {
		return
	}
	rh.done.Insert(id)
	rh.head = rh.done.AbsorbContiguous(rh.head)
}

// snapshot returns the (head, done) pair to persist.
func (rh *readerHandle) snapshot() (uint64, []uint64) {
	rh.mu.Lock()
	defer rh.mu.Unlock()
	return rh.head, rh.done.Ascending()
}

// persist durably writes the reader's checkpoint via a temp-file-plus-rename
// sequence so a crash mid-write never leaves a torn checkpoint behind.
func (rh *readerHandle) persist() error {
	head, done := rh.snapshot()

	path := rh.j.path(checkpointFileName(rh.j.name, rh.name))
	tmpPath := path + tempSuffix

	f, err := rh.j.fs.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("journal: create checkpoint temp file: %w", err)
	}

	buf := append(append([]byte(nil), walcodec.EncodeReadHead(internalHeadToCheckpoint(head))...), walcodec.EncodeReadDone(done)...)
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("journal: write checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("journal: sync checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("journal: close checkpoint temp file: %w", err)
	}
	if err := rh.j.fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("journal: rename checkpoint into place: %w", err)
	}
	return nil
}
