package journal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/relayq/relayq/internal/walcodec"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrCorruptInterior is returned from Open when a non-last (already-rotated)
// writer file contains a bad frame. A rotated file is never appended to
// again, so corruption there cannot be a torn trailing write — it is real
// damage, and startup refuses to proceed.
var ErrCorruptInterior = errors.New("journal: corrupt interior writer file")

type scanResult struct {
	files      []*writerFile
	checkpoint map[string]bool // reader name -> present
}

func (j *Journal) scanDirectory() (scanResult, error) {
	entries, err := afero.ReadDir(j.fs, j.dir)
	if err != nil {
		return scanResult{}, fmt.Errorf("journal: read dir: %w", err)
	}

	res := scanResult{checkpoint: map[string]bool{}}
	var writerNames []struct {
		name string
		ts   int64
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()

		if hasTempSuffix(name) {
			if err := j.fs.Remove(j.path(name)); err != nil {
				j.log.Warn("failed removing stale temp file", zap.String("file", name), zap.Error(err))
			}
			continue
		}
		if ts, ok := parseWriterFileName(j.name, name); ok {
			writerNames = append(writerNames, struct {
				name string
				ts   int64
			}{name, ts})
			continue
		}
		if reader, ok := parseCheckpointFileName(j.name, name); ok {
			res.checkpoint[reader] = true
			continue
		}
		// unrecognized name: ignored.
	}

	sort.Slice(writerNames, func(i, k int) bool { return writerNames[i].ts < writerNames[k].ts })

	for i, wn := range writerNames {
		isLast := i == len(writerNames)-1
		wf, err := j.loadWriterFile(wn.name, wn.ts, isLast)
		if err != nil {
			return scanResult{}, err
		}
		res.files = append(res.files, wf)
	}

	return res, nil
}

func hasTempSuffix(name string) bool {
	return len(name) >= len(tempSuffix) && name[len(name)-len(tempSuffix):] == tempSuffix
}

// truncateFile shortens the file at path to size bytes. afero's Fs interface
// has no Truncate method of its own; the underlying File does.
func (j *Journal) truncateFile(path string, size int64) error {
	f, err := j.fs.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(size)
}

// loadWriterFile scans a writer file end-to-end to compute its FileInfo. If
// isLast, a torn trailing frame truncates the file; otherwise any corruption
// is fatal (ErrCorruptInterior).
func (j *Journal) loadWriterFile(name string, ts int64, isLast bool) (*writerFile, error) {
	path := j.path(name)
	f, err := j.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", name, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("journal: stat %s: %w", name, err)
	}
	size := stat.Size()

	scanner := walcodec.NewWriterScanner(f, size)
	info := FileInfo{Path: path}
	var lastGoodOffset int64
	var n int64
	var payloadBytes int64

	for {
		it, err := scanner.Next()
		if err == io.EOF {
			break
		}
		if err == walcodec.ErrTornFrame || err == walcodec.ErrCorruptFrame {
			if !isLast {
				return nil, fmt.Errorf("%w: %s: %v", ErrCorruptInterior, name, err)
			}
			j.log.Warn("truncating torn tail", zap.String("file", name), zap.Int64("goodBytes", lastGoodOffset), zap.Int64("fileSize", size))
			if terr := j.truncateFile(path, lastGoodOffset); terr != nil {
				return nil, fmt.Errorf("journal: truncate %s: %w", name, terr)
			}
			size = lastGoodOffset
			break
		}
		if err != nil {
			return nil, fmt.Errorf("journal: decode %s: %w", name, err)
		}

		if n == 0 {
			info.HeadID = uint64(it.ID)
		}
		info.TailID = uint64(it.ID)
		n++
		payloadBytes += int64(len(it.Payload))
		lastGoodOffset = scanner.Offset()
	}

	info.ItemCount = n
	info.TotalBytes = payloadBytes
	return &writerFile{
		info:            info,
		ts:              ts,
		liveTailID:      info.TailID,
		liveItemCount:   n,
		livePayloadSize: payloadBytes,
		liveDiskSize:    size,
	}, nil
}

// loadReaderState replays a checkpoint file and clamps the result against
// the set of ids known to still exist on disk.
func (j *Journal) loadReaderState(name string, files []*writerFile) (*readerHandle, error) {
	path := j.path(checkpointFileName(j.name, name))
	f, err := j.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("journal: open checkpoint %s: %w", name, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("journal: stat checkpoint %s: %w", name, err)
	}

	scanner := walcodec.NewCheckpointScanner(f, stat.Size())
	head, done, err := walcodec.ReplayCheckpoint(scanner)
	if err != nil {
		return nil, fmt.Errorf("journal: replay checkpoint %s: %w", name, err)
	}

	rh := newReaderHandle(j, name, checkpointHeadToInternal(head), done)
	j.clampReaderRecovery(rh, files)
	return rh, nil
}
