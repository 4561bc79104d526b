package walcodec

import (
	"encoding/binary"
	"io"
)

// CheckpointRecord is one entry in a reader checkpoint file: either a
// ReadHead(id) or a ReadDone(ids...).
type CheckpointRecord struct {
	Kind    CheckpointKind
	HeadID  uint64
	DoneIDs []uint64
}

// EncodeReadHead encodes a ReadHead(id) checkpoint record.
func EncodeReadHead(id uint64) []byte {
	body := make([]byte, 1+8)
	body[0] = byte(KindReadHead)
	binary.LittleEndian.PutUint64(body[1:9], id)
	return encodeFrame(body)
}

// EncodeReadDone encodes a ReadDone(ids...) checkpoint record.
func EncodeReadDone(ids []uint64) []byte {
	body := make([]byte, 1+4+8*len(ids))
	body[0] = byte(KindReadDone)
	binary.LittleEndian.PutUint32(body[1:5], uint32(len(ids)))
	for i, id := range ids {
		off := 5 + 8*i
		binary.LittleEndian.PutUint64(body[off:off+8], id)
	}
	return encodeFrame(body)
}

func decodeCheckpointBody(body []byte) (CheckpointRecord, error) {
	if len(body) < 1 {
		return CheckpointRecord{}, ErrCorruptFrame
	}
	switch CheckpointKind(body[0]) {
	case KindReadHead:
		if len(body) != 9 {
			return CheckpointRecord{}, ErrCorruptFrame
		}
		return CheckpointRecord{Kind: KindReadHead, HeadID: binary.LittleEndian.Uint64(body[1:9])}, nil
	case KindReadDone:
		if len(body) < 5 {
			return CheckpointRecord{}, ErrCorruptFrame
		}
		count := binary.LittleEndian.Uint32(body[1:5])
		if len(body) != int(5+8*count) {
			return CheckpointRecord{}, ErrCorruptFrame
		}
		ids := make([]uint64, count)
		for i := range ids {
			off := 5 + 8*i
			ids[i] = binary.LittleEndian.Uint64(body[off : off+8])
		}
		return CheckpointRecord{Kind: KindReadDone, DoneIDs: ids}, nil
	default:
		return CheckpointRecord{}, ErrUnknownKind
	}
}

// CheckpointScanner sequentially decodes checkpoint records.
type CheckpointScanner struct {
	r    io.ReaderAt
	off  int64
	size int64
}

// NewCheckpointScanner creates a scanner over r of the given total size.
func NewCheckpointScanner(r io.ReaderAt, size int64) *CheckpointScanner {
	return &CheckpointScanner{r: r, size: size}
}

// Next returns the next checkpoint record, io.EOF at a clean end of file, or
// ErrTornFrame/ErrCorruptFrame/ErrUnknownKind otherwise.
func (s *CheckpointScanner) Next() (CheckpointRecord, error) {
	body, next, err := readFrameBody(s.r, s.off, s.size)
	if err != nil {
		return CheckpointRecord{}, err
	}
	rec, err := decodeCheckpointBody(body)
	if err != nil {
		return CheckpointRecord{}, err
	}
	s.off = next
	return rec, nil
}

// ReplayCheckpoint replays every record in a checkpoint scanner and returns
// the effective reader state: the last ReadHead seen (0 if none) and the
// last ReadDone set seen (nil if none). A torn trailing record is tolerated
// (ignored; the file itself is not truncated); any other error is returned
// as-is.
func ReplayCheckpoint(s *CheckpointScanner) (head uint64, done []uint64, err error) {
	for {
		rec, rerr := s.Next()
		if rerr == io.EOF {
			return head, done, nil
		}
		if rerr == ErrTornFrame {
			// Torn tail of a checkpoint file is treated the same as a torn
			// writer frame: the last intact record wins.
			return head, done, nil
		}
		if rerr != nil {
			return head, done, rerr
		}
		switch rec.Kind {
		case KindReadHead:
			head = rec.HeadID
		case KindReadDone:
			done = rec.DoneIDs
		}
	}
}
