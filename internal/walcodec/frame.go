// Package walcodec implements the on-disk record framing for relayq's
// journal (writer records) and reader checkpoints (component D).
//
// Frame layout, little-endian throughout:
//
//	checksum  uint64   xxhash64 over everything from kind to end of payload
//	frameLen  uint32   number of bytes following this field (kind..payload)
//	kind      byte
//	...kind-specific fields...
//
// The checksum+frameLen pair lets a reader detect a torn trailing frame
// (fewer bytes on disk than frameLen promises, or a checksum mismatch)
// without needing to understand the kind-specific payload.
package walcodec

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/cespare/xxhash/v2"
)

// RecordKind identifies the kind of a writer record.
type RecordKind byte

const (
	// KindPut is the only writer record kind today. Future kinds are
	// reserved but must be rejected as corruption by readers that don't
	// recognize them.
	KindPut RecordKind = 1
)

// CheckpointKind identifies the kind of a reader-checkpoint record.
type CheckpointKind byte

const (
	KindReadHead CheckpointKind = 1
	KindReadDone CheckpointKind = 2
)

const (
	checksumSize = 8
	frameLenSize = 4
	frameHeaderSize = checksumSize + frameLenSize
)

var (
	// ErrCorruptFrame is returned by a reader when a frame's checksum does
	// not match its bytes. Component E decides whether this is recoverable
	// (tail) or fatal (interior) based on which file it occurred in.
	ErrCorruptFrame = errors.New("walcodec: corrupt frame")
	// ErrTornFrame is returned when fewer bytes remain on disk than the
	// frame's length prefix promises — the classic truncated-write case.
	ErrTornFrame = errors.New("walcodec: torn frame")
	// ErrUnknownKind is returned when a frame declares a record kind this
	// codec version does not recognize.
	ErrUnknownKind = errors.New("walcodec: unknown record kind")
)

// encodeFrame wraps body (kind byte followed by kind-specific fields) with
// the checksum+length header and returns the full frame bytes.
func encodeFrame(body []byte) []byte {
	frame := make([]byte, frameHeaderSize+len(body))
	copy(frame[frameHeaderSize:], body)
	binary.LittleEndian.PutUint32(frame[checksumSize:frameHeaderSize], uint32(len(body)))
	sum := xxhash.Sum64(body)
	binary.LittleEndian.PutUint64(frame[0:checksumSize], sum)
	return frame
}

// readFrameBody reads one frame at offset off from r (which must support
// ReadAt over a file of length size) and returns its body bytes (kind plus
// kind-specific fields) and the offset immediately following the frame.
//
// Returns io.EOF if off is exactly the end of the file (clean end of file).
// Returns ErrTornFrame if only part of a header remains, or if the header
// promises more body bytes than remain in the file. Returns ErrCorruptFrame
// if the checksum doesn't match.
func readFrameBody(r io.ReaderAt, off, size int64) ([]byte, int64, error) {
	if off+frameHeaderSize > size {
		if off == size {
			return nil, off, io.EOF
		}
		return nil, off, ErrTornFrame
	}

	header := make([]byte, frameHeaderSize)
	if _, err := r.ReadAt(header, off); err != nil && err != io.EOF {
		return nil, off, err
	}
	expectedSum := binary.LittleEndian.Uint64(header[0:checksumSize])
	bodyLen := int64(binary.LittleEndian.Uint32(header[checksumSize:frameHeaderSize]))

	if off+frameHeaderSize+bodyLen > size {
		return nil, off, ErrTornFrame
	}

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := r.ReadAt(body, off+frameHeaderSize); err != nil && err != io.EOF {
			return nil, off, err
		}
	}

	if xxhash.Sum64(body) != expectedSum {
		return nil, off, ErrCorruptFrame
	}

	return body, off + frameHeaderSize + bodyLen, nil
}
