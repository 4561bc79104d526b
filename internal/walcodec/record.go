package walcodec

import (
	"encoding/binary"
	"io"

	"github.com/relayq/relayq/item"
)

// EncodePut encodes a Put writer record: kind(1) id(8) addTime(8)
// expireTime(8) payloadLen(4) payload(N), wrapped in the frame header
// defined in frame.go.
func EncodePut(it item.Item) []byte {
	body := make([]byte, 1+8+8+8+4+len(it.Payload))
	body[0] = byte(KindPut)
	binary.LittleEndian.PutUint64(body[1:9], uint64(it.ID))
	binary.LittleEndian.PutUint64(body[9:17], uint64(it.AddTimeMS))
	binary.LittleEndian.PutUint64(body[17:25], uint64(it.ExpireMS))
	binary.LittleEndian.PutUint32(body[25:29], uint32(len(it.Payload)))
	copy(body[29:], it.Payload)
	return encodeFrame(body)
}

func decodePutBody(body []byte) (item.Item, error) {
	if len(body) < 29 {
		return item.Item{}, ErrCorruptFrame
	}
	if RecordKind(body[0]) != KindPut {
		return item.Item{}, ErrUnknownKind
	}
	id := binary.LittleEndian.Uint64(body[1:9])
	addTime := int64(binary.LittleEndian.Uint64(body[9:17]))
	expireTime := int64(binary.LittleEndian.Uint64(body[17:25]))
	payloadLen := binary.LittleEndian.Uint32(body[25:29])
	if uint32(len(body)-29) != payloadLen {
		return item.Item{}, ErrCorruptFrame
	}
	payload := append([]byte(nil), body[29:]...)
	return item.Item{ID: item.ID(id), AddTimeMS: addTime, ExpireMS: expireTime, Payload: payload}, nil
}

// WriterScanner sequentially decodes Put records from a writer file.
type WriterScanner struct {
	r    io.ReaderAt
	off  int64
	size int64
}

// NewWriterScanner creates a scanner over r, which has the given total size.
func NewWriterScanner(r io.ReaderAt, size int64) *WriterScanner {
	return &WriterScanner{r: r, size: size}
}

// Offset returns the scanner's current position (bytes consumed so far).
func (s *WriterScanner) Offset() int64 { return s.off }

// Next returns the next Put record, io.EOF at a clean end of file,
// ErrTornFrame for a truncated trailing frame, or ErrCorruptFrame/
// ErrUnknownKind for a checksum mismatch or unrecognized kind.
func (s *WriterScanner) Next() (item.Item, error) {
	body, next, err := readFrameBody(s.r, s.off, s.size)
	if err != nil {
		return item.Item{}, err
	}
	it, err := decodePutBody(body)
	if err != nil {
		return item.Item{}, err
	}
	s.off = next
	return it, nil
}
