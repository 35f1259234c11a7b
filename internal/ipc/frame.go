// Package ipc implements the framed, length-prefixed, bidirectional byte
// stream between parent and worker (spec §4.5, C6). It knows nothing about
// request/progress/result semantics — that discipline lives one layer up,
// in internal/rpc — it only frames and unframes raw payloads behind a
// leading tag byte.
package ipc

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Tag identifies which kind of payload follows a frame, per the table in
// spec §4.6.
type Tag byte

const (
	TagRequest  Tag = 0x00
	TagProgress Tag = 0x01
	TagResult   Tag = 0x02
	TagShutdown Tag = 0x03
)

func (t Tag) String() string {
	switch t {
	case TagRequest:
		return "Request"
	case TagProgress:
		return "Progress"
	case TagResult:
		return "Result"
	case TagShutdown:
		return "Shutdown"
	default:
		return fmt.Sprintf("Tag(0x%02x)", byte(t))
	}
}

// ErrWorkerGone is returned when a frame read hits EOF mid-stream — a
// short read or a partial frame at end-of-stream (spec §4.5 error model).
var ErrWorkerGone = errors.New("ipc: worker gone")

// ErrProtocolViolation is returned when a frame cannot be decoded into a
// sane tag/length pair. Fatal to the current worker connection (spec §4.5).
var ErrProtocolViolation = errors.New("ipc: protocol violation")

// maxFrameLen bounds a single frame's payload to guard against a
// corrupted length prefix turning into an unbounded allocation.
const maxFrameLen = 64 << 20 // 64 MiB

// Frame is one tagged payload.
type Frame struct {
	Tag     Tag
	Payload []byte
}

// Writer frames outgoing payloads: a 4-byte big-endian length (covering the
// tag byte plus payload), the tag byte, then the payload.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w for framed writes.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteFrame writes one frame. It is safe to call concurrently with reads
// on a different Reader over the same connection, but not concurrently
// with itself — callers serialise their own writes.
func (fw *Writer) WriteFrame(tag Tag, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)+1))
	buf := make([]byte, 0, 4+1+len(payload))
	buf = append(buf, hdr[:]...)
	buf = append(buf, byte(tag))
	buf = append(buf, payload...)
	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("ipc: write frame: %w", err)
	}
	return nil
}

// Reader unframes incoming payloads.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for framed reads.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame reads one frame, blocking until a full frame is available.
func (fr *Reader) ReadFrame() (Frame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrWorkerGone
		}
		return Frame{}, fmt.Errorf("ipc: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > maxFrameLen {
		return Frame{}, ErrProtocolViolation
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrWorkerGone
		}
		return Frame{}, fmt.Errorf("ipc: read frame body: %w", err)
	}
	return Frame{Tag: Tag(body[0]), Payload: body[1:]}, nil
}
