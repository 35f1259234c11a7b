package ipc

import (
	"bytes"
	"errors"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteFrame(TagRequest, []byte("hello")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if err := w.WriteFrame(TagProgress, []byte("world")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	r := NewReader(&buf)
	f1, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f1.Tag != TagRequest || string(f1.Payload) != "hello" {
		t.Errorf("f1 = %+v", f1)
	}
	f2, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f2.Tag != TagProgress || string(f2.Payload) != "world" {
		t.Errorf("f2 = %+v", f2)
	}
}

func TestReadFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteFrame(TagShutdown, nil); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	r := NewReader(&buf)
	f, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if f.Tag != TagShutdown || len(f.Payload) != 0 {
		t.Errorf("f = %+v", f)
	}
}

func TestReadFrameEOFIsWorkerGone(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	_, err := r.ReadFrame()
	if !errors.Is(err, ErrWorkerGone) {
		t.Errorf("err = %v, want ErrWorkerGone", err)
	}
}

func TestReadFramePartialIsWorkerGone(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteFrame(TagRequest, []byte("hello")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	truncated := buf.Bytes()[:5]
	r := NewReader(bytes.NewReader(truncated))
	_, err := r.ReadFrame()
	if !errors.Is(err, ErrWorkerGone) {
		t.Errorf("err = %v, want ErrWorkerGone", err)
	}
}

func TestReadFrameZeroLengthIsProtocolViolation(t *testing.T) {
	var hdr [4]byte // all zero -> length 0, invalid since tag byte is mandatory
	r := NewReader(bytes.NewReader(hdr[:]))
	_, err := r.ReadFrame()
	if !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("err = %v, want ErrProtocolViolation", err)
	}
}

func TestTagString(t *testing.T) {
	cases := map[Tag]string{
		TagRequest:  "Request",
		TagProgress: "Progress",
		TagResult:   "Result",
		TagShutdown: "Shutdown",
	}
	for tag, want := range cases {
		if got := tag.String(); got != want {
			t.Errorf("Tag(%d).String() = %q, want %q", tag, got, want)
		}
	}
}
