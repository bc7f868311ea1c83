package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
)

const (
	// HeaderSize is the size of the length prefix in front of every frame
	HeaderSize = 4

	// DefaultMaxFrameSize bounds the payload a reader will buffer when no
	// explicit ceiling is given
	DefaultMaxFrameSize = 16 << 20
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrFrameTooLarge   = errors.New("frame exceeds the maximum frame size")
)

// Framer writes whole frames.
type Framer interface {
	WriteFrame(payload []byte) error
}

// EncodeFrame returns the length prefixed form of payload.
func EncodeFrame(payload []byte) []byte {
	b := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(b[:HeaderSize], uint32(len(payload)))
	copy(b[HeaderSize:], payload)

	return b
}

// WriteFrame writes payload to w as a single frame. The header and payload go
// out in one Write so a locked writer never splits them.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("payload of %d bytes: %w", len(payload), ErrFrameTooLarge)
	}

	if _, err := w.Write(EncodeFrame(payload)); err != nil {
		return transportError(err)
	}

	return nil
}

// ReadFrame reads exactly one frame from r and returns its payload.
//
// maxSize bounds the declared length; values <= 0 use DefaultMaxFrameSize.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, transportError(err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if uint64(size) > uint64(maxSize) {
		return nil, fmt.Errorf("declared %d bytes, limit is %d: %w", size, maxSize, ErrFrameTooLarge)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, transportError(err)
	}

	return payload, nil
}

// DecodeFrame is ReadFrame over an in-memory buffer.
func DecodeFrame(data []byte) ([]byte, error) {
	return ReadFrame(bytes.NewReader(data), 0)
}

// FrameWriter serialises frame writes from many goroutines onto one stream.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes payload as one frame while holding the write lock.
func (f *FrameWriter) WriteFrame(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return WriteFrame(f.w, payload)
}

var _ Framer = (*FrameWriter)(nil)

// transportError folds the ways a stream can end into ErrTransportClosed,
// including a stream that ends part way through a frame.
func transportError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrTransportClosed, err)
	}

	return err
}
