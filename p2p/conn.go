package p2p

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire framing: a 4-byte unsigned big-endian length N, then N bytes of one
// self-describing serialized message. There is no ack at this layer.
const (
	// MaxFrameSize refuses frames larger than 16 MiB; receiving one is fatal
	// for the connection.
	MaxFrameSize = 16 << 20

	frameHeaderSize = 4
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds 16 MiB limit")
	ErrEmptyFrame    = errors.New("frame has zero length")
)

// ReadFrame reads exactly one length-prefixed frame. Any read error or short
// read kills the connection upstream.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, bz []byte) error {
	if len(bz) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(bz))
	}
	var header [frameHeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(bz)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(bz)
	return err
}
