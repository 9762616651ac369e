package ble

import (
	"bytes"
	"time"
)

// Assembler recombines fixed-size protocol frames that arrive split
// across multiple GATT notifications.
//
// It holds at most one partial frame. The first chunk must begin with
// the configured header; chunks that don't are treated as the tail of a
// frame whose head was never seen and dropped. If the remaining chunks
// don't arrive within the timeout, the partial frame is discarded and
// the late chunk is evaluated as a fresh first chunk.
//
// Assembler is not safe for concurrent use; each device session owns one.
type Assembler struct {
	frameSize int
	header    []byte
	timeout   time.Duration

	pending []byte
	started time.Time
}

// NewAssembler creates an assembler for frames of frameSize bytes whose
// first chunk starts with header. A partial frame older than timeout is
// discarded when the next chunk arrives.
func NewAssembler(frameSize int, header []byte, timeout time.Duration) *Assembler {
	return &Assembler{
		frameSize: frameSize,
		header:    header,
		timeout:   timeout,
	}
}

// Push feeds one notification chunk. It returns the completed frame and
// true when the chunk completes a frame, or nil and false otherwise.
func (a *Assembler) Push(chunk []byte, now time.Time) ([]byte, bool) {
	if len(chunk) == 0 {
		return nil, false
	}

	// Stale partial frame: the rest never arrived.
	if a.pending != nil && now.Sub(a.started) > a.timeout {
		a.pending = nil
	}

	if a.pending == nil {
		if !bytes.HasPrefix(chunk, a.header) {
			// Tail of a frame whose head we never saw.
			return nil, false
		}
		if len(chunk) >= a.frameSize {
			return chunk[:a.frameSize], true
		}
		a.pending = append([]byte(nil), chunk...)
		a.started = now
		return nil, false
	}

	a.pending = append(a.pending, chunk...)
	if len(a.pending) < a.frameSize {
		return nil, false
	}

	frame := a.pending[:a.frameSize]
	a.pending = nil
	return frame, true
}

// Reset discards any partial frame. Call on disconnect so a stale chunk
// can't prefix the next session's stream.
func (a *Assembler) Reset() {
	a.pending = nil
}
