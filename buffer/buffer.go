// Package buffer provides the forward byte buffer used by the transport
// IO loops.
//
// A forward buffer is a linear staging area with a single write cursor.
// Producers append at the tail, consumers read from the front and either
// Rewind the buffer (everything consumed) or Shift it (partial
// consumption, remaining data is moved to the front). This deliberately
// avoids a ring buffer: codec libraries want contiguous input and output
// regions, and the occasional memmove on partial consumption is cheaper
// than chasing wrap-around in every encode step.
//
// Buffers come in two element flavours, Bytes for wire data and Samples
// for signed 16-bit PCM, mirroring the two data domains of every
// transport loop.
package buffer

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Bytes is a forward buffer over raw bytes.
//
// The zero value is not usable; create instances with NewBytes.
type Bytes struct {
	buf []byte
	wr  int
}

// NewBytes allocates a forward byte buffer holding capacity elements.
//
// Parameters:
//   - capacity: Number of byte slots to allocate
//
// Returns:
//   - *Bytes: The new buffer
//   - error: Allocation contract violation (non-positive capacity)
func NewBytes(capacity int) (*Bytes, error) {
	if capacity <= 0 {
		logrus.WithFields(logrus.Fields{
			"function": "NewBytes",
			"capacity": capacity,
		}).Error("Invalid buffer capacity")
		return nil, fmt.Errorf("buffer capacity must be positive: %d", capacity)
	}
	return &Bytes{buf: make([]byte, capacity)}, nil
}

// Tail returns the writable region of the buffer. Callers write up to
// LenIn elements into it and then commit with Seek.
func (b *Bytes) Tail() []byte { return b.buf[b.wr:] }

// Data returns the unread region of the buffer.
func (b *Bytes) Data() []byte { return b.buf[:b.wr] }

// Cap returns the buffer capacity in elements.
func (b *Bytes) Cap() int { return len(b.buf) }

// LenIn returns the number of elements that can still be written.
func (b *Bytes) LenIn() int { return len(b.buf) - b.wr }

// LenOut returns the number of unread elements.
func (b *Bytes) LenOut() int { return b.wr }

// BLenIn returns the writable space in bytes.
func (b *Bytes) BLenIn() int { return b.LenIn() }

// BLenOut returns the unread length in bytes.
func (b *Bytes) BLenOut() int { return b.LenOut() }

// Seek commits n elements previously written at Tail.
//
// The caller must have written exactly n elements; committing more than
// LenIn is a contract violation and leaves the buffer unchanged.
func (b *Bytes) Seek(n int) error {
	if n < 0 || n > b.LenIn() {
		return fmt.Errorf("seek out of range: %d (writable %d)", n, b.LenIn())
	}
	b.wr += n
	return nil
}

// Shift drops n consumed elements from the front of the buffer, moving
// any unread remainder to the front. Used when a codec step could not
// consume the whole staged region.
func (b *Bytes) Shift(n int) error {
	if n < 0 || n > b.wr {
		return fmt.Errorf("shift out of range: %d (unread %d)", n, b.wr)
	}
	copy(b.buf, b.buf[n:b.wr])
	b.wr -= n
	return nil
}

// Rewind resets the buffer to empty without moving memory.
func (b *Bytes) Rewind() { b.wr = 0 }

// Resize grows or shrinks the buffer to a new capacity while preserving
// the unread region. Shrinking below the unread length is a contract
// violation.
func (b *Bytes) Resize(capacity int) error {
	if capacity < b.wr {
		return fmt.Errorf("resize would lose unread data: %d < %d", capacity, b.wr)
	}
	logrus.WithFields(logrus.Fields{
		"function":     "Bytes.Resize",
		"old_capacity": len(b.buf),
		"new_capacity": capacity,
		"unread":       b.wr,
	}).Debug("Resizing forward buffer")
	buf := make([]byte, capacity)
	copy(buf, b.buf[:b.wr])
	b.buf = buf
	return nil
}

// Samples is a forward buffer over signed 16-bit PCM samples.
//
// The zero value is not usable; create instances with NewSamples.
type Samples struct {
	buf []int16
	wr  int
}

// NewSamples allocates a forward sample buffer holding capacity elements.
//
// Parameters:
//   - capacity: Number of int16 slots to allocate
//
// Returns:
//   - *Samples: The new buffer
//   - error: Allocation contract violation (non-positive capacity)
func NewSamples(capacity int) (*Samples, error) {
	if capacity <= 0 {
		logrus.WithFields(logrus.Fields{
			"function": "NewSamples",
			"capacity": capacity,
		}).Error("Invalid buffer capacity")
		return nil, fmt.Errorf("buffer capacity must be positive: %d", capacity)
	}
	return &Samples{buf: make([]int16, capacity)}, nil
}

// Tail returns the writable region of the buffer.
func (s *Samples) Tail() []int16 { return s.buf[s.wr:] }

// Data returns the unread region of the buffer.
func (s *Samples) Data() []int16 { return s.buf[:s.wr] }

// Cap returns the buffer capacity in elements.
func (s *Samples) Cap() int { return len(s.buf) }

// LenIn returns the number of samples that can still be written.
func (s *Samples) LenIn() int { return len(s.buf) - s.wr }

// LenOut returns the number of unread samples.
func (s *Samples) LenOut() int { return s.wr }

// BLenIn returns the writable space in bytes.
func (s *Samples) BLenIn() int { return s.LenIn() * 2 }

// BLenOut returns the unread length in bytes.
func (s *Samples) BLenOut() int { return s.LenOut() * 2 }

// Seek commits n samples previously written at Tail.
func (s *Samples) Seek(n int) error {
	if n < 0 || n > s.LenIn() {
		return fmt.Errorf("seek out of range: %d (writable %d)", n, s.LenIn())
	}
	s.wr += n
	return nil
}

// Shift drops n consumed samples from the front of the buffer, moving
// any unread remainder to the front.
func (s *Samples) Shift(n int) error {
	if n < 0 || n > s.wr {
		return fmt.Errorf("shift out of range: %d (unread %d)", n, s.wr)
	}
	copy(s.buf, s.buf[n:s.wr])
	s.wr -= n
	return nil
}

// Rewind resets the buffer to empty without moving memory.
func (s *Samples) Rewind() { s.wr = 0 }

// Resize grows or shrinks the buffer while preserving the unread region.
func (s *Samples) Resize(capacity int) error {
	if capacity < s.wr {
		return fmt.Errorf("resize would lose unread data: %d < %d", capacity, s.wr)
	}
	buf := make([]int16, capacity)
	copy(buf, s.buf[:s.wr])
	s.buf = buf
	return nil
}
