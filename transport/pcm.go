package transport

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// PCM is one local PCM FIFO endpoint of a transport. The descriptor is
// shared between the IO goroutine and the controller, which may close
// the endpoint at any time; all access goes through the mutex. An
// unconnected endpoint holds fd -1.
type PCM struct {
	mu sync.Mutex
	fd int

	scratch []byte
}

// NewPCM creates an unconnected PCM endpoint.
func NewPCM() *PCM {
	return &PCM{fd: -1}
}

// FD returns the current descriptor, -1 when unconnected.
func (p *PCM) FD() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fd
}

// SetFD attaches a descriptor to the endpoint, closing any previous
// one.
func (p *PCM) SetFD(fd int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd != -1 {
		unix.Close(p.fd)
	}
	p.fd = fd
}

// Release closes the endpoint and marks it unconnected. Releasing an
// unconnected endpoint is a no-op.
func (p *PCM) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd == -1 {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "PCM.Release",
		"fd":       p.fd,
	}).Debug("Releasing PCM endpoint")
	unix.Close(p.fd)
	p.fd = -1
}

func (p *PCM) grow(n int) []byte {
	if cap(p.scratch) < n {
		p.scratch = make([]byte, n)
	}
	return p.scratch[:n]
}

// Read fills buf with samples from the FIFO, returning how many were
// read. A closed or already-released FIFO yields io.EOF after the
// endpoint is released; a FIFO with no data yields unix.EAGAIN. A
// trailing odd byte is dropped, matching the FIFO's sample-atomic
// write contract.
func (p *PCM) Read(buf []int16) (int, error) {
	p.mu.Lock()
	fd := p.fd
	raw := p.grow(len(buf) * 2)
	p.mu.Unlock()

	var n int
	var err error
	for {
		n, err = unix.Read(fd, raw)
		if err != unix.EINTR {
			break
		}
	}

	if n > 0 {
		samples := n / 2
		for i := 0; i < samples; i++ {
			buf[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
		}
		return samples, nil
	}

	if err == unix.EAGAIN {
		return 0, unix.EAGAIN
	}
	if err == nil || err == unix.EBADF {
		// EOF, or the controller closed the endpoint mid-read.
		logrus.WithFields(logrus.Fields{
			"function": "PCM.Read",
			"fd":       fd,
		}).Debug("PCM has been closed")
		p.Release()
		return 0, io.EOF
	}
	return 0, err
}

// Write drains buf into the FIFO, blocking on a full pipe until space
// is available. The write is sample-atomic from the caller's point of
// view: either every sample is written or the FIFO is gone. A broken
// pipe releases the endpoint and yields io.EOF.
func (p *PCM) Write(buf []int16) (int, error) {
	p.mu.Lock()
	fd := p.fd
	raw := p.grow(len(buf) * 2)
	p.mu.Unlock()

	for i, s := range buf {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(s))
	}

	for len(raw) > 0 {
		n, err := unix.Write(fd, raw)
		switch err {
		case nil:
			raw = raw[n:]
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
			unix.Poll(pfd, -1)
		case unix.EPIPE:
			logrus.WithFields(logrus.Fields{
				"function": "PCM.Write",
				"fd":       fd,
			}).Debug("PCM has been closed")
			p.Release()
			return 0, io.EOF
		default:
			return 0, err
		}
	}
	return len(buf), nil
}

// Flush discards everything queued in the FIFO's read buffer,
// returning the number of bytes dropped.
func (p *PCM) Flush() int {
	p.mu.Lock()
	fd := p.fd
	raw := p.grow(32 * 1024)
	p.mu.Unlock()

	if fd == -1 {
		return 0
	}

	total := 0
	for {
		n, err := unix.Read(fd, raw)
		if n <= 0 || err != nil {
			break
		}
		total += n
	}
	logrus.WithFields(logrus.Fields{
		"function": "PCM.Flush",
		"bytes":    total,
	}).Debug("PCM read buffer flushed")
	return total
}
