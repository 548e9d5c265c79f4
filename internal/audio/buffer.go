package audio

import "sync"

// RingBuffer is a fixed-capacity byte FIFO safe for one writer and one
// reader on different goroutines.
type RingBuffer struct {
	mu    sync.Mutex
	buf   []byte
	start int
	n     int
}

// NewRingBuffer creates a buffer holding at most capacity bytes.
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count written.
func (rb *RingBuffer) Write(data []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	free := len(rb.buf) - rb.n
	if len(data) > free {
		data = data[:free]
	}

	end := (rb.start + rb.n) % len(rb.buf)
	copied := copy(rb.buf[end:], data)
	if copied < len(data) {
		copy(rb.buf, data[copied:])
	}
	rb.n += len(data)
	return len(data)
}

// Read moves up to len(p) bytes into p and returns the count read.
func (rb *RingBuffer) Read(p []byte) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.read(p)
}

// ReadFull fills p only when len(p) bytes are buffered.
func (rb *RingBuffer) ReadFull(p []byte) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.n < len(p) {
		return false
	}
	rb.read(p)
	return true
}

func (rb *RingBuffer) read(p []byte) int {
	if len(p) > rb.n {
		p = p[:rb.n]
	}
	copied := copy(p, rb.buf[rb.start:min(rb.start+len(p), len(rb.buf))])
	if copied < len(p) {
		copy(p[copied:], rb.buf)
	}
	rb.start = (rb.start + len(p)) % len(rb.buf)
	rb.n -= len(p)
	if rb.n == 0 {
		rb.start = 0
	}
	return len(p)
}

// Available returns the number of buffered bytes.
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.n
}

// Space returns how many more bytes fit.
func (rb *RingBuffer) Space() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.buf) - rb.n
}

// Reset discards buffered data.
func (rb *RingBuffer) Reset() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.start, rb.n = 0, 0
}

// Framer regroups an arbitrary byte stream into fixed-size frames.
type Framer struct {
	frameSize int
	ring      *RingBuffer
}

// NewFramer creates a framer emitting frames of frameSize bytes.
func NewFramer(frameSize int) *Framer {
	if frameSize < 1 {
		frameSize = 1
	}
	return &Framer{
		frameSize: frameSize,
		ring:      NewRingBuffer(frameSize * 8),
	}
}

// FrameSize returns the frame length in bytes.
func (f *Framer) FrameSize() int {
	return f.frameSize
}

// Push adds data and returns every frame completed by it.
func (f *Framer) Push(data []byte) [][]byte {
	var frames [][]byte
	for len(data) > 0 {
		n := f.ring.Write(data)
		data = data[n:]
		for {
			frame := make([]byte, f.frameSize)
			if !f.ring.ReadFull(frame) {
				break
			}
			frames = append(frames, frame)
		}
	}
	return frames
}

// Flush returns any partial frame left in the buffer.
func (f *Framer) Flush() []byte {
	n := f.ring.Available()
	if n == 0 {
		return nil
	}
	rest := make([]byte, n)
	f.ring.Read(rest)
	return rest
}
