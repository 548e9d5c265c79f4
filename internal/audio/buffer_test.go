package audio

import (
	"bytes"
	"sync"
	"testing"
)

func TestRingBuffer_WriteRead(t *testing.T) {
	rb := NewRingBuffer(8)

	if n := rb.Write([]byte{1, 2, 3, 4, 5}); n != 5 {
		t.Errorf("Expected 5 bytes written, got %d", n)
	}
	if rb.Available() != 5 || rb.Space() != 3 {
		t.Errorf("Expected 5 available and 3 free, got %d and %d", rb.Available(), rb.Space())
	}

	out := make([]byte, 3)
	if n := rb.Read(out); n != 3 || !bytes.Equal(out, []byte{1, 2, 3}) {
		t.Errorf("Expected [1 2 3], got %v (%d)", out, n)
	}

	// Wraps around the end of the backing array.
	if n := rb.Write([]byte{6, 7, 8, 9, 10, 11}); n != 6 {
		t.Errorf("Expected 6 bytes written, got %d", n)
	}
	out = make([]byte, 8)
	if n := rb.Read(out); n != 8 || !bytes.Equal(out, []byte{4, 5, 6, 7, 8, 9, 10, 11}) {
		t.Errorf("Expected wrapped data in order, got %v (%d)", out, n)
	}
}

func TestRingBuffer_Full(t *testing.T) {
	rb := NewRingBuffer(4)

	if n := rb.Write([]byte{1, 2, 3, 4, 5, 6}); n != 4 {
		t.Errorf("Expected only 4 bytes to fit, got %d", n)
	}
	if rb.Space() != 0 {
		t.Errorf("Expected no space, got %d", rb.Space())
	}
	if n := rb.Write([]byte{7}); n != 0 {
		t.Errorf("Expected write to a full buffer to return 0, got %d", n)
	}
}

func TestRingBuffer_ReadFull(t *testing.T) {
	rb := NewRingBuffer(16)
	rb.Write([]byte{1, 2, 3})

	frame := make([]byte, 4)
	if rb.ReadFull(frame) {
		t.Error("Expected ReadFull to wait for a complete frame")
	}
	if rb.Available() != 3 {
		t.Error("Expected a failed ReadFull not to consume data")
	}

	rb.Write([]byte{4, 5})
	if !rb.ReadFull(frame) || !bytes.Equal(frame, []byte{1, 2, 3, 4}) {
		t.Errorf("Expected [1 2 3 4], got %v", frame)
	}
}

func TestRingBuffer_Reset(t *testing.T) {
	rb := NewRingBuffer(8)
	rb.Write([]byte{1, 2, 3})
	rb.Reset()

	if rb.Available() != 0 || rb.Space() != 8 {
		t.Errorf("Expected empty buffer after reset, got %d available", rb.Available())
	}
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := NewRingBuffer(64)
	const total = 10000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		next := byte(0)
		for written := 0; written < total; {
			if rb.Write([]byte{next}) == 1 {
				next++
				written++
			}
		}
	}()

	expected := byte(0)
	buf := make([]byte, 16)
	for read := 0; read < total; {
		n := rb.Read(buf)
		for _, b := range buf[:n] {
			if b != expected {
				t.Fatalf("Expected byte %d, got %d", expected, b)
			}
			expected++
		}
		read += n
	}
	wg.Wait()
}

func TestFramer(t *testing.T) {
	f := NewFramer(4)

	if frames := f.Push([]byte{1, 2, 3}); len(frames) != 0 {
		t.Errorf("Expected no frame from a partial chunk, got %d", len(frames))
	}

	frames := f.Push([]byte{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{1, 2, 3, 4}) || !bytes.Equal(frames[1], []byte{5, 6, 7, 8}) {
		t.Errorf("Unexpected frames %v", frames)
	}

	if rest := f.Flush(); !bytes.Equal(rest, []byte{9}) {
		t.Errorf("Expected remainder [9], got %v", rest)
	}
	if f.Flush() != nil {
		t.Error("Expected nothing after flush")
	}
}

func TestFramer_LargeChunk(t *testing.T) {
	f := NewFramer(10)
	data := make([]byte, 1005)
	for i := range data {
		data[i] = byte(i)
	}

	frames := f.Push(data)
	if len(frames) != 100 {
		t.Fatalf("Expected 100 frames from a chunk larger than the buffer, got %d", len(frames))
	}
	if frames[99][9] != data[999] {
		t.Errorf("Expected frames in order, last byte %d", frames[99][9])
	}
}
