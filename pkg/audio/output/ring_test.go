// ABOUTME: Tests for the frame ring buffer
// ABOUTME: Covers wrap-around, underrun zero-fill and partial accepts
package output

import (
	"bytes"
	"testing"
)

func TestRingRoundTrip(t *testing.T) {
	r := newFrameRing(8, 4)

	in := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if n := r.WriteFrames(in); n != 2 {
		t.Fatalf("expected 2 frames written, got %d", n)
	}
	if r.QueuedFrames() != 2 {
		t.Fatalf("expected 2 frames queued, got %d", r.QueuedFrames())
	}

	out := make([]byte, 8)
	if n := r.ReadFrames(out); n != 2 {
		t.Fatalf("expected 2 frames read, got %d", n)
	}
	if !bytes.Equal(in, out) {
		t.Errorf("round trip mismatch: %v != %v", out, in)
	}
}

func TestRingPartialAcceptWhenFull(t *testing.T) {
	r := newFrameRing(4, 2)

	if n := r.WriteFrames(make([]byte, 6*2)); n != 4 {
		t.Fatalf("expected 4 of 6 frames accepted, got %d", n)
	}
	if r.FreeFrames() != 0 {
		t.Errorf("expected full ring, got %d free", r.FreeFrames())
	}
}

func TestRingZeroFillsOnUnderrun(t *testing.T) {
	r := newFrameRing(4, 2)
	r.WriteFrames([]byte{9, 9})

	out := []byte{7, 7, 7, 7, 7, 7}
	if n := r.ReadFrames(out); n != 1 {
		t.Fatalf("expected 1 frame read, got %d", n)
	}
	want := []byte{9, 9, 0, 0, 0, 0}
	if !bytes.Equal(out, want) {
		t.Errorf("expected %v, got %v", want, out)
	}
}

func TestRingWrapAround(t *testing.T) {
	r := newFrameRing(4, 1)

	r.WriteFrames([]byte{1, 2, 3})
	out := make([]byte, 2)
	r.ReadFrames(out)

	// Write crosses the wrap point.
	if n := r.WriteFrames([]byte{4, 5, 6}); n != 3 {
		t.Fatalf("expected 3 frames written across wrap, got %d", n)
	}

	out = make([]byte, 4)
	if n := r.ReadFrames(out); n != 4 {
		t.Fatalf("expected 4 frames read, got %d", n)
	}
	want := []byte{3, 4, 5, 6}
	if !bytes.Equal(out, want) {
		t.Errorf("expected %v, got %v", want, out)
	}
}

func TestRingFlush(t *testing.T) {
	r := newFrameRing(4, 2)
	r.WriteFrames(make([]byte, 8))

	r.Flush()

	if r.QueuedFrames() != 0 {
		t.Errorf("expected empty ring after flush, got %d", r.QueuedFrames())
	}
	if r.FreeFrames() != 4 {
		t.Errorf("expected all capacity free, got %d", r.FreeFrames())
	}
}
