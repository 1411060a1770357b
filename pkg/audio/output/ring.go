// ABOUTME: Frame-aligned ring buffer shared by the callback-driven backends
// ABOUTME: Producer side accepts whole frames, consumer side zero-fills on underrun
package output

import "sync"

// frameRing buffers interleaved PCM between the writer goroutine and the
// backend's playback callback. All positions count frames, never bytes, so
// a partial frame can never be split across the wrap point.
type frameRing struct {
	mu         sync.Mutex
	buf        []byte
	frameBytes int
	capFrames  int
	readPos    int
	writePos   int
	count      int
}

func newFrameRing(capFrames, frameBytes int) *frameRing {
	return &frameRing{
		buf:        make([]byte, capFrames*frameBytes),
		frameBytes: frameBytes,
		capFrames:  capFrames,
	}
}

// WriteFrames copies as many whole frames from data as fit and returns the
// number accepted. A short count is a resubmit signal for the caller.
func (r *frameRing) WriteFrames(data []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(data) / r.frameBytes
	free := r.capFrames - r.count
	if frames > free {
		frames = free
	}

	for written := 0; written < frames; {
		chunk := frames - written
		if tail := r.capFrames - r.writePos; chunk > tail {
			chunk = tail
		}
		copy(r.buf[r.writePos*r.frameBytes:], data[written*r.frameBytes:(written+chunk)*r.frameBytes])
		r.writePos = (r.writePos + chunk) % r.capFrames
		written += chunk
	}

	r.count += frames
	return frames
}

// ReadFrames fills dst with queued frames and zero-fills the remainder, so
// an underrun plays silence instead of stale data.
func (r *frameRing) ReadFrames(dst []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(dst) / r.frameBytes
	if frames > r.count {
		frames = r.count
	}

	for read := 0; read < frames; {
		chunk := frames - read
		if tail := r.capFrames - r.readPos; chunk > tail {
			chunk = tail
		}
		copy(dst[read*r.frameBytes:], r.buf[r.readPos*r.frameBytes:(r.readPos+chunk)*r.frameBytes])
		r.readPos = (r.readPos + chunk) % r.capFrames
		read += chunk
	}

	for i := frames * r.frameBytes; i < len(dst); i++ {
		dst[i] = 0
	}

	r.count -= frames
	return frames
}

// QueuedFrames returns the frames waiting to be consumed.
func (r *frameRing) QueuedFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// FreeFrames returns the frames the ring can still accept.
func (r *frameRing) FreeFrames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capFrames - r.count
}

// Flush discards everything queued.
func (r *frameRing) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readPos = 0
	r.writePos = 0
	r.count = 0
}
