// ABOUTME: Decoder interface and extension registry
// ABOUTME: Common contract for all audio decoders plus factory lookup
package decode

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chime-player/chime-go/pkg/audio"
)

// Decode error taxonomy. All are fatal to the current track only; the
// engine surfaces an invalid-track status and moves on.
var (
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrIOFailure         = errors.New("audio stream i/o failure")
	ErrCorruptStream     = errors.New("corrupt audio stream")
)

// Decoder turns an encoded audio file into a lazy, finite, forward-only
// sequence of PCM buffers. One implementation exists per codec family and
// a fresh instance is created per track open.
type Decoder interface {
	// Open probes the stream, resolves container and codec, and returns
	// the native PCM format. Errors wrap ErrUnsupportedFormat,
	// ErrIOFailure or ErrCorruptStream.
	Open(path string) (audio.Format, error)

	// Seek repositions the stream. Decode order is undefined before the
	// first successful Open.
	Seek(pos time.Duration) error

	// Next produces the next chunk of PCM, or (nil, io.EOF) at the
	// natural end of the stream.
	Next() (*audio.Buffer, error)

	// Close releases decode resources. Idempotent.
	Close() error
}

// Factory creates a fresh decoder instance.
type Factory func() Decoder

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register maps file extensions (lower-case, no dot) to a decoder factory.
// Codec families register themselves at process init, before any decoder
// is requested.
func Register(factory Factory, extensions ...string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, ext := range extensions {
		registry[ext] = factory
	}
}

// For returns a fresh decoder for the given file extension. An
// unregistered extension surfaces as ErrUnsupportedFormat.
func For(extension string) (Decoder, error) {
	registryMu.RLock()
	factory, ok := registry[extension]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no decoder for extension %q: %w", extension, ErrUnsupportedFormat)
	}
	return factory(), nil
}

// Extensions returns the sorted set of registered extensions.
func Extensions() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	exts := make([]string, 0, len(registry))
	for ext := range registry {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
