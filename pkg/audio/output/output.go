// ABOUTME: Audio output interface definition and backend registry
// ABOUTME: Common contract for audio playback sinks
package output

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chime-player/chime-go/pkg/audio"
)

var (
	// ErrDeviceLost reports an unrecoverable device (disconnected or in a
	// state the recovery procedure cannot leave). The device stays
	// selected for a manual retry.
	ErrDeviceLost = errors.New("output device lost")

	// ErrFormatNotSupported reports that the requested sample format is
	// outside the hardware's format mask. Conversion is the caller's
	// responsibility, not this layer's.
	ErrFormatNotSupported = errors.New("sample format not supported by device")

	// ErrUnknownBackend reports a registry lookup miss.
	ErrUnknownBackend = errors.New("unknown output backend")
)

// State is a snapshot of the device's buffering at the instant queried.
// FreeSamples is clamped to [0, BufferSize] and rounded down to a period
// multiple, so it is always a safely writable amount.
type State struct {
	Delay         float64 // seconds of queued audio ahead of the DAC
	FreeSamples   int
	QueuedSamples int
}

// Device describes an enumerable output endpoint. A logical endpoint named
// "default" is always ordered first.
type Device struct {
	Name        string
	Description string
}

// Output represents an audio sink: it negotiates a format, accepts PCM
// buffers for playback and exposes transport controls. Implementations own
// a hardware handle and recover transparently from transient faults.
type Output interface {
	// Init negotiates hardware parameters against the requested format.
	// On success the device is prepared but not started: playback begins
	// only on an explicit Start call, so the caller can pre-fill the
	// buffer without an audible glitch.
	Init(format audio.Format) error

	// Uninit drains pending audio and releases the hardware handle.
	// Idempotent; safe when never initialised.
	Uninit()

	// Reset drops all queued audio immediately (no drain) and re-arms
	// the device into the prepared-but-not-started state.
	Reset()

	// Start explicitly begins the hardware transport.
	Start()

	// Write applies the software volume to a copy of buf and submits it.
	// It returns the hardware-accepted frame count, which may be less
	// than buf.FrameCount(): a partial write is a signal to resubmit the
	// tail, not an error. It returns 0 when the device is unrecoverable
	// at call time.
	Write(buf *audio.Buffer) int

	// SetPaused transitions Running→Paused or Paused→Running only; any
	// other device state is left untouched. No-op if the device cannot
	// pause.
	SetPaused(pause bool)

	// SetVolume sets the software gain applied on the write path.
	SetVolume(gain float64)

	// SetDevice selects the endpoint for the next Init. An empty name is
	// ignored.
	SetDevice(name string)

	// Format returns the format actually negotiated by the last Init.
	Format() audio.Format

	// CurrentState queries buffering, running the recovery procedure
	// first so that state is never reported for an unrecoverable device.
	CurrentState() State

	// BufferSize returns the negotiated device buffer size in frames.
	BufferSize() int

	// Devices enumerates the endpoints this backend can open.
	Devices() []Device

	// Errors delivers device-lost notifications.
	Errors() <-chan error
}

// Factory creates a fresh output backend instance.
type Factory func() Output

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register maps a logical backend name to a factory. Backends register
// themselves at process init.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New returns a fresh output for the given backend name.
func New(name string) (Output, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return factory(), nil
}

// Backends returns the sorted set of registered backend names.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// orderDefaultFirst moves an endpoint literally named "default" to the
// front, preserving the relative order of everything else.
func orderDefaultFirst(devices []Device) []Device {
	for i, d := range devices {
		if d.Name == "default" {
			ordered := make([]Device, 0, len(devices))
			ordered = append(ordered, d)
			ordered = append(ordered, devices[:i]...)
			ordered = append(ordered, devices[i+1:]...)
			return ordered
		}
	}
	return devices
}
