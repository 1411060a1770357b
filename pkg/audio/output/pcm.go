// ABOUTME: Hardware PCM handle abstraction for the alsa backend
// ABOUTME: Narrow interface over the driver so recovery logic stays testable
package output

import (
	"errors"

	"github.com/chime-player/chime-go/pkg/audio"
)

// pcmState mirrors the driver's transport states.
type pcmState int

const (
	pcmStateOpen pcmState = iota
	pcmStateSetup
	pcmStatePrepared
	pcmStateRunning
	pcmStateXRun
	pcmStateDraining
	pcmStatePaused
	pcmStateSuspended
	pcmStateDisconnected
)

func (s pcmState) String() string {
	switch s {
	case pcmStateOpen:
		return "open"
	case pcmStateSetup:
		return "setup"
	case pcmStatePrepared:
		return "prepared"
	case pcmStateRunning:
		return "running"
	case pcmStateXRun:
		return "xrun"
	case pcmStateDraining:
		return "draining"
	case pcmStatePaused:
		return "paused"
	case pcmStateSuspended:
		return "suspended"
	case pcmStateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Driver fault classes surfaced by the handle. The first three are
// transient stream faults eligible for automatic low-level recovery.
var (
	errPCMPipe         = errors.New("alsa: broken pipe")
	errPCMInterrupted  = errors.New("alsa: interrupted system call")
	errPCMStreamPipe   = errors.New("alsa: streaming pipe error")
	errPCMAgain        = errors.New("alsa: resource temporarily unavailable")
	errPCMNotSupported = errors.New("alsa: function not implemented")
)

// isTransientFault reports whether a status-query error belongs to the
// pipe-broken / interrupted / streaming-pipe class.
func isTransientFault(err error) bool {
	return errors.Is(err, errPCMPipe) ||
		errors.Is(err, errPCMInterrupted) ||
		errors.Is(err, errPCMStreamPipe)
}

// pcmStatus is one hardware status snapshot.
type pcmStatus struct {
	state       pcmState
	delayFrames int64
	availFrames int64
}

// pcmConn is the hardware PCM handle with manual lifetime. Every open
// handle must be closed on all exit paths, including failed negotiation.
// The alsa backend drives negotiation in the documented call order:
// access, format, rate, channels, buffer size, period size, then hardware
// and software parameter application.
type pcmConn interface {
	CanPause() bool
	SupportsFormat(f audio.SampleFormat) bool
	SetAccessInterleaved() error
	SetFormat(f audio.SampleFormat) error
	SetRateNear(rate uint32) (uint32, error)
	SetChannelsNear(channels uint32) (uint32, error)
	MaxBufferSize() (int, error)
	SetBufferSizeNear(frames int) (int, error)
	SetPeriodSizeNear(frames int) (int, error)
	ApplyHWParams() error

	// ApplySWParams arms silence-on-underrun and moves the start/stop
	// thresholds to the boundary so the device never auto-starts.
	ApplySWParams() error

	Prepare() error
	Start() error
	Resume() error
	Recover(cause error) error
	Pause(enable bool) error
	State() pcmState
	Status() (pcmStatus, error)
	WriteInterleaved(data []byte, frames int) (int, error)
	Drop() error
	Drain() error
	Close() error
}
