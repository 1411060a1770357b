// ABOUTME: ALSA hardware output backend
// ABOUTME: Parameter negotiation plus the underrun/suspend recovery machine
package output

import (
	"fmt"
	"log"
	"time"

	"github.com/chime-player/chime-go/pkg/audio"
)

func init() {
	Register("alsa", NewAlsa)
}

const (
	// preferred defaults requested "near" during negotiation
	defaultBufferSize = 8192
	defaultPeriodSize = 1024

	// recoveryAttempts bounds the recovery loop so a persistently failing
	// device cannot hang the audio worker.
	recoveryAttempts = 5

	// resumeRetryDelay spaces out resume attempts against a suspended
	// device instead of busy-looping the driver.
	resumeRetryDelay = 10 * time.Millisecond
)

// Alsa is the hardware PCM backend. The engine's worker goroutine owns the
// handle and all software state; control calls arrive as discrete commands
// on that goroutine, never concurrently.
type Alsa struct {
	open  func(device string) (pcmConn, error)
	sleep func(d time.Duration)

	pcm         pcmConn
	format      audio.Format
	bufferSize  int
	periodSize  int
	pausable    bool
	volume      float64
	device      string
	started     bool
	initialised bool
	errs        chan error
}

// NewAlsa creates an ALSA output selecting the "default" endpoint.
func NewAlsa() Output {
	return &Alsa{
		open:       openPCM,
		sleep:      time.Sleep,
		bufferSize: defaultBufferSize,
		periodSize: defaultPeriodSize,
		volume:     1.0,
		device:     "default",
		errs:       make(chan error, 1),
	}
}

// Init negotiates hardware parameters against the requested format. On
// success the device is prepared with auto-start disabled; playback begins
// only on an explicit Start call.
func (a *Alsa) Init(format audio.Format) error {
	if !format.Valid() {
		return fmt.Errorf("%w: %s", ErrFormatNotSupported, format)
	}

	a.format = format
	if err := a.negotiate(); err != nil {
		a.Uninit()
		return err
	}

	a.initialised = true
	return nil
}

// negotiate opens the handle and runs the two-phase parameter dance:
// access mode, sample format, rate and channels first (each accepted
// exactly or substituted by the nearest supported value), then buffer and
// period sizes near the preferred defaults, clamped to the hardware
// maximum.
func (a *Alsa) negotiate() error {
	pcm, err := a.open(a.device)
	if err != nil {
		return fmt.Errorf("open device %q: %w", a.device, err)
	}
	a.pcm = pcm

	a.pausable = pcm.CanPause()

	if err := pcm.SetAccessInterleaved(); err != nil {
		return fmt.Errorf("set access mode: %w", err)
	}

	if !pcm.SupportsFormat(a.format.SampleFormat) {
		return fmt.Errorf("%w: %s", ErrFormatNotSupported, a.format.SampleFormat)
	}
	if err := pcm.SetFormat(a.format.SampleFormat); err != nil {
		return fmt.Errorf("set sample format: %w", err)
	}

	rate, err := pcm.SetRateNear(a.format.SampleRate)
	if err != nil {
		return fmt.Errorf("set sample rate: %w", err)
	}
	if rate != a.format.SampleRate {
		log.Printf("[alsa] sample rate %d substituted for %d", rate, a.format.SampleRate)
		a.format.SampleRate = rate
	}

	channels, err := pcm.SetChannelsNear(a.format.Channels)
	if err != nil {
		return fmt.Errorf("set channel count: %w", err)
	}
	if channels != a.format.Channels {
		log.Printf("[alsa] channel count %d substituted for %d", channels, a.format.Channels)
		a.format.Channels = channels
	}

	maxBuffer, err := pcm.MaxBufferSize()
	if err != nil {
		return fmt.Errorf("get max buffer size: %w", err)
	}
	want := defaultBufferSize
	if want > maxBuffer {
		want = maxBuffer
	}
	a.bufferSize, err = pcm.SetBufferSizeNear(want)
	if err != nil {
		return fmt.Errorf("set buffer size: %w", err)
	}

	a.periodSize, err = pcm.SetPeriodSizeNear(defaultPeriodSize)
	if err != nil {
		return fmt.Errorf("set period size: %w", err)
	}

	if err := pcm.ApplyHWParams(); err != nil {
		return fmt.Errorf("apply hardware parameters: %w", err)
	}
	if err := pcm.ApplySWParams(); err != nil {
		return fmt.Errorf("apply software parameters: %w", err)
	}
	if err := pcm.Prepare(); err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	return nil
}

// Uninit drains pending audio and releases the handle. Idempotent.
func (a *Alsa) Uninit() {
	if a.pcm != nil {
		a.pcm.Drain()
		a.pcm.Drop()
		a.pcm.Close()
		a.pcm = nil
	}
	a.started = false
	a.initialised = false
}

// Reset drops queued audio without draining and re-arms the device.
func (a *Alsa) Reset() {
	if a.pcm == nil {
		return
	}
	if err := a.pcm.Drop(); err != nil {
		log.Printf("[alsa] drop error: %v", err)
	}
	if err := a.pcm.Prepare(); err != nil {
		log.Printf("[alsa] prepare error: %v", err)
	}
	a.started = false
	a.recoverState(nil)
}

// Start explicitly begins the hardware transport.
func (a *Alsa) Start() {
	if a.pcm == nil {
		return
	}
	a.started = true
	if err := a.pcm.Start(); err != nil {
		log.Printf("[alsa] start error: %v", err)
	}
}

// Initialised reports whether the device negotiated successfully.
func (a *Alsa) Initialised() bool {
	return a.initialised
}

// Format returns the format actually negotiated by the last Init.
func (a *Alsa) Format() audio.Format {
	return a.format
}

// BufferSize returns the negotiated buffer size in frames.
func (a *Alsa) BufferSize() int {
	return a.bufferSize
}

// Write applies the software volume to a copy of buf and submits it to
// hardware. Returns the accepted frame count; 0 when the device is
// unrecoverable at call time. Partial counts mean "resubmit the tail".
func (a *Alsa) Write(buf *audio.Buffer) int {
	if a.pcm == nil || !a.recoverState(nil) {
		return 0
	}

	adjusted := buf.Clone()
	adjusted.Scale(a.volume)

	n, err := a.pcm.WriteInterleaved(adjusted.Bytes(), adjusted.FrameCount())
	if err != nil {
		log.Printf("[alsa] write error: %v", err)
		return 0
	}
	if n != buf.FrameCount() {
		log.Printf("[alsa] unexpected partial write (%d of %d frames)", n, buf.FrameCount())
	}
	return n
}

// SetPaused transitions Running→Paused or Paused→Running only. A stopped
// or prepared device is left untouched.
func (a *Alsa) SetPaused(pause bool) {
	if !a.pausable || a.pcm == nil {
		return
	}

	a.recoverState(nil)

	state := a.pcm.State()
	if state == pcmStateRunning && pause {
		if err := a.pcm.Pause(true); err != nil {
			log.Printf("[alsa] couldn't pause device: %v", err)
		}
	} else if state == pcmStatePaused && !pause {
		if err := a.pcm.Pause(false); err != nil {
			log.Printf("[alsa] couldn't unpause device: %v", err)
		}
	}
}

// SetVolume sets the linear gain applied on the write path.
func (a *Alsa) SetVolume(gain float64) {
	a.volume = gain
}

// SetDevice selects the endpoint for the next Init. Empty names are
// ignored so the previous selection survives.
func (a *Alsa) SetDevice(name string) {
	if name != "" {
		a.device = name
	}
}

// CurrentState queries buffering, recovering the device first.
func (a *Alsa) CurrentState() State {
	var state State
	a.recoverState(&state)
	return state
}

// Devices merges logical endpoints with physical card enumeration; the
// "default" endpoint is ordered first.
func (a *Alsa) Devices() []Device {
	return orderDefaultFirst(alsaDevices())
}

// Errors delivers device-lost notifications.
func (a *Alsa) Errors() <-chan error {
	return a.errs
}

// recoverState runs the bounded recovery procedure and, when requested,
// fills state from the last hardware status snapshot. Free space is
// clamped to the buffer size and rounded down to whole periods so callers
// only ever see writable amounts aligned to the device granularity.
func (a *Alsa) recoverState(state *State) bool {
	if a.pcm == nil {
		return false
	}

	recovered, status := a.attemptRecovery()
	if !recovered {
		log.Printf("[alsa] could not recover")
	}

	if state != nil {
		delay := status.delayFrames
		if delay < 0 {
			delay = 0
		}
		if a.format.SampleRate > 0 {
			state.Delay = float64(delay) / float64(a.format.SampleRate)
		}

		free := int(status.availFrames)
		if free < 0 {
			free = 0
		}
		if free > a.bufferSize {
			free = a.bufferSize
		}
		if a.periodSize > 0 {
			free = free / a.periodSize * a.periodSize
		}
		state.FreeSamples = free
		state.QueuedSamples = a.bufferSize - free
	}

	return recovered
}

// attemptRecovery interprets the hardware transport state, giving the
// driver a bounded number of chances to come back:
//
//   - transient status faults get one automatic low-level recover; a
//     second occurrence is treated as an underrun
//   - Running/Paused are recovered; Prepared is recovered unless playback
//     was already started, in which case the transport is kicked
//   - Draining/XRun re-prepare (the normal underrun response)
//   - Suspended resumes, retrying on "try again" and falling back to
//     prepare on "not supported"
//   - Disconnected/Open/Setup and anything unrecognized is unrecoverable:
//     a device-lost event is emitted and the loop exits immediately
func (a *Alsa) attemptRecovery() (bool, pcmStatus) {
	var lastStatus pcmStatus
	autoRecoverAttempted := false

	for n := 0; n < recoveryAttempts; n++ {
		status, err := a.pcm.Status()

		var state pcmState
		switch {
		case err != nil && isTransientFault(err):
			if !autoRecoverAttempted {
				autoRecoverAttempted = true
				a.pcm.Recover(err)
				continue
			}
			state = pcmStateXRun
		case err != nil:
			state = pcmStateDisconnected
		default:
			lastStatus = status
			state = status.state
		}

		if state == pcmStateRunning || state == pcmStatePaused {
			return true, lastStatus
		}

		if state == pcmStatePrepared {
			if !a.started {
				return true, lastStatus
			}
			a.pcm.Start()
			continue
		}

		switch state {
		// Underrun
		case pcmStateDraining, pcmStateXRun:
			if err := a.pcm.Prepare(); err != nil {
				log.Printf("[alsa] prepare error: %v", err)
			}
			continue
		// Hardware suspend
		case pcmStateSuspended:
			log.Printf("[alsa] suspended, attempting to resume")
			err := a.pcm.Resume()
			if err == errPCMAgain {
				log.Printf("[alsa] resume failed, retrying")
				a.sleep(resumeRetryDelay)
				continue
			}
			if err == errPCMNotSupported {
				log.Printf("[alsa] resume not supported, trying prepare")
				err = a.pcm.Prepare()
			}
			if err != nil {
				log.Printf("[alsa] could not be resumed: %v", err)
			}
			continue
		// Device lost
		default:
			log.Printf("[alsa] device lost, stopping playback")
			a.notifyLost()
			return false, lastStatus
		}
	}
	return false, lastStatus
}

// notifyLost emits a single device-lost event without blocking the worker.
func (a *Alsa) notifyLost() {
	select {
	case a.errs <- ErrDeviceLost:
	default:
	}
}
