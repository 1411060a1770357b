// ABOUTME: Portable output backend built on oto
// ABOUTME: Feeds a single process-wide oto context from a frame ring
package output

import (
	"fmt"
	"log"
	"sync"

	"github.com/chime-player/chime-go/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

func init() {
	Register("oto", NewOto)
}

const (
	otoBufferFrames = 8192
	otoPeriodFrames = 1024
)

// oto allows exactly one context per process and no teardown, so the
// context is shared across backend instances and pinned to the format it
// was first created with.
var (
	otoMu       sync.Mutex
	otoCtx      *oto.Context
	otoCtxRate  uint32
	otoCtxCh    uint32
	otoCtxDepth audio.SampleFormat
)

// Oto is the portable fallback backend. It has no hardware transport state
// to recover, so the buffering snapshot comes straight from the ring.
type Oto struct {
	format  audio.Format
	ring    *frameRing
	player  *oto.Player
	volume  float64
	started bool
	paused  bool
	errs    chan error
}

// NewOto creates an oto-backed output.
func NewOto() Output {
	return &Oto{
		volume: 1.0,
		errs:   make(chan error, 1),
	}
}

func otoFormatFor(f audio.SampleFormat) (oto.Format, error) {
	switch f {
	case audio.U8:
		return oto.FormatUnsignedInt8, nil
	case audio.S16:
		return oto.FormatSignedInt16LE, nil
	case audio.Float32:
		return oto.FormatFloat32LE, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrFormatNotSupported, f)
	}
}

// Init prepares a player for the requested format. The player is created
// but not started; audio moves only after Start.
func (o *Oto) Init(format audio.Format) error {
	if !format.Valid() {
		return fmt.Errorf("%w: %s", ErrFormatNotSupported, format)
	}

	otoFormat, err := otoFormatFor(format.SampleFormat)
	if err != nil {
		return err
	}

	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   int(format.SampleRate),
			ChannelCount: int(format.Channels),
			Format:       otoFormat,
			BufferSize:   format.DurationForFrames(otoBufferFrames),
		})
		if err != nil {
			return fmt.Errorf("create oto context: %w", err)
		}
		<-ready
		otoCtx = ctx
		otoCtxRate = format.SampleRate
		otoCtxCh = format.Channels
		otoCtxDepth = format.SampleFormat
	} else if otoCtxRate != format.SampleRate || otoCtxCh != format.Channels || otoCtxDepth != format.SampleFormat {
		// oto cannot reinitialise its context within a process.
		return fmt.Errorf("%w: oto context pinned to %s/%d/%d", ErrFormatNotSupported,
			otoCtxDepth, otoCtxRate, otoCtxCh)
	}

	o.format = format
	o.ring = newFrameRing(otoBufferFrames, format.BytesPerFrame())
	o.player = otoCtx.NewPlayer(&ringReader{ring: o.ring})
	o.started = false
	o.paused = false
	return nil
}

// ringReader adapts the frame ring to the io.Reader the oto player pulls
// from. It never returns EOF: an empty ring reads as silence so the player
// keeps running across underruns.
type ringReader struct {
	ring *frameRing
}

func (rr *ringReader) Read(p []byte) (int, error) {
	rr.ring.ReadFrames(p)
	return len(p), nil
}

// Uninit releases the player. The shared context stays alive for the
// lifetime of the process.
func (o *Oto) Uninit() {
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	o.ring = nil
	o.started = false
	o.paused = false
}

// Reset discards queued audio and re-arms the stopped state.
func (o *Oto) Reset() {
	if o.ring == nil {
		return
	}
	if o.player != nil && o.started {
		o.player.Pause()
	}
	o.ring.Flush()
	o.started = false
	o.paused = false
}

// Start begins pulling from the ring.
func (o *Oto) Start() {
	if o.player == nil {
		return
	}
	o.started = true
	o.paused = false
	o.player.Play()
}

// Write applies the software volume to a copy and queues whole frames.
func (o *Oto) Write(buf *audio.Buffer) int {
	if o.ring == nil {
		return 0
	}
	adjusted := buf.Clone()
	adjusted.Scale(o.volume)
	return o.ring.WriteFrames(adjusted.Bytes())
}

// SetPaused suspends or resumes the player when playback was started.
func (o *Oto) SetPaused(pause bool) {
	if o.player == nil || !o.started {
		return
	}
	if pause && !o.paused {
		o.player.Pause()
		o.paused = true
	} else if !pause && o.paused {
		o.player.Play()
		o.paused = false
	}
}

// SetVolume sets the linear gain applied on the write path.
func (o *Oto) SetVolume(gain float64) {
	o.volume = gain
}

// SetDevice is accepted for interface parity; oto always plays through the
// system default endpoint.
func (o *Oto) SetDevice(name string) {
	if name != "" && name != "default" {
		log.Printf("[oto] device selection not supported, using system default")
	}
}

// Format returns the format accepted by the last Init.
func (o *Oto) Format() audio.Format {
	return o.format
}

// CurrentState reports ring occupancy plus whatever the player has already
// pulled but not yet played.
func (o *Oto) CurrentState() State {
	var state State
	if o.ring == nil {
		return state
	}

	free := o.ring.FreeFrames() / otoPeriodFrames * otoPeriodFrames
	state.FreeSamples = free
	state.QueuedSamples = otoBufferFrames - free

	delayFrames := o.ring.QueuedFrames()
	if o.player != nil {
		delayFrames += o.player.BufferedSize() / o.format.BytesPerFrame()
	}
	if o.format.SampleRate > 0 {
		state.Delay = float64(delayFrames) / float64(o.format.SampleRate)
	}
	return state
}

// BufferSize returns the ring capacity in frames.
func (o *Oto) BufferSize() int {
	return otoBufferFrames
}

// Devices lists the single endpoint oto can address.
func (o *Oto) Devices() []Device {
	return []Device{{Name: "default", Description: "System default output"}}
}

// Errors delivers device-lost notifications; oto never raises one.
func (o *Oto) Errors() <-chan error {
	return o.errs
}
