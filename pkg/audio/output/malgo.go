// ABOUTME: Output backend built on malgo (miniaudio)
// ABOUTME: Callback-driven playback with real device enumeration
package output

import (
	"fmt"
	"log"

	"github.com/chime-player/chime-go/pkg/audio"
	"github.com/gen2brain/malgo"
)

func init() {
	Register("malgo", NewMalgo)
}

const (
	malgoBufferFrames = 8192
	malgoPeriodFrames = 1024
)

// Malgo drives playback through miniaudio. The device pulls from a frame
// ring in its data callback; the transport is started and stopped
// explicitly, never by buffer occupancy.
type Malgo struct {
	mctx       *malgo.AllocatedContext
	device     *malgo.Device
	format     audio.Format
	ring       *frameRing
	volume     float64
	deviceName string
	started    bool
	paused     bool
	errs       chan error
}

// NewMalgo creates a malgo-backed output selecting the default endpoint.
func NewMalgo() Output {
	return &Malgo{
		volume:     1.0,
		deviceName: "default",
		errs:       make(chan error, 1),
	}
}

func malgoFormatFor(f audio.SampleFormat) (malgo.FormatType, error) {
	switch f {
	case audio.U8:
		return malgo.FormatU8, nil
	case audio.S16:
		return malgo.FormatS16, nil
	case audio.S24:
		return malgo.FormatS24, nil
	case audio.S32:
		return malgo.FormatS32, nil
	case audio.Float32:
		return malgo.FormatF32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("%w: %s", ErrFormatNotSupported, f)
	}
}

// Init creates the context and device for the requested format. The device
// is configured but not started.
func (m *Malgo) Init(format audio.Format) error {
	if !format.Valid() {
		return fmt.Errorf("%w: %s", ErrFormatNotSupported, format)
	}

	malgoFormat, err := malgoFormatFor(format.SampleFormat)
	if err != nil {
		return err
	}

	if m.mctx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("init malgo context: %w", err)
		}
		m.mctx = ctx
	}

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.Playback.Format = malgoFormat
	config.Playback.Channels = format.Channels
	config.SampleRate = format.SampleRate
	config.PeriodSizeInFrames = malgoPeriodFrames
	config.Alsa.NoMMap = 1

	if m.deviceName != "" && m.deviceName != "default" {
		if id, ok := m.lookupDevice(m.deviceName); ok {
			config.Playback.DeviceID = id.Pointer()
		} else {
			log.Printf("[malgo] device %q not found, using default", m.deviceName)
		}
	}

	ring := newFrameRing(malgoBufferFrames, format.BytesPerFrame())
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			ring.ReadFrames(pOutput)
		},
	}

	device, err := malgo.InitDevice(m.mctx.Context, config, callbacks)
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}

	m.device = device
	m.format = format
	m.ring = ring
	m.started = false
	m.paused = false
	return nil
}

// lookupDevice resolves a device name from the playback enumeration.
func (m *Malgo) lookupDevice(name string) (malgo.DeviceID, bool) {
	infos, err := m.mctx.Devices(malgo.Playback)
	if err != nil {
		log.Printf("[malgo] device enumeration failed: %v", err)
		return malgo.DeviceID{}, false
	}
	for _, info := range infos {
		if info.Name() == name {
			return info.ID, true
		}
	}
	return malgo.DeviceID{}, false
}

// Uninit stops the device and tears down the context. Idempotent.
func (m *Malgo) Uninit() {
	if m.device != nil {
		if m.started && !m.paused {
			if err := m.device.Stop(); err != nil {
				log.Printf("[malgo] device stop error: %v", err)
			}
		}
		m.device.Uninit()
		m.device = nil
	}
	if m.mctx != nil {
		if err := m.mctx.Uninit(); err != nil {
			log.Printf("[malgo] context uninit error: %v", err)
		}
		m.mctx.Free()
		m.mctx = nil
	}
	m.ring = nil
	m.started = false
	m.paused = false
}

// Reset discards queued audio and returns to the armed-but-stopped state.
func (m *Malgo) Reset() {
	if m.ring == nil {
		return
	}
	if m.device != nil && m.started && !m.paused {
		if err := m.device.Stop(); err != nil {
			log.Printf("[malgo] device stop error: %v", err)
		}
	}
	m.ring.Flush()
	m.started = false
	m.paused = false
}

// Start begins the device transport.
func (m *Malgo) Start() {
	if m.device == nil {
		return
	}
	if err := m.device.Start(); err != nil {
		log.Printf("[malgo] device start error: %v", err)
		return
	}
	m.started = true
	m.paused = false
}

// Write applies the software volume to a copy and queues whole frames.
func (m *Malgo) Write(buf *audio.Buffer) int {
	if m.ring == nil {
		return 0
	}
	adjusted := buf.Clone()
	adjusted.Scale(m.volume)
	return m.ring.WriteFrames(adjusted.Bytes())
}

// SetPaused stops or restarts the device transport; the ring keeps its
// queued audio across a pause.
func (m *Malgo) SetPaused(pause bool) {
	if m.device == nil || !m.started {
		return
	}
	if pause && !m.paused {
		if err := m.device.Stop(); err != nil {
			log.Printf("[malgo] couldn't pause device: %v", err)
			return
		}
		m.paused = true
	} else if !pause && m.paused {
		if err := m.device.Start(); err != nil {
			log.Printf("[malgo] couldn't unpause device: %v", err)
			return
		}
		m.paused = false
	}
}

// SetVolume sets the linear gain applied on the write path.
func (m *Malgo) SetVolume(gain float64) {
	m.volume = gain
}

// SetDevice selects the endpoint for the next Init. Empty names are
// ignored so the previous selection survives.
func (m *Malgo) SetDevice(name string) {
	if name != "" {
		m.deviceName = name
	}
}

// Format returns the format accepted by the last Init.
func (m *Malgo) Format() audio.Format {
	return m.format
}

// CurrentState reports ring occupancy. miniaudio owns fault recovery below
// this layer, so no recovery pass is needed here.
func (m *Malgo) CurrentState() State {
	var state State
	if m.ring == nil {
		return state
	}

	free := m.ring.FreeFrames() / malgoPeriodFrames * malgoPeriodFrames
	state.FreeSamples = free
	state.QueuedSamples = malgoBufferFrames - free
	if m.format.SampleRate > 0 {
		state.Delay = float64(m.ring.QueuedFrames()) / float64(m.format.SampleRate)
	}
	return state
}

// BufferSize returns the ring capacity in frames.
func (m *Malgo) BufferSize() int {
	return malgoBufferFrames
}

// Devices enumerates playback endpoints, with a synthetic default entry
// ordered first.
func (m *Malgo) Devices() []Device {
	ctx := m.mctx
	if ctx == nil {
		fresh, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			log.Printf("[malgo] context init failed: %v", err)
			return nil
		}
		defer func() {
			if err := fresh.Uninit(); err != nil {
				log.Printf("[malgo] context uninit error: %v", err)
			}
			fresh.Free()
		}()
		ctx = fresh
	}

	infos, err := ctx.Devices(malgo.Playback)
	if err != nil {
		log.Printf("[malgo] device enumeration failed: %v", err)
		return nil
	}

	devices := []Device{{Name: "default", Description: "System default output"}}
	for _, info := range infos {
		devices = append(devices, Device{Name: info.Name(), Description: info.Name()})
	}
	return orderDefaultFirst(devices)
}

// Errors delivers device-lost notifications.
func (m *Malgo) Errors() <-chan error {
	return m.errs
}
