// ABOUTME: Playback engine controller
// ABOUTME: Worker goroutine owning decoder, output and transport state
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/chime-player/chime-go/pkg/audio"
	"github.com/chime-player/chime-go/pkg/audio/decode"
	"github.com/chime-player/chime-go/pkg/audio/output"
	"github.com/chime-player/chime-go/pkg/audio/resample"
	"github.com/chime-player/chime-go/pkg/track"
)

// Status is the engine's transport state.
type Status int

const (
	Stopped Status = iota
	Playing
	Paused
	// TrackEnding means the decoder is exhausted but queued audio is still
	// draining through the device.
	TrackEnding
	// Invalid means the current track failed to open or seek. Playback is
	// held until a new track is loaded.
	Invalid
)

func (s Status) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case TrackEnding:
		return "ending"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// EventKind identifies an engine notification.
type EventKind int

const (
	// EventTrackAboutToFinish fires once per track when the decoder hits
	// end of stream while queued audio is still playing. The lead time is
	// the queued duration, giving the caller room for gapless preload.
	EventTrackAboutToFinish EventKind = iota

	// EventTrackFinished fires when the last queued samples have drained.
	EventTrackFinished

	// EventTrackStatusChanged reports a track turning valid or invalid.
	// Err is set when the track is invalid.
	EventTrackStatusChanged

	// EventDeviceDisconnected reports an unrecoverable output device.
	// Playback pauses; the caller decides whether to retry or switch.
	EventDeviceDisconnected

	// EventPositionChanged carries the current in-track position.
	EventPositionChanged

	// EventStateChanged reports a transport state transition.
	EventStateChanged
)

// Event is one engine notification.
type Event struct {
	Kind     EventKind
	Track    track.Track
	Status   Status
	Position time.Duration
	Err      error
}

// fillThresholdFrames gates the fill loop: the device is topped up only
// while it can absorb at least this many frames, matching the period size
// the backends negotiate.
const fillThresholdFrames = 1024

type commandKind int

const (
	cmdLoad commandKind = iota
	cmdPlay
	cmdPause
	cmdStop
	cmdSeek
	cmdVolume
	cmdDevice
	cmdOutput
)

type command struct {
	kind  commandKind
	track track.Track
	pos   time.Duration
	gain  float64
	name  string
	pause bool
}

// Config holds engine configuration.
type Config struct {
	// Backend is the output backend name from the output registry.
	Backend string

	// Device is the output endpoint, empty for the backend default.
	Device string

	// Volume is the initial software gain in [0, 1].
	Volume float64

	// FillInterval is the cadence of the device top-up tick.
	FillInterval time.Duration

	// PositionInterval is the cadence of position events.
	PositionInterval time.Duration
}

// Engine orchestrates decode and playback. A dedicated worker goroutine
// owns the decoder, the output and all transport state; the exported
// control methods cross into it as discrete commands, so they are safe to
// call from any goroutine and never block on audio I/O.
type Engine struct {
	cfg    Config
	cmds   chan command
	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// construction seams
	newOutput  func(name string) (output.Output, error)
	newDecoder func(extension string) (decode.Decoder, error)

	// worker-owned state
	status        Status
	track         track.Track
	dec           decode.Decoder
	out           output.Output
	outErrs       <-chan error
	streamFormat  audio.Format // what the decoder produces
	format        audio.Format // what the device negotiated
	resampler     *resample.Resampler
	volume        float64
	device        string
	pending       *audio.Buffer
	decoderDone   bool
	endNotified   bool
	posBase       time.Duration
	framesWritten int64
	framesDecoded int64
}

// New creates an engine. Run must be started before commands have effect.
func New(cfg Config) *Engine {
	if cfg.Backend == "" {
		cfg.Backend = "oto"
	}
	if cfg.FillInterval <= 0 {
		cfg.FillInterval = 20 * time.Millisecond
	}
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = 50 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:        cfg,
		cmds:       make(chan command, 16),
		events:     make(chan Event, 32),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		newOutput:  output.New,
		newDecoder: decode.For,
		status:     Stopped,
		volume:     clampGain(cfg.Volume),
		device:     cfg.Device,
	}
}

// Load replaces the current track. Play intent is preserved: a playing
// engine continues with the new track.
func (e *Engine) Load(t track.Track) { e.send(command{kind: cmdLoad, track: t}) }

// Play starts or resumes playback. After a finished track it rewinds to
// the start and plays again.
func (e *Engine) Play() { e.send(command{kind: cmdPlay}) }

// Pause suspends playback, keeping queued audio and position.
func (e *Engine) Pause() { e.send(command{kind: cmdPause, pause: true}) }

// Stop halts playback and rewinds to the start of the track.
func (e *Engine) Stop() { e.send(command{kind: cmdStop}) }

// Seek repositions within the current track.
func (e *Engine) Seek(pos time.Duration) { e.send(command{kind: cmdSeek, pos: pos}) }

// SetVolume sets the software gain in [0, 1].
func (e *Engine) SetVolume(gain float64) { e.send(command{kind: cmdVolume, gain: gain}) }

// SetDevice switches the output endpoint, preserving the decode position.
func (e *Engine) SetDevice(name string) { e.send(command{kind: cmdDevice, name: name}) }

// SetOutput switches to a different output backend, preserving the decode
// position.
func (e *Engine) SetOutput(backend string) { e.send(command{kind: cmdOutput, name: backend}) }

// Events returns the notification stream.
func (e *Engine) Events() <-chan Event { return e.events }

// Close shuts the worker down and releases decoder and output.
func (e *Engine) Close() {
	e.cancel()
	<-e.done
}

func (e *Engine) send(cmd command) {
	select {
	case e.cmds <- cmd:
	case <-e.ctx.Done():
	}
}

// Run is the worker loop. It owns all playback state and is the only
// goroutine that touches the decoder and the output.
func (e *Engine) Run() {
	defer close(e.done)

	fill := time.NewTicker(e.cfg.FillInterval)
	defer fill.Stop()
	pos := time.NewTicker(e.cfg.PositionInterval)
	defer pos.Stop()

	for {
		select {
		case <-e.ctx.Done():
			e.teardown()
			return

		case cmd := <-e.cmds:
			e.handleCommand(cmd)

		case err := <-e.outErrs:
			e.handleDeviceLost(err)

		case <-fill.C:
			if e.status == Playing || e.status == TrackEnding {
				e.fill()
				e.checkDrained()
			}

		case <-pos.C:
			if e.dec != nil && (e.status == Playing || e.status == TrackEnding) {
				e.emit(Event{Kind: EventPositionChanged, Track: e.track, Position: e.position()})
			}
		}
	}
}

func (e *Engine) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdLoad:
		e.load(cmd.track)
	case cmdPlay:
		e.play()
	case cmdPause:
		e.pause()
	case cmdStop:
		e.stop()
	case cmdSeek:
		e.seek(cmd.pos)
	case cmdVolume:
		e.setVolume(cmd.gain)
	case cmdDevice:
		e.setDevice(cmd.name)
	case cmdOutput:
		e.setOutput(cmd.name)
	}
}

// load opens a decoder for the track and readies the output for its
// format. A playing engine continues playing the new track.
func (e *Engine) load(t track.Track) {
	wasPlaying := e.status == Playing || e.status == TrackEnding

	e.closeDecoder()
	e.resetStreamState()
	e.posBase = 0

	if !t.Valid() {
		e.invalidate(t, errors.New("track has no source"))
		return
	}

	dec, err := e.newDecoder(t.Extension())
	if err != nil {
		e.invalidate(t, err)
		return
	}

	format, err := dec.Open(t.Path)
	if err != nil {
		dec.Close()
		e.invalidate(t, err)
		return
	}

	if t.Offset > 0 {
		if err := dec.Seek(t.Offset); err != nil {
			dec.Close()
			e.invalidate(t, err)
			return
		}
	}

	e.dec = dec
	e.track = t

	if err := e.ensureOutput(format); err != nil {
		e.invalidate(t, err)
		return
	}
	e.streamFormat = format

	e.emit(Event{Kind: EventTrackStatusChanged, Track: t, Status: e.status})
	log.Printf("[engine] loaded %s (%s)", t.Path, format)

	if wasPlaying {
		e.startPlayback()
	} else {
		e.setStatus(Stopped)
	}
}

// ensureOutput builds the output on first use and renegotiates when the
// stream format changes.
func (e *Engine) ensureOutput(format audio.Format) error {
	if e.out == nil {
		out, err := e.newOutput(e.cfg.Backend)
		if err != nil {
			return err
		}
		out.SetDevice(e.device)
		out.SetVolume(e.volume)
		e.out = out
		e.outErrs = out.Errors()
	} else if format == e.streamFormat && e.format.Valid() {
		// Same stream format as the last negotiation: keep it, drop any
		// stale audio.
		e.out.Reset()
		return nil
	} else {
		e.out.Uninit()
	}

	return e.negotiate(format)
}

// negotiate initialises the device for the stream format. A substituted
// sample rate is bridged with a resampler; any other substitution has no
// lossless bridge and fails the track.
func (e *Engine) negotiate(format audio.Format) error {
	if err := e.out.Init(format); err != nil {
		return err
	}

	got := e.out.Format()
	e.format = got
	e.resampler = nil
	if got == format {
		return nil
	}
	if got.SampleFormat != format.SampleFormat || got.Channels != format.Channels {
		return fmt.Errorf("device negotiated incompatible format %s for stream %s", got, format)
	}

	log.Printf("[engine] resampling %d -> %d Hz for device", format.SampleRate, got.SampleRate)
	rs, err := resample.New(format, got)
	if err != nil {
		return err
	}
	e.resampler = rs
	return nil
}

// play starts or resumes. Playing a finished track rewinds it first.
func (e *Engine) play() {
	if e.dec == nil || e.status == Invalid {
		return
	}

	switch e.status {
	case Playing, TrackEnding:
		return
	case Paused:
		e.out.SetPaused(false)
		e.setStatus(Playing)
	default:
		if e.decoderDone {
			// The previous run played to the end; start over.
			e.seek(0)
			if e.status == Invalid {
				return
			}
		}
		e.startPlayback()
	}
}

// startPlayback pre-fills the device and starts the transport explicitly,
// so the first audible samples come from a full buffer. An exhausted
// decoder means the remaining queue is draining, not active playback.
func (e *Engine) startPlayback() {
	if e.decoderDone {
		e.setStatus(TrackEnding)
	} else {
		e.setStatus(Playing)
	}
	e.fill()
	e.out.Start()
}

func (e *Engine) pause() {
	if e.status != Playing && e.status != TrackEnding {
		return
	}
	e.out.SetPaused(true)
	e.setStatus(Paused)
}

// stop halts the transport and rewinds to the start of the track.
func (e *Engine) stop() {
	if e.out != nil {
		e.out.Reset()
	}
	if e.dec != nil {
		if err := e.dec.Seek(e.track.Offset); err != nil {
			e.invalidate(e.track, err)
			return
		}
	}
	e.resetStreamState()
	e.posBase = 0
	e.setStatus(Stopped)
}

// seek repositions the stream: drop queued audio, reseat the decoder,
// then refill and restart if playback was in flight.
func (e *Engine) seek(pos time.Duration) {
	if e.dec == nil || e.out == nil {
		return
	}
	if pos < 0 {
		pos = 0
	}

	wasPlaying := e.status == Playing || e.status == TrackEnding
	if e.track.Limit > 0 && pos > e.track.Limit {
		pos = e.track.Limit
	}

	e.out.Reset()

	if err := e.dec.Seek(e.track.Offset + pos); err != nil {
		e.invalidate(e.track, err)
		return
	}

	e.resetStreamState()
	e.posBase = pos
	e.framesDecoded = int64(e.streamFormat.FramesForDuration(pos))

	if wasPlaying {
		e.startPlayback()
	}
	e.emit(Event{Kind: EventPositionChanged, Track: e.track, Position: pos})
}

func (e *Engine) setVolume(gain float64) {
	e.volume = clampGain(gain)
	if e.out != nil {
		e.out.SetVolume(e.volume)
	}
}

// setDevice rebuilds the device path on a new endpoint. The decoder is
// untouched, so the playback position survives the switch.
func (e *Engine) setDevice(name string) {
	if name == "" || name == e.device {
		return
	}
	e.device = name

	if e.out == nil {
		return
	}

	wasPlaying := e.status == Playing || e.status == TrackEnding

	e.out.Uninit()
	e.out.SetDevice(name)
	if !e.streamFormat.Valid() {
		return
	}
	if err := e.negotiate(e.streamFormat); err != nil {
		log.Printf("[engine] device switch failed: %v", err)
		e.emit(Event{Kind: EventDeviceDisconnected, Track: e.track, Err: err})
		e.setStatus(Paused)
		return
	}
	e.pending = nil

	if wasPlaying {
		e.startPlayback()
	}
}

// setOutput swaps the backend entirely, preserving the decode position.
func (e *Engine) setOutput(backend string) {
	if backend == "" || backend == e.cfg.Backend {
		return
	}

	next, err := e.newOutput(backend)
	if err != nil {
		log.Printf("[engine] unknown output backend %q: %v", backend, err)
		return
	}

	wasPlaying := e.status == Playing || e.status == TrackEnding

	if e.out != nil {
		e.out.Uninit()
	}
	e.cfg.Backend = backend
	e.out = next
	e.outErrs = next.Errors()
	next.SetDevice(e.device)
	next.SetVolume(e.volume)

	if !e.streamFormat.Valid() {
		return
	}
	if err := e.negotiate(e.streamFormat); err != nil {
		log.Printf("[engine] output switch failed: %v", err)
		e.emit(Event{Kind: EventDeviceDisconnected, Track: e.track, Err: err})
		e.setStatus(Paused)
		return
	}
	e.pending = nil

	if wasPlaying {
		e.startPlayback()
	}
}

// fill tops the device up while it can absorb whole periods, resubmitting
// partial-write tails before pulling new buffers from the decoder.
func (e *Engine) fill() {
	if e.out == nil || e.dec == nil {
		return
	}

	for !e.decoderDone || e.pending != nil {
		state := e.out.CurrentState()
		if state.FreeSamples < fillThresholdFrames {
			return
		}

		buf := e.pending
		e.pending = nil
		if buf == nil {
			var err error
			buf, err = e.nextBuffer()
			if err == io.EOF {
				e.markDecoderDone()
				return
			}
			if err != nil {
				log.Printf("[engine] decode error: %v", err)
				e.invalidate(e.track, err)
				return
			}
			if e.resampler != nil {
				buf = e.resampler.Process(buf)
				if buf.FrameCount() == 0 {
					continue
				}
			}
		}

		n := e.out.Write(buf)
		e.framesWritten += int64(n)
		if n < buf.FrameCount() {
			e.pending = buf.Tail(n)
			return
		}
	}
}

// nextBuffer pulls one decoded buffer, enforcing a cue-defined limit by
// trimming and synthesizing end of stream at the range boundary.
func (e *Engine) nextBuffer() (*audio.Buffer, error) {
	buf, err := e.dec.Next()
	if err != nil {
		return nil, err
	}

	if e.track.Limit > 0 {
		limitFrames := int64(e.streamFormat.FramesForDuration(e.track.Limit))
		remaining := limitFrames - e.framesDecoded
		if remaining <= 0 {
			return nil, io.EOF
		}
		if int64(buf.FrameCount()) > remaining {
			frames := int(remaining)
			buf = audio.BufferFrom(buf.Format(), buf.Bytes()[:frames*buf.Format().BytesPerFrame()], frames)
		}
	}

	e.framesDecoded += int64(buf.FrameCount())
	return buf, nil
}

// markDecoderDone flags end of stream and announces the upcoming finish
// with the queued duration as lead time.
func (e *Engine) markDecoderDone() {
	e.decoderDone = true
	if e.endNotified {
		return
	}
	e.endNotified = true
	e.setStatus(TrackEnding)
	e.emit(Event{Kind: EventTrackAboutToFinish, Track: e.track, Position: e.position()})
}

// checkDrained finishes the track once the queue has emptied.
func (e *Engine) checkDrained() {
	if e.status != TrackEnding || e.pending != nil {
		return
	}
	if e.out.CurrentState().QueuedSamples > 0 {
		return
	}
	e.out.Reset()
	e.setStatus(Stopped)
	e.emit(Event{Kind: EventTrackFinished, Track: e.track})
}

// position derives the audible in-track position from frames handed to the
// device minus the audio still queued ahead of the DAC.
func (e *Engine) position() time.Duration {
	if !e.format.Valid() {
		return 0
	}
	pos := e.posBase + e.format.DurationForFrames(int(e.framesWritten))
	if e.out != nil {
		pos -= time.Duration(e.out.CurrentState().Delay * float64(time.Second))
	}
	if pos < e.posBase {
		pos = e.posBase
	}
	return pos
}

func (e *Engine) handleDeviceLost(err error) {
	log.Printf("[engine] output device lost: %v", err)
	if e.status == Playing || e.status == TrackEnding {
		e.setStatus(Paused)
	}
	e.emit(Event{Kind: EventDeviceDisconnected, Track: e.track, Err: err})
}

func (e *Engine) invalidate(t track.Track, err error) {
	log.Printf("[engine] invalid track %s: %v", t.Path, err)
	e.closeDecoder()
	e.setStatus(Invalid)
	e.emit(Event{Kind: EventTrackStatusChanged, Track: t, Status: Invalid, Err: err})
}

func (e *Engine) setStatus(s Status) {
	if e.status == s {
		return
	}
	e.status = s
	e.emit(Event{Kind: EventStateChanged, Track: e.track, Status: s, Position: e.position()})
}

// emit delivers an event without blocking the worker. A slow consumer
// loses events rather than stalling the audio path.
func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		log.Printf("[engine] event dropped: consumer too slow")
	}
}

func (e *Engine) resetStreamState() {
	e.pending = nil
	e.decoderDone = false
	e.endNotified = false
	e.framesWritten = 0
	e.framesDecoded = 0
	if e.resampler != nil {
		e.resampler.Reset()
	}
}

func (e *Engine) closeDecoder() {
	if e.dec != nil {
		if err := e.dec.Close(); err != nil {
			log.Printf("[engine] decoder close error: %v", err)
		}
		e.dec = nil
	}
}

func (e *Engine) teardown() {
	e.closeDecoder()
	if e.out != nil {
		e.out.Uninit()
		e.out = nil
	}
}

func clampGain(gain float64) float64 {
	if gain < 0 {
		return 0
	}
	if gain > 1 {
		return 1
	}
	return gain
}
