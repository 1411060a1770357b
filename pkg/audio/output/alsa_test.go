// ABOUTME: Tests for the alsa backend over a fake PCM handle
// ABOUTME: Covers negotiation, the recovery machine and the write path
package output

import (
	"errors"
	"testing"
	"time"

	"github.com/chime-player/chime-go/pkg/audio"
)

type fakeStatus struct {
	st  pcmStatus
	err error
}

// fakePCM scripts the hardware handle. Status responses are consumed from
// statusSeq; once exhausted, the current transport state is reported.
type fakePCM struct {
	formats      map[audio.SampleFormat]bool
	canPause     bool
	rateOverride uint32
	chOverride   uint32
	maxBuffer    int

	statusSeq   []fakeStatus
	statusCalls int
	stateNow    pcmState

	prepares     int
	starts       int
	resumes      int
	recovers     int
	closes       int
	resumeErrs   []error
	pauseCalls   []bool
	writeAccepts []int
	writeCalls   int
	written      [][]byte
}

func newFakePCM() *fakePCM {
	return &fakePCM{
		canPause:  true,
		maxBuffer: 16384,
		stateNow:  pcmStatePrepared,
	}
}

func (f *fakePCM) CanPause() bool { return f.canPause }

func (f *fakePCM) SupportsFormat(format audio.SampleFormat) bool {
	if f.formats == nil {
		return true
	}
	return f.formats[format]
}

func (f *fakePCM) SetAccessInterleaved() error        { return nil }
func (f *fakePCM) SetFormat(audio.SampleFormat) error { return nil }
func (f *fakePCM) ApplyHWParams() error               { return nil }
func (f *fakePCM) ApplySWParams() error               { return nil }
func (f *fakePCM) Drop() error                        { return nil }
func (f *fakePCM) Drain() error                       { return nil }
func (f *fakePCM) Recover(error) error                { f.recovers++; return nil }
func (f *fakePCM) State() pcmState                    { return f.stateNow }

func (f *fakePCM) SetRateNear(rate uint32) (uint32, error) {
	if f.rateOverride != 0 {
		return f.rateOverride, nil
	}
	return rate, nil
}

func (f *fakePCM) SetChannelsNear(channels uint32) (uint32, error) {
	if f.chOverride != 0 {
		return f.chOverride, nil
	}
	return channels, nil
}

func (f *fakePCM) MaxBufferSize() (int, error) { return f.maxBuffer, nil }

func (f *fakePCM) SetBufferSizeNear(frames int) (int, error) { return frames, nil }
func (f *fakePCM) SetPeriodSizeNear(frames int) (int, error) { return frames, nil }

func (f *fakePCM) Prepare() error {
	f.prepares++
	f.stateNow = pcmStatePrepared
	return nil
}

func (f *fakePCM) Start() error {
	f.starts++
	f.stateNow = pcmStateRunning
	return nil
}

func (f *fakePCM) Resume() error {
	var err error
	if f.resumes < len(f.resumeErrs) {
		err = f.resumeErrs[f.resumes]
	}
	f.resumes++
	if err == nil {
		f.stateNow = pcmStateRunning
	}
	return err
}

func (f *fakePCM) Pause(enable bool) error {
	f.pauseCalls = append(f.pauseCalls, enable)
	if enable {
		f.stateNow = pcmStatePaused
	} else {
		f.stateNow = pcmStateRunning
	}
	return nil
}

func (f *fakePCM) Status() (pcmStatus, error) {
	idx := f.statusCalls
	f.statusCalls++
	if idx < len(f.statusSeq) {
		s := f.statusSeq[idx]
		if s.err == nil {
			f.stateNow = s.st.state
		}
		return s.st, s.err
	}
	return pcmStatus{state: f.stateNow, availFrames: int64(f.maxBuffer)}, nil
}

func (f *fakePCM) WriteInterleaved(data []byte, frames int) (int, error) {
	f.written = append(f.written, append([]byte(nil), data...))
	accepted := frames
	if f.writeCalls < len(f.writeAccepts) {
		accepted = f.writeAccepts[f.writeCalls]
	}
	f.writeCalls++
	return accepted, nil
}

func (f *fakePCM) Close() error {
	f.closes++
	return nil
}

func newTestAlsa(t *testing.T, pcm *fakePCM) *Alsa {
	t.Helper()

	a := NewAlsa().(*Alsa)
	a.open = func(string) (pcmConn, error) { return pcm, nil }
	a.sleep = func(time.Duration) {}

	format := audio.Format{SampleFormat: audio.S16, SampleRate: 44100, Channels: 2}
	if err := a.Init(format); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	// Negotiation prepared the device once; the tests below count from a
	// clean slate.
	pcm.prepares = 0
	pcm.statusCalls = 0
	return a
}

func s16Buffer(t *testing.T, frames int) *audio.Buffer {
	t.Helper()
	format := audio.Format{SampleFormat: audio.S16, SampleRate: 44100, Channels: 2}
	return audio.NewBuffer(format, frames)
}

func TestInitNegotiatesRequestedFormat(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)

	if got := a.Format(); got.SampleRate != 44100 || got.Channels != 2 {
		t.Errorf("format changed unexpectedly: %v", got)
	}
	if a.BufferSize() != defaultBufferSize {
		t.Errorf("expected buffer size %d, got %d", defaultBufferSize, a.BufferSize())
	}
}

func TestInitAcceptsSubstitutedRate(t *testing.T) {
	pcm := newFakePCM()
	pcm.rateOverride = 48000

	a := NewAlsa().(*Alsa)
	a.open = func(string) (pcmConn, error) { return pcm, nil }
	a.sleep = func(time.Duration) {}

	format := audio.Format{SampleFormat: audio.S16, SampleRate: 44100, Channels: 2}
	if err := a.Init(format); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if a.Format().SampleRate != 48000 {
		t.Errorf("expected substituted rate 48000, got %d", a.Format().SampleRate)
	}
}

func TestInitRejectsUnsupportedSampleFormat(t *testing.T) {
	pcm := newFakePCM()
	pcm.formats = map[audio.SampleFormat]bool{audio.S16: true}

	a := NewAlsa().(*Alsa)
	a.open = func(string) (pcmConn, error) { return pcm, nil }
	a.sleep = func(time.Duration) {}

	format := audio.Format{SampleFormat: audio.Float32, SampleRate: 44100, Channels: 2}
	err := a.Init(format)
	if !errors.Is(err, ErrFormatNotSupported) {
		t.Fatalf("expected ErrFormatNotSupported, got %v", err)
	}
	if pcm.closes == 0 {
		t.Error("expected handle to be closed after failed negotiation")
	}
}

func TestInitClampsBufferToHardwareMax(t *testing.T) {
	pcm := newFakePCM()
	pcm.maxBuffer = 4096

	a := NewAlsa().(*Alsa)
	a.open = func(string) (pcmConn, error) { return pcm, nil }
	a.sleep = func(time.Duration) {}

	format := audio.Format{SampleFormat: audio.S16, SampleRate: 44100, Channels: 2}
	if err := a.Init(format); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if a.BufferSize() != 4096 {
		t.Errorf("expected buffer clamped to 4096, got %d", a.BufferSize())
	}
}

func TestRecoveryAfterUnderrun(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)
	a.Start()

	pcm.statusCalls = 0
	pcm.statusSeq = []fakeStatus{
		{st: pcmStatus{state: pcmStateXRun}},
		{st: pcmStatus{state: pcmStateXRun}},
		{st: pcmStatus{state: pcmStateRunning, availFrames: 8192}},
	}

	if !a.recoverState(nil) {
		t.Fatal("expected recovery to succeed")
	}
	if pcm.prepares != 2 {
		t.Errorf("expected exactly 2 prepares, got %d", pcm.prepares)
	}
	if pcm.statusCalls > 3 {
		t.Errorf("expected at most 3 status queries, got %d", pcm.statusCalls)
	}
}

func TestDeviceLostFailsAfterSingleQuery(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)
	a.Start()

	pcm.statusCalls = 0
	pcm.stateNow = pcmStateDisconnected
	pcm.statusSeq = []fakeStatus{{st: pcmStatus{state: pcmStateDisconnected}}}

	if n := a.Write(s16Buffer(t, 1024)); n != 0 {
		t.Errorf("expected write to return 0, got %d", n)
	}
	if pcm.statusCalls != 1 {
		t.Errorf("expected exactly 1 status query, got %d", pcm.statusCalls)
	}
	if pcm.writeCalls != 0 {
		t.Errorf("expected no hardware write, got %d", pcm.writeCalls)
	}

	select {
	case err := <-a.Errors():
		if !errors.Is(err, ErrDeviceLost) {
			t.Errorf("expected ErrDeviceLost, got %v", err)
		}
	default:
		t.Error("expected a device-lost notification")
	}

	select {
	case err := <-a.Errors():
		t.Errorf("expected a single notification, got a second: %v", err)
	default:
	}
}

func TestTransientFaultRecoversOnce(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)
	a.Start()

	pcm.statusCalls = 0
	pcm.statusSeq = []fakeStatus{
		{err: errPCMPipe},
		{st: pcmStatus{state: pcmStateRunning, availFrames: 8192}},
	}

	if !a.recoverState(nil) {
		t.Fatal("expected recovery to succeed")
	}
	if pcm.recovers != 1 {
		t.Errorf("expected 1 low-level recover, got %d", pcm.recovers)
	}
	if pcm.prepares != 0 {
		t.Errorf("expected no prepare, got %d", pcm.prepares)
	}
}

func TestSecondTransientFaultTreatedAsUnderrun(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)
	a.Start()

	pcm.statusCalls = 0
	pcm.statusSeq = []fakeStatus{
		{err: errPCMPipe},
		{err: errPCMInterrupted},
		{st: pcmStatus{state: pcmStateRunning, availFrames: 8192}},
	}

	if !a.recoverState(nil) {
		t.Fatal("expected recovery to succeed")
	}
	if pcm.recovers != 1 {
		t.Errorf("expected 1 low-level recover, got %d", pcm.recovers)
	}
	if pcm.prepares != 1 {
		t.Errorf("expected 1 prepare for the synthesized underrun, got %d", pcm.prepares)
	}
}

func TestSuspendedDeviceResumes(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)
	a.Start()

	pcm.statusCalls = 0
	pcm.statusSeq = []fakeStatus{
		{st: pcmStatus{state: pcmStateSuspended}},
	}

	if !a.recoverState(nil) {
		t.Fatal("expected recovery to succeed")
	}
	if pcm.resumes != 1 {
		t.Errorf("expected 1 resume, got %d", pcm.resumes)
	}
}

func TestSuspendedResumeRetriesOnBusyDriver(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)
	a.Start()

	slept := 0
	a.sleep = func(time.Duration) { slept++ }

	pcm.statusCalls = 0
	pcm.resumeErrs = []error{errPCMAgain, nil}
	pcm.statusSeq = []fakeStatus{
		{st: pcmStatus{state: pcmStateSuspended}},
		{st: pcmStatus{state: pcmStateSuspended}},
	}

	if !a.recoverState(nil) {
		t.Fatal("expected recovery to succeed")
	}
	if pcm.resumes != 2 {
		t.Errorf("expected 2 resume attempts, got %d", pcm.resumes)
	}
	if slept != 1 {
		t.Errorf("expected 1 backoff sleep, got %d", slept)
	}
}

func TestSuspendedResumeFallsBackToPrepare(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)
	a.Start()

	pcm.statusCalls = 0
	pcm.resumeErrs = []error{errPCMNotSupported}
	pcm.statusSeq = []fakeStatus{
		{st: pcmStatus{state: pcmStateSuspended}},
		{st: pcmStatus{state: pcmStateRunning, availFrames: 8192}},
	}

	if !a.recoverState(nil) {
		t.Fatal("expected recovery to succeed")
	}
	if pcm.prepares != 1 {
		t.Errorf("expected 1 prepare fallback, got %d", pcm.prepares)
	}
}

func TestPreparedBeforeStartIsRecovered(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)

	pcm.statusSeq = []fakeStatus{{st: pcmStatus{state: pcmStatePrepared}}}

	if !a.recoverState(nil) {
		t.Fatal("expected prepared device to count as recovered before start")
	}
	if pcm.starts != 0 {
		t.Errorf("expected no start kick, got %d", pcm.starts)
	}
}

func TestPreparedAfterStartKicksTransport(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)
	a.Start()

	pcm.statusCalls = 0
	pcm.starts = 0
	pcm.statusSeq = []fakeStatus{
		{st: pcmStatus{state: pcmStatePrepared}},
		{st: pcmStatus{state: pcmStateRunning, availFrames: 8192}},
	}

	if !a.recoverState(nil) {
		t.Fatal("expected recovery to succeed")
	}
	if pcm.starts != 1 {
		t.Errorf("expected 1 transport kick, got %d", pcm.starts)
	}
}

func TestCurrentStateClampsAndAlignsFreeSamples(t *testing.T) {
	tests := []struct {
		name       string
		avail      int64
		delay      int64
		wantFree   int
		wantQueued int
		wantDelay  float64
	}{
		{"aligned down to period", 5000, 4410, 4096, 4096, 0.1},
		{"clamped to buffer size", 100000, 0, 8192, 0, 0},
		{"negative delay floored", 8192, -64, 8192, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := newFakePCM()
			a := newTestAlsa(t, pcm)
			a.Start()

			pcm.statusCalls = 0
			pcm.statusSeq = []fakeStatus{
				{st: pcmStatus{state: pcmStateRunning, availFrames: tt.avail, delayFrames: tt.delay}},
			}

			state := a.CurrentState()
			if state.FreeSamples != tt.wantFree {
				t.Errorf("FreeSamples = %d, want %d", state.FreeSamples, tt.wantFree)
			}
			if state.FreeSamples%defaultPeriodSize != 0 {
				t.Errorf("FreeSamples %d not period-aligned", state.FreeSamples)
			}
			if state.QueuedSamples != tt.wantQueued {
				t.Errorf("QueuedSamples = %d, want %d", state.QueuedSamples, tt.wantQueued)
			}
			if state.Delay != tt.wantDelay {
				t.Errorf("Delay = %v, want %v", state.Delay, tt.wantDelay)
			}
		})
	}
}

func TestWriteResubmitsPartialTail(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)
	a.Start()

	pcm.writeAccepts = []int{1200}

	buf := s16Buffer(t, 2000)
	n := a.Write(buf)
	if n != 1200 {
		t.Fatalf("expected 1200 frames accepted, got %d", n)
	}

	tail := buf.Tail(n)
	if tail.FrameCount() != 800 {
		t.Fatalf("expected 800-frame tail, got %d", tail.FrameCount())
	}
	if n := a.Write(tail); n != 800 {
		t.Errorf("expected tail fully accepted, got %d", n)
	}
}

func TestWriteAppliesVolumeToCopy(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)
	a.Start()
	a.SetVolume(0)

	format := audio.Format{SampleFormat: audio.S16, SampleRate: 44100, Channels: 2}
	data := make([]byte, 4*format.BytesPerFrame())
	for i := range data {
		data[i] = 0x7f
	}
	buf := audio.BufferFrom(format, data, 4)

	a.Write(buf)

	if len(pcm.written) != 1 {
		t.Fatalf("expected 1 hardware write, got %d", len(pcm.written))
	}
	for _, b := range pcm.written[0] {
		if b != 0 {
			t.Fatal("expected silence after zero gain")
		}
	}
	for _, b := range buf.Bytes() {
		if b != 0x7f {
			t.Fatal("caller's buffer must not be modified")
		}
	}
}

func TestSetPausedReachesHardwareOnce(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)
	a.Start()

	a.SetPaused(true)
	a.SetPaused(true)

	if len(pcm.pauseCalls) != 1 {
		t.Fatalf("expected 1 hardware pause, got %d", len(pcm.pauseCalls))
	}
	if !pcm.pauseCalls[0] {
		t.Error("expected pause(true)")
	}
}

func TestSetPausedIgnoredWhenDeviceCannotPause(t *testing.T) {
	pcm := newFakePCM()
	pcm.canPause = false
	a := newTestAlsa(t, pcm)
	a.Start()

	a.SetPaused(true)

	if len(pcm.pauseCalls) != 0 {
		t.Errorf("expected no hardware pause, got %d", len(pcm.pauseCalls))
	}
}

func TestUninitIsIdempotent(t *testing.T) {
	pcm := newFakePCM()
	a := newTestAlsa(t, pcm)

	a.Uninit()
	a.Uninit()

	if pcm.closes != 1 {
		t.Errorf("expected handle closed once, got %d", pcm.closes)
	}
}
