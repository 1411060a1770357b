// ABOUTME: Linear-interpolation resampler between device and stream rates
// ABOUTME: Bridges decoder output to a device that negotiated a different rate
package resample

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chime-player/chime-go/pkg/audio"
)

// Resampler converts PCM buffers from one sample rate to another with
// linear interpolation. The last frame of each chunk is carried over so
// consecutive buffers interpolate continuously across the boundary.
type Resampler struct {
	from     audio.Format
	to       audio.Format
	ratio    float64
	position float64
	last     []float64 // one sample per channel, previous chunk's tail
}

// New creates a resampler. Sample format and channel count must match on
// both sides; only the rate changes.
func New(from, to audio.Format) (*Resampler, error) {
	if !from.Valid() || !to.Valid() {
		return nil, fmt.Errorf("resample: invalid format (%s -> %s)", from, to)
	}
	if from.SampleFormat != to.SampleFormat || from.Channels != to.Channels {
		return nil, fmt.Errorf("resample: only the rate may differ (%s -> %s)", from, to)
	}

	return &Resampler{
		from:  from,
		to:    to,
		ratio: float64(from.SampleRate) / float64(to.SampleRate),
		last:  make([]float64, from.Channels),
	}, nil
}

// Process converts one buffer to the target rate. The returned buffer may
// be empty when the chunk is too short to produce a whole output frame.
func (r *Resampler) Process(in *audio.Buffer) *audio.Buffer {
	inFrames := in.FrameCount()
	if inFrames == 0 {
		return audio.NewBuffer(r.to, 0)
	}

	channels := int(r.from.Channels)
	maxOut := int(float64(inFrames)/r.ratio) + 2
	out := audio.NewBuffer(r.to, maxOut)

	outIdx := 0
	for {
		idx := int(math.Floor(r.position))
		if idx+1 >= inFrames {
			break
		}
		frac := r.position - float64(idx)

		for ch := 0; ch < channels; ch++ {
			var s1 float64
			if idx < 0 {
				s1 = r.last[ch]
			} else {
				s1 = r.readSample(in, idx, ch)
			}
			s2 := r.readSample(in, idx+1, ch)
			r.writeSample(out, outIdx, ch, s1*(1.0-frac)+s2*frac)
		}

		outIdx++
		r.position += r.ratio
	}

	// Carry the chunk tail and rebase so index -1 names it next time.
	for ch := 0; ch < channels; ch++ {
		r.last[ch] = r.readSample(in, inFrames-1, ch)
	}
	r.position -= float64(inFrames)

	bpf := r.to.BytesPerFrame()
	return audio.BufferFrom(r.to, out.Bytes()[:outIdx*bpf], outIdx)
}

// Reset clears interpolation state, for use after a seek or flush.
func (r *Resampler) Reset() {
	r.position = 0
	for i := range r.last {
		r.last[i] = 0
	}
}

func (r *Resampler) readSample(buf *audio.Buffer, frame, ch int) float64 {
	data := buf.Bytes()
	bps := r.from.SampleFormat.BytesPerSample()
	off := (frame*int(r.from.Channels) + ch) * bps

	switch r.from.SampleFormat {
	case audio.U8:
		return float64(int(data[off]) - 128)
	case audio.S16:
		return float64(int16(binary.LittleEndian.Uint16(data[off:])))
	case audio.S24:
		return float64(audio.SampleFrom24Bit([3]byte{data[off], data[off+1], data[off+2]}))
	case audio.S32:
		return float64(int32(binary.LittleEndian.Uint32(data[off:])))
	case audio.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
	default:
		return 0
	}
}

func (r *Resampler) writeSample(buf *audio.Buffer, frame, ch int, v float64) {
	data := buf.Bytes()
	bps := r.to.SampleFormat.BytesPerSample()
	off := (frame*int(r.to.Channels) + ch) * bps

	switch r.to.SampleFormat {
	case audio.U8:
		data[off] = byte(int(math.Round(v)) + 128)
	case audio.S16:
		binary.LittleEndian.PutUint16(data[off:], uint16(int16(math.Round(v))))
	case audio.S24:
		packed := audio.SampleTo24Bit(int32(math.Round(v)))
		data[off], data[off+1], data[off+2] = packed[0], packed[1], packed[2]
	case audio.S32:
		binary.LittleEndian.PutUint32(data[off:], uint32(int32(math.Round(v))))
	case audio.Float32:
		binary.LittleEndian.PutUint32(data[off:], math.Float32bits(float32(v)))
	}
}
