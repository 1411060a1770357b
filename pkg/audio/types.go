// ABOUTME: Audio type definitions
// ABOUTME: Defines PCM sample formats, stream formats and decoded buffers
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// SampleFormat identifies the in-memory representation of one PCM sample.
type SampleFormat int

const (
	Unknown SampleFormat = iota
	U8                   // unsigned 8-bit
	S16                  // signed 16-bit little-endian
	S24                  // signed 24-bit little-endian, packed 3 bytes
	S32                  // signed 32-bit little-endian
	Float32              // IEEE 754 32-bit little-endian
)

// BytesPerSample returns the width of a single sample, 0 for Unknown.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case U8:
		return 1
	case S16:
		return 2
	case S24:
		return 3
	case S32, Float32:
		return 4
	default:
		return 0
	}
}

func (f SampleFormat) String() string {
	switch f {
	case U8:
		return "u8"
	case S16:
		return "s16"
	case S24:
		return "s24"
	case S32:
		return "s32"
	case Float32:
		return "f32"
	default:
		return "unknown"
	}
}

// Format describes the PCM layout of an audio stream. It is an immutable
// value and comparable with ==.
type Format struct {
	SampleFormat SampleFormat
	SampleRate   uint32
	Channels     uint32
}

// Valid reports whether the format can be negotiated with an output device.
func (f Format) Valid() bool {
	return f.SampleFormat != Unknown && f.SampleRate > 0 && f.Channels >= 1
}

// BytesPerFrame returns the byte width of one interleaved frame.
func (f Format) BytesPerFrame() int {
	return f.SampleFormat.BytesPerSample() * int(f.Channels)
}

// FramesForDuration returns the frame count covering d at the format's rate.
func (f Format) FramesForDuration(d time.Duration) int {
	return int(int64(f.SampleRate) * int64(d) / int64(time.Second))
}

// DurationForFrames returns the play time of n frames.
func (f Format) DurationForFrames(n int) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(f.SampleRate))
}

// BytesForDuration returns the byte count covering d, frame-aligned.
func (f Format) BytesForDuration(d time.Duration) int {
	return f.FramesForDuration(d) * f.BytesPerFrame()
}

func (f Format) String() string {
	return fmt.Sprintf("%s %dHz %dch", f.SampleFormat, f.SampleRate, f.Channels)
}

// Buffer owns a contiguous store of interleaved samples tagged with the
// format they were produced in. A decoder creates one per decode step; the
// engine hands it to an output and drops it once the write returns.
type Buffer struct {
	format Format
	data   []byte
	frames int
}

// NewBuffer allocates a zeroed buffer of frames.
func NewBuffer(format Format, frames int) *Buffer {
	return &Buffer{
		format: format,
		data:   make([]byte, frames*format.BytesPerFrame()),
		frames: frames,
	}
}

// BufferFrom wraps raw interleaved sample bytes. The byte length must match
// frames*BytesPerFrame exactly; a mismatch is a programming error.
func BufferFrom(format Format, data []byte, frames int) *Buffer {
	if len(data) != frames*format.BytesPerFrame() {
		panic(fmt.Sprintf("audio: buffer layout mismatch: %d bytes for %d frames of %s",
			len(data), frames, format))
	}
	return &Buffer{format: format, data: data, frames: frames}
}

// Format returns the format the buffer was produced in.
func (b *Buffer) Format() Format { return b.format }

// FrameCount returns the number of interleaved frames.
func (b *Buffer) FrameCount() int { return b.frames }

// Bytes returns the raw sample store in native byte layout.
func (b *Buffer) Bytes() []byte { return b.data }

// Duration returns the play time of the buffer.
func (b *Buffer) Duration() time.Duration {
	return b.format.DurationForFrames(b.frames)
}

// Tail returns a view of the buffer starting at the given frame. Used to
// resubmit the remainder after a partial device write.
func (b *Buffer) Tail(fromFrame int) *Buffer {
	if fromFrame < 0 || fromFrame > b.frames {
		panic(fmt.Sprintf("audio: tail frame %d out of range [0,%d]", fromFrame, b.frames))
	}
	return &Buffer{
		format: b.format,
		data:   b.data[fromFrame*b.format.BytesPerFrame():],
		frames: b.frames - fromFrame,
	}
}

// Clone returns an independent copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	data := make([]byte, len(b.data))
	copy(data, b.data)
	return &Buffer{format: b.format, data: data, frames: b.frames}
}

// fixed-point gain representation used for the integer formats
const gainShift = 16

// Scale multiplies every sample by gain in place. Integer formats use a
// rounded Q16 fixed-point multiply with clamping so a full-scale buffer
// cannot wrap; Float32 scales directly.
func (b *Buffer) Scale(gain float64) {
	if gain == 1.0 {
		return
	}

	q := int64(math.Round(gain * (1 << gainShift)))

	switch b.format.SampleFormat {
	case U8:
		for i := range b.data {
			v := int64(b.data[i]) - 128
			b.data[i] = byte(clampSample(scaleQ16(v, q), math.MinInt8, math.MaxInt8) + 128)
		}
	case S16:
		for i := 0; i+1 < len(b.data); i += 2 {
			v := int64(int16(binary.LittleEndian.Uint16(b.data[i:])))
			s := clampSample(scaleQ16(v, q), math.MinInt16, math.MaxInt16)
			binary.LittleEndian.PutUint16(b.data[i:], uint16(int16(s)))
		}
	case S24:
		for i := 0; i+2 < len(b.data); i += 3 {
			v := int64(SampleFrom24Bit([3]byte{b.data[i], b.data[i+1], b.data[i+2]}))
			s := SampleTo24Bit(int32(clampSample(scaleQ16(v, q), Min24Bit, Max24Bit)))
			b.data[i], b.data[i+1], b.data[i+2] = s[0], s[1], s[2]
		}
	case S32:
		for i := 0; i+3 < len(b.data); i += 4 {
			v := int64(int32(binary.LittleEndian.Uint32(b.data[i:])))
			s := clampSample(scaleQ16(v, q), math.MinInt32, math.MaxInt32)
			binary.LittleEndian.PutUint32(b.data[i:], uint32(int32(s)))
		}
	case Float32:
		for i := 0; i+3 < len(b.data); i += 4 {
			v := math.Float32frombits(binary.LittleEndian.Uint32(b.data[i:]))
			binary.LittleEndian.PutUint32(b.data[i:], math.Float32bits(v*float32(gain)))
		}
	}
}

// scaleQ16 applies a Q16 fixed-point gain with round-half-up.
func scaleQ16(v, q int64) int64 {
	return (v*q + 1<<(gainShift-1)) >> gainShift
}

func clampSample(v, min, max int64) int64 {
	if v > max {
		return max
	}
	if v < min {
		return min
	}
	return v
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	// Sign extend from 24-bit to 32-bit
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}
