// ABOUTME: WAV/RIFF audio decoder
// ABOUTME: Decodes PCM wave files at their native bit depth
package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chime-player/chime-go/pkg/audio"
	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func init() {
	Register(func() Decoder { return &WAV{} }, "wav", "wave")
}

// WAV decodes RIFF wave files through go-audio at the file's native bit
// depth (8, 16, 24 or 32 bits per sample).
type WAV struct {
	file    *os.File
	decoder *wav.Decoder
	format  audio.Format
	pcmBuf  *gaudio.IntBuffer
	pos     int // frames consumed since PCM start
}

// Open parses the RIFF header and resolves the native PCM format.
func (d *WAV) Open(path string) (audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Format{}, fmt.Errorf("open %s: %w: %v", path, ErrIOFailure, err)
	}

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		f.Close()
		return audio.Format{}, fmt.Errorf("probe %s: %w", path, ErrCorruptStream)
	}
	if err := dec.FwdToPCM(); err != nil {
		f.Close()
		return audio.Format{}, fmt.Errorf("probe %s: %w: %v", path, ErrCorruptStream, err)
	}

	var sampleFormat audio.SampleFormat
	switch dec.BitDepth {
	case 8:
		sampleFormat = audio.U8
	case 16:
		sampleFormat = audio.S16
	case 24:
		sampleFormat = audio.S24
	case 32:
		sampleFormat = audio.S32
	default:
		f.Close()
		return audio.Format{}, fmt.Errorf("wav bit depth %d: %w", dec.BitDepth, ErrUnsupportedFormat)
	}

	d.file = f
	d.decoder = dec
	d.pos = 0
	d.format = audio.Format{
		SampleFormat: sampleFormat,
		SampleRate:   dec.SampleRate,
		Channels:     uint32(dec.NumChans),
	}
	d.pcmBuf = &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: int(dec.NumChans),
			SampleRate:  int(dec.SampleRate),
		},
		Data:           make([]int, readFrames*int(dec.NumChans)),
		SourceBitDepth: int(dec.BitDepth),
	}
	return d.format, nil
}

// Seek repositions by rewinding to the PCM chunk and discarding frames up
// to the target. RIFF gives no per-frame index, so this trades a linear
// skip for exactness.
func (d *WAV) Seek(pos time.Duration) error {
	target := d.format.FramesForDuration(pos)

	if target < d.pos {
		if _, err := d.file.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("wav seek to %v: %w: %v", pos, ErrIOFailure, err)
		}
		dec := wav.NewDecoder(d.file)
		if !dec.IsValidFile() {
			return fmt.Errorf("wav seek to %v: %w", pos, ErrCorruptStream)
		}
		if err := dec.FwdToPCM(); err != nil {
			return fmt.Errorf("wav seek to %v: %w: %v", pos, ErrCorruptStream, err)
		}
		d.decoder = dec
		d.pos = 0
	}

	for d.pos < target {
		want := target - d.pos
		if want > readFrames {
			want = readFrames
		}
		d.pcmBuf.Data = d.pcmBuf.Data[:want*int(d.format.Channels)]
		n, err := d.decoder.PCMBuffer(d.pcmBuf)
		if n == 0 {
			break // seek past end of stream; Next reports io.EOF
		}
		d.pos += n / int(d.format.Channels)
		if err != nil && err != io.EOF {
			return fmt.Errorf("wav seek to %v: %w: %v", pos, ErrIOFailure, err)
		}
	}
	return nil
}

// Next returns the next chunk of PCM, or (nil, io.EOF) at end of stream.
func (d *WAV) Next() (*audio.Buffer, error) {
	channels := int(d.format.Channels)
	d.pcmBuf.Data = d.pcmBuf.Data[:cap(d.pcmBuf.Data)]

	n, err := d.decoder.PCMBuffer(d.pcmBuf)
	n -= n % channels
	if n == 0 {
		if err == nil || err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wav decode: %w: %v", ErrCorruptStream, err)
	}
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("wav decode: %w: %v", ErrCorruptStream, err)
	}

	frames := n / channels
	d.pos += frames
	bps := d.format.SampleFormat.BytesPerSample()
	data := make([]byte, n*bps)

	for i := 0; i < n; i++ {
		v := d.pcmBuf.Data[i]
		switch d.format.SampleFormat {
		case audio.U8:
			data[i] = byte(v)
		case audio.S16:
			binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(v)))
		case audio.S24:
			s := audio.SampleTo24Bit(int32(v))
			data[i*3], data[i*3+1], data[i*3+2] = s[0], s[1], s[2]
		case audio.S32:
			binary.LittleEndian.PutUint32(data[i*4:], uint32(int32(v)))
		}
	}

	return audio.BufferFrom(d.format, data, frames), nil
}

// Close releases the underlying file. Idempotent.
func (d *WAV) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.decoder = nil
	return err
}
