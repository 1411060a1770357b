// ABOUTME: FLAC audio decoder
// ABOUTME: Decodes FLAC files to 16- or 32-bit PCM buffers
package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chime-player/chime-go/pkg/audio"
	"github.com/mewkiz/flac"
)

func init() {
	Register(func() Decoder { return &FLAC{} }, "flac")
}

// FLAC decodes free lossless audio codec streams. Sources up to 16 bits
// per sample resolve to S16; higher depths are left-justified into S32.
type FLAC struct {
	file   *os.File
	stream *flac.Stream
	format audio.Format
	bps    uint8 // source bits per sample
}

// Open parses the stream info block and resolves the native PCM format.
func (d *FLAC) Open(path string) (audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Format{}, fmt.Errorf("open %s: %w: %v", path, ErrIOFailure, err)
	}

	stream, err := flac.NewSeek(f)
	if err != nil {
		f.Close()
		return audio.Format{}, fmt.Errorf("probe %s: %w: %v", path, ErrCorruptStream, err)
	}

	info := stream.Info
	sampleFormat := audio.S16
	if info.BitsPerSample > 16 {
		sampleFormat = audio.S32
	}

	d.file = f
	d.stream = stream
	d.bps = info.BitsPerSample
	d.format = audio.Format{
		SampleFormat: sampleFormat,
		SampleRate:   info.SampleRate,
		Channels:     uint32(info.NChannels),
	}
	return d.format, nil
}

// Seek repositions to the nearest preceding seek point.
func (d *FLAC) Seek(pos time.Duration) error {
	sample := uint64(d.format.FramesForDuration(pos))
	if _, err := d.stream.Seek(sample); err != nil {
		return fmt.Errorf("flac seek to %v: %w: %v", pos, ErrIOFailure, err)
	}
	return nil
}

// Next decodes one FLAC frame and interleaves its subframes.
func (d *FLAC) Next() (*audio.Buffer, error) {
	frame, err := d.stream.ParseNext()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("flac decode: %w: %v", ErrCorruptStream, err)
	}

	channels := int(d.format.Channels)
	frames := len(frame.Subframes[0].Samples)
	bpf := d.format.BytesPerFrame()
	data := make([]byte, frames*bpf)

	switch d.format.SampleFormat {
	case audio.S16:
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				v := frame.Subframes[ch].Samples[i]
				binary.LittleEndian.PutUint16(data[(i*channels+ch)*2:], uint16(int16(v)))
			}
		}
	case audio.S32:
		shift := 32 - uint(d.bps)
		for i := 0; i < frames; i++ {
			for ch := 0; ch < channels; ch++ {
				v := frame.Subframes[ch].Samples[i] << shift
				binary.LittleEndian.PutUint32(data[(i*channels+ch)*4:], uint32(v))
			}
		}
	}

	return audio.BufferFrom(d.format, data, frames), nil
}

// Close releases the underlying stream and file. Idempotent.
func (d *FLAC) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.stream = nil
	return err
}
