// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes MP3 files to 16-bit stereo PCM buffers
package decode

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/chime-player/chime-go/pkg/audio"
	mp3 "github.com/hajimehoshi/go-mp3"
)

func init() {
	Register(func() Decoder { return &MP3{} }, "mp3")
}

// readFrames is the chunk size produced per Next call.
const readFrames = 4096

// MP3 decodes MPEG layer 3 audio. go-mp3 always emits 16-bit little-endian
// stereo, so the resolved format is fixed apart from the sample rate.
type MP3 struct {
	file    *os.File
	decoder *mp3.Decoder
	format  audio.Format
}

// Open probes the file and resolves the native PCM format.
func (d *MP3) Open(path string) (audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Format{}, fmt.Errorf("open %s: %w: %v", path, ErrIOFailure, err)
	}

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return audio.Format{}, fmt.Errorf("probe %s: %w: %v", path, ErrCorruptStream, err)
	}

	d.file = f
	d.decoder = dec
	d.format = audio.Format{
		SampleFormat: audio.S16,
		SampleRate:   uint32(dec.SampleRate()),
		Channels:     2,
	}
	return d.format, nil
}

// Seek repositions the decoded stream. go-mp3 exposes the decoded PCM as a
// seekable byte stream, so the target is the frame offset in bytes.
func (d *MP3) Seek(pos time.Duration) error {
	offset := int64(d.format.FramesForDuration(pos)) * int64(d.format.BytesPerFrame())
	if _, err := d.decoder.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("mp3 seek to %v: %w: %v", pos, ErrIOFailure, err)
	}
	return nil
}

// Next returns the next chunk of PCM, or (nil, io.EOF) at end of stream.
func (d *MP3) Next() (*audio.Buffer, error) {
	bpf := d.format.BytesPerFrame()
	data := make([]byte, readFrames*bpf)

	n, err := io.ReadFull(d.decoder, data)
	n -= n % bpf
	if n == 0 {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("mp3 decode: %w: %v", ErrCorruptStream, err)
	}
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("mp3 decode: %w: %v", ErrCorruptStream, err)
	}

	return audio.BufferFrom(d.format, data[:n], n/bpf), nil
}

// Close releases the underlying file. Idempotent.
func (d *MP3) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.decoder = nil
	return err
}
