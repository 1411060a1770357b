// ABOUTME: Ogg Vorbis audio decoder
// ABOUTME: Decodes ogg/vorbis files to 32-bit float PCM buffers
package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/chime-player/chime-go/pkg/audio"
	"github.com/jfreymuth/oggvorbis"
)

func init() {
	Register(func() Decoder { return &Vorbis{} }, "ogg", "oga")
}

// Vorbis decodes ogg/vorbis streams. The codec produces float samples, so
// the resolved format is Float32.
type Vorbis struct {
	file    *os.File
	reader  *oggvorbis.Reader
	format  audio.Format
	scratch []float32
}

// Open probes the ogg container and resolves the native PCM format.
func (d *Vorbis) Open(path string) (audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Format{}, fmt.Errorf("open %s: %w: %v", path, ErrIOFailure, err)
	}

	r, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return audio.Format{}, fmt.Errorf("probe %s: %w: %v", path, ErrCorruptStream, err)
	}

	d.file = f
	d.reader = r
	d.format = audio.Format{
		SampleFormat: audio.Float32,
		SampleRate:   uint32(r.SampleRate()),
		Channels:     uint32(r.Channels()),
	}
	d.scratch = make([]float32, readFrames*r.Channels())
	return d.format, nil
}

// Seek repositions to the given frame position.
func (d *Vorbis) Seek(pos time.Duration) error {
	frame := int64(d.format.FramesForDuration(pos))
	if err := d.reader.SetPosition(frame); err != nil {
		return fmt.Errorf("vorbis seek to %v: %w: %v", pos, ErrIOFailure, err)
	}
	return nil
}

// Next returns the next chunk of PCM, or (nil, io.EOF) at end of stream.
func (d *Vorbis) Next() (*audio.Buffer, error) {
	n, err := d.reader.Read(d.scratch)
	channels := int(d.format.Channels)
	n -= n % channels
	if n == 0 {
		if err == io.EOF || err == nil {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("vorbis decode: %w: %v", ErrCorruptStream, err)
	}

	data := make([]byte, n*4)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(d.scratch[i]))
	}

	return audio.BufferFrom(d.format, data, n/channels), nil
}

// Close releases the underlying file. Idempotent.
func (d *Vorbis) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.reader = nil
	return err
}
