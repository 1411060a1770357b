// ABOUTME: Tests for the WAV decoder
// ABOUTME: Round-trips generated wave files and exercises seeking
package decode

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chime-player/chime-go/pkg/audio"
	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeTestWAV generates a mono 16-bit wave file with a rising ramp so
// positions are recognizable after a seek.
func writeTestWAV(t *testing.T, frames int, sampleRate int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, frames),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = i % 1000
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestWAVOpenResolvesFormat(t *testing.T) {
	path := writeTestWAV(t, 8000, 8000)

	dec, err := For("wav")
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	format, err := dec.Open(path)
	if err != nil {
		t.Fatal(err)
	}

	expected := audio.Format{SampleFormat: audio.S16, SampleRate: 8000, Channels: 1}
	if format != expected {
		t.Errorf("expected %v, got %v", expected, format)
	}
}

func TestWAVDecodesAllFrames(t *testing.T) {
	const frames = 8000
	path := writeTestWAV(t, frames, 8000)

	dec, _ := For("wav")
	defer dec.Close()
	if _, err := dec.Open(path); err != nil {
		t.Fatal(err)
	}

	total := 0
	for {
		buf, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		total += buf.FrameCount()
	}

	if total != frames {
		t.Errorf("expected %d frames, got %d", frames, total)
	}
}

func TestWAVSeek(t *testing.T) {
	// 8000 frames at 8kHz = 1s of audio
	path := writeTestWAV(t, 8000, 8000)

	dec, _ := For("wav")
	defer dec.Close()
	if _, err := dec.Open(path); err != nil {
		t.Fatal(err)
	}

	// Seek forward to 500ms, then verify only half the stream remains.
	if err := dec.Seek(500 * time.Millisecond); err != nil {
		t.Fatal(err)
	}

	total := 0
	for {
		buf, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		total += buf.FrameCount()
	}
	if total != 4000 {
		t.Errorf("expected 4000 frames after seek, got %d", total)
	}

	// Seek backwards rewinds through the PCM chunk.
	if err := dec.Seek(0); err != nil {
		t.Fatal(err)
	}
	buf, err := dec.Next()
	if err != nil {
		t.Fatal(err)
	}
	if buf.FrameCount() == 0 {
		t.Error("expected frames after rewind")
	}
}

func TestWAVSeekPastEnd(t *testing.T) {
	path := writeTestWAV(t, 1000, 8000)

	dec, _ := For("wav")
	defer dec.Close()
	if _, err := dec.Open(path); err != nil {
		t.Fatal(err)
	}

	if err := dec.Seek(time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("expected io.EOF past end, got %v", err)
	}
}

func TestWAVRejectsTruncatedHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	dec, _ := For("wav")
	_, err := dec.Open(path)
	if !errors.Is(err, ErrCorruptStream) {
		t.Errorf("expected ErrCorruptStream, got %v", err)
	}
}
