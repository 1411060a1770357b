// ABOUTME: Audio fundamentals package providing core types
// ABOUTME: Defines SampleFormat, Format and Buffer types
// Package audio provides the fundamental PCM types shared by the decoders,
// the output backends and the playback engine.
//
// This package defines core types used throughout the chime engine:
//   - SampleFormat: In-memory representation of one sample (U8..Float32)
//   - Format: Describes PCM stream layout (sample format, rate, channels)
//   - Buffer: A decoded chunk of interleaved samples with in-place gain
//
// Example:
//
//	format := audio.Format{
//	    SampleFormat: audio.S16,
//	    SampleRate:   44100,
//	    Channels:     2,
//	}
//
//	buf := audio.NewBuffer(format, 1024)
//	buf.Scale(0.5)
package audio
