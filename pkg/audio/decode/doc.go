// ABOUTME: Audio decoding package
// ABOUTME: Per-codec decoders producing PCM buffers from encoded files
// Package decode provides decoders that turn encoded audio files into PCM
// buffers. Each codec family lives in its own file and registers a factory
// for its file extensions; the playback engine resolves a decoder through
// the registry by the track's extension.
package decode
