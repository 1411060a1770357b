// ABOUTME: Audio output package
// ABOUTME: Playback backends behind a common device contract
// Package output provides audio playback backends. The alsa backend talks
// to hardware PCM devices directly and implements the underrun/suspend
// recovery state machine; the oto and malgo backends are portable sinks.
// Backends register a factory by name and the engine resolves one through
// the registry.
package output
