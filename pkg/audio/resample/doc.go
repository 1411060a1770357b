// ABOUTME: Package doc for resample
// ABOUTME: Rate conversion between decoder output and negotiated device rate
//
// Package resample converts PCM between sample rates. The playback engine
// uses it when the output device substitutes a rate the stream was not
// decoded at, so material still plays at the right speed.
package resample
