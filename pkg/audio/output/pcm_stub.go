//go:build !linux || !cgo

// ABOUTME: ALSA stub for platforms without the ALSA driver
// ABOUTME: Compile-time placeholder so the alsa backend degrades cleanly
package output

import "errors"

// openPCM reports that no hardware PCM driver is available; Init fails and
// callers fall back to a portable backend.
func openPCM(device string) (pcmConn, error) {
	return nil, errors.New("alsa: not available on this platform")
}

// alsaDevices enumerates nothing without a driver.
func alsaDevices() []Device {
	return nil
}
