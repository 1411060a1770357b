// ABOUTME: Version and product constants
// ABOUTME: Single source of truth for identity strings shown in logs and the UI
package version

const (
	// Product is the user-facing application name.
	Product = "Chime"

	// Version is the release string, bumped on tagged releases.
	Version = "0.1.0"

	// Manufacturer identifies the project in device-facing strings.
	Manufacturer = "Chime Project"
)
