// ABOUTME: Opaque track reference consumed by the playback engine
// ABOUTME: Carries a stable identity and a resolvable stream source
package track

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ID is a stable track identity owned by the surrounding library.
type ID = uuid.UUID

// Track points the engine at a playable stream. Metadata lives in the
// library layer; the engine only needs the source location and, for
// cue-defined sub-ranges, the offset and limit within the file.
type Track struct {
	ID   ID
	Path string

	// Offset and Limit bound a cue-defined sub-range. A zero Limit means
	// play to the natural end of the stream.
	Offset time.Duration
	Limit  time.Duration
}

// New returns a track for a plain file.
func New(path string) Track {
	return Track{ID: uuid.New(), Path: path}
}

// NewRange returns a track for a cue-defined sub-range of a file.
func NewRange(path string, offset, limit time.Duration) Track {
	return Track{ID: uuid.New(), Path: path, Offset: offset, Limit: limit}
}

// Extension returns the lower-cased file extension without the dot. The
// decoder registry resolves a factory by this value.
func (t Track) Extension() string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(t.Path), "."))
}

// Valid reports whether the track resolves to a stream source.
func (t Track) Valid() bool {
	return t.Path != ""
}
