// ABOUTME: Tests for track references
// ABOUTME: Tests identity, extension resolution and validity
package track

import (
	"testing"
	"time"
)

func TestExtension(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{"lowercase", "/music/song.mp3", "mp3"},
		{"uppercase", "/music/SONG.FLAC", "flac"},
		{"no extension", "/music/song", ""},
		{"dotfile", "/music/.hidden", "hidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(tt.path)
			if got := tr.Extension(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	a := New("/music/a.mp3")
	b := New("/music/a.mp3")

	if a.ID == b.ID {
		t.Error("expected distinct IDs for separate tracks")
	}
}

func TestNewRange(t *testing.T) {
	tr := NewRange("/music/album.flac", 2*time.Minute, 3*time.Minute)

	if tr.Offset != 2*time.Minute {
		t.Errorf("expected offset 2m, got %v", tr.Offset)
	}
	if tr.Limit != 3*time.Minute {
		t.Errorf("expected limit 3m, got %v", tr.Limit)
	}
}

func TestValid(t *testing.T) {
	if !New("/music/a.mp3").Valid() {
		t.Error("expected track with path to be valid")
	}
	if (Track{}).Valid() {
		t.Error("expected zero track to be invalid")
	}
}
