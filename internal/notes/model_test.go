package notes

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewNoteIDRejectsEmptyAndOversized(t *testing.T) {
	if _, err := NewNoteID("   "); !errors.Is(err, ErrInvalidNoteID) {
		t.Fatalf("expected ErrInvalidNoteID, got %v", err)
	}
	if _, err := NewNoteID(strings.Repeat("x", maxIdentifierLength+1)); !errors.Is(err, ErrInvalidNoteID) {
		t.Fatalf("expected ErrInvalidNoteID for oversized input, got %v", err)
	}
	id, err := NewNoteID("  note-1  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "note-1" {
		t.Fatalf("expected trimmed id, got %q", id.String())
	}
}

func TestNewVideoIDRejectsEmpty(t *testing.T) {
	if _, err := NewVideoID(""); !errors.Is(err, ErrInvalidVideoID) {
		t.Fatalf("expected ErrInvalidVideoID, got %v", err)
	}
}

func TestNewNoteAssignsIdentityAndInstants(t *testing.T) {
	videoID := mustVideoID(t, "video-1")
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	note, err := NewNote(videoID, "  remember this  ", 42, clock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if note.ID == "" {
		t.Fatalf("expected generated id")
	}
	if note.VideoID != "video-1" {
		t.Fatalf("unexpected video id %q", note.VideoID)
	}
	if note.Text != "remember this" {
		t.Fatalf("expected trimmed text, got %q", note.Text)
	}
	if note.Timestamp != 42 {
		t.Fatalf("unexpected timestamp %d", note.Timestamp)
	}
	if note.CreatedAt != now.UnixMilli() || note.UpdatedAt != now.UnixMilli() {
		t.Fatalf("expected creation instants from clock, got created=%d updated=%d", note.CreatedAt, note.UpdatedAt)
	}
	if note.Synced {
		t.Fatalf("new local notes must start unsynced")
	}

	other, err := NewNote(videoID, "second", 1, clock)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other.ID == note.ID {
		t.Fatalf("expected unique ids per note")
	}
}

func TestNewNoteRejectsInvalidInput(t *testing.T) {
	videoID := mustVideoID(t, "video-1")

	if _, err := NewNote(videoID, "   ", 10, nil); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
	if _, err := NewNote(videoID, "text", -1, nil); !errors.Is(err, ErrNegativeTimestamp) {
		t.Fatalf("expected ErrNegativeTimestamp, got %v", err)
	}
}

func TestMustNoteIDHelperRoundTrips(t *testing.T) {
	if mustNoteID(t, "abc").String() != "abc" {
		t.Fatalf("unexpected helper result")
	}
}
