package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidVideoID indicates that a video identifier is empty or exceeds storage bounds.
	ErrInvalidVideoID = errors.New("notes: invalid video id")
	// ErrEmptyText indicates that a note body is empty after trimming.
	ErrEmptyText = errors.New("notes: empty text")
	// ErrNegativeTimestamp indicates a playback position before the start of the video.
	ErrNegativeTimestamp = errors.New("notes: negative timestamp")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// VideoID represents a validated host-video identifier.
type VideoID string

// NewVideoID validates raw input and returns a VideoID.
func NewVideoID(rawInput string) (VideoID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidVideoID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidVideoID, maxIdentifierLength)
	}
	return VideoID(trimmed), nil
}

// String returns the underlying string identifier.
func (id VideoID) String() string {
	return string(id)
}

// Note models a timestamped annotation attached to one video.
//
// CreatedAt and UpdatedAt carry unix milliseconds; Timestamp carries whole
// seconds into the video. UpdatedAt is the sole conflict tie-breaker during
// merge and must never decrease for a given note id. Synced is true only when
// the current revision is known to match the remote repository.
type Note struct {
	ID        string `json:"id"`
	VideoID   string `json:"videoId"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
	UserID    string `json:"userId,omitempty"`
	Synced    bool   `json:"synced"`
}

// NewNote builds a local note at the given playback position. The note starts
// unsynced with CreatedAt == UpdatedAt taken from the clock.
func NewNote(videoID VideoID, text string, playbackSeconds int64, clock func() time.Time) (Note, error) {
	if clock == nil {
		clock = time.Now
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Note{}, ErrEmptyText
	}
	if playbackSeconds < 0 {
		return Note{}, fmt.Errorf("%w: %d", ErrNegativeTimestamp, playbackSeconds)
	}
	now := clock().UnixMilli()
	return Note{
		ID:        uuid.NewString(),
		VideoID:   videoID.String(),
		Timestamp: playbackSeconds,
		Text:      trimmed,
		CreatedAt: now,
		UpdatedAt: now,
		Synced:    false,
	}, nil
}
