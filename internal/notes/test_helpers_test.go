package notes

import "testing"

func mustVideoID(t *testing.T, value string) VideoID {
	t.Helper()
	id, err := NewVideoID(value)
	if err != nil {
		t.Fatalf("unexpected video id error: %v", err)
	}
	return id
}

func mustNoteID(t *testing.T, value string) NoteID {
	t.Helper()
	id, err := NewNoteID(value)
	if err != nil {
		t.Fatalf("unexpected note id error: %v", err)
	}
	return id
}

func sampleNote(id, videoID string, timestamp, updatedAt int64, text string) Note {
	return Note{
		ID:        id,
		VideoID:   videoID,
		Timestamp: timestamp,
		Text:      text,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
}
