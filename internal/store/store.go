// Package store owns the authoritative local note collections. Every
// mutation is a full read-modify-write of the persisted document, serialized
// by an internal mutex, so concurrent writers can never interleave partial
// states.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akshay-panchakshari/yt-notes-app/internal/bus"
	"github.com/akshay-panchakshari/yt-notes-app/internal/notes"
	"github.com/akshay-panchakshari/yt-notes-app/internal/storage"
)

// notesKey is the KV document holding every video's note collection.
const notesKey = "yt_notes"

var (
	// ErrNoteNotFound indicates the note id is absent from the video's collection.
	ErrNoteNotFound = errors.New("store: note not found")
	// ErrDuplicateNoteID indicates an Add with an id already present for the video.
	ErrDuplicateNoteID = errors.New("store: duplicate note id")

	errMissingKV = errors.New("key-value store is required")
	noOpLogger   = zap.NewNop()
)

// Config wires the store's collaborators.
type Config struct {
	KV     storage.KV
	Bus    *bus.Dispatcher
	Clock  func() time.Time
	Logger *zap.Logger
}

// Store is the Local Note Store.
type Store struct {
	kv     storage.KV
	bus    *bus.Dispatcher
	clock  func() time.Time
	logger *zap.Logger

	// mu serializes every read-modify-write cycle against the KV document.
	mu sync.Mutex
}

// New validates the configuration and returns a Store.
func New(cfg Config) (*Store, error) {
	if cfg.KV == nil {
		return nil, errMissingKV
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		kv:     cfg.KV,
		bus:    cfg.Bus,
		clock:  clock,
		logger: logger,
	}, nil
}

// Patch carries the updatable note fields. Nil fields are left unchanged.
type Patch struct {
	Text      *string
	Timestamp *int64
}

// List returns the video's notes sorted by timestamp ascending.
func (s *Store) List(ctx context.Context, videoID notes.VideoID) ([]notes.Note, error) {
	collections, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	sequence := collections[videoID.String()]
	if sequence == nil {
		return []notes.Note{}, nil
	}
	return sequence, nil
}

// All returns every video's collection.
func (s *Store) All(ctx context.Context) (map[string][]notes.Note, error) {
	return s.loadAll(ctx)
}

// Add inserts a new note into its video's collection.
func (s *Store) Add(ctx context.Context, note notes.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	collections, err := s.loadAll(ctx)
	if err != nil {
		return err
	}

	sequence := collections[note.VideoID]
	for _, existing := range sequence {
		if existing.ID == note.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateNoteID, note.ID)
		}
	}

	sequence = append(sequence, note)
	sortByTimestamp(sequence)
	collections[note.VideoID] = sequence

	if err := s.persistAll(ctx, collections); err != nil {
		return err
	}

	s.publishNotesChanged(note.VideoID, note.ID)
	return nil
}

// Update applies the patch, forces UpdatedAt to now and marks the note
// unsynced. Returns the updated note.
func (s *Store) Update(ctx context.Context, videoID notes.VideoID, noteID notes.NoteID, patch Patch) (notes.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	collections, err := s.loadAll(ctx)
	if err != nil {
		return notes.Note{}, err
	}

	sequence := collections[videoID.String()]
	index := indexOf(sequence, noteID.String())
	if index < 0 {
		return notes.Note{}, fmt.Errorf("%w: %s", ErrNoteNotFound, noteID.String())
	}

	note := sequence[index]
	if patch.Text != nil {
		trimmed := strings.TrimSpace(*patch.Text)
		if trimmed == "" {
			return notes.Note{}, notes.ErrEmptyText
		}
		note.Text = trimmed
	}
	if patch.Timestamp != nil {
		if *patch.Timestamp < 0 {
			return notes.Note{}, fmt.Errorf("%w: %d", notes.ErrNegativeTimestamp, *patch.Timestamp)
		}
		note.Timestamp = *patch.Timestamp
	}
	note.UpdatedAt = s.clock().UnixMilli()
	note.Synced = false
	sequence[index] = note

	sortByTimestamp(sequence)
	collections[videoID.String()] = sequence

	if err := s.persistAll(ctx, collections); err != nil {
		return notes.Note{}, err
	}

	s.publishNotesChanged(videoID.String(), noteID.String())
	return note, nil
}

// Delete removes the note from its video's collection. No tombstone is kept;
// a copy still held remotely reappears on the next full sync.
func (s *Store) Delete(ctx context.Context, videoID notes.VideoID, noteID notes.NoteID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	collections, err := s.loadAll(ctx)
	if err != nil {
		return err
	}

	sequence := collections[videoID.String()]
	index := indexOf(sequence, noteID.String())
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrNoteNotFound, noteID.String())
	}

	sequence = append(sequence[:index], sequence[index+1:]...)
	if len(sequence) == 0 {
		delete(collections, videoID.String())
	} else {
		collections[videoID.String()] = sequence
	}

	if err := s.persistAll(ctx, collections); err != nil {
		return err
	}

	s.publishNotesChanged(videoID.String(), noteID.String())
	return nil
}

// AllUnsynced returns every note whose current revision has not been pushed,
// across all videos, in no particular order.
func (s *Store) AllUnsynced(ctx context.Context) ([]notes.Note, error) {
	collections, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	var unsynced []notes.Note
	for _, sequence := range collections {
		for _, note := range sequence {
			if !note.Synced {
				unsynced = append(unsynced, note)
			}
		}
	}
	return unsynced, nil
}

// MarkSynced flips Synced to true for exactly the given ids in one atomic
// write over the full document, leaving every other field untouched. The
// mutex serializes this write against other mutations, but the push itself
// happens outside the store: an edit that lands between the push and this
// call is flagged synced even though its latest revision was not pushed, and
// stays that way until the next local mutation clears the flag again.
func (s *Store) MarkSynced(ctx context.Context, noteIDs []string) error {
	if len(noteIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]struct{}, len(noteIDs))
	for _, id := range noteIDs {
		wanted[id] = struct{}{}
	}

	collections, err := s.loadAll(ctx)
	if err != nil {
		return err
	}

	for videoID, sequence := range collections {
		for i, note := range sequence {
			if _, ok := wanted[note.ID]; ok {
				sequence[i].Synced = true
			}
		}
		collections[videoID] = sequence
	}

	return s.persistAll(ctx, collections)
}

// MergeIn reconciles the fetched remote snapshot into the local collections
// and persists the result as the new authoritative state.
func (s *Store) MergeIn(ctx context.Context, remote map[string][]notes.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	collections, err := s.loadAll(ctx)
	if err != nil {
		return err
	}

	merged := notes.Merge(collections, remote)
	if err := s.persistAll(ctx, merged); err != nil {
		return err
	}

	s.publishNotesChanged("", "")
	return nil
}

func (s *Store) loadAll(ctx context.Context) (map[string][]notes.Note, error) {
	raw, found, err := s.kv.Get(ctx, notesKey)
	if err != nil {
		return nil, fmt.Errorf("load notes: %w", err)
	}
	if !found {
		return map[string][]notes.Note{}, nil
	}
	collections := map[string][]notes.Note{}
	if err := json.Unmarshal(raw, &collections); err != nil {
		return nil, fmt.Errorf("decode notes: %w", err)
	}
	return collections, nil
}

func (s *Store) persistAll(ctx context.Context, collections map[string][]notes.Note) error {
	raw, err := json.Marshal(collections)
	if err != nil {
		return fmt.Errorf("encode notes: %w", err)
	}
	if err := s.kv.Set(ctx, notesKey, raw); err != nil {
		return fmt.Errorf("persist notes: %w", err)
	}
	return nil
}

func (s *Store) publishNotesChanged(videoID, noteID string) {
	if s.bus == nil {
		return
	}
	message := bus.Message{Type: bus.EventNotesChanged, VideoID: videoID}
	if noteID != "" {
		message.NoteIDs = []string{noteID}
	}
	s.bus.Publish(message)
}

func indexOf(sequence []notes.Note, noteID string) int {
	for i, note := range sequence {
		if note.ID == noteID {
			return i
		}
	}
	return -1
}

func sortByTimestamp(sequence []notes.Note) {
	sort.SliceStable(sequence, func(i, j int) bool {
		return sequence[i].Timestamp < sequence[j].Timestamp
	})
}
