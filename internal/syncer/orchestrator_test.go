package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/akshay-panchakshari/yt-notes-app/internal/bus"
	"github.com/akshay-panchakshari/yt-notes-app/internal/notes"
	"github.com/akshay-panchakshari/yt-notes-app/internal/session"
	"github.com/akshay-panchakshari/yt-notes-app/internal/storage"
	"github.com/akshay-panchakshari/yt-notes-app/internal/store"
)

// fakeRemote stands in for the hosted repository so tests can inject
// failures and observe exactly which calls a sync run makes.
type fakeRemote struct {
	mu           sync.Mutex
	unconfigured bool
	fetchErr     error
	upsertErr    error
	byVideo      map[string][]notes.Note
	fetchCalls   int
	upsertCalls  int
	pushed       []notes.Note

	entered chan struct{}
	release chan struct{}
}

func (f *fakeRemote) Configured() bool {
	return !f.unconfigured
}

func (f *fakeRemote) FetchAllForUser(ctx context.Context, userID string) (map[string][]notes.Note, error) {
	f.mu.Lock()
	f.fetchCalls++
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make(map[string][]notes.Note, len(f.byVideo))
	for videoID, sequence := range f.byVideo {
		out[videoID] = append([]notes.Note(nil), sequence...)
	}
	return out, nil
}

func (f *fakeRemote) UpsertMany(ctx context.Context, toPush []notes.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.pushed = append(f.pushed, toPush...)
	return nil
}

func (f *fakeRemote) snapshot() (fetchCalls, upsertCalls int, pushed []notes.Note) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls, f.upsertCalls, append([]notes.Note(nil), f.pushed...)
}

type harness struct {
	kv         *storage.MemoryKV
	dispatcher *bus.Dispatcher
	store      *store.Store
	sessions   *session.Provider
	remote     *fakeRemote
	orch       *Orchestrator
}

func newHarness(t *testing.T, remote *fakeRemote) *harness {
	t.Helper()
	kv := storage.NewMemoryKV()
	dispatcher := bus.NewDispatcher()
	clock := func() time.Time { return time.UnixMilli(9000) }

	noteStore, err := store.New(store.Config{KV: kv, Bus: dispatcher, Clock: clock})
	if err != nil {
		t.Fatalf("unexpected store construction error: %v", err)
	}
	sessions, err := session.NewProvider(session.Config{KV: kv, Clock: clock})
	if err != nil {
		t.Fatalf("unexpected session construction error: %v", err)
	}
	orch, err := New(Config{
		Store:    noteStore,
		Remote:   remote,
		Sessions: sessions,
		Bus:      dispatcher,
		KV:       kv,
		Timeout:  5 * time.Second,
		Clock:    clock,
	})
	if err != nil {
		t.Fatalf("unexpected orchestrator construction error: %v", err)
	}
	return &harness{kv: kv, dispatcher: dispatcher, store: noteStore, sessions: sessions, remote: remote, orch: orch}
}

func (h *harness) signIn(t *testing.T) {
	t.Helper()
	if _, err := h.sessions.SaveUser(context.Background(), session.User{ID: "user-1"}); err != nil {
		t.Fatalf("unexpected sign-in error: %v", err)
	}
}

func (h *harness) addLocalNote(t *testing.T, id, videoID string, updatedAt int64) {
	t.Helper()
	note := notes.Note{
		ID:        id,
		VideoID:   videoID,
		Timestamp: 10,
		Text:      "local " + id,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}
	if err := h.store.Add(context.Background(), note); err != nil {
		t.Fatalf("unexpected add error: %v", err)
	}
}

func TestFullSyncFetchesMergesAndPushes(t *testing.T) {
	remote := &fakeRemote{byVideo: map[string][]notes.Note{
		"video-1": {{ID: "remote-1", VideoID: "video-1", Timestamp: 5, Text: "remote", CreatedAt: 100, UpdatedAt: 100, Synced: true}},
	}}
	h := newHarness(t, remote)
	h.signIn(t)
	h.addLocalNote(t, "local-1", "video-1", 200)

	if !h.orch.TriggerFull() {
		t.Fatal("expected trigger to start a run")
	}
	h.orch.Wait()

	status := h.orch.GetStatus()
	if status.State != StateSuccess {
		t.Fatalf("expected success, got %#v", status)
	}
	if status.LastSync.IsZero() {
		t.Fatal("expected last-sync instant recorded")
	}

	merged, err := h.store.List(context.Background(), "video-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("expected remote and local note after merge, got %d", len(merged))
	}

	_, _, pushed := remote.snapshot()
	if len(pushed) != 1 || pushed[0].ID != "local-1" {
		t.Fatalf("expected exactly the local note pushed, got %#v", pushed)
	}
	if pushed[0].UserID != "user-1" {
		t.Fatalf("expected pushed note stamped with the user id, got %q", pushed[0].UserID)
	}

	unsynced, err := h.store.AllUnsynced(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(unsynced) != 0 {
		t.Fatalf("expected pushed notes marked synced, still have %d", len(unsynced))
	}
}

func TestFullSyncBroadcastsCompletion(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	h.signIn(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stream, cleanup := h.dispatcher.Subscribe(ctx)
	defer cleanup()

	h.orch.TriggerFull()
	h.orch.Wait()

	deadline := time.After(time.Second)
	for {
		select {
		case message := <-stream:
			if message.Type == bus.EventSyncComplete {
				return
			}
		case <-deadline:
			t.Fatal("expected sync-complete broadcast")
		}
	}
}

func TestPushFailureLeavesNotesUnsynced(t *testing.T) {
	remote := &fakeRemote{upsertErr: errors.New("backend down")}
	h := newHarness(t, remote)
	h.signIn(t)
	h.addLocalNote(t, "local-1", "video-1", 200)

	h.orch.TriggerPush()
	h.orch.Wait()

	status := h.orch.GetStatus()
	if status.State != StateError {
		t.Fatalf("expected error state, got %#v", status)
	}
	if status.Message == "" {
		t.Fatal("expected a failure message")
	}

	unsynced, err := h.store.AllUnsynced(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(unsynced) != 1 {
		t.Fatalf("failed push must not mark notes synced, got %d unsynced", len(unsynced))
	}
}

func TestFetchFailureReportsErrorAndKeepsLocalNotes(t *testing.T) {
	remote := &fakeRemote{fetchErr: errors.New("backend down")}
	h := newHarness(t, remote)
	h.signIn(t)
	h.addLocalNote(t, "local-1", "video-1", 200)

	h.orch.TriggerFull()
	h.orch.Wait()

	if status := h.orch.GetStatus(); status.State != StateError {
		t.Fatalf("expected error state, got %#v", status)
	}
	local, err := h.store.List(context.Background(), "video-1")
	if err != nil || len(local) != 1 {
		t.Fatalf("expected local notes untouched, got %d err=%v", len(local), err)
	}
	if _, upserts, _ := remote.snapshot(); upserts != 0 {
		t.Fatalf("expected no push after failed fetch, got %d upsert calls", upserts)
	}
}

func TestNoSessionIsASilentNoOp(t *testing.T) {
	remote := &fakeRemote{}
	h := newHarness(t, remote)
	h.addLocalNote(t, "local-1", "video-1", 200)

	h.orch.TriggerFull()
	h.orch.Wait()

	fetches, upserts, _ := remote.snapshot()
	if fetches != 0 || upserts != 0 {
		t.Fatalf("expected no repository calls without a session, got fetch=%d upsert=%d", fetches, upserts)
	}
	if status := h.orch.GetStatus(); status.State != StateIdle {
		t.Fatalf("expected status untouched, got %#v", status)
	}
}

func TestUnconfiguredBackendIsASilentNoOp(t *testing.T) {
	remote := &fakeRemote{unconfigured: true}
	h := newHarness(t, remote)
	h.signIn(t)

	h.orch.TriggerFull()
	h.orch.Wait()

	if fetches, _, _ := remote.snapshot(); fetches != 0 {
		t.Fatalf("expected no fetch without a configured backend, got %d", fetches)
	}
	if status := h.orch.GetStatus(); status.State != StateIdle {
		t.Fatalf("expected status untouched, got %#v", status)
	}
}

func TestPushWithNothingUnsyncedLeavesStatusUntouched(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	h.signIn(t)

	h.orch.TriggerPush()
	h.orch.Wait()

	if status := h.orch.GetStatus(); status.State != StateIdle {
		t.Fatalf("expected idle status after empty push, got %#v", status)
	}
	if _, upserts, _ := h.remote.snapshot(); upserts != 0 {
		t.Fatalf("expected no upsert for empty push, got %d", upserts)
	}
}

func TestTriggersCoalesceWhileARunIsInFlight(t *testing.T) {
	remote := &fakeRemote{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	h := newHarness(t, remote)
	h.signIn(t)

	if !h.orch.TriggerFull() {
		t.Fatal("expected first trigger to start a run")
	}
	<-remote.entered

	for i := 0; i < 3; i++ {
		if h.orch.TriggerPush() {
			t.Fatal("expected mid-run trigger to coalesce")
		}
	}

	remote.mu.Lock()
	release := remote.release
	remote.entered, remote.release = nil, nil
	remote.mu.Unlock()
	close(release)
	h.orch.Wait()

	// One fetch: only the original full run; the three pushes collapsed
	// into a single pending push.
	if fetches, _, _ := remote.snapshot(); fetches != 1 {
		t.Fatalf("expected exactly one fetch, got %d", fetches)
	}
	if status := h.orch.GetStatus(); status.State != StateSuccess {
		t.Fatalf("expected success after drain, got %#v", status)
	}
}

func TestPendingPushUpgradesToFull(t *testing.T) {
	remote := &fakeRemote{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	h := newHarness(t, remote)
	h.signIn(t)

	h.orch.TriggerFull()
	<-remote.entered

	h.orch.TriggerPush()
	h.orch.TriggerFull()

	remote.mu.Lock()
	release := remote.release
	remote.entered, remote.release = nil, nil
	remote.mu.Unlock()
	close(release)
	h.orch.Wait()

	if fetches, _, _ := remote.snapshot(); fetches != 2 {
		t.Fatalf("expected the pending slot upgraded to a full run, got %d fetches", fetches)
	}
}

func TestStatusSurvivesRestart(t *testing.T) {
	h := newHarness(t, &fakeRemote{})
	h.signIn(t)

	h.orch.TriggerFull()
	h.orch.Wait()
	first := h.orch.GetStatus()
	if first.LastSync.IsZero() {
		t.Fatal("expected last-sync recorded")
	}

	restarted, err := New(Config{
		Store:    h.store,
		Remote:   h.remote,
		Sessions: h.sessions,
		KV:       h.kv,
	})
	if err != nil {
		t.Fatalf("unexpected orchestrator construction error: %v", err)
	}
	restarted.restoreLastSync(context.Background())
	if got := restarted.GetStatus().LastSync; !got.Equal(first.LastSync) {
		t.Fatalf("expected last-sync restored, got %v want %v", got, first.LastSync)
	}
}
