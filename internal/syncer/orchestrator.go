// Package syncer owns the sync lifecycle: triggers, mutual exclusion, status
// reporting and the three-phase protocol (fetch-remote, merge, push-unsynced).
// All failure classification happens here; collaborators surface plain errors
// and the orchestrator turns them into observable status instead of letting
// them reach a caller.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akshay-panchakshari/yt-notes-app/internal/bus"
	"github.com/akshay-panchakshari/yt-notes-app/internal/notes"
	"github.com/akshay-panchakshari/yt-notes-app/internal/session"
	"github.com/akshay-panchakshari/yt-notes-app/internal/storage"
	"github.com/akshay-panchakshari/yt-notes-app/internal/store"
)

const (
	statusKey   = "yt_sync_status"
	lastSyncKey = "yt_last_sync"

	defaultInterval = 5 * time.Minute
	defaultTimeout  = 30 * time.Second
)

// State enumerates the orchestrator's observable states.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Status is the externally observable sync state.
type Status struct {
	State    State     `json:"state"`
	Message  string    `json:"message,omitempty"`
	LastSync time.Time `json:"lastSync,omitempty"`
}

// Kind selects the sync protocol variant for a trigger.
type Kind int

const (
	// KindPush pushes unsynced notes only; no fetch, no merge.
	KindPush Kind = iota
	// KindFull runs fetch, merge, then push.
	KindFull
)

func (k Kind) String() string {
	if k == KindFull {
		return "full"
	}
	return "push"
}

// Repository is the remote note repository consumed by the orchestrator.
type Repository interface {
	Configured() bool
	UpsertMany(ctx context.Context, toPush []notes.Note) error
	FetchAllForUser(ctx context.Context, userID string) (map[string][]notes.Note, error)
}

// Sessions answers whether an authenticated user exists.
type Sessions interface {
	CurrentUser(ctx context.Context) (session.User, bool, error)
}

var (
	errMissingStore    = errors.New("note store is required")
	errMissingRemote   = errors.New("remote repository is required")
	errMissingSessions = errors.New("session provider is required")
)

// Config wires the orchestrator.
type Config struct {
	Store    *store.Store
	Remote   Repository
	Sessions Sessions
	Bus      *bus.Dispatcher
	KV       storage.KV
	// Interval spaces periodic push syncs. Zero means the default.
	Interval time.Duration
	// Timeout bounds one sync run so a hung remote call cannot leave the
	// state machine stuck in syncing. Zero means the default.
	Timeout time.Duration
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Orchestrator serializes sync runs and reports their status.
type Orchestrator struct {
	store    *store.Store
	remote   Repository
	sessions Sessions
	bus      *bus.Dispatcher
	kv       storage.KV
	interval time.Duration
	timeout  time.Duration
	clock    func() time.Time
	logger   *zap.Logger

	// mu guards status, inFlight and pending. inFlight is the explicit
	// sync-in-progress flag; pending is the single coalescing slot for
	// triggers arriving mid-run.
	mu       sync.Mutex
	status   Status
	inFlight bool
	pending  *Kind

	runCtx    context.Context
	runCancel context.CancelFunc
	// runWG tracks sync runs; schedWG tracks the scheduler loop. Wait must
	// not block on the scheduler, which lives until Stop.
	runWG   sync.WaitGroup
	schedWG sync.WaitGroup
}

// New validates the configuration and returns an idle Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	if cfg.Sessions == nil {
		return nil, errMissingSessions
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		store:     cfg.Store,
		remote:    cfg.Remote,
		sessions:  cfg.Sessions,
		bus:       cfg.Bus,
		kv:        cfg.KV,
		interval:  interval,
		timeout:   timeout,
		clock:     clock,
		logger:    logger,
		status:    Status{State: StateIdle},
		runCtx:    runCtx,
		runCancel: runCancel,
	}, nil
}

// Trigger requests a sync run. When no run is in flight one starts
// immediately; otherwise the request lands in the single coalescing slot,
// where a full request upgrades a pending push but never the reverse.
// Returns true when the request started a run, false when it coalesced.
func (o *Orchestrator) Trigger(kind Kind) bool {
	o.mu.Lock()
	if o.inFlight {
		if o.pending == nil || kind == KindFull {
			pending := kind
			o.pending = &pending
		}
		o.mu.Unlock()
		o.logger.Debug("sync trigger coalesced", zap.String("kind", kind.String()))
		return false
	}
	o.inFlight = true
	o.mu.Unlock()

	o.runWG.Add(1)
	go o.runLoop(kind)
	return true
}

// TriggerFull requests a full fetch-merge-push run.
func (o *Orchestrator) TriggerFull() bool { return o.Trigger(KindFull) }

// TriggerPush requests a push-only run.
func (o *Orchestrator) TriggerPush() bool { return o.Trigger(KindPush) }

// GetStatus returns the current observable status.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Wait blocks until no sync run is in flight. Intended for tests and
// shutdown, not for request paths.
func (o *Orchestrator) Wait() {
	o.runWG.Wait()
}

func (o *Orchestrator) runLoop(kind Kind) {
	defer o.runWG.Done()
	for {
		o.runOnce(kind)

		o.mu.Lock()
		if o.pending != nil {
			kind = *o.pending
			o.pending = nil
			o.mu.Unlock()
			continue
		}
		o.inFlight = false
		o.mu.Unlock()
		return
	}
}

func (o *Orchestrator) runOnce(kind Kind) {
	ctx, cancel := context.WithTimeout(o.runCtx, o.timeout)
	defer cancel()

	var err error
	if kind == KindFull {
		err = o.fullSync(ctx)
	} else {
		err = o.pushSync(ctx)
	}
	if err != nil {
		o.logger.Warn("sync run failed",
			zap.String("kind", kind.String()),
			zap.Error(err))
		o.setStatus(ctx, StateError, err.Error(), time.Time{})
	}
}

// fullSync runs the three-phase protocol: fetch remote, merge into the local
// store, push whatever is still unsynced. Committed phases are never rolled
// back on a later failure; merge is idempotent, so the next run repeats
// safely from scratch.
func (o *Orchestrator) fullSync(ctx context.Context) error {
	user, ok := o.guard(ctx)
	if !ok {
		return nil
	}

	o.setStatus(ctx, StateSyncing, "Syncing notes...", time.Time{})

	remoteNotes, err := o.remote.FetchAllForUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("fetch remote notes: %w", err)
	}
	o.logger.Debug("fetched remote snapshot", zap.Int("videos", len(remoteNotes)))

	if err := o.store.MergeIn(ctx, remoteNotes); err != nil {
		return fmt.Errorf("merge remote notes: %w", err)
	}

	if err := o.pushUnsynced(ctx, user); err != nil {
		return err
	}

	o.finish(ctx)
	return nil
}

// pushSync pushes unsynced notes without fetching. With nothing to push it
// leaves status untouched.
func (o *Orchestrator) pushSync(ctx context.Context) error {
	user, ok := o.guard(ctx)
	if !ok {
		return nil
	}

	unsynced, err := o.store.AllUnsynced(ctx)
	if err != nil {
		return fmt.Errorf("collect unsynced notes: %w", err)
	}
	if len(unsynced) == 0 {
		return nil
	}

	if err := o.pushUnsynced(ctx, user); err != nil {
		return err
	}

	o.finish(ctx)
	return nil
}

// guard implements the silent no-op path: without a configured backend or an
// authenticated session, sync does nothing and status does not change.
func (o *Orchestrator) guard(ctx context.Context) (session.User, bool) {
	if !o.remote.Configured() {
		return session.User{}, false
	}
	user, found, err := o.sessions.CurrentUser(ctx)
	if err != nil {
		o.logger.Warn("session lookup failed", zap.Error(err))
		return session.User{}, false
	}
	if !found {
		return session.User{}, false
	}
	return user, true
}

func (o *Orchestrator) pushUnsynced(ctx context.Context, user session.User) error {
	unsynced, err := o.store.AllUnsynced(ctx)
	if err != nil {
		return fmt.Errorf("collect unsynced notes: %w", err)
	}
	if len(unsynced) == 0 {
		return nil
	}

	pushed := make([]notes.Note, 0, len(unsynced))
	pushedIDs := make([]string, 0, len(unsynced))
	for _, note := range unsynced {
		note.UserID = user.ID
		pushed = append(pushed, note)
		pushedIDs = append(pushedIDs, note.ID)
	}

	if err := o.remote.UpsertMany(ctx, pushed); err != nil {
		return fmt.Errorf("push notes: %w", err)
	}
	if err := o.store.MarkSynced(ctx, pushedIDs); err != nil {
		return fmt.Errorf("mark notes synced: %w", err)
	}

	o.logger.Info("pushed unsynced notes", zap.Int("count", len(pushedIDs)))
	return nil
}

func (o *Orchestrator) finish(ctx context.Context) {
	now := o.clock().UTC()
	o.setStatus(ctx, StateSuccess, "Sync complete", now)
	if o.bus != nil {
		o.bus.Publish(bus.Message{Type: bus.EventSyncComplete, Timestamp: now})
	}
}

// setStatus updates the in-memory status and mirrors it into the KV store so
// UI surfaces can read it without the agent running. Persistence here is
// best-effort; a storage fault must not mask the sync outcome.
func (o *Orchestrator) setStatus(ctx context.Context, state State, message string, lastSync time.Time) {
	o.mu.Lock()
	o.status.State = state
	o.status.Message = message
	if !lastSync.IsZero() {
		o.status.LastSync = lastSync
	}
	snapshot := o.status
	o.mu.Unlock()

	if o.kv == nil {
		return
	}
	if raw, err := json.Marshal(snapshot); err == nil {
		if err := o.kv.Set(ctx, statusKey, raw); err != nil {
			o.logger.Warn("failed to persist sync status", zap.Error(err))
		}
	}
	if !lastSync.IsZero() {
		raw, _ := json.Marshal(lastSync.UnixMilli())
		if err := o.kv.Set(ctx, lastSyncKey, raw); err != nil {
			o.logger.Warn("failed to persist last sync instant", zap.Error(err))
		}
	}
}

// restoreLastSync loads the persisted last-sync instant on startup so the
// status survives an agent restart.
func (o *Orchestrator) restoreLastSync(ctx context.Context) {
	if o.kv == nil {
		return
	}
	raw, found, err := o.kv.Get(ctx, lastSyncKey)
	if err != nil || !found {
		return
	}
	var unixMilli int64
	if err := json.Unmarshal(raw, &unixMilli); err != nil || unixMilli <= 0 {
		return
	}
	o.mu.Lock()
	o.status.LastSync = time.UnixMilli(unixMilli).UTC()
	o.mu.Unlock()
}
