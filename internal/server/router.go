// Package server exposes the agent's local HTTP API. UI surfaces (the player
// overlay, the popup) talk to the agent over loopback: note CRUD, sync
// triggers and status, session management, plus a websocket event feed.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akshay-panchakshari/yt-notes-app/internal/notes"
	"github.com/akshay-panchakshari/yt-notes-app/internal/session"
	"github.com/akshay-panchakshari/yt-notes-app/internal/store"
	"github.com/akshay-panchakshari/yt-notes-app/internal/syncer"
)

var (
	errMissingNoteStore    = errors.New("note store dependency required")
	errMissingSessions     = errors.New("session provider dependency required")
	errMissingOrchestrator = errors.New("sync orchestrator dependency required")
)

// Dependencies wires the handler.
type Dependencies struct {
	Store    *store.Store
	Sessions *session.Provider
	Sync     *syncer.Orchestrator
	Events   *EventFeed
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gin router for the local API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingNoteStore
	}
	if deps.Sessions == nil {
		return nil, errMissingSessions
	}
	if deps.Sync == nil {
		return nil, errMissingOrchestrator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:    deps.Store,
		sessions: deps.Sessions,
		sync:     deps.Sync,
		events:   deps.Events,
		logger:   logger,
	}

	v1 := router.Group("/v1")
	v1.GET("/videos/:videoId/notes", handler.handleListNotes)
	v1.POST("/videos/:videoId/notes", handler.handleCreateNote)
	v1.PATCH("/videos/:videoId/notes/:noteId", handler.handleUpdateNote)
	v1.DELETE("/videos/:videoId/notes/:noteId", handler.handleDeleteNote)

	v1.POST("/sync/full", handler.handleFullSync)
	v1.POST("/sync/push", handler.handlePushSync)
	v1.GET("/sync/status", handler.handleSyncStatus)

	v1.GET("/session", handler.handleGetSession)
	v1.PUT("/session", handler.handlePutSession)
	v1.DELETE("/session", handler.handleDeleteSession)

	if handler.events != nil {
		v1.GET("/events", handler.events.handleSubscribe)
	}

	return router, nil
}

type httpHandler struct {
	store    *store.Store
	sessions *session.Provider
	sync     *syncer.Orchestrator
	events   *EventFeed
	logger   *zap.Logger
}

type notesResponsePayload struct {
	Notes []notes.Note `json:"notes"`
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	videoID, err := notes.NewVideoID(c.Param("videoId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sequence, err := h.store.List(c.Request.Context(), videoID)
	if err != nil {
		h.logger.Error("failed to list notes", zap.String("video_id", videoID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, notesResponsePayload{Notes: sequence})
}

type createNotePayload struct {
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	videoID, err := notes.NewVideoID(c.Param("videoId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var request createNotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	note, err := notes.NewNote(videoID, request.Text, request.Timestamp, nil)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.Add(c.Request.Context(), note); err != nil {
		if errors.Is(err, store.ErrDuplicateNoteID) {
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate_note"})
			return
		}
		h.logger.Error("failed to add note", zap.String("video_id", videoID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "add_failed"})
		return
	}
	c.JSON(http.StatusCreated, note)
}

type updateNotePayload struct {
	Text      *string `json:"text"`
	Timestamp *int64  `json:"timestamp"`
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	videoID, err := notes.NewVideoID(c.Param("videoId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	noteID, err := notes.NewNoteID(c.Param("noteId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var request updateNotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if request.Text == nil && request.Timestamp == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty_patch"})
		return
	}

	updated, err := h.store.Update(c.Request.Context(), videoID, noteID, store.Patch{
		Text:      request.Text,
		Timestamp: request.Timestamp,
	})
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNoteNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
		case errors.Is(err, notes.ErrEmptyText), errors.Is(err, notes.ErrNegativeTimestamp):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logger.Error("failed to update note", zap.String("note_id", noteID.String()), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		}
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	videoID, err := notes.NewVideoID(c.Param("videoId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	noteID, err := notes.NewNoteID(c.Param("noteId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.Delete(c.Request.Context(), videoID, noteID); err != nil {
		if errors.Is(err, store.ErrNoteNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
			return
		}
		h.logger.Error("failed to delete note", zap.String("note_id", noteID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type syncTriggerPayload struct {
	Started bool `json:"started"`
}

// handleFullSync requests a full sync. 202 either way: the run happens in the
// background and "started" reports whether this request began one or
// coalesced into an in-flight run.
func (h *httpHandler) handleFullSync(c *gin.Context) {
	started := h.sync.TriggerFull()
	c.JSON(http.StatusAccepted, syncTriggerPayload{Started: started})
}

func (h *httpHandler) handlePushSync(c *gin.Context) {
	started := h.sync.TriggerPush()
	c.JSON(http.StatusAccepted, syncTriggerPayload{Started: started})
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.sync.GetStatus())
}

func (h *httpHandler) handleGetSession(c *gin.Context) {
	user, found, err := h.sessions.CurrentUser(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_load_failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_session"})
		return
	}
	// Never hand the access token back out; the agent holds it.
	user.AccessToken = ""
	c.JSON(http.StatusOK, user)
}

func (h *httpHandler) handlePutSession(c *gin.Context) {
	var user session.User
	if err := c.ShouldBindJSON(&user); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	saved, err := h.sessions.SaveUser(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	saved.AccessToken = ""
	c.JSON(http.StatusOK, saved)
}

func (h *httpHandler) handleDeleteSession(c *gin.Context) {
	if err := h.sessions.ClearUser(c.Request.Context()); err != nil {
		h.logger.Error("failed to clear session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_clear_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
