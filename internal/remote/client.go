// Package remote is the client to the hosted note repository. It speaks a
// small JSON API: bulk upsert keyed by note id and fetch-all-for-user grouped
// by video. The repository is optional; an unconfigured client turns sync
// into a silent no-op upstream.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/akshay-panchakshari/yt-notes-app/internal/notes"
)

const (
	upsertPath   = "/v1/notes/upsert"
	fetchPath    = "/v1/notes"
	maxErrorBody = 4 << 10

	defaultRequestTimeout = 15 * time.Second
)

// ErrNotConfigured indicates no backend base URL was supplied.
var ErrNotConfigured = errors.New("remote: backend not configured")

// ErrUnauthorized indicates the repository rejected the bearer token.
var ErrUnauthorized = errors.New("remote: unauthorized")

// RepositoryError describes a failed repository call.
type RepositoryError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RepositoryError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote %s failed: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("remote %s failed: %v", e.Op, e.Err)
}

func (e *RepositoryError) Unwrap() error {
	return e.Err
}

// TokenSource supplies the current bearer token for repository calls.
type TokenSource func(ctx context.Context) (string, error)

// Config wires the client.
type Config struct {
	BaseURL     string
	HTTPClient  *http.Client
	TokenSource TokenSource
	Logger      *zap.Logger
}

// Client implements the remote note repository contract.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	tokenSource TokenSource
	logger      *zap.Logger
}

// NewClient returns a Client. An empty base URL yields an unconfigured client
// whose calls fail with ErrNotConfigured.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient:  httpClient,
		tokenSource: cfg.TokenSource,
		logger:      logger,
	}
}

// Configured reports whether a backend base URL is present.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// noteRow is the repository wire representation of a note.
type noteRow struct {
	ID          string `json:"id"`
	VideoID     string `json:"video_id"`
	Timestamp   int64  `json:"timestamp"`
	Text        string `json:"text"`
	CreatedAtMS int64  `json:"created_at_ms"`
	UpdatedAtMS int64  `json:"updated_at_ms"`
	UserID      string `json:"user_id"`
}

type upsertRequest struct {
	Notes []noteRow `json:"notes"`
}

type fetchResponse struct {
	Notes []noteRow `json:"notes"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// UpsertMany pushes full note rows with insert-or-replace semantics keyed by
// note id. Rows are never diffed; the repository stores them verbatim.
func (c *Client) UpsertMany(ctx context.Context, toPush []notes.Note) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if len(toPush) == 0 {
		return nil
	}

	rows := make([]noteRow, 0, len(toPush))
	for _, note := range toPush {
		rows = append(rows, noteRow{
			ID:          note.ID,
			VideoID:     note.VideoID,
			Timestamp:   note.Timestamp,
			Text:        note.Text,
			CreatedAtMS: note.CreatedAt,
			UpdatedAtMS: note.UpdatedAt,
			UserID:      note.UserID,
		})
	}

	body, err := json.Marshal(upsertRequest{Notes: rows})
	if err != nil {
		return &RepositoryError{Op: "upsert", Err: err}
	}

	response, err := c.do(ctx, http.MethodPost, upsertPath, bytes.NewReader(body))
	if err != nil {
		return &RepositoryError{Op: "upsert", Err: err}
	}
	defer response.Body.Close() //nolint:errcheck

	if err := c.checkStatus("upsert", response); err != nil {
		return err
	}

	c.logger.Debug("pushed notes", zap.Int("count", len(rows)))
	return nil
}

// FetchAllForUser retrieves every note stored for the user, grouped by video.
// Every returned note carries Synced=true since it reflects repository state.
func (c *Client) FetchAllForUser(ctx context.Context, userID string) (map[string][]notes.Note, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(userID) == "" {
		return nil, &RepositoryError{Op: "fetch", Err: errors.New("user id is required")}
	}

	query := url.Values{"user_id": {userID}}
	response, err := c.do(ctx, http.MethodGet, fetchPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, &RepositoryError{Op: "fetch", Err: err}
	}
	defer response.Body.Close() //nolint:errcheck

	if err := c.checkStatus("fetch", response); err != nil {
		return nil, err
	}

	var payload fetchResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return nil, &RepositoryError{Op: "fetch", Err: err}
	}

	byVideo := make(map[string][]notes.Note)
	for _, row := range payload.Notes {
		note := notes.Note{
			ID:        row.ID,
			VideoID:   row.VideoID,
			Timestamp: row.Timestamp,
			Text:      row.Text,
			CreatedAt: row.CreatedAtMS,
			UpdatedAt: row.UpdatedAtMS,
			UserID:    row.UserID,
			Synced:    true,
		}
		byVideo[note.VideoID] = append(byVideo[note.VideoID], note)
	}

	c.logger.Debug("fetched notes", zap.Int("videos", len(byVideo)))
	return byVideo, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.tokenSource != nil {
		token, err := c.tokenSource(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			request.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return c.httpClient.Do(request)
}

func (c *Client) checkStatus(op string, response *http.Response) error {
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return nil
	}

	message := readErrorMessage(response.Body)
	if response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden {
		return &RepositoryError{Op: op, StatusCode: response.StatusCode, Message: message, Err: ErrUnauthorized}
	}
	return &RepositoryError{
		Op:         op,
		StatusCode: response.StatusCode,
		Message:    message,
		Err:        fmt.Errorf("unexpected status %d", response.StatusCode),
	}
}

func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return ""
	}
	var payload errorResponse
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
