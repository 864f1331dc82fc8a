// Package session tracks the signed-in user for the sync engine. The OAuth
// flow itself runs outside this process; the UI hands the resulting profile
// and access token to the provider, which persists them and answers the one
// question sync cares about: is there a usable session right now.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/akshay-panchakshari/yt-notes-app/internal/bus"
	"github.com/akshay-panchakshari/yt-notes-app/internal/storage"
)

// userKey is the KV document holding the current user.
const userKey = "yt_user"

// userNamespacePrefix scopes derived user ids to this application.
const userNamespacePrefix = "https://yt-notes.app/users/"

var (
	// ErrNoSession indicates no user is signed in.
	ErrNoSession = errors.New("session: no signed-in user")
	// ErrTokenExpired indicates the stored access token is past its expiry.
	ErrTokenExpired = errors.New("session: access token expired")
	// ErrPermissionDenied indicates the identity provider refused or revoked access.
	ErrPermissionDenied = errors.New("session: permission denied")
	// ErrUserCancelled indicates the user abandoned the consent flow.
	ErrUserCancelled = errors.New("session: sign-in cancelled")

	errMissingKV = errors.New("key-value store is required")
)

// User is the authenticated identity attached to pushed notes.
type User struct {
	ID          string `json:"id"`
	ProviderID  string `json:"providerId,omitempty"`
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	AvatarURL   string `json:"avatar,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

// Config wires the provider's collaborators.
type Config struct {
	KV    storage.KV
	Bus   *bus.Dispatcher
	Clock func() time.Time
}

// Provider persists and reports the current session.
type Provider struct {
	kv    storage.KV
	bus   *bus.Dispatcher
	clock func() time.Time
}

// NewProvider validates the configuration and returns a Provider.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.KV == nil {
		return nil, errMissingKV
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Provider{kv: cfg.KV, bus: cfg.Bus, clock: clock}, nil
}

// CurrentUser returns the signed-in user, or found=false when none exists.
func (p *Provider) CurrentUser(ctx context.Context) (User, bool, error) {
	raw, found, err := p.kv.Get(ctx, userKey)
	if err != nil {
		return User{}, false, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return User{}, false, nil
	}
	var user User
	if err := json.Unmarshal(raw, &user); err != nil {
		return User{}, false, fmt.Errorf("decode user: %w", err)
	}
	if user.ID == "" {
		return User{}, false, nil
	}
	return user, true, nil
}

// SaveUser persists the user and broadcasts auth-changed. A missing ID is
// derived from the provider subject so the same login always maps to the
// same user id across sessions.
func (p *Provider) SaveUser(ctx context.Context, user User) (User, error) {
	if user.ID == "" && user.ProviderID != "" {
		user.ID = DeriveUserID("google", user.ProviderID)
	}
	if user.ID == "" {
		return User{}, errors.New("session: user id or provider id is required")
	}

	raw, err := json.Marshal(user)
	if err != nil {
		return User{}, fmt.Errorf("encode user: %w", err)
	}
	if err := p.kv.Set(ctx, userKey, raw); err != nil {
		return User{}, fmt.Errorf("persist user: %w", err)
	}
	p.publishAuthChanged()
	return user, nil
}

// ClearUser signs the user out and broadcasts auth-changed.
func (p *Provider) ClearUser(ctx context.Context) error {
	if err := p.kv.Remove(ctx, userKey); err != nil {
		return fmt.Errorf("clear user: %w", err)
	}
	p.publishAuthChanged()
	return nil
}

// Token returns the current access token for repository calls. A stored JWT
// past its expiry yields ErrTokenExpired; opaque tokens pass through as-is.
func (p *Provider) Token(ctx context.Context) (string, error) {
	user, found, err := p.CurrentUser(ctx)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNoSession
	}
	if user.AccessToken == "" {
		return "", nil
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, parseErr := jwt.NewParser().ParseUnverified(user.AccessToken, claims); parseErr == nil {
		if claims.ExpiresAt != nil && !claims.ExpiresAt.After(p.clock()) {
			return "", ErrTokenExpired
		}
	}
	return user.AccessToken, nil
}

func (p *Provider) publishAuthChanged() {
	if p.bus == nil {
		return
	}
	p.bus.Publish(bus.Message{Type: bus.EventAuthChanged})
}

// DeriveUserID maps a provider-specific subject to a stable application user
// id using name-based UUID derivation. Deterministic and collision-resistant;
// not a security boundary.
func DeriveUserID(provider, subject string) string {
	name := userNamespacePrefix + provider + "/" + subject
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

// ClassifyAuthFailure maps an identity-provider failure message onto the
// session error taxonomy so the UI can distinguish a revoked grant from an
// abandoned consent screen or a plain network fault.
func ClassifyAuthFailure(message string) error {
	lowered := strings.ToLower(message)
	switch {
	case strings.Contains(lowered, "not granted"), strings.Contains(lowered, "revoked"),
		strings.Contains(lowered, "access denied"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, message)
	case strings.Contains(lowered, "did not approve"), strings.Contains(lowered, "cancelled"),
		strings.Contains(lowered, "canceled"):
		return fmt.Errorf("%w: %s", ErrUserCancelled, message)
	default:
		return errors.New(message)
	}
}
