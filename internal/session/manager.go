package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a session ID has no stored payload.
var ErrNotFound = errors.New("session: not found")

// Manager orchestrates cookie based sessions backed by Redis.
type Manager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
	clock      func() time.Time
}

// NewManager constructs a Manager.
func NewManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *Manager {
	return &Manager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// Session implements Provider. It reads the session ID from the cookie first
// and the token header second.
func (m *Manager) Session(ctx context.Context, headers http.Header) (*Session, error) {
	id := m.sessionID(headers)
	if id == "" {
		return nil, nil
	}
	sess, err := m.load(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(sess.User.ID) == "" {
		return nil, nil
	}
	return sess, nil
}

// Create stores a new session for user.
func (m *Manager) Create(ctx context.Context, user User) (*Session, error) {
	sess := &Session{
		ID:        uuid.NewString(),
		User:      user,
		CreatedAt: m.clock(),
	}
	if err := m.save(ctx, sess, m.ttl); err != nil {
		return nil, err
	}
	return sess, nil
}

// Invalidate deletes the session. Missing sessions are not an error.
func (m *Manager) Invalidate(ctx context.Context, id string) error {
	if err := m.client.Del(ctx, m.redisKey(id)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("session: invalidate: %w", err)
	}
	return nil
}

// Impersonate switches the session to target while remembering the original
// actor. Nested impersonation keeps the first actor.
func (m *Manager) Impersonate(ctx context.Context, id string, target User) (*Session, error) {
	sess, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.ImpersonatedBy == nil {
		actor := sess.User
		sess.ImpersonatedBy = &actor
	}
	sess.User = target
	if err := m.save(ctx, sess, redis.KeepTTL); err != nil {
		return nil, err
	}
	return sess, nil
}

// StopImpersonating restores the original actor.
func (m *Manager) StopImpersonating(ctx context.Context, id string) (*Session, error) {
	sess, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.ImpersonatedBy == nil {
		return sess, nil
	}
	sess.User = *sess.ImpersonatedBy
	sess.ImpersonatedBy = nil
	if err := m.save(ctx, sess, redis.KeepTTL); err != nil {
		return nil, err
	}
	return sess, nil
}

// Cookie returns the cookie that carries sess.
func (m *Manager) Cookie(sess *Session) *http.Cookie {
	return &http.Cookie{
		Name:     m.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  m.clock().Add(m.ttl),
	}
}

// CookieName returns the cookie identifier used for sessions.
func (m *Manager) CookieName() string {
	return m.cookieName
}

func (m *Manager) sessionID(headers http.Header) string {
	req := http.Request{Header: headers}
	if cookie, err := req.Cookie(m.cookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return strings.TrimSpace(headers.Get(HeaderToken))
}

func (m *Manager) load(ctx context.Context, id string) (*Session, error) {
	payload, err := m.client.Get(ctx, m.redisKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: load: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	sess.ID = id
	return &sess, nil
}

func (m *Manager) save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	if err := m.client.Set(ctx, m.redisKey(sess.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

func (m *Manager) redisKey(id string) string {
	return "session:" + id
}
