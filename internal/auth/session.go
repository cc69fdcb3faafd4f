// Package auth issues and validates the sign-in sessions that guard the
// catalog API. Tokens travel either in the session cookie or as a bearer
// header; the manager only deals in opaque tokens and account identifiers.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// ErrInvalidUserID reports an attempt to open a session without an account.
var ErrInvalidUserID = errors.New("userID is required")

// defaultAbsoluteTTL matches the server's session lifetime when the caller
// passes no TTL of its own.
const defaultAbsoluteTTL = 24 * time.Hour

// SessionStore persists issued tokens. Implementations must be safe for
// concurrent use; every catalog request resolves its session through here.
type SessionStore interface {
	Save(token, userID string, expiresAt, absoluteExpiresAt time.Time) error
	Get(token string) (SessionRecord, bool, error)
	Delete(token string) error
	PurgeExpired(now time.Time) error
}

// SessionRecord is one persisted sign-in session.
type SessionRecord struct {
	Token             string
	UserID            string
	ExpiresAt         time.Time
	AbsoluteExpiresAt time.Time
}

// SessionOption adjusts a SessionManager during construction.
type SessionOption func(*SessionManager)

// WithStore selects the backing store. The in-memory default only suits a
// single catalog replica; multi-replica deployments share a Redis store.
func WithStore(store SessionStore) SessionOption {
	return func(m *SessionManager) {
		m.store = store
	}
}

// WithTokenLength overrides the number of random bytes behind each token.
func WithTokenLength(length int) SessionOption {
	return func(m *SessionManager) {
		if length > 0 {
			m.tokenLength = length
		}
	}
}

// WithIdleTimeout expires sessions that go unused for the given duration.
// Activity slides the expiry forward, never past the absolute TTL.
func WithIdleTimeout(timeout time.Duration) SessionOption {
	return func(m *SessionManager) {
		if timeout > 0 {
			m.idleTimeout = timeout
		}
	}
}

// SessionManager issues the tokens that authenticate catalog requests and
// resolves them back to account identifiers.
type SessionManager struct {
	store       SessionStore
	absoluteTTL time.Duration
	idleTimeout time.Duration
	tokenLength int
	newToken    func(int) (string, error)
	now         func() time.Time
}

// NewSessionManager builds a manager enforcing the given absolute TTL. A
// non-positive TTL falls back to one day.
func NewSessionManager(ttl time.Duration, opts ...SessionOption) *SessionManager {
	if ttl <= 0 {
		ttl = defaultAbsoluteTTL
	}
	manager := &SessionManager{
		absoluteTTL: ttl,
		tokenLength: 32,
		newToken:    randomToken,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemorySessionStore()
	}
	return manager
}

// Create opens a session for userID and reports when it expires.
func (m *SessionManager) Create(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrInvalidUserID
	}
	token, err := m.newToken(m.tokenLength)
	if err != nil {
		return "", time.Time{}, err
	}
	now := m.now()
	absolute := now.Add(m.absoluteTTL)
	expires := m.idleExpiry(now, absolute)
	if err := m.store.Save(token, userID, expires.UTC(), absolute.UTC()); err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// idleExpiry picks the next expiry for a session touched at now, capped at
// the absolute deadline.
func (m *SessionManager) idleExpiry(now, absolute time.Time) time.Time {
	if m.idleTimeout <= 0 {
		return absolute
	}
	idle := now.Add(m.idleTimeout)
	if idle.After(absolute) {
		return absolute
	}
	return idle
}

// Validate resolves token to its account. Expired tokens are dropped from
// the store; with an idle timeout configured, a valid lookup slides the
// expiry forward.
func (m *SessionManager) Validate(token string) (string, time.Time, bool, error) {
	if token == "" {
		return "", time.Time{}, false, nil
	}
	record, ok, err := m.store.Get(token)
	if err != nil || !ok {
		return "", time.Time{}, false, err
	}
	now := m.now()
	absolute := record.AbsoluteExpiresAt
	if absolute.IsZero() {
		// Records written before idle timeouts existed carry no absolute
		// deadline of their own.
		absolute = record.ExpiresAt
	}
	if now.After(record.ExpiresAt) || now.After(absolute) {
		_ = m.store.Delete(token)
		return "", time.Time{}, false, nil
	}
	expires := record.ExpiresAt
	if m.idleTimeout > 0 {
		if slid := m.idleExpiry(now, absolute); slid.After(expires) {
			if err := m.store.Save(record.Token, record.UserID, slid.UTC(), absolute.UTC()); err != nil {
				return "", time.Time{}, false, err
			}
			expires = slid
		}
	}
	return record.UserID, expires, true, nil
}

// Revoke forgets the token. Revoking an empty token is a no-op so logout
// never fails on an already-cleared cookie.
func (m *SessionManager) Revoke(token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(token)
}

// PurgeExpired sweeps expired sessions out of the backing store.
func (m *SessionManager) PurgeExpired() error {
	return m.store.PurgeExpired(m.now())
}

// Ping reports whether the backing store is reachable, for stores that can
// actually go away.
func (m *SessionManager) Ping(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
