package auth

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSessionLifecycle(t *testing.T) {
	clock := newFakeClock()
	manager := NewSessionManager(time.Hour)
	manager.now = clock.Now

	token, expiresAt, err := manager.Create("creator-001")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if !expiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("expected expiry one hour out, got %v", expiresAt)
	}

	userID, expires, ok, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected token to validate")
	}
	if userID != "creator-001" {
		t.Fatalf("expected account creator-001, got %s", userID)
	}
	if !expires.Equal(expiresAt.UTC()) {
		t.Fatalf("expected expiry %v, got %v", expiresAt, expires)
	}

	if err := manager.Revoke(token); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if _, _, ok, err := manager.Validate(token); err != nil {
		t.Fatalf("Validate returned error for revoked token: %v", err)
	} else if ok {
		t.Fatal("expected revoked token to be invalid")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	manager := NewSessionManager(time.Hour)
	if _, _, ok, err := manager.Validate("never-issued"); err != nil || ok {
		t.Fatalf("expected unknown token to miss, got ok=%v err=%v", ok, err)
	}
	if _, _, ok, err := manager.Validate(""); err != nil || ok {
		t.Fatalf("expected blank token to miss, got ok=%v err=%v", ok, err)
	}
}

func TestSessionExpiration(t *testing.T) {
	clock := newFakeClock()
	store := NewMemorySessionStore()
	manager := NewSessionManager(10*time.Minute, WithStore(store))
	manager.now = clock.Now

	token, _, err := manager.Create("creator-001")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	clock.Advance(11 * time.Minute)
	if _, _, ok, err := manager.Validate(token); err != nil || ok {
		t.Fatalf("expected expired token to be invalid, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := store.Get(token); ok {
		t.Fatal("expected expired session to be dropped on validation")
	}
}

func TestPurgeExpiredSweepsTheStore(t *testing.T) {
	clock := newFakeClock()
	store := NewMemorySessionStore()
	manager := NewSessionManager(10*time.Minute, WithStore(store))
	manager.now = clock.Now

	stale, _, err := manager.Create("creator-001")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	clock.Advance(9 * time.Minute)
	fresh, _, err := manager.Create("creator-002")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	clock.Advance(2 * time.Minute)
	if err := manager.PurgeExpired(); err != nil {
		t.Fatalf("PurgeExpired returned error: %v", err)
	}
	if _, ok, _ := store.Get(stale); ok {
		t.Fatal("expected stale session to be purged")
	}
	if _, ok, _ := store.Get(fresh); !ok {
		t.Fatal("expected live session to survive the sweep")
	}
}

func TestCreateRequiresUserID(t *testing.T) {
	manager := NewSessionManager(time.Minute)
	if _, _, err := manager.Create(""); err != ErrInvalidUserID {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestDefaultTTLFallback(t *testing.T) {
	clock := newFakeClock()
	manager := NewSessionManager(0)
	manager.now = clock.Now

	_, expiresAt, err := manager.Create("creator-001")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if !expiresAt.Equal(clock.Now().Add(24 * time.Hour)) {
		t.Fatalf("expected the one-day fallback TTL, got expiry %v", expiresAt)
	}
}

func TestSessionSharedAcrossReplicas(t *testing.T) {
	store := NewMemorySessionStore()
	first := NewSessionManager(time.Minute, WithStore(store))
	token, _, err := first.Create("creator-001")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	second := NewSessionManager(time.Minute, WithStore(store))
	userID, _, ok, err := second.Validate(token)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected token issued by one replica to validate on another")
	}
	if userID != "creator-001" {
		t.Fatalf("expected account creator-001, got %s", userID)
	}
}

func TestConcurrentValidationAcrossReplicas(t *testing.T) {
	store := NewMemorySessionStore()
	primary := NewSessionManager(time.Minute, WithStore(store))
	token, _, err := primary.Create("creator-001")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	const replicas = 8
	wg := sync.WaitGroup{}
	wg.Add(replicas)
	errs := make(chan error, replicas)
	for i := 0; i < replicas; i++ {
		go func() {
			defer wg.Done()
			replica := NewSessionManager(time.Minute, WithStore(store))
			userID, _, ok, err := replica.Validate(token)
			if err != nil {
				errs <- err
				return
			}
			if !ok {
				errs <- fmt.Errorf("token rejected by replica")
				return
			}
			if userID != "creator-001" {
				errs <- fmt.Errorf("unexpected account %s", userID)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("replica validation error: %v", err)
	}
}

func TestValidateSlidesIdleExpiry(t *testing.T) {
	clock := newFakeClock()
	store := NewMemorySessionStore()
	manager := NewSessionManager(time.Hour, WithStore(store), WithIdleTimeout(10*time.Minute))
	manager.now = clock.Now

	token, initialExpiry, err := manager.Create("creator-001")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if !initialExpiry.Equal(clock.Now().Add(10 * time.Minute)) {
		t.Fatalf("expected idle expiry on create, got %v", initialExpiry)
	}

	clock.Advance(5 * time.Minute)
	_, refreshed, ok, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected token to validate")
	}
	if !refreshed.Equal(clock.Now().Add(10 * time.Minute)) {
		t.Fatalf("expected expiry to slide to %v, got %v", clock.Now().Add(10*time.Minute), refreshed)
	}
	if record, _, _ := store.Get(token); !record.ExpiresAt.Equal(refreshed) {
		t.Fatalf("expected store expiry %v, got %v", refreshed, record.ExpiresAt)
	}
}

func TestIdleRefreshCappedAtAbsoluteTTL(t *testing.T) {
	clock := newFakeClock()
	store := NewMemorySessionStore()
	manager := NewSessionManager(30*time.Minute, WithStore(store), WithIdleTimeout(20*time.Minute))
	manager.now = clock.Now

	token, _, err := manager.Create("creator-001")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	record, ok, err := store.Get(token)
	if err != nil || !ok {
		t.Fatalf("expected session record, got ok=%v err=%v", ok, err)
	}
	absolute := record.AbsoluteExpiresAt

	clock.Advance(15 * time.Minute)
	_, refreshed, ok, err := manager.Validate(token)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !ok {
		t.Fatal("expected token to validate before the absolute deadline")
	}
	if !refreshed.Equal(absolute) {
		t.Fatalf("expected refresh capped at %v, got %v", absolute, refreshed)
	}

	clock.Advance(16 * time.Minute)
	if _, _, ok, err := manager.Validate(token); err != nil || ok {
		t.Fatalf("expected token to die at the absolute deadline, got ok=%v err=%v", ok, err)
	}
}
