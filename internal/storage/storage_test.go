package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}
	return store
}

func seedUser(t *testing.T, store *Storage, username string) string {
	t.Helper()
	user, err := store.CreateUser(CreateUserParams{
		Username: username,
		Email:    username + "@example.com",
		Password: "longenough",
	})
	if err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return user.ID
}

func TestCreateUserNormalizesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("create storage: %v", err)
	}

	user, err := store.CreateUser(CreateUserParams{
		Username: "  Creator ",
		Email:    " Creator@Example.COM ",
		Password: "longenough",
		FullName: "  Avery Creator  ",
	})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if user.Username != "creator" {
		t.Fatalf("expected lowered username, got %q", user.Username)
	}
	if user.Email != "creator@example.com" {
		t.Fatalf("expected lowered email, got %q", user.Email)
	}
	if user.FullName != "Avery Creator" {
		t.Fatalf("expected trimmed full name, got %q", user.FullName)
	}
	if user.PasswordHash == "" || strings.Contains(user.PasswordHash, "longenough") {
		t.Fatalf("expected derived password hash, got %q", user.PasswordHash)
	}

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reload storage: %v", err)
	}
	got, ok := reloaded.GetUser(user.ID)
	if !ok {
		t.Fatal("expected user to survive a reload")
	}
	if got.Username != "creator" {
		t.Fatalf("reloaded username mismatch: %q", got.Username)
	}
}

func TestCreateUserValidation(t *testing.T) {
	store := newTestStorage(t)

	cases := []struct {
		name   string
		params CreateUserParams
	}{
		{name: "MissingUsername", params: CreateUserParams{Email: "a@example.com", Password: "longenough"}},
		{name: "MissingEmail", params: CreateUserParams{Username: "a", Password: "longenough"}},
		{name: "MissingPassword", params: CreateUserParams{Username: "a", Email: "a@example.com"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.CreateUser(tc.params); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestCreateUserRejectsDuplicates(t *testing.T) {
	store := newTestStorage(t)
	seedUser(t, store, "creator")

	if _, err := store.CreateUser(CreateUserParams{
		Username: "CREATOR",
		Email:    "other@example.com",
		Password: "longenough",
	}); err == nil {
		t.Fatal("expected duplicate username to be rejected")
	}
	if _, err := store.CreateUser(CreateUserParams{
		Username: "someoneelse",
		Email:    "Creator@example.com",
		Password: "longenough",
	}); err == nil {
		t.Fatal("expected duplicate email to be rejected")
	}
}

func TestCreateUserRollsBackWhenPersistFails(t *testing.T) {
	store := newTestStorage(t)
	store.persistOverride = func(dataset) error { return errors.New("disk full") }

	if _, err := store.CreateUser(CreateUserParams{
		Username: "creator",
		Email:    "creator@example.com",
		Password: "longenough",
	}); err == nil {
		t.Fatal("expected persist failure to surface")
	}

	store.persistOverride = nil
	if _, ok := store.FindUserByUsername("creator"); ok {
		t.Fatal("expected failed create to leave no user behind")
	}
}

func TestAuthenticateUser(t *testing.T) {
	store := newTestStorage(t)
	id := seedUser(t, store, "creator")

	user, err := store.AuthenticateUser("creator", "longenough")
	if err != nil {
		t.Fatalf("authenticate by username: %v", err)
	}
	if user.ID != id {
		t.Fatalf("expected user %s, got %s", id, user.ID)
	}

	if _, err := store.AuthenticateUser("Creator@Example.com", "longenough"); err != nil {
		t.Fatalf("authenticate by email should ignore case: %v", err)
	}

	if _, err := store.AuthenticateUser("creator", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := store.AuthenticateUser("nobody", "longenough"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown login, got %v", err)
	}
}

func TestUpdateUserFields(t *testing.T) {
	store := newTestStorage(t)
	id := seedUser(t, store, "creator")

	fullName := "  New Name "
	avatar := " https://cdn.example.com/avatar.png "
	updated, err := store.UpdateUser(id, UserUpdate{FullName: &fullName, AvatarURL: &avatar})
	if err != nil {
		t.Fatalf("UpdateUser returned error: %v", err)
	}
	if updated.FullName != "New Name" {
		t.Fatalf("expected trimmed full name, got %q", updated.FullName)
	}
	if updated.AvatarURL != "https://cdn.example.com/avatar.png" {
		t.Fatalf("expected trimmed avatar URL, got %q", updated.AvatarURL)
	}

	if _, err := store.UpdateUser("ffffffffffffffffffffffffffffffff", UserUpdate{FullName: &fullName}); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestFindUserByUsernameNormalizes(t *testing.T) {
	store := newTestStorage(t)
	id := seedUser(t, store, "creator")

	user, ok := store.FindUserByUsername("  CREATOR ")
	if !ok {
		t.Fatal("expected lookup to ignore case and whitespace")
	}
	if user.ID != id {
		t.Fatalf("expected user %s, got %s", id, user.ID)
	}
	if _, ok := store.FindUserByUsername("missing"); ok {
		t.Fatal("expected unknown username to miss")
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := hashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("hashPassword returned error: %v", err)
	}
	if !strings.HasPrefix(hash, "pbkdf2$sha256$") {
		t.Fatalf("unexpected hash format: %q", hash)
	}
	if err := verifyPassword(hash, "correct horse battery"); err != nil {
		t.Fatalf("expected matching password to verify: %v", err)
	}
	if err := verifyPassword(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := verifyPassword("not-a-hash", "whatever"); err == nil {
		t.Fatal("expected malformed hash to be rejected")
	}
}
