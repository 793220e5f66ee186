package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"workpilot/models"
)

type fakeBootstrap struct {
	mu    sync.Mutex
	creds map[string]models.UserCredential
}

func newFakeBootstrap() *fakeBootstrap {
	return &fakeBootstrap{creds: make(map[string]models.UserCredential)}
}

func (f *fakeBootstrap) Get(_ context.Context, userID string) (*models.UserCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cred, ok := f.creds[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	cred.Origin = models.OriginBootstrap
	return &cred, nil
}

func (f *fakeBootstrap) Put(_ context.Context, cred *models.UserCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds[cred.UserID] = *cred
	return nil
}

func (f *fakeBootstrap) ListUserIDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.creds))
	for id := range f.creds {
		ids = append(ids, id)
	}
	return ids, nil
}

type fakeVault struct {
	mu        sync.Mutex
	creds     map[string]models.UserCredential
	fetchErr  error
	storeErr  error
	storeSeen int
}

func newFakeVault() *fakeVault {
	return &fakeVault{creds: make(map[string]models.UserCredential)}
}

func (f *fakeVault) Fetch(_ context.Context, _, userID string) (*models.UserCredential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	cred, ok := f.creds[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &cred, nil
}

func (f *fakeVault) Store(_ context.Context, _ string, cred *models.UserCredential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.storeSeen++
	f.creds[cred.UserID] = *cred
	return nil
}

type fakeRefresher struct {
	calls atomic.Int64
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, cred *models.UserCredential) (*models.UserCredential, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	out := *cred
	out.AccessToken = "refreshed-access"
	out.Expiry = time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	out.RefreshToken = "" // rotation omitted the refresh token
	return &out, nil
}

func newTestStore(boot *fakeBootstrap, vault *fakeVault, refresher *fakeRefresher) *Store {
	s := NewStore(boot, vault, refresher)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func validCred(userID string) models.UserCredential {
	return models.UserCredential{
		UserID:       userID,
		AccessToken:  "live-access",
		RefreshToken: "refresh-1",
		Expiry:       time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
	}
}

func TestLoadUnknownUser(t *testing.T) {
	store := newTestStore(newFakeBootstrap(), newFakeVault(), &fakeRefresher{})

	_, err := store.Load(context.Background(), "nobody@example.com")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("Load() err = %v, want ErrNotFound", err)
	}
}

func TestLoadFreshTokenSkipsRefresh(t *testing.T) {
	boot := newFakeBootstrap()
	vault := newFakeVault()
	refresher := &fakeRefresher{}
	store := newTestStore(boot, vault, refresher)

	cred := validCred("alice@example.com")
	boot.creds[cred.UserID] = cred

	remote := cred
	remote.Settings.AgentAPIKey = "vault-agent-key"
	vault.creds[cred.UserID] = remote

	got, err := store.Load(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n := refresher.calls.Load(); n != 0 {
		t.Errorf("refresher called %d times, want 0", n)
	}
	if got.Origin != models.OriginRemote {
		t.Errorf("Origin = %v, want OriginRemote", got.Origin)
	}
	if got.Settings.AgentAPIKey != "vault-agent-key" {
		t.Errorf("AgentAPIKey = %q, want vault value", got.Settings.AgentAPIKey)
	}
}

func TestLoadRefreshesExpiredToken(t *testing.T) {
	boot := newFakeBootstrap()
	vault := newFakeVault()
	refresher := &fakeRefresher{}
	store := newTestStore(boot, vault, refresher)

	cred := validCred("alice@example.com")
	cred.Expiry = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC) // already expired
	boot.creds[cred.UserID] = cred
	vault.creds[cred.UserID] = cred

	got, err := store.Load(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n := refresher.calls.Load(); n != 1 {
		t.Errorf("refresher called %d times, want 1", n)
	}
	if got.AccessToken != "refreshed-access" {
		t.Errorf("AccessToken = %q, want refreshed-access", got.AccessToken)
	}
	// Rotation omitted the refresh token; the old one must survive.
	if got.RefreshToken != "refresh-1" {
		t.Errorf("RefreshToken = %q, want refresh-1", got.RefreshToken)
	}

	// The refreshed token reached both tiers before Load returned.
	persisted := boot.creds["alice@example.com"]
	if persisted.AccessToken != "refreshed-access" {
		t.Errorf("bootstrap AccessToken = %q, want refreshed-access", persisted.AccessToken)
	}
	if vault.creds["alice@example.com"].AccessToken != "refreshed-access" {
		t.Errorf("vault AccessToken = %q, want refreshed-access", vault.creds["alice@example.com"].AccessToken)
	}
}

func TestLoadRefreshWithinSkew(t *testing.T) {
	boot := newFakeBootstrap()
	refresher := &fakeRefresher{}
	store := newTestStore(boot, newFakeVault(), refresher)

	cred := validCred("alice@example.com")
	cred.Expiry = store.now().Add(30 * time.Second) // inside the 60s window
	boot.creds[cred.UserID] = cred

	if _, err := store.Load(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if n := refresher.calls.Load(); n != 1 {
		t.Errorf("refresher called %d times, want 1", n)
	}
}

func TestLoadDegradedFallback(t *testing.T) {
	boot := newFakeBootstrap()
	vault := newFakeVault()
	vault.fetchErr = fmt.Errorf("vault unreachable")
	store := newTestStore(boot, vault, &fakeRefresher{})

	cred := validCred("alice@example.com")
	boot.creds[cred.UserID] = cred

	got, err := store.Load(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("Load() error = %v, want degraded success", err)
	}
	if got.Origin != models.OriginBootstrap {
		t.Errorf("Origin = %v, want OriginBootstrap", got.Origin)
	}
	if got.AccessToken != "live-access" {
		t.Errorf("AccessToken = %q, want cached token", got.AccessToken)
	}
}

func TestLoadAuthExpired(t *testing.T) {
	boot := newFakeBootstrap()
	refresher := &fakeRefresher{err: models.ErrAuthExpired}
	store := newTestStore(boot, newFakeVault(), refresher)

	cred := validCred("alice@example.com")
	cred.Expiry = time.Time{} // never had a usable expiry
	boot.creds[cred.UserID] = cred

	_, err := store.Load(context.Background(), "alice@example.com")
	if !errors.Is(err, models.ErrAuthExpired) {
		t.Fatalf("Load() err = %v, want ErrAuthExpired", err)
	}
}

func TestLoadTransientRefreshFailureIsIdentityFailure(t *testing.T) {
	boot := newFakeBootstrap()
	refresher := &fakeRefresher{err: fmt.Errorf("token endpoint: 503 service unavailable")}
	store := newTestStore(boot, newFakeVault(), refresher)

	cred := validCred("alice@example.com")
	cred.Expiry = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC) // already expired
	boot.creds[cred.UserID] = cred

	_, err := store.Load(context.Background(), "alice@example.com")
	var collab *models.CollaboratorError
	if !errors.As(err, &collab) {
		t.Fatalf("Load() err = %v, want a CollaboratorError", err)
	}
	if collab.Source != "identity" {
		t.Errorf("Source = %q, want identity", collab.Source)
	}
	if errors.Is(err, models.ErrAuthExpired) {
		t.Error("transient endpoint failure must not read as ErrAuthExpired")
	}
}

func TestSavePartialPersist(t *testing.T) {
	boot := newFakeBootstrap()
	vault := newFakeVault()
	vault.storeErr = fmt.Errorf("vault unreachable")
	store := newTestStore(boot, vault, &fakeRefresher{})

	cred := validCred("alice@example.com")
	err := store.Save(context.Background(), &cred)

	var partial *models.PartialPersistError
	if !errors.As(err, &partial) {
		t.Fatalf("Save() err = %v, want PartialPersistError", err)
	}
	// The bootstrap tier still holds the update.
	if boot.creds["alice@example.com"].RefreshToken != "refresh-1" {
		t.Error("bootstrap write skipped on remote failure")
	}
}

func TestSaveWritesBothTiers(t *testing.T) {
	boot := newFakeBootstrap()
	vault := newFakeVault()
	store := newTestStore(boot, vault, &fakeRefresher{})

	cred := validCred("alice@example.com")
	if err := store.Save(context.Background(), &cred); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if _, ok := boot.creds["alice@example.com"]; !ok {
		t.Error("bootstrap tier missing after Save")
	}
	if _, ok := vault.creds["alice@example.com"]; !ok {
		t.Error("vault tier missing after Save")
	}
}

func TestConcurrentLoadsRefreshOnce(t *testing.T) {
	boot := newFakeBootstrap()
	vault := newFakeVault()
	refresher := &fakeRefresher{}
	store := newTestStore(boot, vault, refresher)

	cred := validCred("alice@example.com")
	cred.Expiry = time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	boot.creds[cred.UserID] = cred
	vault.creds[cred.UserID] = cred

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Load(context.Background(), "alice@example.com"); err != nil {
				t.Errorf("Load() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// The per-user lock serializes loads; after the first one persists the
	// fresh token, the rest see it and skip the refresh.
	if n := refresher.calls.Load(); n != 1 {
		t.Errorf("refresher called %d times, want 1", n)
	}
}
