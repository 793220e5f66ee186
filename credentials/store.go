package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"workpilot/models"
	"workpilot/observability"
)

// Bootstrap is the local credential seed store. It must stay readable when
// the remote vault is not.
type Bootstrap interface {
	Get(ctx context.Context, userID string) (*models.UserCredential, error)
	Put(ctx context.Context, cred *models.UserCredential) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Vault is the authoritative remote credential store. Reads and writes
// require a live access token because the vault lives in the user's own
// cloud storage.
type Vault interface {
	Fetch(ctx context.Context, accessToken, userID string) (*models.UserCredential, error)
	Store(ctx context.Context, accessToken string, cred *models.UserCredential) error
}

// Refresher exchanges a refresh token for a fresh access token.
type Refresher interface {
	Refresh(ctx context.Context, cred *models.UserCredential) (*models.UserCredential, error)
}

// refreshSkew refreshes tokens that expire within the window, not only
// ones already expired, to avoid races against imminent use.
const refreshSkew = 60 * time.Second

// Store is the two-tier credential store. The remote vault is authoritative;
// the local bootstrap tier keeps enough to refresh tokens and keep automation
// running when the vault is unreachable.
//
// All operations for one user are serialized on a per-user lock, so two
// concurrent loads never race a refresh against each other.
type Store struct {
	bootstrap Bootstrap
	vault     Vault
	refresher Refresher
	metrics   *observability.Metrics

	skew time.Duration
	now  func() time.Time

	locks sync.Map // user id -> *sync.Mutex
}

// NewStore creates a credential store over the given tiers
func NewStore(bootstrap Bootstrap, vault Vault, refresher Refresher) *Store {
	return &Store{
		bootstrap: bootstrap,
		vault:     vault,
		refresher: refresher,
		metrics:   observability.GetMetrics(),
		skew:      refreshSkew,
		now:       time.Now,
	}
}

func (s *Store) lockFor(userID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Load returns the user's credential, refreshing the access token first if
// it is expired or about to expire. The remote vault read is authoritative;
// when it fails the bootstrap tier serves the read and the returned
// credential carries OriginBootstrap so callers can see the degraded path.
// Refreshed tokens are persisted to both tiers before Load returns.
//
// Returns models.ErrNotFound when the user has never logged in here, and
// models.ErrAuthExpired when the refresh token itself is rejected.
func (s *Store) Load(ctx context.Context, userID string) (*models.UserCredential, error) {
	mu := s.lockFor(userID)
	mu.Lock()
	defer mu.Unlock()

	cred, err := s.bootstrap.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	refreshed := false
	if cred.Expired(s.now(), s.skew) {
		cred, err = s.refresh(ctx, cred)
		if err != nil {
			return nil, err
		}
		refreshed = true
	}

	degraded := false
	remote, err := s.vault.Fetch(ctx, cred.AccessToken, userID)
	switch {
	case err == nil:
		cred = mergeRemote(cred, remote)
	case errors.Is(err, models.ErrNotFound):
		// First load after login: the vault record does not exist yet.
		// The bootstrap credential is complete, so seed the vault below.
	default:
		degraded = true
		observability.WithUser(userID).Warn("vault read failed, serving bootstrap credential", "error", err)
	}

	if degraded {
		cred.Origin = models.OriginBootstrap
	} else {
		cred.Origin = models.OriginRemote
	}
	s.metrics.RecordCredentialLoad(string(cred.Origin))

	if err := s.bootstrap.Put(ctx, cred); err != nil {
		return nil, fmt.Errorf("persisting bootstrap tier: %w", err)
	}
	if refreshed && !degraded {
		if err := s.vault.Store(ctx, cred.AccessToken, cred); err != nil {
			cred.Origin = models.OriginBootstrap
			observability.WithUser(userID).Warn("vault write after refresh failed", "error", err)
		}
	}

	return cred, nil
}

// Save persists a credential, remote tier first. When the remote write fails
// the bootstrap subset is still written and the caller gets a
// PartialPersistError so the update is never silently lost.
func (s *Store) Save(ctx context.Context, cred *models.UserCredential) error {
	mu := s.lockFor(cred.UserID)
	mu.Lock()
	defer mu.Unlock()

	working := cred
	if working.Expired(s.now(), s.skew) {
		refreshed, err := s.refresh(ctx, working)
		if err == nil {
			working = refreshed
		}
		// A failed refresh still lets the bootstrap write proceed below.
	}

	remoteErr := s.vault.Store(ctx, working.AccessToken, working)

	if err := s.bootstrap.Put(ctx, working); err != nil {
		return fmt.Errorf("persisting bootstrap tier: %w", err)
	}

	if remoteErr != nil {
		return &models.PartialPersistError{Err: remoteErr}
	}
	return nil
}

// ListKnownUsers enumerates users from the local bootstrap index. Users whose
// only record is remote are invisible until their next interactive login.
func (s *Store) ListKnownUsers(ctx context.Context) ([]string, error) {
	return s.bootstrap.ListUserIDs(ctx)
}

// Delete removes the local bootstrap record for a user
func (s *Store) Delete(ctx context.Context, userID string) error {
	type deleter interface {
		Delete(ctx context.Context, userID string) error
	}
	if d, ok := s.bootstrap.(deleter); ok {
		return d.Delete(ctx, userID)
	}
	return nil
}

func (s *Store) refresh(ctx context.Context, cred *models.UserCredential) (*models.UserCredential, error) {
	refreshed, err := s.refresher.Refresh(ctx, cred)
	if err != nil {
		if errors.Is(err, models.ErrAuthExpired) {
			s.metrics.RecordCredentialRefresh("rejected")
			return nil, err
		}
		s.metrics.RecordCredentialRefresh("error")

		// A flaky token endpoint is the identity collaborator failing, not
		// an internal fault; keep it typed so callers map it accordingly.
		err = fmt.Errorf("refreshing token for %s: %w", cred.UserID, err)
		var collab *models.CollaboratorError
		if !errors.As(err, &collab) {
			err = models.NewCollaboratorError("identity", err)
		}
		return nil, err
	}
	s.metrics.RecordCredentialRefresh("success")

	// Rotation may omit the refresh token. Never drop the one we have.
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = cred.RefreshToken
	}
	return refreshed, nil
}

// mergeRemote overlays the authoritative remote record on the local one.
// Settings come from the vault; token material keeps whichever side is
// fresher, and a refresh token is never dropped.
func mergeRemote(local, remote *models.UserCredential) *models.UserCredential {
	merged := *remote
	merged.UserID = local.UserID
	if merged.AccessToken == "" || local.Expiry.After(merged.Expiry) {
		merged.AccessToken = local.AccessToken
		merged.Expiry = local.Expiry
	}
	if merged.RefreshToken == "" {
		merged.RefreshToken = local.RefreshToken
	}
	if len(merged.Scopes) == 0 {
		merged.Scopes = local.Scopes
	}
	return &merged
}
