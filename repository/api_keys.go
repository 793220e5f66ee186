package repository

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"gorm.io/gorm"

	"workpilot/models"
)

// APIKey is a personal bearer credential. Only the argon2id hash of the
// secret is stored; the plaintext is shown once at mint time.
type APIKey struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"index"`
	Name       string
	SecretHash string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// Keys look like wk_<id>.<secret>. The id half is stored in clear and used
// for lookup, so the salted hash of the secret half never needs to be
// searchable.
const keyPrefix = "wk_"

// argon2id parameters
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// APIKeyStore manages personal API keys.
type APIKeyStore struct {
	db *gorm.DB
}

// NewAPIKeyStore creates a new API key store
func NewAPIKeyStore(db *gorm.DB) *APIKeyStore {
	return &APIKeyStore{db: db}
}

// Mint creates a new key for a user and returns the plaintext exactly once.
func (s *APIKeyStore) Mint(ctx context.Context, userID, name string) (string, *APIKey, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("generating key secret: %w", err)
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := hashSecret(secret)
	if err != nil {
		return "", nil, err
	}

	key := &APIKey{
		ID:         id,
		UserID:     userID,
		Name:       name,
		SecretHash: hash,
	}
	if err := s.db.WithContext(ctx).Create(key).Error; err != nil {
		return "", nil, fmt.Errorf("saving api key: %w", err)
	}

	return keyPrefix + id + "." + secret, key, nil
}

// Verify resolves a plaintext bearer key to its owning record. Returns
// models.ErrNotFound for unknown or mismatched keys so callers cannot
// distinguish the two.
func (s *APIKeyStore) Verify(ctx context.Context, plaintext string) (*APIKey, error) {
	id, secret, err := splitKey(plaintext)
	if err != nil {
		return nil, err
	}

	var key APIKey
	dberr := s.db.WithContext(ctx).First(&key, "id = ?", id).Error
	if errors.Is(dberr, gorm.ErrRecordNotFound) {
		return nil, models.ErrNotFound
	}
	if dberr != nil {
		return nil, fmt.Errorf("loading api key: %w", dberr)
	}

	ok, err := verifySecret(secret, key.SecretHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrNotFound
	}

	now := time.Now().UTC()
	s.db.WithContext(ctx).Model(&key).Update("last_used_at", &now)

	return &key, nil
}

// ListForUser returns a user's keys, newest first
func (s *APIKeyStore) ListForUser(ctx context.Context, userID string) ([]APIKey, error) {
	var keys []APIKey
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at desc").
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	return keys, nil
}

// Revoke deletes a key owned by the given user
func (s *APIKeyStore) Revoke(ctx context.Context, userID, keyID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", keyID, userID).
		Delete(&APIKey{})
	if res.Error != nil {
		return fmt.Errorf("revoking api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func splitKey(plaintext string) (id, secret string, err error) {
	rest, found := strings.CutPrefix(plaintext, keyPrefix)
	if !found {
		return "", "", models.ErrNotFound
	}
	id, secret, found = strings.Cut(rest, ".")
	if !found || id == "" || secret == "" {
		return "", "", models.ErrNotFound
	}
	return id, secret, nil
}

// hashSecret produces a PHC-format argon2id hash
func hashSecret(secret string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	hash := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifySecret checks a secret against a PHC-format argon2id hash in
// constant time.
func verifySecret(secret, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("malformed key hash")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("malformed key hash version: %w", err)
	}
	var memory uint32
	var timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return false, fmt.Errorf("malformed key hash params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("malformed key hash salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("malformed key hash digest: %w", err)
	}

	got := argon2.IDKey([]byte(secret), salt, timeCost, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
