package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"workpilot/models"
)

// BootstrapRecord is the persisted per-user credential seed. It carries just
// enough to recover a session after restart: the refresh token plus the last
// known access token and settings snapshot.
type BootstrapRecord struct {
	UserID       string `gorm:"primaryKey"`
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scopes       string // JSON array
	Settings     string // JSON object
	UpdatedAt    time.Time
}

// BootstrapStore reads and writes per-user bootstrap records.
type BootstrapStore struct {
	db *gorm.DB
}

// NewBootstrapStore creates a new bootstrap store
func NewBootstrapStore(db *gorm.DB) *BootstrapStore {
	return &BootstrapStore{db: db}
}

// Get returns the bootstrap credential for a user, or models.ErrNotFound.
func (s *BootstrapStore) Get(ctx context.Context, userID string) (*models.UserCredential, error) {
	var rec BootstrapRecord
	err := s.db.WithContext(ctx).First(&rec, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("bootstrap record for %s: %w", userID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading bootstrap record: %w", err)
	}
	return recordToCredential(&rec)
}

// Put upserts the bootstrap record for a user
func (s *BootstrapStore) Put(ctx context.Context, cred *models.UserCredential) error {
	rec, err := credentialToRecord(cred)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		UpdateAll: true,
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("saving bootstrap record: %w", err)
	}
	return nil
}

// Delete removes a user's bootstrap record
func (s *BootstrapStore) Delete(ctx context.Context, userID string) error {
	err := s.db.WithContext(ctx).Delete(&BootstrapRecord{}, "user_id = ?", userID).Error
	if err != nil {
		return fmt.Errorf("deleting bootstrap record: %w", err)
	}
	return nil
}

// ListUserIDs returns every user with a bootstrap record, ordered for
// deterministic sweep traversal.
func (s *BootstrapStore) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&BootstrapRecord{}).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("listing bootstrap users: %w", err)
	}
	return ids, nil
}

func recordToCredential(rec *BootstrapRecord) (*models.UserCredential, error) {
	cred := &models.UserCredential{
		UserID:       rec.UserID,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		Expiry:       rec.Expiry,
		Origin:       models.OriginBootstrap,
	}
	if rec.Scopes != "" {
		if err := json.Unmarshal([]byte(rec.Scopes), &cred.Scopes); err != nil {
			return nil, fmt.Errorf("decoding scopes for %s: %w", rec.UserID, err)
		}
	}
	if rec.Settings != "" {
		if err := json.Unmarshal([]byte(rec.Settings), &cred.Settings); err != nil {
			return nil, fmt.Errorf("decoding settings for %s: %w", rec.UserID, err)
		}
	}
	return cred, nil
}

func credentialToRecord(cred *models.UserCredential) (*BootstrapRecord, error) {
	scopes, err := json.Marshal(cred.Scopes)
	if err != nil {
		return nil, fmt.Errorf("encoding scopes: %w", err)
	}
	settings, err := json.Marshal(cred.Settings)
	if err != nil {
		return nil, fmt.Errorf("encoding settings: %w", err)
	}
	return &BootstrapRecord{
		UserID:       cred.UserID,
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.Expiry,
		Scopes:       string(scopes),
		Settings:     string(settings),
	}, nil
}
