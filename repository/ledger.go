package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"workpilot/models"
)

// retentionDays bounds how long daily usage rows are kept. Pruning runs
// inside every increment and every read so the table never grows past the
// window.
const retentionDays = 31

// UsageEntry counts default-key workflow invocations for one user on one
// UTC calendar day.
type UsageEntry struct {
	UserID    string `gorm:"primaryKey"`
	Day       string `gorm:"primaryKey"` // YYYY-MM-DD, UTC
	Count     int
	UpdatedAt time.Time
}

// UsageLedger meters workflow invocations made under the shared default key.
// Increment-then-compare is atomic per (user, day): concurrent requests are
// serialized so at most `limit` of them are allowed on a given day.
type UsageLedger struct {
	db  *gorm.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewUsageLedger creates a new usage ledger
func NewUsageLedger(db *gorm.DB) *UsageLedger {
	return &UsageLedger{db: db, now: time.Now}
}

// DayKey formats a time as the ledger's UTC day key
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// IncrementAndCheck records one default-key invocation for the user today and
// reports whether it fits under the daily limit. The increment persists even
// when the limit is exceeded, so the attempt itself counts; in that case the
// post-increment count is returned alongside models.ErrQuotaExceeded.
func (l *UsageLedger) IncrementAndCheck(ctx context.Context, userID string, limit int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	day := DayKey(now)
	cutoff := DayKey(now.AddDate(0, 0, -retentionDays))

	var count int
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("day < ?", cutoff).Delete(&UsageEntry{}).Error; err != nil {
			return fmt.Errorf("pruning usage ledger: %w", err)
		}

		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "day"}},
			DoUpdates: clause.Assignments(map[string]any{
				"count":      gorm.Expr("count + 1"),
				"updated_at": now,
			}),
		}).Create(&UsageEntry{UserID: userID, Day: day, Count: 1, UpdatedAt: now}).Error
		if err != nil {
			return fmt.Errorf("incrementing usage: %w", err)
		}

		var entry UsageEntry
		if err := tx.First(&entry, "user_id = ? AND day = ?", userID, day).Error; err != nil {
			return fmt.Errorf("reading usage: %w", err)
		}
		count = entry.Count
		return nil
	})
	if err != nil {
		return 0, err
	}

	if count > limit {
		return count, models.ErrQuotaExceeded
	}
	return count, nil
}

// CountToday returns the user's default-key usage for the current UTC day
// without incrementing. Reads prune the retention window too, so the table
// stays bounded even on read-only days.
func (l *UsageLedger) CountToday(ctx context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	cutoff := DayKey(now.AddDate(0, 0, -retentionDays))
	if err := l.db.WithContext(ctx).Where("day < ?", cutoff).Delete(&UsageEntry{}).Error; err != nil {
		return 0, fmt.Errorf("pruning usage ledger: %w", err)
	}

	var entry UsageEntry
	err := l.db.WithContext(ctx).First(&entry, "user_id = ? AND day = ?", userID, DayKey(now)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading usage: %w", err)
	}
	return entry.Count, nil
}
