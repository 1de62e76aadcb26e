package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/houseofkezura/backend-sub000/internal/platform/database"
)

// GormStore persists idempotency records in a relational table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a gorm-backed idempotency store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the idempotency table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&gormRecord{})
}

type gormRecord struct {
	ID              string `gorm:"primaryKey;size:64"`
	Key             string `gorm:"size:512;not null"`
	Fingerprint     string `gorm:"size:64;not null"`
	Status          string `gorm:"size:16;not null"`
	ResponseStatus  int
	ResponseHeaders []byte
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time `gorm:"index;not null"`
}

func (gormRecord) TableName() string { return "idempotency_keys" }

// Reserve ensures the key is uniquely associated with the fingerprint and returns any stored response.
func (s *GormStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := recordID(key)

	var result Reservation
	err := database.RunInTx(ctx, s.db, func(ctx context.Context) error {
		tx := database.Conn(ctx, s.db)

		var existing gormRecord
		err := database.ForUpdate(ctx, tx).Where("id = ?", id).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			record := pendingRecord(id, key, fingerprint, now, ttl)
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			result = Reservation{State: ReservationStateNew, Record: record.toRecord()}
			return nil
		case err != nil:
			return err
		}

		if existing.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}

		if !existing.ExpiresAt.IsZero() && !now.Before(existing.ExpiresAt) {
			record := pendingRecord(id, key, fingerprint, now, ttl)
			if err := tx.Save(&record).Error; err != nil {
				return err
			}
			result = Reservation{State: ReservationStateNew, Record: record.toRecord()}
			return nil
		}

		if existing.Status == string(StatusCompleted) {
			result = Reservation{State: ReservationStateCompleted, Record: existing.toRecord()}
			return nil
		}
		result = Reservation{State: ReservationStatePending, Record: existing.toRecord()}
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent request inserted the key first.
		return Reservation{State: ReservationStatePending, Record: Record{Key: key, Fingerprint: fingerprint}}, nil
	}
	return result, err
}

// SaveResponse persists the completed HTTP response associated with the key.
func (s *GormStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id := recordID(key)

	var headers []byte
	if sanitized := replayableHeaders(resp.Headers); len(sanitized) > 0 {
		encoded, err := json.Marshal(sanitized)
		if err != nil {
			return err
		}
		headers = encoded
	}
	var bodyCopy []byte
	if len(resp.Body) > 0 {
		bodyCopy = append([]byte(nil), resp.Body...)
	}

	return database.RunInTx(ctx, s.db, func(ctx context.Context) error {
		tx := database.Conn(ctx, s.db)

		var record gormRecord
		err := database.ForUpdate(ctx, tx).Where("id = ?", id).Take(&record).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			record = gormRecord{ID: id, Key: key, Fingerprint: fingerprint, CreatedAt: now}
		case err != nil:
			return err
		default:
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		}

		record.Status = string(StatusCompleted)
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = headers
		record.ResponseBody = bodyCopy
		record.UpdatedAt = now
		record.ExpiresAt = now.Add(ttl)
		return tx.Save(&record).Error
	})
}

// CleanupExpired removes expired idempotency records up to the provided limit.
func (s *GormStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []string
	if err := s.db.WithContext(ctx).Model(&gormRecord{}).
		Where("expires_at <= ?", now.UTC()).
		Order("expires_at").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&gormRecord{})
	return int(res.RowsAffected), res.Error
}

// Release removes the reservation to allow callers to retry.
func (s *GormStore) Release(ctx context.Context, key, fingerprint string) error {
	return s.db.WithContext(ctx).Where("id = ?", recordID(key)).Delete(&gormRecord{}).Error
}

func pendingRecord(id, key, fingerprint string, now time.Time, ttl time.Duration) gormRecord {
	return gormRecord{
		ID:          id,
		Key:         key,
		Fingerprint: fingerprint,
		Status:      string(StatusPending),
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func (r gormRecord) toRecord() Record {
	var headers map[string][]string
	if len(r.ResponseHeaders) > 0 {
		_ = json.Unmarshal(r.ResponseHeaders, &headers)
	}
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		Status:          Status(r.Status),
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: headers,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

// Cleaner periodically purges expired records.
type Cleaner struct {
	store    Store
	interval time.Duration
	batch    int
	clock    clockFunc
	logger   Logger
}

// NewCleaner constructs a Cleaner. A non-positive interval disables it.
func NewCleaner(store Store, interval time.Duration, batch int, logger Logger) *Cleaner {
	return &Cleaner{store: store, interval: interval, batch: batch, clock: time.Now, logger: logger}
}

// Run purges expired records on every tick until ctx is cancelled.
func (c *Cleaner) Run(ctx context.Context) {
	if c == nil || c.store == nil || c.interval <= 0 {
		return
	}
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cleanup pass and returns the number of removed records.
func (c *Cleaner) RunOnce(ctx context.Context) int {
	removed, err := c.store.CleanupExpired(ctx, c.clock().UTC(), c.batch)
	if c.logger != nil {
		switch {
		case err != nil:
			c.logger.Printf("idempotency: cleanup failed: %v", err)
		case removed > 0:
			c.logger.Printf("idempotency: removed %d expired records", removed)
		}
	}
	return removed
}
