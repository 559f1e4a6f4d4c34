package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blokadaorg/blocka-agent/internal/entitlement"
	"github.com/blokadaorg/blocka-agent/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateStore persists the account and lease snapshots as JSON rows keyed by
// stable record keys.
type StateStore struct {
	db *gorm.DB

	mu sync.Mutex
}

// NewStateStore constructs a StateStore.
func NewStateStore(db *gorm.DB) *StateStore {
	return &StateStore{db: db}
}

// SaveAccount upserts the account snapshot.
func (s *StateStore) SaveAccount(ctx context.Context, account entitlement.CurrentAccount) error {
	return s.save(ctx, models.StateKeyAccount, account)
}

// LoadAccount loads the persisted account snapshot. A missing row is not an
// error; ok reports whether a snapshot was found.
func (s *StateStore) LoadAccount(ctx context.Context) (account entitlement.CurrentAccount, ok bool, err error) {
	err = s.load(ctx, models.StateKeyAccount, &account, &ok)
	return account, ok, err
}

// SaveLease upserts the lease snapshot.
func (s *StateStore) SaveLease(ctx context.Context, lease entitlement.CurrentLease) error {
	return s.save(ctx, models.StateKeyLease, lease)
}

// LoadLease loads the persisted lease snapshot. A missing row is not an
// error; ok reports whether a snapshot was found.
func (s *StateStore) LoadLease(ctx context.Context) (lease entitlement.CurrentLease, ok bool, err error) {
	err = s.load(ctx, models.StateKeyLease, &lease, &ok)
	return lease, ok, err
}

func (s *StateStore) save(ctx context.Context, key string, value any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("state store: not initialized")
	}

	payload, errMarshal := json.Marshal(value)
	if errMarshal != nil {
		return fmt.Errorf("state store: marshal %s: %w", key, errMarshal)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	record := models.State{
		Key:       key,
		Content:   datatypes.JSON(payload),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errUpsert := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
	}).Create(&record).Error; errUpsert != nil {
		return fmt.Errorf("state store: upsert %s: %w", key, errUpsert)
	}
	return nil
}

func (s *StateStore) load(ctx context.Context, key string, out any, ok *bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("state store: not initialized")
	}

	var row models.State
	errFind := s.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil
	}
	if errFind != nil {
		return fmt.Errorf("state store: load %s: %w", key, errFind)
	}
	if len(row.Content) == 0 {
		return nil
	}
	if errUnmarshal := json.Unmarshal(row.Content, out); errUnmarshal != nil {
		return fmt.Errorf("state store: unmarshal %s: %w", key, errUnmarshal)
	}
	*ok = true
	return nil
}
