package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/couponmesh/registry-node/internal/domain/syncstate"
)

// SyncCursorModel is the GORM persistence model for per-peer sync
// watermarks.
type SyncCursorModel struct {
	ValidatorHotkey    string     `gorm:"primaryKey;type:varchar(64)"`
	LastActionDate     *time.Time `gorm:"type:timestamptz"`
	LastSuccessfulSync time.Time  `gorm:"type:timestamptz;not null"`
}

// TableName specifies the table name for GORM.
func (SyncCursorModel) TableName() string {
	return "validator_sync_offsets"
}

// DynamicConfigModel is the GORM persistence model for the key/value
// table holding transient process-wide state (bootstrap progress,
// last sync result).
type DynamicConfigModel struct {
	Key       string    `gorm:"primaryKey;type:varchar(64)"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"type:timestamptz;not null"`
}

// TableName specifies the table name for GORM.
func (DynamicConfigModel) TableName() string {
	return "dynamic_configs"
}

const (
	keySyncProgress   = "sync_progress"
	keySyncLastResult = "sync_last_result"
)

// CursorRepositoryImpl is the GORM-based implementation of
// syncstate.CursorRepository.
type CursorRepositoryImpl struct {
	db *gorm.DB
}

// NewCursorRepository creates a new GORM-based sync cursor repository.
func NewCursorRepository(db *gorm.DB) *CursorRepositoryImpl {
	return &CursorRepositoryImpl{db: db}
}

// Get retrieves the cursor for a peer, or nil when the peer has never
// been synced.
func (r *CursorRepositoryImpl) Get(ctx context.Context, validatorHotkey string) (*syncstate.Cursor, error) {
	var model SyncCursorModel
	err := dbFrom(ctx, r.db).Where("validator_hotkey = ?", validatorHotkey).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &syncstate.Cursor{
		ValidatorHotkey:    model.ValidatorHotkey,
		LastActionDate:     model.LastActionDate,
		LastSuccessfulSync: model.LastSuccessfulSync,
	}, nil
}

// Set advances the cursor for a peer. The watermark only ever moves
// forward because the syncer feeds it the maximum merged timestamp.
func (r *CursorRepositoryImpl) Set(ctx context.Context, validatorHotkey string, lastActionDate time.Time) error {
	model := SyncCursorModel{
		ValidatorHotkey:    validatorHotkey,
		LastActionDate:     &lastActionDate,
		LastSuccessfulSync: time.Now().UTC(),
	}
	return dbFrom(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "validator_hotkey"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_action_date", "last_successful_sync"}),
		}).
		Create(&model).Error
}

// StateRepositoryImpl is the GORM-based implementation of
// syncstate.StateRepository, backed by the dynamic_configs KV table.
type StateRepositoryImpl struct {
	db *gorm.DB
}

// NewStateRepository creates a new GORM-based sync state repository.
func NewStateRepository(db *gorm.DB) *StateRepositoryImpl {
	return &StateRepositoryImpl{db: db}
}

// GetProgress retrieves the in-flight bootstrap record, or nil when no
// bootstrap is running.
func (r *StateRepositoryImpl) GetProgress(ctx context.Context) (*syncstate.Progress, error) {
	raw, err := r.get(ctx, keySyncProgress)
	if err != nil || raw == "" {
		return nil, err
	}
	var p syncstate.Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// SetProgress persists the bootstrap record.
func (r *StateRepositoryImpl) SetProgress(ctx context.Context, p *syncstate.Progress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.set(ctx, keySyncProgress, string(raw))
}

// ClearProgress removes the bootstrap record, re-enabling submissions.
func (r *StateRepositoryImpl) ClearProgress(ctx context.Context) error {
	return dbFrom(ctx, r.db).
		Where("key = ?", keySyncProgress).
		Delete(&DynamicConfigModel{}).Error
}

// GetLastResult retrieves the last completed sync summary, or nil.
func (r *StateRepositoryImpl) GetLastResult(ctx context.Context) (*syncstate.Result, error) {
	raw, err := r.get(ctx, keySyncLastResult)
	if err != nil || raw == "" {
		return nil, err
	}
	var result syncstate.Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetLastResult persists the sync summary.
func (r *StateRepositoryImpl) SetLastResult(ctx context.Context, result *syncstate.Result) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return r.set(ctx, keySyncLastResult, string(raw))
}

func (r *StateRepositoryImpl) get(ctx context.Context, key string) (string, error) {
	var model DynamicConfigModel
	err := dbFrom(ctx, r.db).Where("key = ?", key).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return model.Value, nil
}

func (r *StateRepositoryImpl) set(ctx context.Context, key, value string) error {
	model := DynamicConfigModel{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return dbFrom(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&model).Error
}
