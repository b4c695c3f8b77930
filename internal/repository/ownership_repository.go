package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/couponmesh/registry-node/internal/domain/ownership"
)

// OwnershipModel is the GORM persistence model for the
// coupon_ownerships table: one row per (site, code) pair.
type OwnershipModel struct {
	SiteID          int64   `gorm:"primaryKey;autoIncrement:false"`
	Code            string  `gorm:"primaryKey;type:varchar(100)"`
	OwnerHotkey     *string `gorm:"type:varchar(64);index"`
	AcquiredAt      time.Time  `gorm:"type:timestamptz;not null"`
	LastContestedAt *time.Time `gorm:"type:timestamptz"`
	ContestCount    int        `gorm:"not null;default:0"`
	UpdatedAt       time.Time  `gorm:"type:timestamptz;not null"`
}

// TableName specifies the table name for GORM.
func (OwnershipModel) TableName() string {
	return "coupon_ownerships"
}

// OwnershipRepositoryImpl is the GORM-based implementation of
// ownership.OwnershipRepository.
type OwnershipRepositoryImpl struct {
	db *gorm.DB
}

// NewOwnershipRepository creates a new GORM-based ownership repository.
func NewOwnershipRepository(db *gorm.DB) *OwnershipRepositoryImpl {
	return &OwnershipRepositoryImpl{db: db}
}

// Save persists a new ownership claim.
func (r *OwnershipRepositoryImpl) Save(ctx context.Context, o *ownership.Ownership) error {
	return dbFrom(ctx, r.db).Create(ownershipToModel(o)).Error
}

// Update persists changes to an existing claim. All columns are
// written so a cleared owner round-trips as NULL.
func (r *OwnershipRepositoryImpl) Update(ctx context.Context, o *ownership.Ownership) error {
	return dbFrom(ctx, r.db).
		Model(&OwnershipModel{}).
		Where("site_id = ? AND lower(code) = lower(?)", o.SiteID(), o.Code()).
		Select("owner_hotkey", "acquired_at", "last_contested_at", "contest_count", "updated_at").
		Updates(ownershipToModel(o)).Error
}

// Find retrieves the claim for (site, code), matching the code
// case-insensitively, or nil when none exists.
func (r *OwnershipRepositoryImpl) Find(ctx context.Context, siteID int64, code string) (*ownership.Ownership, error) {
	var model OwnershipModel
	err := dbFrom(ctx, r.db).
		Where("site_id = ? AND lower(code) = lower(?)", siteID, code).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return ownershipToDomain(&model), nil
}

func ownershipToDomain(model *OwnershipModel) *ownership.Ownership {
	return ownership.Reconstruct(
		model.SiteID,
		model.Code,
		model.OwnerHotkey,
		model.AcquiredAt,
		model.LastContestedAt,
		model.ContestCount,
		model.UpdatedAt,
	)
}

func ownershipToModel(o *ownership.Ownership) *OwnershipModel {
	return &OwnershipModel{
		SiteID:          o.SiteID(),
		Code:            o.Code(),
		OwnerHotkey:     o.OwnerHotkey(),
		AcquiredAt:      o.AcquiredAt(),
		LastContestedAt: o.LastContestedAt(),
		ContestCount:    o.ContestCount(),
		UpdatedAt:       o.UpdatedAt(),
	}
}
