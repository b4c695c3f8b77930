package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/couponmesh/registry-node/internal/domain"
	"github.com/couponmesh/registry-node/internal/domain/coupon"
)

// CouponModel is the GORM persistence model for the coupons table.
// The composite primary key carries the miner hotkey because the same
// code may be claimed by different miners before ownership converges.
type CouponModel struct {
	SiteID              int64  `gorm:"primaryKey;autoIncrement:false"`
	Code                string `gorm:"primaryKey;type:varchar(100)"`
	MinerHotkey         string `gorm:"primaryKey;type:varchar(64)"`
	CategoryID          *int64
	UsedOnProductURL    *string `gorm:"type:text"`
	Restrictions        *string `gorm:"type:varchar(1000)"`
	CountryCode         *string `gorm:"type:varchar(2)"`
	DiscountValue       *string `gorm:"type:varchar(100)"`
	DiscountPercentage  *int
	IsGlobal            *bool
	Rule                []byte `gorm:"type:jsonb"`
	Status              int    `gorm:"not null;index"`
	SourceHotkey        string `gorm:"type:varchar(64);not null"`
	MinerColdkey        *string `gorm:"type:varchar(64)"`
	UseColdkeySignature *bool
	LastAction          int    `gorm:"not null"`
	LastActionDate      int64  `gorm:"not null;index"`
	LastActionSignature string `gorm:"type:varchar(160);not null"`
	ValidUntil          *time.Time `gorm:"type:timestamptz"`
	DeletedAt           *time.Time `gorm:"type:timestamptz;index"`
	LastCheckedAt       *time.Time `gorm:"type:timestamptz"`
	CreatedAt           time.Time  `gorm:"type:timestamptz;not null"`
	UpdatedAt           time.Time  `gorm:"type:timestamptz;not null"`
}

// TableName specifies the table name for GORM.
func (CouponModel) TableName() string {
	return "coupons"
}

// ActionLogModel is the GORM persistence model for the append-only
// coupon action audit trail.
type ActionLogModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	SiteID       int64  `gorm:"not null;index:idx_action_log_key"`
	Code         string `gorm:"type:varchar(100);not null;index:idx_action_log_key"`
	MinerHotkey  string `gorm:"type:varchar(64);not null;index:idx_action_log_key"`
	Action       int    `gorm:"not null"`
	ActionDate   int64  `gorm:"not null"`
	Signature    string `gorm:"type:varchar(160);not null"`
	SourceHotkey string `gorm:"type:varchar(64);not null"`
	CreatedAt    time.Time `gorm:"type:timestamptz;not null;default:now()"`
}

// TableName specifies the table name for GORM.
func (ActionLogModel) TableName() string {
	return "coupon_action_logs"
}

// CouponRepositoryImpl is the GORM-based implementation of
// coupon.CouponRepository.
type CouponRepositoryImpl struct {
	db *gorm.DB
}

// NewCouponRepository creates a new GORM-based coupon repository.
func NewCouponRepository(db *gorm.DB) *CouponRepositoryImpl {
	return &CouponRepositoryImpl{db: db}
}

// Save persists a new coupon aggregate.
func (r *CouponRepositoryImpl) Save(ctx context.Context, c *coupon.Coupon) error {
	model := couponToModel(c)
	return dbFrom(ctx, r.db).Create(model).Error
}

// Update persists in-place changes to an existing coupon. All columns
// are written so cleared fields (tombstone, rule) round-trip.
func (r *CouponRepositoryImpl) Update(ctx context.Context, c *coupon.Coupon) error {
	model := couponToModel(c)
	result := dbFrom(ctx, r.db).
		Model(&CouponModel{}).
		Where("site_id = ? AND lower(code) = lower(?) AND miner_hotkey = ?",
			c.SiteID(), c.Code(), c.MinerHotkey()).
		Select("*").
		Omit("created_at").
		Updates(model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("Coupon", c.ID())
	}
	return nil
}

// FindByKey retrieves a coupon by its composite key, matching the code
// case-insensitively.
func (r *CouponRepositoryImpl) FindByKey(ctx context.Context, key coupon.Key) (*coupon.Coupon, error) {
	var model CouponModel
	err := dbFrom(ctx, r.db).
		Where("site_id = ? AND lower(code) = lower(?) AND miner_hotkey = ?",
			key.SiteID, key.Code, key.MinerHotkey).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Coupon", key.String())
		}
		return nil, err
	}
	return couponToDomain(&model), nil
}

// FindActiveByCode returns any miner's non-deleted coupon for the
// site/code pair, or nil when none exists.
func (r *CouponRepositoryImpl) FindActiveByCode(ctx context.Context, siteID int64, code string) (*coupon.Coupon, error) {
	var model CouponModel
	err := dbFrom(ctx, r.db).
		Where("site_id = ? AND lower(code) = lower(?) AND deleted_at IS NULL", siteID, code).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return couponToDomain(&model), nil
}

// CountActiveForMiner counts the miner's non-deleted coupons on a site.
func (r *CouponRepositoryImpl) CountActiveForMiner(ctx context.Context, siteID int64, minerHotkey string) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).
		Model(&CouponModel{}).
		Where("site_id = ? AND miner_hotkey = ? AND deleted_at IS NULL", siteID, minerHotkey).
		Count(&count).Error
	return count, err
}

// CountOccupying counts coupons currently holding a slot on the site.
func (r *CouponRepositoryImpl) CountOccupying(ctx context.Context, siteID int64) (int64, error) {
	var count int64
	err := dbFrom(ctx, r.db).
		Model(&CouponModel{}).
		Where("site_id = ? AND status IN ? AND deleted_at IS NULL",
			siteID, []int{int(coupon.StatusValid), int(coupon.StatusPending)}).
		Count(&count).Error
	return count, err
}

// List retrieves coupons matching filter, sorted ascending.
func (r *CouponRepositoryImpl) List(ctx context.Context, filter coupon.ListFilter) ([]*coupon.Coupon, error) {
	query := dbFrom(ctx, r.db).Model(&CouponModel{})

	if filter.LastActionBefore != nil {
		query = query.Where("last_action_date < ?", filter.LastActionBefore.UnixMilli())
	}
	if filter.MinerHotkey != nil {
		query = query.Where("miner_hotkey = ?", *filter.MinerHotkey)
	}
	if filter.SiteID != nil {
		query = query.Where("site_id = ?", *filter.SiteID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", int(*filter.Status))
	}
	if filter.UpdatedFrom != nil {
		query = query.Where("updated_at > ?", *filter.UpdatedFrom)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at > ?", *filter.CreatedFrom)
	}
	if filter.LastActionFrom != nil {
		query = query.Where("last_action_date > ?", filter.LastActionFrom.UnixMilli())
	}
	if filter.LastCheckedTo != nil {
		query = query.Where("last_checked_at < ?", *filter.LastCheckedTo)
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = coupon.SortByUpdatedAt
	}
	query = query.Order(string(sortBy) + " ASC")

	if filter.PageSize > 0 {
		offset := 0
		if filter.PageNumber > 1 {
			offset = (filter.PageNumber - 1) * filter.PageSize
		}
		query = query.Offset(offset).Limit(filter.PageSize)
	}

	var models []CouponModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	coupons := make([]*coupon.Coupon, len(models))
	for i := range models {
		coupons[i] = couponToDomain(&models[i])
	}
	return coupons, nil
}

// ListExpired returns slot-holding coupons whose validity window has
// passed, for the expiry sweep.
func (r *CouponRepositoryImpl) ListExpired(ctx context.Context, now time.Time) ([]*coupon.Coupon, error) {
	var models []CouponModel
	err := dbFrom(ctx, r.db).
		Where("valid_until < ? AND status IN ? AND deleted_at IS NULL",
			now, []int{int(coupon.StatusValid), int(coupon.StatusPending)}).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	coupons := make([]*coupon.Coupon, len(models))
	for i := range models {
		coupons[i] = couponToDomain(&models[i])
	}
	return coupons, nil
}

// LogAction appends one audit row. Rows are never mutated or deleted.
func (r *CouponRepositoryImpl) LogAction(ctx context.Context, log coupon.ActionLog) error {
	model := ActionLogModel{
		SiteID:       log.SiteID,
		Code:         log.Code,
		MinerHotkey:  log.MinerHotkey,
		Action:       int(log.Action),
		ActionDate:   log.ActionDate,
		Signature:    log.Signature,
		SourceHotkey: log.SourceHotkey,
		CreatedAt:    log.CreatedAt,
	}
	return dbFrom(ctx, r.db).Create(&model).Error
}

// couponToDomain maps a CouponModel to the domain aggregate.
func couponToDomain(model *CouponModel) *coupon.Coupon {
	return coupon.Reconstitute(coupon.Snapshot{
		SiteID:      model.SiteID,
		Code:        model.Code,
		MinerHotkey: model.MinerHotkey,
		Attributes: coupon.Attributes{
			CategoryID:         model.CategoryID,
			UsedOnProductURL:   model.UsedOnProductURL,
			Restrictions:       model.Restrictions,
			CountryCode:        model.CountryCode,
			DiscountValue:      model.DiscountValue,
			DiscountPercentage: model.DiscountPercentage,
			IsGlobal:           model.IsGlobal,
			ValidUntil:         model.ValidUntil,
			Rule:               json.RawMessage(model.Rule),
		},
		Signing: coupon.Signing{
			MinerColdkey:           model.MinerColdkey,
			UseColdkeyForSignature: model.UseColdkeySignature,
		},
		Status:              coupon.Status(model.Status),
		SourceHotkey:        model.SourceHotkey,
		LastAction:          coupon.Action(model.LastAction),
		LastActionDate:      model.LastActionDate,
		LastActionSignature: model.LastActionSignature,
		DeletedAt:           model.DeletedAt,
		LastCheckedAt:       model.LastCheckedAt,
		CreatedAt:           model.CreatedAt,
		UpdatedAt:           model.UpdatedAt,
	})
}

// couponToModel maps the domain aggregate to its persistence model.
func couponToModel(c *coupon.Coupon) *CouponModel {
	s := c.Snapshot()
	return &CouponModel{
		SiteID:              s.SiteID,
		Code:                s.Code,
		MinerHotkey:         s.MinerHotkey,
		CategoryID:          s.Attributes.CategoryID,
		UsedOnProductURL:    s.Attributes.UsedOnProductURL,
		Restrictions:        s.Attributes.Restrictions,
		CountryCode:         s.Attributes.CountryCode,
		DiscountValue:       s.Attributes.DiscountValue,
		DiscountPercentage:  s.Attributes.DiscountPercentage,
		IsGlobal:            s.Attributes.IsGlobal,
		Rule:                []byte(s.Attributes.Rule),
		Status:              int(s.Status),
		SourceHotkey:        s.SourceHotkey,
		MinerColdkey:        s.Signing.MinerColdkey,
		UseColdkeySignature: s.Signing.UseColdkeyForSignature,
		LastAction:          int(s.LastAction),
		LastActionDate:      s.LastActionDate,
		LastActionSignature: s.LastActionSignature,
		ValidUntil:          s.Attributes.ValidUntil,
		DeletedAt:           s.DeletedAt,
		LastCheckedAt:       s.LastCheckedAt,
		CreatedAt:           s.CreatedAt,
		UpdatedAt:           s.UpdatedAt,
	}
}
