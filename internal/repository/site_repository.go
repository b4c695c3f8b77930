package repository

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/couponmesh/registry-node/internal/domain"
	"github.com/couponmesh/registry-node/internal/domain/site"
)

// SiteModel is the GORM persistence model for the sites table. Rows
// are mirrored from the chain registry.
type SiteModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement:false"`
	BaseURL        string `gorm:"type:varchar(255);not null"`
	Status         int    `gorm:"not null;index"`
	Config         []byte `gorm:"type:jsonb"`
	MinerHotkey    *string `gorm:"type:varchar(64)"`
	APIURL         *string `gorm:"type:text"`
	TotalSlots     int     `gorm:"not null"`
	AvailableSlots int     `gorm:"not null"`
}

// TableName specifies the table name for GORM.
func (SiteModel) TableName() string {
	return "sites"
}

// CategoryModel is the GORM persistence model for the categories table.
type CategoryModel struct {
	ID   int64  `gorm:"primaryKey;autoIncrement:false"`
	Name string `gorm:"type:varchar(255);not null"`
}

// TableName specifies the table name for GORM.
func (CategoryModel) TableName() string {
	return "categories"
}

// SiteRepositoryImpl is the GORM-based implementation of
// site.SiteRepository.
type SiteRepositoryImpl struct {
	db *gorm.DB
}

// NewSiteRepository creates a new GORM-based site repository.
func NewSiteRepository(db *gorm.DB) *SiteRepositoryImpl {
	return &SiteRepositoryImpl{db: db}
}

// Save inserts a new site row.
func (r *SiteRepositoryImpl) Save(ctx context.Context, s *site.Site) error {
	return dbFrom(ctx, r.db).Create(siteToModel(s)).Error
}

// Update writes all columns of an existing site row.
func (r *SiteRepositoryImpl) Update(ctx context.Context, s *site.Site) error {
	result := dbFrom(ctx, r.db).
		Model(&SiteModel{}).
		Where("id = ?", s.ID).
		Select("*").
		Updates(siteToModel(s))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.NewNotFoundError("Site", s.ID)
	}
	return nil
}

// FindByID retrieves a site by its registry identifier.
func (r *SiteRepositoryImpl) FindByID(ctx context.Context, id int64) (*site.Site, error) {
	var model SiteModel
	if err := dbFrom(ctx, r.db).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Site", id)
		}
		return nil, err
	}
	return siteToDomain(&model), nil
}

// List retrieves sites with pagination, ordered by id.
func (r *SiteRepositoryImpl) List(ctx context.Context, pageSize, pageNumber int) ([]*site.Site, int64, error) {
	db := dbFrom(ctx, r.db)

	var total int64
	if err := db.Model(&SiteModel{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := db.Order("id ASC")
	if pageSize > 0 {
		offset := 0
		if pageNumber > 1 {
			offset = (pageNumber - 1) * pageSize
		}
		query = query.Offset(offset).Limit(pageSize)
	}

	var models []SiteModel
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	sites := make([]*site.Site, len(models))
	for i := range models {
		sites[i] = siteToDomain(&models[i])
	}
	return sites, total, nil
}

func siteToDomain(model *SiteModel) *site.Site {
	return &site.Site{
		ID:             model.ID,
		BaseURL:        model.BaseURL,
		Status:         site.Status(model.Status),
		Config:         json.RawMessage(model.Config),
		MinerHotkey:    model.MinerHotkey,
		APIURL:         model.APIURL,
		TotalSlots:     model.TotalSlots,
		AvailableSlots: model.AvailableSlots,
	}
}

func siteToModel(s *site.Site) *SiteModel {
	return &SiteModel{
		ID:             s.ID,
		BaseURL:        s.BaseURL,
		Status:         int(s.Status),
		Config:         []byte(s.Config),
		MinerHotkey:    s.MinerHotkey,
		APIURL:         s.APIURL,
		TotalSlots:     s.TotalSlots,
		AvailableSlots: s.AvailableSlots,
	}
}

// CategoryRepositoryImpl is the GORM-based implementation of
// site.CategoryRepository.
type CategoryRepositoryImpl struct {
	db *gorm.DB
}

// NewCategoryRepository creates a new GORM-based category repository.
func NewCategoryRepository(db *gorm.DB) *CategoryRepositoryImpl {
	return &CategoryRepositoryImpl{db: db}
}

// Upsert inserts or refreshes a registry category.
func (r *CategoryRepositoryImpl) Upsert(ctx context.Context, c *site.Category) error {
	model := CategoryModel{ID: c.ID, Name: c.Name}
	return dbFrom(ctx, r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).
		Create(&model).Error
}

// FindByID retrieves a category by id.
func (r *CategoryRepositoryImpl) FindByID(ctx context.Context, id int64) (*site.Category, error) {
	var model CategoryModel
	if err := dbFrom(ctx, r.db).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Category", id)
		}
		return nil, err
	}
	return &site.Category{ID: model.ID, Name: model.Name}, nil
}

// List retrieves all categories ordered by id.
func (r *CategoryRepositoryImpl) List(ctx context.Context) ([]*site.Category, error) {
	var models []CategoryModel
	if err := dbFrom(ctx, r.db).Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	categories := make([]*site.Category, len(models))
	for i := range models {
		categories[i] = &site.Category{ID: models[i].ID, Name: models[i].Name}
	}
	return categories, nil
}
