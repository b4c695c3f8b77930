package site

import "context"

// SiteRepository defines persistence operations for registry-mirrored
// sites.
type SiteRepository interface {
	Save(ctx context.Context, s *Site) error
	Update(ctx context.Context, s *Site) error
	FindByID(ctx context.Context, id int64) (*Site, error)
	List(ctx context.Context, pageSize, pageNumber int) ([]*Site, int64, error)
}

// CategoryRepository defines persistence operations for registry
// categories.
type CategoryRepository interface {
	Upsert(ctx context.Context, c *Category) error
	FindByID(ctx context.Context, id int64) (*Category, error)
	List(ctx context.Context) ([]*Category, error)
}
