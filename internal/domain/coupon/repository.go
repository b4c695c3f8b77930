package coupon

import (
	"context"
	"time"
)

// SortField selects the ordering column for coupon listings. Listings
// are always ascending so sync consumers can advance their cursor.
type SortField string

const (
	SortByCreatedAt      SortField = "created_at"
	SortByUpdatedAt      SortField = "updated_at"
	SortByLastActionDate SortField = "last_action_date"
)

// ListFilter narrows a coupon listing. Time bounds are exclusive:
// *From fields match strictly newer rows, *To fields strictly older.
// LastActionBefore hides rows whose last action is too recent to be
// exposed to unauthenticated readers; nil bypasses that window.
type ListFilter struct {
	MinerHotkey      *string
	SiteID           *int64
	Status           *Status
	UpdatedFrom      *time.Time
	CreatedFrom      *time.Time
	LastActionFrom   *time.Time
	LastCheckedTo    *time.Time
	LastActionBefore *time.Time
	SortBy           SortField
	PageSize         int
	PageNumber       int
}

// CouponRepository defines persistence operations for Coupon
// aggregates and their audit log. Code matching is case-insensitive.
type CouponRepository interface {
	Save(ctx context.Context, c *Coupon) error
	Update(ctx context.Context, c *Coupon) error
	FindByKey(ctx context.Context, key Key) (*Coupon, error)
	// FindActiveByCode returns any miner's non-deleted coupon for the
	// site/code pair, used for the cross-miner duplicate check.
	FindActiveByCode(ctx context.Context, siteID int64, code string) (*Coupon, error)
	// CountActiveForMiner counts the miner's non-deleted coupons on a
	// site, regardless of status.
	CountActiveForMiner(ctx context.Context, siteID int64, minerHotkey string) (int64, error)
	// CountOccupying counts coupons holding a slot on the site:
	// pending or valid and not soft-deleted.
	CountOccupying(ctx context.Context, siteID int64) (int64, error)
	List(ctx context.Context, filter ListFilter) ([]*Coupon, error)
	// ListExpired returns slot-holding coupons whose validity window
	// has passed, for the expiry sweep.
	ListExpired(ctx context.Context, now time.Time) ([]*Coupon, error)
	LogAction(ctx context.Context, log ActionLog) error
}
