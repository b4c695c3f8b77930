package ownership

import "context"

// OwnershipRepository defines persistence operations for ownership
// claims. Code matching is case-insensitive.
type OwnershipRepository interface {
	Save(ctx context.Context, o *Ownership) error
	Update(ctx context.Context, o *Ownership) error
	Find(ctx context.Context, siteID int64, code string) (*Ownership, error)
}
