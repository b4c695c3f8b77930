package ownership

import "time"

// Ownership is the exclusive-claim record for a (site, code) pair,
// independent of which miners hold coupon rows for it. At most one
// non-null owner exists per pair; competing local claims are recorded
// as contests instead of transfers. The row is kept for audit even
// after the owner vacates.
type Ownership struct {
	siteID          int64
	code            string
	ownerHotkey     *string
	acquiredAt      time.Time
	lastContestedAt *time.Time
	contestCount    int
	updatedAt       time.Time
}

// New creates an ownership record claimed by owner.
func New(siteID int64, code, owner string) *Ownership {
	now := time.Now().UTC()
	return &Ownership{
		siteID:      siteID,
		code:        code,
		ownerHotkey: &owner,
		acquiredAt:  now,
		updatedAt:   now,
	}
}

// Reconstruct rebuilds an Ownership from persistence.
func Reconstruct(siteID int64, code string, ownerHotkey *string, acquiredAt time.Time, lastContestedAt *time.Time, contestCount int, updatedAt time.Time) *Ownership {
	return &Ownership{
		siteID: siteID, code: code, ownerHotkey: ownerHotkey,
		acquiredAt: acquiredAt, lastContestedAt: lastContestedAt,
		contestCount: contestCount, updatedAt: updatedAt,
	}
}

// IsVacant reports whether the claim has been cleared.
func (o *Ownership) IsVacant() bool {
	return o.ownerHotkey == nil
}

// IsOwnedBy reports whether hotkey currently holds the claim.
func (o *Ownership) IsOwnedBy(hotkey string) bool {
	return o.ownerHotkey != nil && *o.ownerHotkey == hotkey
}

// Reclaim assigns a vacated claim to a new owner.
func (o *Ownership) Reclaim(owner string) {
	now := time.Now().UTC()
	o.ownerHotkey = &owner
	o.acquiredAt = now
	o.updatedAt = now
}

// Contest records a competing claim without transferring ownership.
func (o *Ownership) Contest() {
	now := time.Now().UTC()
	o.contestCount++
	o.lastContestedAt = &now
	o.updatedAt = now
}

// Vacate clears the owner when the owning coupon is deleted. The
// record survives so contest history is not lost.
func (o *Ownership) Vacate() {
	o.ownerHotkey = nil
	o.updatedAt = time.Now().UTC()
}

func (o *Ownership) SiteID() int64               { return o.siteID }
func (o *Ownership) Code() string                { return o.code }
func (o *Ownership) OwnerHotkey() *string        { return o.ownerHotkey }
func (o *Ownership) AcquiredAt() time.Time       { return o.acquiredAt }
func (o *Ownership) LastContestedAt() *time.Time { return o.lastContestedAt }
func (o *Ownership) ContestCount() int           { return o.contestCount }
func (o *Ownership) UpdatedAt() time.Time        { return o.updatedAt }
