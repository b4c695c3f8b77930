package coupon

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a coupon. Values are part of the
// wire format shared with peer validators and must not be reordered.
type Status int

const (
	StatusInvalid Status = iota
	StatusValid
	StatusPending
	StatusExpired
	StatusUsed
	StatusDeleted
	StatusDuplicate
)

// String implements fmt.Stringer for logging.
func (s Status) String() string {
	switch s {
	case StatusInvalid:
		return "invalid"
	case StatusValid:
		return "valid"
	case StatusPending:
		return "pending"
	case StatusExpired:
		return "expired"
	case StatusUsed:
		return "used"
	case StatusDeleted:
		return "deleted"
	case StatusDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Action is the kind of signed state change applied to a coupon.
// Values are part of the signed canonical payload and the wire format.
type Action int

const (
	ActionCreate Action = iota
	ActionRecheck
	ActionDelete
)

// String implements fmt.Stringer for logging.
func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionRecheck:
		return "recheck"
	case ActionDelete:
		return "delete"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Key is the composite identity of a coupon. The same code string may
// be claimed by different miners before ownership converges, so the
// miner hotkey is part of the key. Code comparisons are
// case-insensitive at the repository level.
type Key struct {
	SiteID      int64
	Code        string
	MinerHotkey string
}

// String renders the synthetic identifier used in API responses.
func (k Key) String() string {
	return fmt.Sprintf("%d:%s:%s", k.SiteID, k.Code, k.MinerHotkey)
}

// Attributes is the redemption metadata carried by a coupon. All
// fields are optional; Rule is a free-form JSON payload captured from
// checker responses and is never exchanged through sync merges.
type Attributes struct {
	CategoryID         *int64
	UsedOnProductURL   *string
	Restrictions       *string
	CountryCode        *string
	DiscountValue      *string
	DiscountPercentage *int
	IsGlobal           *bool
	ValidUntil         *time.Time
	Rule               json.RawMessage
}

// Signing identifies the alternate signing identity of a submission.
// When UseColdkeyForSignature is true the signature is verified
// against MinerColdkey instead of the miner hotkey.
type Signing struct {
	MinerColdkey           *string
	UseColdkeyForSignature *bool
}

// Coupon is the aggregate root of the registry. A coupon is mutated in
// place by later actions and never physically deleted; DELETE sets a
// tombstone. The last-action timestamp only ever moves forward.
type Coupon struct {
	key                 Key
	attrs               Attributes
	signing             Signing
	status              Status
	sourceHotkey        string
	lastAction          Action
	lastActionDate      int64 // unix milliseconds
	lastActionSignature string
	deletedAt           *time.Time
	lastCheckedAt       *time.Time
	createdAt           time.Time
	updatedAt           time.Time
}

// New creates a coupon from an accepted CREATE request. submittedAt is
// the signed submission timestamp in unix milliseconds and doubles as
// the creation time of the record.
func New(key Key, attrs Attributes, signing Signing, sourceHotkey string, submittedAt int64, signature string) *Coupon {
	return &Coupon{
		key:                 key,
		attrs:               attrs,
		signing:             signing,
		status:              StatusPending,
		sourceHotkey:        sourceHotkey,
		lastAction:          ActionCreate,
		lastActionDate:      submittedAt,
		lastActionSignature: signature,
		createdAt:           time.UnixMilli(submittedAt).UTC(),
		updatedAt:           time.Now().UTC(),
	}
}

// Remote is a coupon record as reported by a peer validator, reduced
// to the fields a merge is allowed to copy.
type Remote struct {
	Key                 Key
	Attributes          Attributes
	Signing             Signing
	LastAction          Action
	LastActionDate      int64
	LastActionSignature string
	CreatedAt           time.Time
	DeletedAt           *time.Time
}

// remoteStatus maps the last action of a synced record to a local
// status: deletions stay deleted, everything else restarts as pending
// so the local checker re-validates it.
func remoteStatus(action Action) Status {
	if action == ActionDelete {
		return StatusDeleted
	}
	return StatusPending
}

// FromRemote creates a local record for a coupon first observed
// through sync. The authoring peer becomes the source hotkey; the
// remote creation time is preserved.
func FromRemote(r Remote, sourceHotkey string) *Coupon {
	return &Coupon{
		key:                 r.Key,
		attrs:               r.Attributes,
		signing:             r.Signing,
		status:              remoteStatus(r.LastAction),
		sourceHotkey:        sourceHotkey,
		lastAction:          r.LastAction,
		lastActionDate:      r.LastActionDate,
		lastActionSignature: r.LastActionSignature,
		deletedAt:           r.DeletedAt,
		createdAt:           r.CreatedAt,
		updatedAt:           time.Now().UTC(),
	}
}

// ApplyRemote merges a synced record into the local one. The merge is
// last-action-wins: it applies only when the incoming timestamp is
// strictly greater than the local one, so replays and reordered
// batches are no-ops. Reports whether the record was applied.
func (c *Coupon) ApplyRemote(r Remote, sourceHotkey string) bool {
	if r.LastActionDate <= c.lastActionDate {
		return false
	}
	c.attrs = r.Attributes
	c.signing = r.Signing
	c.sourceHotkey = sourceHotkey
	c.status = remoteStatus(r.LastAction)
	c.lastAction = r.LastAction
	c.lastActionDate = r.LastActionDate
	c.lastActionSignature = r.LastActionSignature
	c.deletedAt = r.DeletedAt
	c.updatedAt = time.Now().UTC()
	return true
}

// Resubmit overwrites the coupon in place after a fresh CREATE for the
// same key: attributes are replaced, the tombstone is cleared and the
// lifecycle restarts as pending. The original creation time is kept.
func (c *Coupon) Resubmit(attrs Attributes, signing Signing, sourceHotkey string, submittedAt int64, signature string) {
	c.attrs = attrs
	c.signing = signing
	c.sourceHotkey = sourceHotkey
	c.status = StatusPending
	c.lastAction = ActionCreate
	c.lastActionDate = submittedAt
	c.lastActionSignature = signature
	c.deletedAt = nil
	c.updatedAt = time.Now().UTC()
}

// MarkDeleted applies an accepted DELETE: the tombstone is the signed
// submission time and the record stays in place for audit and sync.
func (c *Coupon) MarkDeleted(submittedAt int64, signature string) {
	at := time.UnixMilli(submittedAt).UTC()
	c.deletedAt = &at
	c.status = StatusDeleted
	c.lastAction = ActionDelete
	c.lastActionDate = submittedAt
	c.lastActionSignature = signature
	c.updatedAt = time.Now().UTC()
}

// MarkRecheck applies an accepted RECHECK: the coupon returns to
// pending so the next validation sweep picks it up.
func (c *Coupon) MarkRecheck(submittedAt int64, signature string) {
	c.status = StatusPending
	c.lastAction = ActionRecheck
	c.lastActionDate = submittedAt
	c.lastActionSignature = signature
	c.updatedAt = time.Now().UTC()
}

// MarkValid records a positive checker outcome.
func (c *Coupon) MarkValid(at time.Time) {
	c.status = StatusValid
	c.stampChecked(at)
}

// MarkInvalid records a negative checker outcome.
func (c *Coupon) MarkInvalid(at time.Time) {
	c.status = StatusInvalid
	c.stampChecked(at)
}

// StampChecked records an undecided checker outcome: the status is
// left untouched but the check time always advances.
func (c *Coupon) StampChecked(at time.Time) {
	c.stampChecked(at)
}

func (c *Coupon) stampChecked(at time.Time) {
	at = at.UTC()
	c.lastCheckedAt = &at
	c.updatedAt = time.Now().UTC()
}

// Expire transitions an overdue coupon to expired during the sweep.
func (c *Coupon) Expire(at time.Time) {
	c.status = StatusExpired
	c.stampChecked(at)
}

// ResetToPending knocks a validated coupon back to pending, used when
// its site leaves the active state.
func (c *Coupon) ResetToPending() {
	c.status = StatusPending
	c.updatedAt = time.Now().UTC()
}

// SetRule stores the raw rule payload returned by a checker probe.
func (c *Coupon) SetRule(rule json.RawMessage) {
	c.attrs.Rule = rule
	c.updatedAt = time.Now().UTC()
}

// IsDeleted reports whether the coupon carries a tombstone.
func (c *Coupon) IsDeleted() bool {
	return c.deletedAt != nil
}

// IsActive reports whether the coupon occupies a site slot: pending or
// valid and not soft-deleted.
func (c *Coupon) IsActive() bool {
	return (c.status == StatusValid || c.status == StatusPending) && c.deletedAt == nil
}

// ID renders the synthetic identifier derived from the composite key.
func (c *Coupon) ID() string { return c.key.String() }

func (c *Coupon) Key() Key                    { return c.key }
func (c *Coupon) SiteID() int64               { return c.key.SiteID }
func (c *Coupon) Code() string                { return c.key.Code }
func (c *Coupon) MinerHotkey() string         { return c.key.MinerHotkey }
func (c *Coupon) Attributes() Attributes      { return c.attrs }
func (c *Coupon) Signing() Signing            { return c.signing }
func (c *Coupon) Status() Status              { return c.status }
func (c *Coupon) SourceHotkey() string        { return c.sourceHotkey }
func (c *Coupon) LastAction() Action          { return c.lastAction }
func (c *Coupon) LastActionDate() int64       { return c.lastActionDate }
func (c *Coupon) LastActionSignature() string { return c.lastActionSignature }
func (c *Coupon) DeletedAt() *time.Time       { return c.deletedAt }
func (c *Coupon) LastCheckedAt() *time.Time   { return c.lastCheckedAt }
func (c *Coupon) CreatedAt() time.Time        { return c.createdAt }
func (c *Coupon) UpdatedAt() time.Time        { return c.updatedAt }

// Snapshot is the persistence representation of a coupon.
type Snapshot struct {
	SiteID              int64
	Code                string
	MinerHotkey         string
	Attributes          Attributes
	Signing             Signing
	Status              Status
	SourceHotkey        string
	LastAction          Action
	LastActionDate      int64
	LastActionSignature string
	DeletedAt           *time.Time
	LastCheckedAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Snapshot exports the aggregate state for persistence.
func (c *Coupon) Snapshot() Snapshot {
	return Snapshot{
		SiteID:              c.key.SiteID,
		Code:                c.key.Code,
		MinerHotkey:         c.key.MinerHotkey,
		Attributes:          c.attrs,
		Signing:             c.signing,
		Status:              c.status,
		SourceHotkey:        c.sourceHotkey,
		LastAction:          c.lastAction,
		LastActionDate:      c.lastActionDate,
		LastActionSignature: c.lastActionSignature,
		DeletedAt:           c.deletedAt,
		LastCheckedAt:       c.lastCheckedAt,
		CreatedAt:           c.createdAt,
		UpdatedAt:           c.updatedAt,
	}
}

// Reconstitute rebuilds a coupon from persisted state.
func Reconstitute(s Snapshot) *Coupon {
	return &Coupon{
		key:                 Key{SiteID: s.SiteID, Code: s.Code, MinerHotkey: s.MinerHotkey},
		attrs:               s.Attributes,
		signing:             s.Signing,
		status:              s.Status,
		sourceHotkey:        s.SourceHotkey,
		lastAction:          s.LastAction,
		lastActionDate:      s.LastActionDate,
		lastActionSignature: s.LastActionSignature,
		deletedAt:           s.DeletedAt,
		lastCheckedAt:       s.LastCheckedAt,
		createdAt:           s.CreatedAt,
		updatedAt:           s.UpdatedAt,
	}
}
