package syncstate

import (
	"context"
	"time"
)

// PeerStatus is the bootstrap state of one peer in SyncProgress.
type PeerStatus string

const (
	PeerPending    PeerStatus = "pending"
	PeerInProgress PeerStatus = "in_progress"
	PeerDone       PeerStatus = "done"
	PeerError      PeerStatus = "error"
)

// PeerProgress tracks one peer inside an in-flight bootstrap sync.
type PeerProgress struct {
	IP             string     `json:"ip,omitempty"`
	Port           int        `json:"port,omitempty"`
	Status         PeerStatus `json:"status"`
	LastSynced     *time.Time `json:"last_synced,omitempty"`
	CouponsFetched int        `json:"coupons_fetched"`
	CouponsSynced  int        `json:"coupons_synced"`
	Error          string     `json:"error,omitempty"`
}

// Progress is the process-wide bootstrap record. While a Progress
// record is persisted, local coupon submission is suspended so the
// node does not accept writes against a half-populated registry.
type Progress struct {
	StartedAt       time.Time               `json:"started_at"`
	TotalValidators int                     `json:"total_validators"`
	Validators      map[string]PeerProgress `json:"validators"`
}

// Result is the persisted summary of the last completed sync run.
type Result struct {
	FinishedAt           time.Time `json:"finished_at"`
	Status               string    `json:"status"` // ok | error | empty
	ValidatorsTotal      int       `json:"validators_total"`
	RespondedValidators  int       `json:"responded_validators"`
	ValidatorsWithCoupon int       `json:"validators_with_coupons"`
	Errors               int       `json:"errors"`
	EmptyResponses       int       `json:"empty_responses"`
	CouponsFetched       int       `json:"coupons_fetched"`
	CouponsSynced        int       `json:"coupons_synced"`
}

// Cursor is the per-peer sync watermark: the greatest last-action
// timestamp already merged from that peer. Monotonic non-decreasing.
type Cursor struct {
	ValidatorHotkey    string
	LastActionDate     *time.Time
	LastSuccessfulSync time.Time
}

// CursorRepository defines persistence for peer sync cursors.
type CursorRepository interface {
	Get(ctx context.Context, validatorHotkey string) (*Cursor, error)
	Set(ctx context.Context, validatorHotkey string, lastActionDate time.Time) error
}

// StateRepository persists the transient bootstrap progress and the
// last sync result. Progress is stored so multiple process instances
// observe the same bootstrap status; Clear removes the record and
// re-enables submissions.
type StateRepository interface {
	GetProgress(ctx context.Context) (*Progress, error)
	SetProgress(ctx context.Context, p *Progress) error
	ClearProgress(ctx context.Context) error
	GetLastResult(ctx context.Context) (*Result, error)
	SetLastResult(ctx context.Context, r *Result) error
}
