package coupon

import "time"

// ActionLog is one append-only audit row per accepted coupon action.
// Rows are never mutated or deleted; the coupon row itself is the
// mutable view, the log is the replayable history.
type ActionLog struct {
	ID           int64
	SiteID       int64
	Code         string
	MinerHotkey  string
	Action       Action
	ActionDate   int64 // unix milliseconds
	Signature    string
	SourceHotkey string
	CreatedAt    time.Time
}

// NewActionLog builds the audit row for an action applied to c.
func NewActionLog(c *Coupon, action Action, actionDate int64, signature, sourceHotkey string) ActionLog {
	return ActionLog{
		SiteID:       c.SiteID(),
		Code:         c.Code(),
		MinerHotkey:  c.MinerHotkey(),
		Action:       action,
		ActionDate:   actionDate,
		Signature:    signature,
		SourceHotkey: sourceHotkey,
		CreatedAt:    time.Now().UTC(),
	}
}
