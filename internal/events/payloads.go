package events

import "time"

// CouponEvent is the payload of coupon lifecycle events.
type CouponEvent struct {
	SiteID      int64  `json:"site_id"`
	Code        string `json:"code"`
	MinerHotkey string `json:"miner_hotkey"`
	Status      string `json:"status"`
	Action      string `json:"action,omitempty"`
}

// WeightsEvent is the payload of weights.calculated events.
type WeightsEvent struct {
	CalculatedAt time.Time          `json:"calculated_at"`
	Scores       map[string]float64 `json:"scores"`
}
