package site

import (
	"encoding/json"
	"fmt"
)

// Status is the eligibility state of a site as reported by the chain
// registry. Values are part of the registry wire format.
type Status int

const (
	StatusInactive Status = iota
	StatusActive
	StatusPending
)

// String implements fmt.Stringer for logging.
func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusPending:
		return "pending"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Site is the capacity and eligibility context for coupons. Rows are
// mirrored from the chain registry; AvailableSlots is derived from the
// live coupon count and recomputed after every status-affecting
// mutation, never trusted as an independent counter.
type Site struct {
	ID             int64
	BaseURL        string
	Status         Status
	Config         json.RawMessage
	MinerHotkey    *string
	APIURL         *string
	TotalSlots     int
	AvailableSlots int
}

// RecomputeSlots derives the available slot count from the number of
// coupons currently holding a slot.
func (s *Site) RecomputeSlots(occupying int64) {
	avail := s.TotalSlots - int(occupying)
	if avail < 0 {
		avail = 0
	}
	s.AvailableSlots = avail
}

// CanSubmit reports whether the site has capacity for another coupon.
func (s *Site) CanSubmit() bool {
	return s.AvailableSlots > 0
}

// Category is a registry-defined coupon category.
type Category struct {
	ID   int64
	Name string
}
