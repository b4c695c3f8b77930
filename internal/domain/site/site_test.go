package site

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecomputeSlots(t *testing.T) {
	s := &Site{ID: 1, TotalSlots: 10}

	s.RecomputeSlots(4)
	assert.Equal(t, 6, s.AvailableSlots)
	assert.True(t, s.CanSubmit())

	s.RecomputeSlots(10)
	assert.Equal(t, 0, s.AvailableSlots)
	assert.False(t, s.CanSubmit())
}

func TestRecomputeSlots_OverOccupancyClampsToZero(t *testing.T) {
	s := &Site{ID: 1, TotalSlots: 5}

	// Slot totals can shrink in the registry while coupons remain.
	s.RecomputeSlots(8)

	assert.Equal(t, 0, s.AvailableSlots)
	assert.False(t, s.CanSubmit())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "inactive", StatusInactive.String())
	assert.Equal(t, "active", StatusActive.String())
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "status(9)", Status(9).String())
}
