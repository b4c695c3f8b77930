package checker

import (
	"context"
	"encoding/json"

	"github.com/couponmesh/registry-node/internal/domain/coupon"
)

// Result is the tri-state outcome of a redemption probe. Undecidable
// probes must not flip a coupon's status, so Unknown is distinct from
// Invalid.
type Result int

const (
	ResultUnknown Result = iota
	ResultValid
	ResultInvalid
)

func (r Result) String() string {
	switch r {
	case ResultValid:
		return "valid"
	case ResultInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Outcome is the probe verdict for one coupon. Rule carries the
// redemption rule JSON when the storefront exposed one.
type Outcome struct {
	Coupon *coupon.Coupon
	Result Result
	Rule   json.RawMessage
}

// Checker probes a batch of coupons against one site. Implementations
// may share a session across the batch. A returned error means the
// whole batch failed and no outcome can be trusted.
type Checker interface {
	Check(ctx context.Context, coupons []*coupon.Coupon) ([]Outcome, error)
}
