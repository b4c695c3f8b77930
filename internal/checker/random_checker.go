package checker

import (
	"context"
	"encoding/json"
	"math/rand"

	"github.com/couponmesh/registry-node/internal/domain/coupon"
	"github.com/couponmesh/registry-node/internal/domain/site"
)

// RandomChecker accepts coupons with a configured probability. It
// exists for staging networks where no real storefront is reachable;
// the probability lives in the site config under
// valid_coupon_probability and defaults to always-valid.
type RandomChecker struct {
	probability float64
	rng         *rand.Rand
}

func NewRandomChecker(st *site.Site, seed int64) *RandomChecker {
	probability := 1.0
	if len(st.Config) > 0 {
		var cfg struct {
			ValidCouponProbability *float64 `json:"valid_coupon_probability"`
		}
		if err := json.Unmarshal(st.Config, &cfg); err == nil && cfg.ValidCouponProbability != nil {
			probability = *cfg.ValidCouponProbability
		}
	}
	return &RandomChecker{
		probability: probability,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (c *RandomChecker) Check(_ context.Context, coupons []*coupon.Coupon) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(coupons))
	for _, cp := range coupons {
		result := ResultInvalid
		if c.rng.Float64() < c.probability {
			result = ResultValid
		}
		outcomes = append(outcomes, Outcome{Coupon: cp, Result: result})
	}
	return outcomes, nil
}
