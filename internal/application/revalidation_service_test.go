package application

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/checker"
	"github.com/couponmesh/registry-node/internal/domain/coupon"
	"github.com/couponmesh/registry-node/internal/domain/site"
	"github.com/couponmesh/registry-node/internal/metrics"
)

// scriptedChecker returns canned results per coupon code.
type scriptedChecker struct {
	results map[string]checker.Result
	rules   map[string]json.RawMessage
	err     error
}

func (c *scriptedChecker) Check(_ context.Context, coupons []*coupon.Coupon) ([]checker.Outcome, error) {
	if c.err != nil {
		return nil, c.err
	}
	outcomes := make([]checker.Outcome, 0, len(coupons))
	for _, cp := range coupons {
		outcomes = append(outcomes, checker.Outcome{
			Coupon: cp,
			Result: c.results[cp.Code()],
			Rule:   c.rules[cp.Code()],
		})
	}
	return outcomes, nil
}

// scriptedFactory hands the same checker to every site.
type scriptedFactory struct {
	checker checker.Checker
	err     error
}

func (f *scriptedFactory) ForSite(*site.Site) (checker.Checker, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.checker, nil
}

type revalidationEnv struct {
	*serviceEnv
	factory *scriptedFactory
	service *RevalidationService
}

func newRevalidationEnv(t *testing.T, chk checker.Checker) *revalidationEnv {
	t.Helper()
	base := newServiceEnv(t)
	env := &revalidationEnv{serviceEnv: base, factory: &scriptedFactory{checker: chk}}
	env.service = NewRevalidationService(
		base.coupons, base.sites, base.siteSvc, env.factory, noopTransactor{},
		metrics.New(), 24*time.Hour, zap.NewNop(),
	)
	env.service.now = func() time.Time { return base.nowAt }
	return env
}

func (e *revalidationEnv) seedCoupon(t *testing.T, siteID int64, code string, status coupon.Status, checkedAt *time.Time) coupon.Key {
	t.Helper()
	key := coupon.Key{SiteID: siteID, Code: code, MinerHotkey: "5Miner" + code}
	c := coupon.New(key, coupon.Attributes{}, coupon.Signing{}, "5Validator", e.nowAt.Add(-48*time.Hour).UnixMilli(), "sig")
	switch status {
	case coupon.StatusValid:
		at := e.nowAt.Add(-time.Hour)
		if checkedAt != nil {
			at = *checkedAt
		}
		c.MarkValid(at)
	case coupon.StatusInvalid:
		c.MarkInvalid(e.nowAt.Add(-time.Hour))
	}
	require.NoError(t, e.coupons.Save(context.Background(), c))
	return key
}

func TestValidatePending_AppliesCheckerVerdicts(t *testing.T) {
	ctx := context.Background()
	rule := json.RawMessage(`{"rule":{"value_type":"percentage"}}`)
	chk := &scriptedChecker{
		results: map[string]checker.Result{"GOOD": checker.ResultValid, "BAD": checker.ResultInvalid, "MEH": checker.ResultUnknown},
		rules:   map[string]json.RawMessage{"GOOD": rule},
	}
	env := newRevalidationEnv(t, chk)
	env.addActiveSite(1, 10)
	goodKey := env.seedCoupon(t, 1, "GOOD", coupon.StatusPending, nil)
	badKey := env.seedCoupon(t, 1, "BAD", coupon.StatusPending, nil)
	mehKey := env.seedCoupon(t, 1, "MEH", coupon.StatusPending, nil)

	require.NoError(t, env.service.ValidatePending(ctx))

	good, err := env.coupons.FindByKey(ctx, goodKey)
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusValid, good.Status())
	assert.JSONEq(t, string(rule), string(good.Attributes().Rule))
	require.NotNil(t, good.LastCheckedAt())

	bad, err := env.coupons.FindByKey(ctx, badKey)
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusInvalid, bad.Status())

	meh, err := env.coupons.FindByKey(ctx, mehKey)
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusPending, meh.Status(), "an undecided probe keeps the coupon pending")
	require.NotNil(t, meh.LastCheckedAt(), "but the check time still advances")

	st, err := env.sites.FindByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 8, st.AvailableSlots, "only valid and pending coupons hold slots")
}

func TestValidateOutdated_OnlyRetestsStaleValidCoupons(t *testing.T) {
	ctx := context.Background()
	chk := &scriptedChecker{results: map[string]checker.Result{"STALE": checker.ResultInvalid, "FRESH": checker.ResultInvalid}}
	env := newRevalidationEnv(t, chk)
	env.addActiveSite(1, 10)

	staleAt := env.nowAt.Add(-48 * time.Hour)
	freshAt := env.nowAt.Add(-time.Hour)
	staleKey := env.seedCoupon(t, 1, "STALE", coupon.StatusValid, &staleAt)
	freshKey := env.seedCoupon(t, 1, "FRESH", coupon.StatusValid, &freshAt)

	require.NoError(t, env.service.ValidateOutdated(ctx))

	stale, err := env.coupons.FindByKey(ctx, staleKey)
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusInvalid, stale.Status(), "stale valid coupons are re-tested")

	fresh, err := env.coupons.FindByKey(ctx, freshKey)
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusValid, fresh.Status(), "recently checked coupons are left alone")
}

func TestValidateSiteBatch_CheckerErrorInvalidatesBatch(t *testing.T) {
	ctx := context.Background()
	env := newRevalidationEnv(t, &scriptedChecker{err: errors.New("endpoint melted")})
	env.addActiveSite(1, 10)
	key := env.seedCoupon(t, 1, "DOOMED", coupon.StatusPending, nil)

	require.NoError(t, env.service.ValidatePending(ctx))

	c, err := env.coupons.FindByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusInvalid, c.Status())
}

func TestValidateSiteBatch_NoCheckerLeavesBatchUntouched(t *testing.T) {
	ctx := context.Background()
	env := newRevalidationEnv(t, nil)
	env.factory.err = errors.New("no api_url")
	env.addActiveSite(1, 10)
	key := env.seedCoupon(t, 1, "LIMBO", coupon.StatusPending, nil)

	require.NoError(t, env.service.ValidatePending(ctx))

	c, err := env.coupons.FindByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusPending, c.Status())
	assert.Nil(t, c.LastCheckedAt())
}

func TestValidateOutdated_InactiveSiteKnocksValidBackToPending(t *testing.T) {
	ctx := context.Background()
	env := newRevalidationEnv(t, &scriptedChecker{})
	require.NoError(t, env.sites.Save(ctx, &site.Site{
		ID: 1, BaseURL: "gone.example.com", Status: site.StatusInactive, TotalSlots: 10,
	}))
	staleAt := env.nowAt.Add(-48 * time.Hour)
	key := env.seedCoupon(t, 1, "ORPHAN", coupon.StatusValid, &staleAt)

	require.NoError(t, env.service.ValidateOutdated(ctx))

	c, err := env.coupons.FindByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusPending, c.Status())
}

func TestValidatePending_MissingSiteKnocksBackWithoutFailing(t *testing.T) {
	ctx := context.Background()
	env := newRevalidationEnv(t, &scriptedChecker{})
	key := env.seedCoupon(t, 404, "NOWHERE", coupon.StatusPending, nil)

	require.NoError(t, env.service.ValidatePending(ctx))

	// Pending coupons on a missing site stay pending; only valid ones
	// are demoted.
	c, err := env.coupons.FindByKey(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, coupon.StatusPending, c.Status())
}
