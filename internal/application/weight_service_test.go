package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/config"
	"github.com/couponmesh/registry-node/internal/domain/coupon"
	"github.com/couponmesh/registry-node/internal/events"
	"github.com/couponmesh/registry-node/internal/metrics"
)

type weightEnv struct {
	coupons   *memCouponRepo
	publisher *capturingPublisher
	service   *WeightService
	nowAt     time.Time
}

func newWeightEnv(t *testing.T) *weightEnv {
	t.Helper()
	env := &weightEnv{
		coupons:   newMemCouponRepo(),
		publisher: &capturingPublisher{},
		nowAt:     time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	env.service = NewWeightService(env.coupons, env.publisher, metrics.New(), config.WeightsConfig{
		DeltaPoints:     7 * 24 * time.Hour,
		CouponWeight:    0.8,
		ContainerWeight: 0.2,
	}, zap.NewNop())
	env.service.now = func() time.Time { return env.nowAt }
	return env
}

// addValid stores a valid coupon created at the given age before now.
func (e *weightEnv) addValid(t *testing.T, miner string, siteID int64, code string, age time.Duration) {
	t.Helper()
	createdAt := e.nowAt.Add(-age)
	c := coupon.New(coupon.Key{SiteID: siteID, Code: code, MinerHotkey: miner},
		coupon.Attributes{}, coupon.Signing{}, "5Validator", createdAt.UnixMilli(), "sig")
	c.MarkValid(createdAt.Add(time.Minute))
	require.NoError(t, e.coupons.Save(context.Background(), c))
}

func TestCalculateWeights_AgedCouponsEarnDouble(t *testing.T) {
	env := newWeightEnv(t)
	// Two young coupons vs one aged coupon: 200 points each side.
	env.addValid(t, "5MinerA", 1, "A1", time.Hour)
	env.addValid(t, "5MinerA", 1, "A2", time.Hour)
	env.addValid(t, "5MinerB", 1, "B1", 8*24*time.Hour)

	scores, err := env.service.CalculateWeights(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, scores["5MinerA"])
	assert.Equal(t, 1.0, scores["5MinerB"])
}

func TestCalculateWeights_NormalizesAgainstBestMiner(t *testing.T) {
	env := newWeightEnv(t)
	env.addValid(t, "5MinerA", 1, "A1", time.Hour)
	env.addValid(t, "5MinerA", 1, "A2", time.Hour)
	env.addValid(t, "5MinerA", 2, "A3", time.Hour)
	env.addValid(t, "5MinerA", 2, "A4", time.Hour)
	env.addValid(t, "5MinerB", 1, "B1", time.Hour)

	scores, err := env.service.CalculateWeights(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, scores["5MinerA"])
	assert.Equal(t, 0.25, scores["5MinerB"])
}

func TestCalculateWeights_DuplicateCodeCreditsEarliestSubmitter(t *testing.T) {
	env := newWeightEnv(t)
	env.addValid(t, "5MinerA", 1, "SHARED", 2*time.Hour)
	env.addValid(t, "5MinerB", 1, "SHARED", time.Hour)

	scores, err := env.service.CalculateWeights(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, scores["5MinerA"], "earliest submitter gets the credit")
	assert.NotContains(t, scores, "5MinerB", "later duplicate earns nothing")
}

func TestCalculateWeights_SameCodeOnDifferentSitesBothCount(t *testing.T) {
	env := newWeightEnv(t)
	env.addValid(t, "5MinerA", 1, "SHARED", time.Hour)
	env.addValid(t, "5MinerB", 2, "SHARED", time.Hour)

	scores, err := env.service.CalculateWeights(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1.0, scores["5MinerA"])
	assert.Equal(t, 1.0, scores["5MinerB"])
}

func TestCalculateWeights_EmptyRegistry(t *testing.T) {
	env := newWeightEnv(t)

	scores, err := env.service.CalculateWeights(context.Background())
	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestCalculateWeights_PublishesScores(t *testing.T) {
	env := newWeightEnv(t)
	env.addValid(t, "5MinerA", 1, "A1", time.Hour)

	_, err := env.service.CalculateWeights(context.Background())
	require.NoError(t, err)

	published := env.publisher.byType(events.WeightsCalculated)
	require.Len(t, published, 1)
	event, ok := published[0].Data.(events.WeightsEvent)
	require.True(t, ok)
	assert.Equal(t, env.nowAt, event.CalculatedAt)
	assert.Equal(t, 1.0, event.Scores["5MinerA"])
}
