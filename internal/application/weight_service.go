package application

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/config"
	"github.com/couponmesh/registry-node/internal/domain/coupon"
	"github.com/couponmesh/registry-node/internal/events"
	"github.com/couponmesh/registry-node/internal/metrics"
)

const (
	pointsYoungCoupon = 100
	pointsAgedCoupon  = 200
)

// WeightService scores miners from their valid coupon portfolio. A
// coupon that stayed valid past the aging threshold earns double
// points; duplicate codes across miners credit only the earliest
// submitter.
type WeightService struct {
	coupons   coupon.CouponRepository
	publisher EventPublisher
	metrics   *metrics.Metrics
	cfg       config.WeightsConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewWeightService(
	coupons coupon.CouponRepository,
	publisher EventPublisher,
	m *metrics.Metrics,
	cfg config.WeightsConfig,
	logger *zap.Logger,
) *WeightService {
	return &WeightService{
		coupons:   coupons,
		publisher: publisher,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CalculateWeights computes the normalized miner scores and publishes
// them. Scores are relative to the best miner, capped at 1.0.
func (s *WeightService) CalculateWeights(ctx context.Context) (map[string]float64, error) {
	status := coupon.StatusValid
	valid, err := s.coupons.List(ctx, coupon.ListFilter{Status: &status})
	if err != nil {
		return nil, err
	}
	s.logger.Info("calculating weights", zap.Int("valid_coupons", len(valid)))

	deduplicated := s.deduplicateBySiteCode(valid)
	points := s.minerPoints(deduplicated)
	scores := s.normalize(points, s.containerPoints())

	s.metrics.WeightRuns.Inc()
	s.publisher.Publish(ctx, events.WeightsCalculated, "weights", events.WeightsEvent{
		CalculatedAt: s.now(),
		Scores:       scores,
	})
	s.logSummary(points, scores)
	return scores, nil
}

// deduplicateBySiteCode keeps only the earliest submission when
// several miners hold the same code on the same site.
func (s *WeightService) deduplicateBySiteCode(coupons []*coupon.Coupon) []*coupon.Coupon {
	earliest := make(map[string]*coupon.Coupon, len(coupons))
	for _, c := range coupons {
		key := groupKeyOf(c)
		current, ok := earliest[key]
		if !ok || c.CreatedAt().Before(current.CreatedAt()) {
			earliest[key] = c
		}
	}

	result := make([]*coupon.Coupon, 0, len(earliest))
	for _, c := range earliest {
		result = append(result, c)
	}
	return result
}

func groupKeyOf(c *coupon.Coupon) string {
	return coupon.Key{SiteID: c.SiteID(), Code: c.Code()}.String()
}

// minerPoints sums per-coupon points per miner: aged coupons are worth
// double because surviving revalidation is the expensive signal.
func (s *WeightService) minerPoints(coupons []*coupon.Coupon) map[string]int {
	now := s.now()
	points := make(map[string]int)
	for _, c := range coupons {
		pts := pointsYoungCoupon
		if now.Sub(c.CreatedAt()) >= s.cfg.DeltaPoints {
			pts = pointsAgedCoupon
		}
		points[c.MinerHotkey()] += pts
	}
	return points
}

// containerPoints is the second scoring component. No container
// workloads are scored yet, so every miner gets zero.
func (s *WeightService) containerPoints() map[string]int {
	return map[string]int{}
}

// normalize blends coupon points with container points and divides by
// the best miner's total.
func (s *WeightService) normalize(couponPoints, containerPoints map[string]int) map[string]float64 {
	miners := make(map[string]struct{}, len(couponPoints)+len(containerPoints))
	for miner := range couponPoints {
		miners[miner] = struct{}{}
	}
	for miner := range containerPoints {
		miners[miner] = struct{}{}
	}
	if len(miners) == 0 {
		return map[string]float64{}
	}

	totals := make(map[string]float64, len(miners))
	maxPoints := 0.0
	for miner := range miners {
		total := s.cfg.CouponWeight*float64(couponPoints[miner]) +
			s.cfg.ContainerWeight*float64(containerPoints[miner])
		totals[miner] = total
		if total > maxPoints {
			maxPoints = total
		}
	}

	scores := make(map[string]float64, len(totals))
	for miner, total := range totals {
		if maxPoints == 0 {
			scores[miner] = 0
			continue
		}
		scores[miner] = math.Min(1.0, math.Round(total/maxPoints*10000)/10000)
	}
	return scores
}

func (s *WeightService) logSummary(points map[string]int, scores map[string]float64) {
	if len(scores) == 0 {
		s.logger.Info("weight calculation produced no scores")
		return
	}

	type ranked struct {
		miner string
		score float64
	}
	top := make([]ranked, 0, len(scores))
	for miner, score := range scores {
		top = append(top, ranked{miner, score})
	}
	sort.Slice(top, func(i, j int) bool { return top[i].score > top[j].score })
	if len(top) > 5 {
		top = top[:5]
	}
	for i, r := range top {
		s.logger.Info("miner score",
			zap.Int("rank", i+1),
			zap.String("miner", r.miner),
			zap.Float64("score", r.score),
			zap.Int("coupon_points", points[r.miner]),
		)
	}
}
