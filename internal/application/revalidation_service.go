package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/checker"
	"github.com/couponmesh/registry-node/internal/domain"
	"github.com/couponmesh/registry-node/internal/domain/coupon"
	"github.com/couponmesh/registry-node/internal/domain/site"
	"github.com/couponmesh/registry-node/internal/metrics"
)

// CheckerFactory selects the redemption checker for a site. Satisfied
// by checker.Factory.
type CheckerFactory interface {
	ForSite(st *site.Site) (checker.Checker, error)
}

// RevalidationService drives the periodic redemption checks: fresh
// PENDING coupons get their first verdict, long-VALID coupons are
// re-tested, and coupons on sites that went inactive are knocked back
// to PENDING until the site returns.
type RevalidationService struct {
	coupons         coupon.CouponRepository
	sites           site.SiteRepository
	siteSvc         *SiteService
	factory         CheckerFactory
	tx              domain.Transactor
	metrics         *metrics.Metrics
	recheckInterval time.Duration
	logger          *zap.Logger
	now             func() time.Time
}

func NewRevalidationService(
	coupons coupon.CouponRepository,
	sites site.SiteRepository,
	siteSvc *SiteService,
	factory CheckerFactory,
	tx domain.Transactor,
	m *metrics.Metrics,
	recheckInterval time.Duration,
	logger *zap.Logger,
) *RevalidationService {
	return &RevalidationService{
		coupons:         coupons,
		sites:           sites,
		siteSvc:         siteSvc,
		factory:         factory,
		tx:              tx,
		metrics:         m,
		recheckInterval: recheckInterval,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// ValidatePending checks every coupon still awaiting its first
// verdict.
func (s *RevalidationService) ValidatePending(ctx context.Context) error {
	return s.validateByStatus(ctx, coupon.StatusPending, nil)
}

// ValidateOutdated re-tests VALID coupons whose last check is older
// than the recheck interval, so revoked codes eventually lose their
// status.
func (s *RevalidationService) ValidateOutdated(ctx context.Context) error {
	cutoff := s.now().Add(-s.recheckInterval)
	return s.validateByStatus(ctx, coupon.StatusValid, &cutoff)
}

func (s *RevalidationService) validateByStatus(ctx context.Context, status coupon.Status, lastCheckedTo *time.Time) error {
	found, err := s.coupons.List(ctx, coupon.ListFilter{
		Status:        &status,
		LastCheckedTo: lastCheckedTo,
	})
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return nil
	}
	s.logger.Info("validating coupons",
		zap.String("status", status.String()),
		zap.Int("count", len(found)),
	)

	bySite := make(map[int64][]*coupon.Coupon)
	for _, c := range found {
		bySite[c.SiteID()] = append(bySite[c.SiteID()], c)
	}

	for siteID, batch := range bySite {
		if err := s.validateSiteBatch(ctx, siteID, batch); err != nil {
			s.logger.Error("site batch validation failed",
				zap.Int64("site_id", siteID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (s *RevalidationService) validateSiteBatch(ctx context.Context, siteID int64, batch []*coupon.Coupon) error {
	st, err := s.sites.FindByID(ctx, siteID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if st == nil || st.Status != site.StatusActive {
		return s.knockBackBatch(ctx, siteID, batch)
	}

	chk, err := s.factory.ForSite(st)
	if err != nil {
		s.logger.Error("no checker available for site",
			zap.Int64("site_id", siteID),
			zap.Error(err),
		)
		return nil
	}

	outcomes, err := chk.Check(ctx, batch)
	if err != nil {
		// The whole batch failed: treat every coupon as unredeemable
		// until a later pass can prove otherwise.
		return s.tx.InTransaction(ctx, func(ctx context.Context) error {
			now := s.now()
			for _, c := range batch {
				c.MarkInvalid(now)
				if err := s.coupons.Update(ctx, c); err != nil {
					return err
				}
				s.metrics.CheckerOutcomes.WithLabelValues("error").Inc()
			}
			return s.siteSvc.UpdateAvailableSlots(ctx, siteID)
		})
	}

	return s.tx.InTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		for _, outcome := range outcomes {
			c := outcome.Coupon
			if len(outcome.Rule) > 0 {
				c.SetRule(outcome.Rule)
			}
			switch outcome.Result {
			case checker.ResultValid:
				c.MarkValid(now)
			case checker.ResultInvalid:
				c.MarkInvalid(now)
			default:
				c.StampChecked(now)
			}
			if err := s.coupons.Update(ctx, c); err != nil {
				return err
			}
			s.metrics.CheckerOutcomes.WithLabelValues(outcome.Result.String()).Inc()
		}
		return s.siteSvc.UpdateAvailableSlots(ctx, siteID)
	})
}

// knockBackBatch demotes VALID coupons on an unavailable site back to
// PENDING; they will be re-checked once the site is active again.
func (s *RevalidationService) knockBackBatch(ctx context.Context, siteID int64, batch []*coupon.Coupon) error {
	s.logger.Warn("site missing or inactive, demoting valid coupons",
		zap.Int64("site_id", siteID),
	)
	return s.tx.InTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		for _, c := range batch {
			if c.Status() != coupon.StatusValid {
				continue
			}
			c.ResetToPending()
			c.StampChecked(now)
			if err := s.coupons.Update(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
}
