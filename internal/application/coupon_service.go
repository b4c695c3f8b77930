package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/auth"
	"github.com/couponmesh/registry-node/internal/config"
	"github.com/couponmesh/registry-node/internal/domain"
	"github.com/couponmesh/registry-node/internal/domain/coupon"
	"github.com/couponmesh/registry-node/internal/domain/metagraph"
	"github.com/couponmesh/registry-node/internal/domain/ownership"
	"github.com/couponmesh/registry-node/internal/domain/site"
	"github.com/couponmesh/registry-node/internal/domain/syncstate"
	"github.com/couponmesh/registry-node/internal/events"
	"github.com/couponmesh/registry-node/internal/metrics"
)

// SignatureVerifier authenticates signed action payloads. Satisfied by
// auth.Authenticator.
type SignatureVerifier interface {
	Verify(payload auth.ActionPayload, signatureHex string) bool
	Diagnostics(payload auth.ActionPayload, signatureHex string) map[string]any
}

// EventPublisher publishes lifecycle events best-effort. Satisfied by
// events.Producer.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, key string, data any)
}

// ListCouponsQuery narrows the coupon feed.
type ListCouponsQuery struct {
	MinerHotkey    *string
	SiteID         *int64
	Status         *int
	UpdatedFrom    *time.Time
	CreatedFrom    *time.Time
	LastActionFrom *time.Time
	SortBy         string
	PageSize       int
	PageNumber     int
	// BypassWindow exposes records newer than the submit window;
	// granted only to authenticated peer validators.
	BypassWindow bool
}

// CouponService is the coupon lifecycle engine: it owns admission
// control, ownership resolution and the merge path used by peer sync.
type CouponService struct {
	coupons    coupon.CouponRepository
	ownerships ownership.OwnershipRepository
	sites      site.SiteRepository
	categories site.CategoryRepository
	nodes      metagraph.NodeRepository
	syncState  syncstate.StateRepository
	siteSvc    *SiteService
	tx         domain.Transactor
	verifier   SignatureVerifier
	publisher  EventPublisher
	metrics    *metrics.Metrics
	cfg        config.CouponConfig
	production bool
	logger     *zap.Logger
	now        func() time.Time
}

// NewCouponService creates the lifecycle engine.
func NewCouponService(
	coupons coupon.CouponRepository,
	ownerships ownership.OwnershipRepository,
	sites site.SiteRepository,
	categories site.CategoryRepository,
	nodes metagraph.NodeRepository,
	syncState syncstate.StateRepository,
	siteSvc *SiteService,
	tx domain.Transactor,
	verifier SignatureVerifier,
	publisher EventPublisher,
	m *metrics.Metrics,
	cfg config.CouponConfig,
	production bool,
	logger *zap.Logger,
) *CouponService {
	return &CouponService{
		coupons:    coupons,
		ownerships: ownerships,
		sites:      sites,
		categories: categories,
		nodes:      nodes,
		syncState:  syncState,
		siteSvc:    siteSvc,
		tx:         tx,
		verifier:   verifier,
		publisher:  publisher,
		metrics:    m,
		cfg:        cfg,
		production: production,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SubmitWindow exposes the configured submit window for callers that
// share its semantics (feed hiding, peer nonce freshness).
func (s *CouponService) SubmitWindow() time.Duration {
	return s.cfg.SubmitWindow
}

// SubmitCoupon authenticates and applies a CREATE action. A coupon
// resubmitted by its owner is overwritten in place; a new code claims
// ownership, a foreign-owned code is rejected.
func (s *CouponService) SubmitCoupon(ctx context.Context, req SubmitCouponRequest, signatureHex, sourceHotkey string) (*SubmitResult, error) {
	if err := s.authenticate(req.ActionRequest, coupon.ActionCreate, signatureHex); err != nil {
		s.metrics.Submissions.WithLabelValues("create", "unauthorized").Inc()
		return nil, err
	}

	var result *SubmitResult
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		st, err := s.validateBase(ctx, req.ActionRequest, false)
		if err != nil {
			return err
		}
		attrs, err := s.validateSubmitPayload(req, st)
		if err != nil {
			return err
		}

		if err := s.checkOwnershipForCreate(ctx, req.SiteID, req.Code, req.Hotkey); err != nil {
			return err
		}

		key := coupon.Key{SiteID: req.SiteID, Code: req.Code, MinerHotkey: req.Hotkey}
		signing := coupon.Signing{MinerColdkey: req.Coldkey, UseColdkeyForSignature: req.UseColdkeyForSignature}

		existing, err := s.coupons.FindByKey(ctx, key)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if existing != nil {
			if err := s.validateCategory(ctx, req.CategoryID); err != nil {
				return err
			}
			if deletedAt := existing.DeletedAt(); deletedAt != nil {
				cooldownEnd := deletedAt.Add(s.cfg.ResubmitCooldown)
				if s.now().Before(cooldownEnd) {
					return domain.NewValidationError(
						"cannot resubmit this coupon: it was deleted less than %d hours ago, try again after %s",
						int(s.cfg.ResubmitCooldown.Hours()), cooldownEnd.Format(time.RFC3339),
					)
				}
				// Reactivating a tombstone re-occupies a slot and counts
				// against the quota again, so it passes the same admission
				// checks as a brand-new code. The tombstoned row itself is
				// excluded from the duplicate and quota counts.
				if err := s.validateAdmission(ctx, req); err != nil {
					return err
				}
			}
			existing.Resubmit(*attrs, signing, sourceHotkey, req.SubmittedAt, signatureHex)
			if err := s.coupons.Update(ctx, existing); err != nil {
				return err
			}
			if err := s.coupons.LogAction(ctx, coupon.NewActionLog(existing, coupon.ActionCreate, req.SubmittedAt, signatureHex, sourceHotkey)); err != nil {
				return err
			}
			if err := s.ensureOwnership(ctx, req.SiteID, req.Code, req.Hotkey); err != nil {
				return err
			}
			if err := s.siteSvc.UpdateAvailableSlots(ctx, req.SiteID); err != nil {
				return err
			}
			result = &SubmitResult{CouponID: existing.ID(), IsNew: false}
			return nil
		}

		if err := s.validateCategory(ctx, req.CategoryID); err != nil {
			return err
		}
		if err := s.validateAdmission(ctx, req); err != nil {
			return err
		}

		created := coupon.New(key, *attrs, signing, sourceHotkey, req.SubmittedAt, signatureHex)
		if err := s.coupons.Save(ctx, created); err != nil {
			return err
		}
		if err := s.coupons.LogAction(ctx, coupon.NewActionLog(created, coupon.ActionCreate, req.SubmittedAt, signatureHex, sourceHotkey)); err != nil {
			return err
		}
		if err := s.ensureOwnership(ctx, req.SiteID, req.Code, req.Hotkey); err != nil {
			return err
		}
		if err := s.siteSvc.UpdateAvailableSlots(ctx, req.SiteID); err != nil {
			return err
		}
		result = &SubmitResult{CouponID: created.ID(), IsNew: true}
		return nil
	})
	if err != nil {
		s.metrics.Submissions.WithLabelValues("create", "rejected").Inc()
		return nil, err
	}

	s.metrics.Submissions.WithLabelValues("create", "accepted").Inc()
	s.publisher.Publish(ctx, events.CouponSubmitted, result.CouponID, events.CouponEvent{
		SiteID:      req.SiteID,
		Code:        req.Code,
		MinerHotkey: req.Hotkey,
		Status:      coupon.StatusPending.String(),
		Action:      coupon.ActionCreate.String(),
	})
	return result, nil
}

// DeleteCoupon authenticates and applies a DELETE action: the record
// gets a tombstone and stays for audit and sync, ownership is vacated.
func (s *CouponService) DeleteCoupon(ctx context.Context, req DeleteCouponRequest, signatureHex string) (*ActionResult, error) {
	if err := s.authenticate(req.ActionRequest, coupon.ActionDelete, signatureHex); err != nil {
		s.metrics.Submissions.WithLabelValues("delete", "unauthorized").Inc()
		return nil, err
	}

	var result *ActionResult
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.validateBase(ctx, req.ActionRequest, false); err != nil {
			return err
		}

		key := coupon.Key{SiteID: req.SiteID, Code: req.Code, MinerHotkey: req.Hotkey}
		existing, err := s.coupons.FindByKey(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewValidationError("coupon code %q does not exist", req.Code)
			}
			return err
		}
		if existing.IsDeleted() {
			return domain.NewValidationError("coupon code %q has already been deleted", req.Code)
		}

		existing.MarkDeleted(req.SubmittedAt, signatureHex)
		if err := s.coupons.Update(ctx, existing); err != nil {
			return err
		}
		if err := s.coupons.LogAction(ctx, coupon.NewActionLog(existing, coupon.ActionDelete, req.SubmittedAt, signatureHex, existing.SourceHotkey())); err != nil {
			return err
		}
		if err := s.vacateOwnership(ctx, req.SiteID, req.Code); err != nil {
			return err
		}
		if err := s.siteSvc.UpdateAvailableSlots(ctx, req.SiteID); err != nil {
			return err
		}
		result = &ActionResult{CouponID: existing.ID()}
		return nil
	})
	if err != nil {
		s.metrics.Submissions.WithLabelValues("delete", "rejected").Inc()
		return nil, err
	}

	s.metrics.Submissions.WithLabelValues("delete", "accepted").Inc()
	s.publisher.Publish(ctx, events.CouponDeleted, result.CouponID, events.CouponEvent{
		SiteID:      req.SiteID,
		Code:        req.Code,
		MinerHotkey: req.Hotkey,
		Status:      coupon.StatusDeleted.String(),
		Action:      coupon.ActionDelete.String(),
	})
	return result, nil
}

// RecheckCoupon authenticates and applies a RECHECK action: an INVALID
// coupon returns to PENDING so the next validation sweep re-tests it.
// Ownership is untouched.
func (s *CouponService) RecheckCoupon(ctx context.Context, req RecheckCouponRequest, signatureHex string) (*ActionResult, error) {
	if err := s.authenticate(req.ActionRequest, coupon.ActionRecheck, signatureHex); err != nil {
		s.metrics.Submissions.WithLabelValues("recheck", "unauthorized").Inc()
		return nil, err
	}

	var result *ActionResult
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.validateBase(ctx, req.ActionRequest, false); err != nil {
			return err
		}

		canSubmit, err := s.siteSvc.CanSubmit(ctx, req.SiteID)
		if err != nil {
			return err
		}
		if !canSubmit {
			return domain.NewValidationError(
				"cannot recheck coupon: site %d has no available slots, wait for slots to free up", req.SiteID,
			)
		}

		key := coupon.Key{SiteID: req.SiteID, Code: req.Code, MinerHotkey: req.Hotkey}
		existing, err := s.coupons.FindByKey(ctx, key)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return domain.NewValidationError("coupon code %q does not exist", req.Code)
			}
			return err
		}
		if existing.IsDeleted() {
			return domain.NewValidationError("coupon %q seems to be deleted by its owner", req.Code)
		}
		if existing.Status() != coupon.StatusInvalid {
			return domain.NewValidationError("only invalid coupons can be rechecked, coupon %q is %s", req.Code, existing.Status())
		}
		if lastChecked := existing.LastCheckedAt(); lastChecked != nil {
			nextCheck := lastChecked.Add(s.cfg.RecheckCooldown)
			if s.now().Before(nextCheck) {
				return domain.NewValidationError(
					"re-validation can be requested once every %d hours, try again after %s",
					int(s.cfg.RecheckCooldown.Hours()), nextCheck.Format(time.RFC3339),
				)
			}
		}

		existing.MarkRecheck(req.SubmittedAt, signatureHex)
		if err := s.coupons.Update(ctx, existing); err != nil {
			return err
		}
		if err := s.coupons.LogAction(ctx, coupon.NewActionLog(existing, coupon.ActionRecheck, req.SubmittedAt, signatureHex, existing.SourceHotkey())); err != nil {
			return err
		}
		if err := s.siteSvc.UpdateAvailableSlots(ctx, req.SiteID); err != nil {
			return err
		}
		result = &ActionResult{CouponID: existing.ID()}
		return nil
	})
	if err != nil {
		s.metrics.Submissions.WithLabelValues("recheck", "rejected").Inc()
		return nil, err
	}
	s.metrics.Submissions.WithLabelValues("recheck", "accepted").Inc()
	return result, nil
}

// ListCoupons serves the coupon feed. Without BypassWindow, records
// whose last action falls inside the submit window stay hidden so
// peers cannot front-run unconfirmed submissions.
func (s *CouponService) ListCoupons(ctx context.Context, q ListCouponsQuery) ([]CouponDTO, error) {
	filter := coupon.ListFilter{
		MinerHotkey:    q.MinerHotkey,
		SiteID:         q.SiteID,
		UpdatedFrom:    q.UpdatedFrom,
		CreatedFrom:    q.CreatedFrom,
		LastActionFrom: q.LastActionFrom,
		PageSize:       q.PageSize,
		PageNumber:     q.PageNumber,
		SortBy:         coupon.SortField(q.SortBy),
	}
	if q.Status != nil {
		st := coupon.Status(*q.Status)
		filter.Status = &st
	}
	if !q.BypassWindow {
		cutoff := s.now().Add(-s.cfg.SubmitWindow)
		filter.LastActionBefore = &cutoff
	}

	found, err := s.coupons.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	dtos := make([]CouponDTO, len(found))
	for i, c := range found {
		dtos[i] = toCouponDTO(c)
	}
	return dtos, nil
}

// MergeRemoteBatch applies a batch of peer records through the
// last-action-wins merge. Per-record failures are logged and skipped,
// never failing the batch: each record runs in its own transaction.
// Returns the number of applied records.
func (s *CouponService) MergeRemoteBatch(ctx context.Context, records []CouponDTO, sourceHotkey string) int {
	applied := 0
	for _, record := range records {
		ok, err := s.mergeRemote(ctx, record, sourceHotkey)
		if err != nil {
			s.logger.Error("failed to merge synced coupon",
				zap.String("code", record.Code),
				zap.Int64("site_id", record.SiteID),
				zap.String("peer", sourceHotkey),
				zap.Error(err),
			)
			continue
		}
		if ok {
			applied++
			s.metrics.SyncMerged.Inc()
		}
	}
	return applied
}

// mergeRemote applies one peer record. The record's embedded signature
// is re-verified as a typed action, independent of the submit window.
func (s *CouponService) mergeRemote(ctx context.Context, record CouponDTO, sourceHotkey string) (bool, error) {
	action := coupon.Action(record.LastAction)
	if action != coupon.ActionCreate && action != coupon.ActionRecheck && action != coupon.ActionDelete {
		s.logger.Error("synced coupon carries unmapped action, skipping",
			zap.Int("action", record.LastAction),
			zap.String("code", record.Code),
			zap.String("peer", sourceHotkey),
		)
		return false, nil
	}

	payload := auth.ActionPayload{
		Hotkey:                 record.MinerHotkey,
		Coldkey:                record.MinerColdkey,
		UseColdkeyForSignature: record.UseColdkeyForSignature,
		SiteID:                 record.SiteID,
		Code:                   record.Code,
		SubmittedAt:            record.LastActionDate,
		Action:                 action,
	}
	if !s.verifier.Verify(payload, record.LastActionSignature) {
		s.logger.Warn("invalid signature on synced coupon, skipping",
			zap.String("code", record.Code),
			zap.String("miner", record.MinerHotkey),
			zap.String("peer", sourceHotkey),
		)
		return false, nil
	}

	applied := false
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		key := coupon.Key{SiteID: record.SiteID, Code: record.Code, MinerHotkey: record.MinerHotkey}
		existing, err := s.coupons.FindByKey(ctx, key)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if existing == nil {
			created := coupon.FromRemote(toRemote(record), sourceHotkey)
			if err := s.coupons.Save(ctx, created); err != nil {
				return err
			}
			if err := s.syncOwnership(ctx, created); err != nil {
				return err
			}
			if err := s.recomputeMergedSiteSlots(ctx, record.SiteID); err != nil {
				return err
			}
			applied = true
			return nil
		}

		// Last-action-wins: apply only a strictly newer action.
		if !existing.ApplyRemote(toRemote(record), sourceHotkey) {
			return nil
		}
		if err := s.coupons.Update(ctx, existing); err != nil {
			return err
		}
		if err := s.syncOwnership(ctx, existing); err != nil {
			return err
		}
		if err := s.recomputeMergedSiteSlots(ctx, record.SiteID); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// recomputeMergedSiteSlots recomputes capacity after a merge. A peer
// can reference a site this node has not mirrored yet; the record is
// kept anyway and its slots are counted once the site registry
// refresh picks the site up.
func (s *CouponService) recomputeMergedSiteSlots(ctx context.Context, siteID int64) error {
	err := s.siteSvc.UpdateAvailableSlots(ctx, siteID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Debug("merged coupon references an unmirrored site, slot recompute deferred",
			zap.Int64("site_id", siteID))
		return nil
	}
	return err
}

// syncOwnership resolves ownership for a merged record. Unlike the
// local path, a foreign claim is allowed here and recorded as a
// contest so nodes that observed conflicting claims still converge on
// the newest action. A merged tombstone vacates the claim instead.
func (s *CouponService) syncOwnership(ctx context.Context, c *coupon.Coupon) error {
	if c.IsDeleted() {
		return s.vacateOwnership(ctx, c.SiteID(), c.Code())
	}
	return s.ensureOwnership(ctx, c.SiteID(), c.Code(), c.MinerHotkey())
}

// ExpireOverdue transitions overdue PENDING/VALID coupons to EXPIRED
// and recomputes slots once per affected site.
func (s *CouponService) ExpireOverdue(ctx context.Context) (int, error) {
	expired := 0
	err := s.tx.InTransaction(ctx, func(ctx context.Context) error {
		now := s.now()
		overdue, err := s.coupons.ListExpired(ctx, now)
		if err != nil {
			return err
		}
		if len(overdue) == 0 {
			return nil
		}

		siteIDs := make(map[int64]struct{})
		for _, c := range overdue {
			c.Expire(now)
			if err := s.coupons.Update(ctx, c); err != nil {
				return err
			}
			siteIDs[c.SiteID()] = struct{}{}
		}
		for siteID := range siteIDs {
			if err := s.siteSvc.UpdateAvailableSlots(ctx, siteID); err != nil {
				return err
			}
		}
		expired = len(overdue)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.logger.Info("expired overdue coupons", zap.Int("count", expired))
	}
	return expired, nil
}

// authenticate verifies the action signature. Outside production the
// returned error carries the canonical message and key diagnostics.
func (s *CouponService) authenticate(req ActionRequest, action coupon.Action, signatureHex string) error {
	payload := auth.ActionPayload{
		Hotkey:                 req.Hotkey,
		Coldkey:                req.Coldkey,
		UseColdkeyForSignature: req.UseColdkeyForSignature,
		SiteID:                 req.SiteID,
		Code:                   req.Code,
		SubmittedAt:            req.SubmittedAt,
		Action:                 action,
	}
	if s.verifier.Verify(payload, signatureHex) {
		return nil
	}
	err := domain.NewUnauthorizedError("signature verification failed")
	if !s.production {
		for k, v := range s.verifier.Diagnostics(payload, signatureHex) {
			err = err.WithContext(k, v)
		}
	}
	return err
}

// validateBase runs the shared admission checks. fromSync bypasses the
// window, identity and suspension checks but still requires a known,
// non-inactive site.
func (s *CouponService) validateBase(ctx context.Context, req ActionRequest, fromSync bool) (*site.Site, error) {
	if !fromSync {
		nowMs := s.now().UnixMilli()
		windowStart := nowMs - s.cfg.SubmitWindow.Milliseconds()
		if req.SubmittedAt < windowStart || req.SubmittedAt >= nowMs {
			return nil, domain.NewValidationError(
				"coupon was submitted outside the allowed %d-minute time window",
				int(s.cfg.SubmitWindow.Minutes()),
			)
		}

		node, err := s.nodes.FindByHotkey(ctx, req.Hotkey)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if node == nil || node.IsValidator {
			return nil, domain.NewValidationError("miner hotkey %s is not registered in the subnet", req.Hotkey)
		}
		if req.Coldkey != nil && node.Coldkey != *req.Coldkey {
			return nil, domain.NewValidationError(
				"miner coldkey %s does not match the registered coldkey for hotkey %s", *req.Coldkey, req.Hotkey,
			)
		}

		progress, err := s.syncState.GetProgress(ctx)
		if err != nil {
			return nil, err
		}
		if progress != nil {
			return nil, domain.NewValidationError("coupon submission is disabled while the validator synchronizes, try again later")
		}
	}

	st, err := s.sites.FindByID(ctx, req.SiteID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("site with id %d does not exist", req.SiteID)
		}
		return nil, err
	}
	if st.Status == site.StatusInactive {
		return nil, domain.NewValidationError(
			"unable to validate coupon %q because site %s is currently inactive", req.Code, st.BaseURL,
		)
	}
	return st, nil
}

// validateSubmitPayload checks the submission fields against the site
// and returns the normalized coupon attributes.
func (s *CouponService) validateSubmitPayload(req SubmitCouponRequest, st *site.Site) (*coupon.Attributes, error) {
	if err := validateCode(req.Code); err != nil {
		return nil, err
	}
	if !auth.IsValidSS58(req.Hotkey) {
		return nil, domain.NewValidationError("hotkey is not a valid ss58 address")
	}
	if req.Coldkey != nil && !auth.IsValidSS58(*req.Coldkey) {
		return nil, domain.NewValidationError("coldkey is not a valid ss58 address")
	}
	countryCode, err := validateCountryCode(req.CountryCode)
	if err != nil {
		return nil, err
	}
	if req.UsedOnProductURL != nil {
		if err := validateProductURL(*req.UsedOnProductURL, st.BaseURL); err != nil {
			return nil, err
		}
	}
	validUntil, err := parseValidUntil(req.ValidUntil, s.now())
	if err != nil {
		return nil, err
	}
	return &coupon.Attributes{
		CategoryID:         req.CategoryID,
		UsedOnProductURL:   req.UsedOnProductURL,
		Restrictions:       req.Restrictions,
		CountryCode:        countryCode,
		DiscountValue:      req.DiscountValue,
		DiscountPercentage: req.DiscountPercentage,
		IsGlobal:           req.IsGlobal,
		ValidUntil:         validUntil,
	}, nil
}

// validateCategory checks that a declared category exists.
func (s *CouponService) validateCategory(ctx context.Context, categoryID *int64) error {
	if categoryID == nil {
		return nil
	}
	if _, err := s.categories.FindByID(ctx, *categoryID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NewValidationError("category with id %d does not exist", *categoryID)
		}
		return err
	}
	return nil
}

// validateAdmission runs the checks that gate any submission occupying
// a new slot: cross-miner duplicate, site capacity and the per-miner
// quota. An in-place overwrite of a live record skips these since its
// occupancy does not change.
func (s *CouponService) validateAdmission(ctx context.Context, req SubmitCouponRequest) error {
	duplicate, err := s.coupons.FindActiveByCode(ctx, req.SiteID, req.Code)
	if err != nil {
		return err
	}
	if duplicate != nil {
		return domain.NewValidationError("coupon code %q already exists", req.Code)
	}

	canSubmit, err := s.siteSvc.CanSubmit(ctx, req.SiteID)
	if err != nil {
		return err
	}
	if !canSubmit {
		return domain.NewValidationError(
			"site with id %d has no available slots for new coupons, try again later", req.SiteID,
		)
	}

	minerCount, err := s.coupons.CountActiveForMiner(ctx, req.SiteID, req.Hotkey)
	if err != nil {
		return err
	}
	if minerCount >= int64(s.cfg.MaxCouponsPerMinerOnSite) {
		return domain.NewValidationError(
			"you have reached the maximum of %d coupons per site, delete existing coupons before submitting new ones",
			s.cfg.MaxCouponsPerMinerOnSite,
		)
	}
	return nil
}

// checkOwnershipForCreate enforces strict local ownership: a code that
// is currently owned by a different identity cannot be claimed.
func (s *CouponService) checkOwnershipForCreate(ctx context.Context, siteID int64, code, minerHotkey string) error {
	own, err := s.ownerships.Find(ctx, siteID, code)
	if err != nil {
		return err
	}
	if own != nil && !own.IsVacant() && !own.IsOwnedBy(minerHotkey) {
		return domain.NewValidationError(
			"coupon code %q is already owned by another miner, only the current owner can create or update it", code,
		)
	}
	return nil
}

// ensureOwnership upserts the (site, code) claim: create on first
// claim, reclaim when vacated, contest when held by someone else.
func (s *CouponService) ensureOwnership(ctx context.Context, siteID int64, code, ownerHotkey string) error {
	own, err := s.ownerships.Find(ctx, siteID, code)
	if err != nil {
		return err
	}
	if own == nil {
		return s.ownerships.Save(ctx, ownership.New(siteID, code, ownerHotkey))
	}
	if own.IsVacant() {
		own.Reclaim(ownerHotkey)
		return s.ownerships.Update(ctx, own)
	}
	if !own.IsOwnedBy(ownerHotkey) {
		own.Contest()
		return s.ownerships.Update(ctx, own)
	}
	return nil
}

// vacateOwnership clears the owner when the owning coupon is deleted.
// The record survives so the contest history is kept.
func (s *CouponService) vacateOwnership(ctx context.Context, siteID int64, code string) error {
	own, err := s.ownerships.Find(ctx, siteID, code)
	if err != nil || own == nil {
		return err
	}
	own.Vacate()
	return s.ownerships.Update(ctx, own)
}
