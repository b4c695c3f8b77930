package application

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/domain"
	"github.com/couponmesh/registry-node/internal/domain/coupon"
	"github.com/couponmesh/registry-node/internal/domain/site"
)

// SiteDTO is the API representation of a site with live slot counts.
type SiteDTO struct {
	ID             int64           `json:"id"`
	BaseURL        string          `json:"base_url"`
	Status         int             `json:"status"`
	Config         json.RawMessage `json:"config,omitempty"`
	MinerHotkey    *string         `json:"miner_hotkey,omitempty"`
	APIURL         *string         `json:"api_url,omitempty"`
	TotalSlots     int             `json:"total_coupon_slots"`
	AvailableSlots int             `json:"available_slots"`
}

// RegistrySiteInput is one site row as reported by the chain registry.
type RegistrySiteInput struct {
	StoreID     int64
	StoreDomain string
	StoreStatus int
	MinerHotkey *string
	Config      json.RawMessage
	APIURL      *string
	TotalSlots  int
}

// SiteService owns the site mirror and the derived slot counter.
// available_slots is never trusted as a stored value: it is recomputed
// from the live coupon count inside the same transaction as every
// status-affecting mutation.
type SiteService struct {
	sites        site.SiteRepository
	coupons      coupon.CouponRepository
	tx           domain.Transactor
	defaultSlots int
	logger       *zap.Logger
}

// NewSiteService creates a SiteService.
func NewSiteService(
	sites site.SiteRepository,
	coupons coupon.CouponRepository,
	tx domain.Transactor,
	defaultSlots int,
	logger *zap.Logger,
) *SiteService {
	return &SiteService{
		sites:        sites,
		coupons:      coupons,
		tx:           tx,
		defaultSlots: defaultSlots,
		logger:       logger,
	}
}

// UpdateAvailableSlots recomputes the site's available slot count from
// the number of coupons currently holding a slot. Must be called after
// every mutation that can change a coupon's slot occupancy.
func (s *SiteService) UpdateAvailableSlots(ctx context.Context, siteID int64) error {
	st, err := s.sites.FindByID(ctx, siteID)
	if err != nil {
		return err
	}
	occupying, err := s.coupons.CountOccupying(ctx, siteID)
	if err != nil {
		return err
	}
	st.RecomputeSlots(occupying)
	return s.sites.Update(ctx, st)
}

// CanSubmit reports whether the site has a free slot, recomputed from
// the live coupon count rather than the stored column.
func (s *SiteService) CanSubmit(ctx context.Context, siteID int64) (bool, error) {
	st, err := s.sites.FindByID(ctx, siteID)
	if err != nil {
		return false, err
	}
	occupying, err := s.coupons.CountOccupying(ctx, siteID)
	if err != nil {
		return false, err
	}
	st.RecomputeSlots(occupying)
	return st.CanSubmit(), nil
}

// GetWithSlots returns a site with its slot counts freshly derived.
func (s *SiteService) GetWithSlots(ctx context.Context, siteID int64) (*SiteDTO, error) {
	st, err := s.sites.FindByID(ctx, siteID)
	if err != nil {
		return nil, err
	}
	occupying, err := s.coupons.CountOccupying(ctx, siteID)
	if err != nil {
		return nil, err
	}
	st.RecomputeSlots(occupying)
	dto := toSiteDTO(st)
	return &dto, nil
}

// List returns a page of mirrored sites.
func (s *SiteService) List(ctx context.Context, pageSize, pageNumber int) ([]SiteDTO, int64, error) {
	sites, total, err := s.sites.List(ctx, pageSize, pageNumber)
	if err != nil {
		return nil, 0, err
	}
	dtos := make([]SiteDTO, len(sites))
	for i, st := range sites {
		dtos[i] = toSiteDTO(st)
	}
	return dtos, total, nil
}

// UpsertFromRegistry inserts or refreshes one site from the chain
// registry. A site that leaves the active state has its VALID coupons
// knocked back to PENDING so they re-prove validity if it returns.
func (s *SiteService) UpsertFromRegistry(ctx context.Context, input RegistrySiteInput) error {
	return s.tx.InTransaction(ctx, func(ctx context.Context) error {
		totalSlots := input.TotalSlots
		if totalSlots <= 0 {
			totalSlots = s.defaultSlots
		}
		newStatus := site.Status(input.StoreStatus)

		existing, err := s.sites.FindByID(ctx, input.StoreID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		if existing == nil {
			return s.sites.Save(ctx, &site.Site{
				ID:             input.StoreID,
				BaseURL:        input.StoreDomain,
				Status:         newStatus,
				Config:         input.Config,
				MinerHotkey:    input.MinerHotkey,
				APIURL:         input.APIURL,
				TotalSlots:     totalSlots,
				AvailableSlots: totalSlots,
			})
		}

		previousStatus := existing.Status
		existing.BaseURL = input.StoreDomain
		existing.Status = newStatus
		existing.Config = input.Config
		existing.MinerHotkey = input.MinerHotkey
		existing.APIURL = input.APIURL
		existing.TotalSlots = totalSlots

		if previousStatus == site.StatusActive && newStatus != site.StatusActive {
			if err := s.demoteValidCoupons(ctx, input.StoreID); err != nil {
				return err
			}
			s.logger.Info("site left active state, valid coupons moved to pending",
				zap.Int64("site_id", input.StoreID),
				zap.String("status", newStatus.String()),
			)
		}

		occupying, err := s.coupons.CountOccupying(ctx, input.StoreID)
		if err != nil {
			return err
		}
		existing.RecomputeSlots(occupying)
		return s.sites.Update(ctx, existing)
	})
}

// demoteValidCoupons moves a site's VALID coupons back to PENDING.
func (s *SiteService) demoteValidCoupons(ctx context.Context, siteID int64) error {
	status := coupon.StatusValid
	valid, err := s.coupons.List(ctx, coupon.ListFilter{SiteID: &siteID, Status: &status})
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, c := range valid {
		c.ResetToPending()
		c.StampChecked(now)
		if err := s.coupons.Update(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func toSiteDTO(st *site.Site) SiteDTO {
	return SiteDTO{
		ID:             st.ID,
		BaseURL:        st.BaseURL,
		Status:         int(st.Status),
		Config:         st.Config,
		MinerHotkey:    st.MinerHotkey,
		APIURL:         st.APIURL,
		TotalSlots:     st.TotalSlots,
		AvailableSlots: st.AvailableSlots,
	}
}
