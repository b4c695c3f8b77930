package application

import (
	"encoding/json"
	"time"

	"github.com/couponmesh/registry-node/internal/domain/coupon"
)

// ActionRequest carries the fields shared by every signed coupon
// action. The binding tags mirror the wire format peers and miners
// sign against.
type ActionRequest struct {
	Hotkey                 string  `json:"hotkey" binding:"required"`
	Coldkey                *string `json:"coldkey,omitempty"`
	UseColdkeyForSignature *bool   `json:"use_coldkey_for_signature,omitempty"`
	SiteID                 int64   `json:"site_id" binding:"required"`
	Code                   string  `json:"code" binding:"required,min=1,max=100"`
	SubmittedAt            int64   `json:"submitted_at" binding:"required,gt=0"`
}

// SubmitCouponRequest is the payload of PUT /api/v1/coupons.
type SubmitCouponRequest struct {
	ActionRequest
	CategoryID         *int64  `json:"category_id,omitempty"`
	Restrictions       *string `json:"restrictions,omitempty" binding:"omitempty,min=1,max=1000"`
	CountryCode        *string `json:"country_code,omitempty"`
	DiscountValue      *string `json:"discount_value,omitempty" binding:"omitempty,min=1,max=100"`
	DiscountPercentage *int    `json:"discount_percentage,omitempty" binding:"omitempty,gte=0,lte=100"`
	IsGlobal           *bool   `json:"is_global,omitempty"`
	UsedOnProductURL   *string `json:"used_on_product_url,omitempty"`
	ValidUntil         *string `json:"valid_until,omitempty"`
}

// DeleteCouponRequest is the payload of POST /api/v1/coupons/delete.
type DeleteCouponRequest struct {
	ActionRequest
}

// RecheckCouponRequest is the payload of POST /api/v1/coupons/recheck.
type RecheckCouponRequest struct {
	ActionRequest
}

// SubmitResult reports the outcome of an accepted submission.
type SubmitResult struct {
	CouponID string `json:"coupon_id"`
	IsNew    bool   `json:"is_new"`
}

// ActionResult reports the outcome of an accepted delete or recheck.
type ActionResult struct {
	CouponID string `json:"coupon_id"`
}

// CouponDTO is the full coupon record as exposed over the feed and
// consumed by the sync merge path. Field names and enum values are
// part of the inter-validator wire format.
type CouponDTO struct {
	ID                     string          `json:"id"`
	Code                   string          `json:"code"`
	SiteID                 int64           `json:"site_id"`
	CategoryID             *int64          `json:"category_id"`
	UsedOnProductURL       *string         `json:"used_on_product_url"`
	Restrictions           *string         `json:"restrictions"`
	CountryCode            *string         `json:"country_code"`
	DiscountValue          *string         `json:"discount_value"`
	DiscountPercentage     *int            `json:"discount_percentage"`
	IsGlobal               *bool           `json:"is_global"`
	Status                 int             `json:"status"`
	SourceHotkey           string          `json:"source_hotkey"`
	MinerHotkey            string          `json:"miner_hotkey"`
	MinerColdkey           *string         `json:"miner_coldkey"`
	UseColdkeyForSignature *bool           `json:"use_coldkey_for_signature"`
	ValidUntil             *time.Time      `json:"valid_until"`
	DeletedAt              *time.Time      `json:"deleted_at"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
	LastCheckedAt          *time.Time      `json:"last_checked_at"`
	LastAction             int             `json:"last_action"`
	LastActionDate         int64           `json:"last_action_date"`
	LastActionSignature    string          `json:"last_action_signature"`
	LastActionAt           time.Time       `json:"last_action_at"`
	Rule                   json.RawMessage `json:"rule,omitempty"`
}

// toCouponDTO maps a domain coupon to its wire representation.
func toCouponDTO(c *coupon.Coupon) CouponDTO {
	attrs := c.Attributes()
	signing := c.Signing()
	return CouponDTO{
		ID:                     c.ID(),
		Code:                   c.Code(),
		SiteID:                 c.SiteID(),
		CategoryID:             attrs.CategoryID,
		UsedOnProductURL:       attrs.UsedOnProductURL,
		Restrictions:           attrs.Restrictions,
		CountryCode:            attrs.CountryCode,
		DiscountValue:          attrs.DiscountValue,
		DiscountPercentage:     attrs.DiscountPercentage,
		IsGlobal:               attrs.IsGlobal,
		Status:                 int(c.Status()),
		SourceHotkey:           c.SourceHotkey(),
		MinerHotkey:            c.MinerHotkey(),
		MinerColdkey:           signing.MinerColdkey,
		UseColdkeyForSignature: signing.UseColdkeyForSignature,
		ValidUntil:             attrs.ValidUntil,
		DeletedAt:              c.DeletedAt(),
		CreatedAt:              c.CreatedAt(),
		UpdatedAt:              c.UpdatedAt(),
		LastCheckedAt:          c.LastCheckedAt(),
		LastAction:             int(c.LastAction()),
		LastActionDate:         c.LastActionDate(),
		LastActionSignature:    c.LastActionSignature(),
		LastActionAt:           time.UnixMilli(c.LastActionDate()).UTC(),
		Rule:                   attrs.Rule,
	}
}

// toRemote maps a peer feed record to the merge input.
func toRemote(d CouponDTO) coupon.Remote {
	return coupon.Remote{
		Key: coupon.Key{SiteID: d.SiteID, Code: d.Code, MinerHotkey: d.MinerHotkey},
		Attributes: coupon.Attributes{
			CategoryID:         d.CategoryID,
			UsedOnProductURL:   d.UsedOnProductURL,
			Restrictions:       d.Restrictions,
			CountryCode:        d.CountryCode,
			DiscountValue:      d.DiscountValue,
			DiscountPercentage: d.DiscountPercentage,
			IsGlobal:           d.IsGlobal,
			ValidUntil:         d.ValidUntil,
		},
		Signing: coupon.Signing{
			MinerColdkey:           d.MinerColdkey,
			UseColdkeyForSignature: d.UseColdkeyForSignature,
		},
		LastAction:          coupon.Action(d.LastAction),
		LastActionDate:      d.LastActionDate,
		LastActionSignature: d.LastActionSignature,
		CreatedAt:           d.CreatedAt,
		DeletedAt:           d.DeletedAt,
	}
}
