package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/couponmesh/registry-node/internal/application"
	"github.com/couponmesh/registry-node/internal/auth"
	"github.com/couponmesh/registry-node/internal/response"
)

const signatureHeader = "X-Signature"

// CouponHandler handles HTTP requests for coupon actions and the
// coupon feed.
type CouponHandler struct {
	service   *application.CouponService
	metagraph *application.MetagraphService
	verifier  *auth.Authenticator
	ownHotkey string
	logger    *zap.Logger
}

// NewCouponHandler creates a new CouponHandler.
func NewCouponHandler(
	service *application.CouponService,
	metagraphSvc *application.MetagraphService,
	verifier *auth.Authenticator,
	ownHotkey string,
	logger *zap.Logger,
) *CouponHandler {
	return &CouponHandler{
		service:   service,
		metagraph: metagraphSvc,
		verifier:  verifier,
		ownHotkey: ownHotkey,
		logger:    logger,
	}
}

// RegisterRoutes registers all coupon routes on the given router group.
func (h *CouponHandler) RegisterRoutes(r *gin.RouterGroup) {
	coupons := r.Group("/coupons")
	{
		coupons.PUT("", h.SubmitCoupon)
		coupons.GET("", h.ListCoupons)
		coupons.POST("/delete", h.DeleteCoupon)
		coupons.POST("/recheck", h.RecheckCoupon)
	}
}

// SubmitCoupon handles PUT /api/v1/coupons
func (h *CouponHandler) SubmitCoupon(c *gin.Context) {
	signature := c.GetHeader(signatureHeader)
	if signature == "" {
		response.Unauthorized(c, "missing "+signatureHeader+" header")
		return
	}

	var req application.SubmitCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.SubmitCoupon(c.Request.Context(), req, signature, h.ownHotkey)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// DeleteCoupon handles POST /api/v1/coupons/delete
func (h *CouponHandler) DeleteCoupon(c *gin.Context) {
	signature := c.GetHeader(signatureHeader)
	if signature == "" {
		response.Unauthorized(c, "missing "+signatureHeader+" header")
		return
	}

	var req application.DeleteCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.DeleteCoupon(c.Request.Context(), req, signature)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// RecheckCoupon handles POST /api/v1/coupons/recheck
func (h *CouponHandler) RecheckCoupon(c *gin.Context) {
	signature := c.GetHeader(signatureHeader)
	if signature == "" {
		response.Unauthorized(c, "missing "+signatureHeader+" header")
		return
	}

	var req application.RecheckCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.service.RecheckCoupon(c.Request.Context(), req, signature)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// ListCoupons handles GET /api/v1/coupons. Without peer credentials
// the feed hides records newer than the submit window; an
// Authorization header of the form hotkey.nonce.sig from a registered
// validator lifts that filter.
func (h *CouponHandler) ListCoupons(c *gin.Context) {
	query := application.ListCouponsQuery{
		SortBy:     c.DefaultQuery("sort_by", "updated_at"),
		PageSize:   20,
		PageNumber: 1,
	}

	if v := c.Query("miner_hotkey"); v != "" {
		query.MinerHotkey = &v
	}
	if v := c.Query("site_id"); v != "" {
		siteID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid site_id")
			return
		}
		query.SiteID = &siteID
	}
	if v := c.Query("status"); v != "" {
		status, err := strconv.Atoi(v)
		if err != nil {
			response.BadRequest(c, "invalid status")
			return
		}
		query.Status = &status
	}
	for param, target := range map[string]**time.Time{
		"updated_from":     &query.UpdatedFrom,
		"created_from":     &query.CreatedFrom,
		"last_action_from": &query.LastActionFrom,
	} {
		if v := c.Query(param); v != "" {
			parsed, err := parseQueryTime(v)
			if err != nil {
				response.BadRequest(c, "invalid "+param)
				return
			}
			*target = parsed
		}
	}
	if v := c.Query("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size <= 0 || size > 100 {
			response.BadRequest(c, "page_size must be between 1 and 100")
			return
		}
		query.PageSize = size
	}
	if v := c.Query("page_number"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page <= 0 {
			response.BadRequest(c, "page_number must be positive")
			return
		}
		query.PageNumber = page
	}

	if header := c.GetHeader("Authorization"); header != "" {
		bypass, reason := h.verifyPeerAuth(c, header)
		if !bypass {
			response.Unauthorized(c, reason)
			return
		}
		query.BypassWindow = true
	}

	dtos, err := h.service.ListCoupons(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dtos)
}

// verifyPeerAuth checks an Authorization header of the form
// hotkey.nonce.sig: the nonce is a millisecond timestamp no older than
// the submit window, the hotkey must be a registered validator, and
// the signature must cover {hotkey, nonce}.
func (h *CouponHandler) verifyPeerAuth(c *gin.Context, header string) (bool, string) {
	parts := strings.Split(header, ".")
	if len(parts) != 3 {
		return false, "invalid Authorization format"
	}
	hotkey, nonceStr, sigHex := parts[0], parts[1], parts[2]

	nonce, err := strconv.ParseInt(nonceStr, 10, 64)
	if err != nil {
		return false, "invalid Authorization nonce"
	}
	if time.Now().UTC().UnixMilli()-nonce > h.service.SubmitWindow().Milliseconds() {
		return false, "nonce expired"
	}

	isValidator, err := h.metagraph.IsKnownValidator(c.Request.Context(), hotkey)
	if err != nil {
		h.logger.Error("validator lookup failed", zap.String("hotkey", hotkey), zap.Error(err))
		return false, "validator lookup failed"
	}
	if !isValidator {
		return false, "hotkey is not a registered validator"
	}
	if !h.verifier.VerifyPeerAuth(hotkey, nonce, sigHex) {
		return false, "invalid signature"
	}
	return true, ""
}

func parseQueryTime(value string) (*time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
