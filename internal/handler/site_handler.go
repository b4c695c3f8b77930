package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/couponmesh/registry-node/internal/application"
	"github.com/couponmesh/registry-node/internal/response"
)

// SiteHandler handles HTTP requests for site listings.
type SiteHandler struct {
	service *application.SiteService
}

// NewSiteHandler creates a new SiteHandler.
func NewSiteHandler(service *application.SiteService) *SiteHandler {
	return &SiteHandler{service: service}
}

// RegisterRoutes registers all site routes on the given router group.
func (h *SiteHandler) RegisterRoutes(r *gin.RouterGroup) {
	sites := r.Group("/sites")
	{
		sites.GET("", h.ListSites)
		sites.GET("/:id", h.GetSite)
	}
}

// ListSites handles GET /api/v1/sites
func (h *SiteHandler) ListSites(c *gin.Context) {
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize <= 0 || pageSize > 100 {
		response.BadRequest(c, "page_size must be between 1 and 100")
		return
	}
	pageNumber, err := strconv.Atoi(c.DefaultQuery("page_number", "1"))
	if err != nil || pageNumber <= 0 {
		response.BadRequest(c, "page_number must be positive")
		return
	}

	sites, total, err := h.service.List(c.Request.Context(), pageSize, pageNumber)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, sites, total, pageNumber, pageSize)
}

// GetSite handles GET /api/v1/sites/:id
func (h *SiteHandler) GetSite(c *gin.Context) {
	siteID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.BadRequest(c, "invalid site ID")
		return
	}

	dto, err := h.service.GetWithSlots(c.Request.Context(), siteID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, dto)
}
