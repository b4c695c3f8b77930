package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/couponmesh/registry-node/internal/application"
	"github.com/couponmesh/registry-node/internal/response"
)

// WeightHandler exposes the current miner scores.
type WeightHandler struct {
	service *application.WeightService
}

// NewWeightHandler creates a new WeightHandler.
func NewWeightHandler(service *application.WeightService) *WeightHandler {
	return &WeightHandler{service: service}
}

// RegisterRoutes registers weight routes on the given router group.
func (h *WeightHandler) RegisterRoutes(r *gin.RouterGroup) {
	weights := r.Group("/weights")
	{
		weights.GET("/calculate", h.CalculateWeights)
		weights.GET("/scores", h.GetScores)
	}
}

// weightCalculationResponse carries scores with round statistics.
type weightCalculationResponse struct {
	Scores       map[string]float64 `json:"scores"`
	TotalMiners  int                `json:"total_miners"`
	MaxScore     float64            `json:"max_score"`
	MinScore     float64            `json:"min_score"`
	AverageScore float64            `json:"average_score"`
}

// CalculateWeights handles GET /api/v1/weights/calculate: scores are
// computed on demand from the current coupon table, with summary
// statistics for the round.
func (h *WeightHandler) CalculateWeights(c *gin.Context) {
	scores, err := h.service.CalculateWeights(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	resp := weightCalculationResponse{Scores: scores}
	if len(scores) > 0 {
		resp.TotalMiners = len(scores)
		first := true
		sum := 0.0
		for _, score := range scores {
			if first || score > resp.MaxScore {
				resp.MaxScore = score
			}
			if first || score < resp.MinScore {
				resp.MinScore = score
			}
			sum += score
			first = false
		}
		resp.AverageScore = sum / float64(len(scores))
	}
	if resp.Scores == nil {
		resp.Scores = map[string]float64{}
	}
	response.Success(c, resp)
}

// GetScores handles GET /api/v1/weights/scores: the raw score map
// without statistics.
func (h *WeightHandler) GetScores(c *gin.Context) {
	scores, err := h.service.CalculateWeights(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if scores == nil {
		scores = map[string]float64{}
	}
	response.Success(c, scores)
}
