package risk

import (
	"github.com/gin-gonic/gin"

	"github.com/edgegate/edgegate/internal/types"
	"github.com/edgegate/edgegate/pkg/response"
)

// GinHandlers contains HTTP handlers for circuit breaker endpoints
type GinHandlers struct {
	controller *Controller
}

// NewGinHandlers creates a new set of HTTP handlers for risk endpoints
func NewGinHandlers(controller *Controller) *GinHandlers {
	return &GinHandlers{
		controller: controller,
	}
}

// GetBreakerHandler handles GET requests for circuit breaker state
func (h *GinHandlers) GetBreakerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		response.Success(c, h.breakerResponse())
	}
}

// OpenBreakerHandler handles POST requests to force the breaker open,
// halting all trading until it is closed or the cooldown elapses
func (h *GinHandlers) OpenBreakerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&body)
		if body.Reason == "" {
			body.Reason = "operator force-open"
		}

		h.controller.Breaker().Trip(body.Reason)
		response.Success(c, h.breakerResponse())
	}
}

// CloseBreakerHandler handles POST requests to force the breaker closed
func (h *GinHandlers) CloseBreakerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.controller.Breaker().ForceClose()
		response.Success(c, h.breakerResponse())
	}
}

func (h *GinHandlers) breakerResponse() types.BreakerResponse {
	state, reason, trippedAt := h.controller.Breaker().State()

	resp := types.BreakerResponse{
		State:      string(state),
		Reason:     reason,
		CooldownMS: h.controller.Breaker().CooldownRemaining().Milliseconds(),
	}
	if !trippedAt.IsZero() {
		resp.TrippedAt = &trippedAt
	}
	return resp
}
