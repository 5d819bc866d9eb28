package pipeline

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edgegate/edgegate/internal/risk"
	"github.com/edgegate/edgegate/internal/rules"
	"github.com/edgegate/edgegate/internal/types"
	"github.com/edgegate/edgegate/pkg/response"
)

// GinHandlers contains HTTP handlers for pipeline observability endpoints
type GinHandlers struct {
	processor *Processor
	riskCtl   *risk.Controller
	evaluator *rules.Evaluator
}

// NewGinHandlers creates a new set of HTTP handlers for pipeline endpoints
func NewGinHandlers(processor *Processor, riskCtl *risk.Controller, evaluator *rules.Evaluator) *GinHandlers {
	return &GinHandlers{
		processor: processor,
		riskCtl:   riskCtl,
		evaluator: evaluator,
	}
}

// StatsHandler handles GET requests for the heartbeat snapshot: admission
// counters by reason plus the cached risk picture
func (h *GinHandlers) StatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		processed, approved, rejections := h.processor.Stats().Snapshot()
		dailyPnL, openExposure := h.riskCtl.Metrics().Snapshot()
		state, reason, _ := h.riskCtl.Breaker().State()

		response.Success(c, types.StatsResponse{
			Processed:     processed,
			Approved:      approved,
			Rejections:    rejections,
			BreakerState:  string(state),
			BreakerReason: reason,
			DailyPnL:      dailyPnL,
			OpenExposure:  openExposure,
			ActiveRules:   h.evaluator.ActiveCount(),
			GeneratedAt:   time.Now(),
		})
	}
}
