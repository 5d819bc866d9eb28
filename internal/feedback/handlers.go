package feedback

import (
	"github.com/gin-gonic/gin"

	"github.com/edgegate/edgegate/pkg/response"
)

// GinHandlers contains HTTP handlers for feedback endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for feedback endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListPatternsHandler handles GET requests for detected patterns
func (h *GinHandlers) ListPatternsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		patterns, err := h.service.GetDB().GetPatterns()
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, patterns)
	}
}
