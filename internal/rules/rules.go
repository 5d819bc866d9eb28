package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/edgegate/edgegate/internal/bus"
	"github.com/edgegate/edgegate/pkg/response"
)

var ErrRuleNotFound = errors.New("rule not found")

// Publisher is the bus surface the service needs to broadcast rule updates.
type Publisher interface {
	Publish(ctx context.Context, channel string, v interface{}) error
}

// Service handles operator actions on adaptive rules. Approving or
// rejecting a pending rule is the explicit human step behind learning mode.
type Service struct {
	db        *Database
	publisher Publisher
}

// NewService creates a new rule service with the given database connection.
func NewService(gormDB *gorm.DB, publisher Publisher) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		publisher: publisher,
	}
}

// GetDB returns the underlying rule store.
func (s *Service) GetDB() *Database {
	return s.db
}

// ListByStatus returns rules in the given status (defaults to active).
func (s *Service) ListByStatus(status string) ([]TradingRule, error) {
	if status == "" {
		status = StatusActive
	}
	return s.db.GetRulesByStatus(status)
}

// Approve activates a pending rule and rebroadcasts the active set.
func (s *Service) Approve(ctx context.Context, ruleID string) (*TradingRule, error) {
	rule, err := s.db.GetRule(ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}
	if rule.Status != StatusPendingApproval {
		return nil, fmt.Errorf("rule %s is %s, not pending approval", ruleID, rule.Status)
	}

	if err := s.db.UpdateStatus(ruleID, StatusActive); err != nil {
		return nil, err
	}
	rule.Status = StatusActive

	if err := s.BroadcastActiveSet(ctx); err != nil {
		log.Error().Err(err).Str("component", "rules").
			Str("rule_id", ruleID).
			Msg("rule approved but broadcast failed")
	}

	log.Info().Str("component", "rules").
		Str("rule_id", ruleID).
		Str("rule_type", rule.RuleType).
		Msg("rule approved")

	return rule, nil
}

// Reject marks a pending rule inactive without deleting it.
func (s *Service) Reject(ruleID string) (*TradingRule, error) {
	rule, err := s.db.GetRule(ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}
	if rule.Status != StatusPendingApproval {
		return nil, fmt.Errorf("rule %s is %s, not pending approval", ruleID, rule.Status)
	}

	if err := s.db.UpdateStatus(ruleID, StatusInactive); err != nil {
		return nil, err
	}
	rule.Status = StatusInactive

	log.Info().Str("component", "rules").
		Str("rule_id", ruleID).
		Msg("rule rejected")

	return rule, nil
}

// BroadcastActiveSet publishes the complete active rule set on the rule
// update channel so every evaluator replaces its cache.
func (s *Service) BroadcastActiveSet(ctx context.Context) error {
	active, err := s.db.GetActiveRules()
	if err != nil {
		return fmt.Errorf("failed to load active rules: %w", err)
	}
	return s.publisher.Publish(ctx, bus.ChannelRuleUpdates, active)
}

// GinHandlers contains HTTP handlers for rule management endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for rule endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// ListRulesHandler handles GET requests for rules, filtered by status
// Query parameter: status (active, pending_approval, inactive, expired)
func (h *GinHandlers) ListRulesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.service.ListByStatus(c.Query("status"))
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, list)
	}
}

// ApproveRuleHandler handles POST requests to approve a pending rule
// URL parameter: rule_id
func (h *GinHandlers) ApproveRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ruleID := c.Param("rule_id")
		rule, err := h.service.Approve(c.Request.Context(), ruleID)
		if errors.Is(err, ErrRuleNotFound) {
			response.NotFound(c, "Rule not found")
			return
		}
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		response.Success(c, rule)
	}
}

// RejectRuleHandler handles POST requests to reject a pending rule
// URL parameter: rule_id
func (h *GinHandlers) RejectRuleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ruleID := c.Param("rule_id")
		rule, err := h.service.Reject(ruleID)
		if errors.Is(err, ErrRuleNotFound) {
			response.NotFound(c, "Rule not found")
			return
		}
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		response.Success(c, rule)
	}
}
