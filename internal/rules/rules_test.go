package rules

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingPublisher struct {
	channels []string
	payloads [][]byte
}

func (p *capturingPublisher) Publish(_ context.Context, channel string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, payload)
	return nil
}

func setupService(t *testing.T) (*Service, *capturingPublisher) {
	t.Helper()
	db := setupRuleDB(t)
	publisher := &capturingPublisher{}
	return &Service{db: db, publisher: publisher}, publisher
}

func TestApprovePendingRule(t *testing.T) {
	service, publisher := setupService(t)

	pending := blockRule("r-pending", time.Now().Add(time.Hour),
		Condition{Field: "sport", Op: OpEq, Value: "NBA"})
	pending.Status = StatusPendingApproval
	require.NoError(t, service.GetDB().CreateRule(pending))

	approved, err := service.Approve(context.Background(), "r-pending")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, approved.Status)

	// Approval rebroadcasts the full active set
	require.Len(t, publisher.payloads, 1)
	var broadcast []TradingRule
	require.NoError(t, json.Unmarshal(publisher.payloads[0], &broadcast))
	require.Len(t, broadcast, 1)
	assert.Equal(t, "r-pending", broadcast[0].RuleID)
}

func TestApproveRejectsWrongStatus(t *testing.T) {
	service, _ := setupService(t)

	active := blockRule("r-active", time.Now().Add(time.Hour),
		Condition{Field: "sport", Op: OpEq, Value: "NBA"})
	require.NoError(t, service.GetDB().CreateRule(active))

	_, err := service.Approve(context.Background(), "r-active")
	assert.Error(t, err)

	_, err = service.Approve(context.Background(), "r-missing")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRejectPendingRule(t *testing.T) {
	service, publisher := setupService(t)

	pending := blockRule("r-pending", time.Now().Add(time.Hour),
		Condition{Field: "sport", Op: OpEq, Value: "NBA"})
	pending.Status = StatusPendingApproval
	require.NoError(t, service.GetDB().CreateRule(pending))

	rejected, err := service.Reject("r-pending")
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, rejected.Status)

	// Rejection never touches the active set, no broadcast needed
	assert.Empty(t, publisher.payloads)
}

func TestRuleExistsForPattern(t *testing.T) {
	service, _ := setupService(t)
	db := service.GetDB()

	rule := blockRule("r-sourced", time.Now().Add(time.Hour),
		Condition{Field: "sport", Op: OpEq, Value: "NFL"})
	rule.SourcePattern = "sport_signal:NFL:model_edge_yes"
	require.NoError(t, db.CreateRule(rule))

	exists, err := db.RuleExistsForPattern("sport_signal:NFL:model_edge_yes")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = db.RuleExistsForPattern("sport_signal:NBA:steam")
	require.NoError(t, err)
	assert.False(t, exists)

	// Expired rules no longer guard the pattern
	require.NoError(t, db.db.Model(&TradingRule{}).
		Where("rule_id = ?", "r-sourced").
		Update("status", StatusExpired).Error)

	exists, err = db.RuleExistsForPattern("sport_signal:NFL:model_edge_yes")
	require.NoError(t, err)
	assert.False(t, exists)
}
