package adapters

import (
	"context"
	"strings"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/queue"
	"fieldservice_backend/internal/email"
	"fieldservice_backend/internal/realtime"
	"fieldservice_backend/platform/logger"

	"github.com/google/uuid"
)

// EventAutomationDeadLettered is the realtime event name published on the tenant channel.
const EventAutomationDeadLettered = "automation_dead_lettered"

// RuleNameReader resolves a rule's display name.
type RuleNameReader interface {
	GetRule(ctx context.Context, id uuid.UUID) (*domain.Rule, error)
}

// DeadLetterNoticeSender emails the operator notice.
type DeadLetterNoticeSender interface {
	SendDeadLetterNotice(ctx context.Context, n email.DeadLetterNotice) error
}

// DeadLetterAlerterAdapter implements queue.DeadLetterAlerter by publishing to the
// tenant's realtime channel and optionally emailing an operator.
type DeadLetterAlerterAdapter struct {
	rules     RuleNameReader
	publisher realtime.Publisher
	mailer    DeadLetterNoticeSender
	alertTo   string
	baseURL   string
	log       *logger.Logger
}

// NewDeadLetterAlerter builds the alerter. publisher and mailer may be nil.
func NewDeadLetterAlerter(rules RuleNameReader, publisher realtime.Publisher, mailer DeadLetterNoticeSender, alertTo, baseURL string, log *logger.Logger) *DeadLetterAlerterAdapter {
	return &DeadLetterAlerterAdapter{
		rules:     rules,
		publisher: publisher,
		mailer:    mailer,
		alertTo:   strings.TrimSpace(alertTo),
		baseURL:   strings.TrimRight(baseURL, "/"),
		log:       log,
	}
}

// DeadLettered never returns an error; alert delivery is best effort.
func (a *DeadLetterAlerterAdapter) DeadLettered(ctx context.Context, item domain.QueueItem, cause error) {
	log := a.log.WithLocation(item.LocationID)
	ruleName := a.ruleName(ctx, item.RuleID)

	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	} else if item.LastError != nil {
		lastError = *item.LastError
	}

	if a.publisher != nil {
		err := a.publisher.Publish(ctx, realtime.TenantChannel(item.LocationID), EventAutomationDeadLettered, map[string]any{
			"queueItemId": item.ID.String(),
			"ruleId":      item.RuleID.String(),
			"ruleName":    ruleName,
			"entityId":    item.EntityID,
			"attempts":    item.Attempts,
			"lastError":   lastError,
		})
		if err != nil {
			log.Warn("dead-letter realtime alert failed", "queueItemId", item.ID.String(), "error", err)
		}
	}

	if a.mailer == nil || a.alertTo == "" {
		return
	}
	err := a.mailer.SendDeadLetterNotice(ctx, email.DeadLetterNotice{
		To:        a.alertTo,
		RuleName:  ruleName,
		ItemID:    item.ID.String(),
		Attempts:  item.Attempts,
		LastError: lastError,
		AdminURL:  a.baseURL + "/automation/queue?status=" + string(domain.QueueDeadLettered),
	})
	if err != nil {
		log.Warn("dead-letter email alert failed", "queueItemId", item.ID.String(), "error", err)
	}
}

func (a *DeadLetterAlerterAdapter) ruleName(ctx context.Context, id uuid.UUID) string {
	if a.rules == nil {
		return id.String()
	}
	rule, err := a.rules.GetRule(ctx, id)
	if err != nil || rule == nil {
		return id.String()
	}
	return rule.Name
}

var _ queue.DeadLetterAlerter = (*DeadLetterAlerterAdapter)(nil)
