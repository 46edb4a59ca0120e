package transport

import (
	"time"

	"fieldservice_backend/internal/automation/domain"
)

// Rules

type RuleRequest struct {
	Name       string             `json:"name" validate:"required,min=1,max=200"`
	PipelineID *string            `json:"pipelineId,omitempty" validate:"omitempty,max=100"`
	CalendarID *string            `json:"calendarId,omitempty" validate:"omitempty,max=100"`
	Trigger    domain.Trigger     `json:"trigger"`
	Conditions []domain.Condition `json:"conditions" validate:"max=50"`
	Actions    []domain.Action    `json:"actions" validate:"required,min=1,max=50"`
	Priority   int                `json:"priority" validate:"min=-1000,max=1000"`
	IsActive   *bool              `json:"isActive,omitempty"`
}

type ListRulesRequest struct {
	TriggerType string `form:"triggerType" validate:"omitempty,max=50"`
	ActiveOnly  bool   `form:"activeOnly"`
}

type RuleListResponse struct {
	Items []domain.Rule `json:"items"`
	Total int           `json:"total"`
}

// Queue

type ListQueueRequest struct {
	Status string `form:"status" validate:"omitempty,oneof=pending processing completed failed dead-lettered"`
	RuleID string `form:"ruleId" validate:"omitempty,uuid"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=500"`
}

type QueueListResponse struct {
	Items []domain.QueueItem `json:"items"`
	Total int                `json:"total"`
}

// Scheduled triggers

type ListTriggersRequest struct {
	EntityID string `form:"entityId" validate:"omitempty,max=200"`
	RuleID   string `form:"ruleId" validate:"omitempty,uuid"`
	Pending  bool   `form:"pending"`
	Limit    int    `form:"limit" validate:"omitempty,min=1,max=500"`
}

type TriggerListResponse struct {
	Items []domain.ScheduledTrigger `json:"items"`
	Total int                       `json:"total"`
}

// Event intake

type EmitEventRequest struct {
	Type          string         `json:"type" validate:"required,max=50"`
	EntityID      string         `json:"entityId" validate:"required,max=200"`
	EntityType    string         `json:"entityType,omitempty" validate:"omitempty,max=50"`
	OccurrenceKey string         `json:"occurrenceKey,omitempty" validate:"omitempty,max=200"`
	OccurredAt    *time.Time     `json:"occurredAt,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

type EmitEventResponse struct {
	EventID  string `json:"eventId"`
	Accepted bool   `json:"accepted"`
}

// Seeding

type SeedRequest struct {
	Params map[string]string `json:"params,omitempty"`
}
