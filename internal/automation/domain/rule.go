// Package domain holds the automation engine's types: rules, events, queue items and
// scheduled triggers, plus the engine's error taxonomy. It has no dependencies on storage
// or transport.
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TriggerType is the family of events a rule listens for.
type TriggerType string

const (
	TriggerStageEntered      TriggerType = "stage-entered"
	TriggerTimeBased         TriggerType = "time-based"
	TriggerQuoteEvent        TriggerType = "quote-event"
	TriggerAppointmentEvent  TriggerType = "appointment-event"
	TriggerContactEvent      TriggerType = "contact-event"
	TriggerSMSReceived       TriggerType = "sms-received"
	TriggerPaymentReceived   TriggerType = "payment-received"
	TriggerRecurringSchedule TriggerType = "recurring-schedule"
)

// Valid reports whether t is a known trigger family.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerStageEntered, TriggerTimeBased, TriggerQuoteEvent, TriggerAppointmentEvent,
		TriggerContactEvent, TriggerSMSReceived, TriggerPaymentReceived, TriggerRecurringSchedule:
		return true
	}
	return false
}

// CronParser parses the five-field schedules used by recurring rules.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Trigger is a tagged variant; which fields apply depends on Type.
type Trigger struct {
	Type TriggerType `json:"type" bson:"type" yaml:"type"`

	// stage-entered
	StageID string `json:"stageId,omitempty" bson:"stageId,omitempty" yaml:"stageId,omitempty"`

	// quote-event, appointment-event, contact-event
	SubType string `json:"subType,omitempty" bson:"subType,omitempty" yaml:"subType,omitempty"`
	Tag     string `json:"tag,omitempty" bson:"tag,omitempty" yaml:"tag,omitempty"`

	// time-based: fireAt = value at Anchor (read from the AnchorEvent payload) + OffsetMinutes.
	AnchorEvent   EventType `json:"anchorEvent,omitempty" bson:"anchorEvent,omitempty" yaml:"anchorEvent,omitempty"`
	Anchor        string    `json:"anchor,omitempty" bson:"anchor,omitempty" yaml:"anchor,omitempty"`
	OffsetMinutes int64     `json:"offsetMinutes,omitempty" bson:"offsetMinutes,omitempty" yaml:"offsetMinutes,omitempty"`

	// sms-received: optional keyword filter, empty matches every inbound message.
	Keywords []string `json:"keywords,omitempty" bson:"keywords,omitempty" yaml:"keywords,omitempty"`

	// recurring-schedule
	Schedule string `json:"schedule,omitempty" bson:"schedule,omitempty" yaml:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty" bson:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Offset returns the signed delay applied to the anchor time.
func (t Trigger) Offset() time.Duration {
	return time.Duration(t.OffsetMinutes) * time.Minute
}

// NextRun returns the first scheduled run strictly after 'after' for recurring triggers.
func (t Trigger) NextRun(after time.Time) (time.Time, error) {
	sched, err := CronParser.Parse(t.Schedule)
	if err != nil {
		return time.Time{}, err
	}
	loc := time.UTC
	if t.Timezone != "" {
		loc, err = time.LoadLocation(t.Timezone)
		if err != nil {
			return time.Time{}, err
		}
	}
	return sched.Next(after.In(loc)).UTC(), nil
}

// Validate checks type-specific configuration.
func (t Trigger) Validate() error {
	if !t.Type.Valid() {
		return fmt.Errorf("unknown trigger type %q", t.Type)
	}
	switch t.Type {
	case TriggerStageEntered:
		if strings.TrimSpace(t.StageID) == "" {
			return fmt.Errorf("stage-entered trigger requires stageId")
		}
	case TriggerQuoteEvent:
		if !validSubType(quoteSubTypes, t.SubType) {
			return fmt.Errorf("quote-event trigger has invalid subType %q", t.SubType)
		}
	case TriggerAppointmentEvent:
		if !validSubType(appointmentSubTypes, t.SubType) {
			return fmt.Errorf("appointment-event trigger has invalid subType %q", t.SubType)
		}
	case TriggerContactEvent:
		if t.SubType != "tagged" {
			return fmt.Errorf("contact-event trigger has invalid subType %q", t.SubType)
		}
	case TriggerTimeBased:
		if !t.AnchorEvent.Valid() {
			return fmt.Errorf("time-based trigger has invalid anchorEvent %q", t.AnchorEvent)
		}
		if strings.TrimSpace(t.Anchor) == "" {
			return fmt.Errorf("time-based trigger requires anchor")
		}
	case TriggerRecurringSchedule:
		if _, err := t.NextRun(time.Now()); err != nil {
			return fmt.Errorf("recurring-schedule trigger: %w", err)
		}
	}
	return nil
}

var (
	quoteSubTypes       = []string{"signed", "viewed", "sent", "declined"}
	appointmentSubTypes = []string{"scheduled", "rescheduled", "cancelled", "completed"}
)

func validSubType(allowed []string, value string) bool {
	for _, a := range allowed {
		if a == value {
			return true
		}
	}
	return false
}

// Operator is a condition comparison.
type Operator string

const (
	OpEquals    Operator = "equals"
	OpNotEquals Operator = "not-equals"
	OpIn        Operator = "in"
	OpNotIn     Operator = "not-in"
	OpGT        Operator = "gt"
	OpGTE       Operator = "gte"
	OpLT        Operator = "lt"
	OpLTE       Operator = "lte"
	OpContains  Operator = "contains"
	OpExists    Operator = "exists"
)

// Condition narrows which occurrences of a trigger fire the rule.
type Condition struct {
	Field    string   `json:"field" bson:"field" yaml:"field"`
	Operator Operator `json:"operator" bson:"operator" yaml:"operator"`
	Value    any      `json:"value,omitempty" bson:"value,omitempty" yaml:"value,omitempty"`
}

// Rule is a tenant's trigger -> conditions -> actions definition.
type Rule struct {
	ID         uuid.UUID `json:"id" bson:"_id"`
	LocationID string    `json:"locationId" bson:"locationId"`
	PipelineID *string   `json:"pipelineId,omitempty" bson:"pipelineId,omitempty"`
	CalendarID *string   `json:"calendarId,omitempty" bson:"calendarId,omitempty"`
	Name       string    `json:"name" bson:"name"`
	SeedKey    *string   `json:"seedKey,omitempty" bson:"seedKey,omitempty"`

	Trigger    Trigger     `json:"trigger" bson:"trigger"`
	Conditions []Condition `json:"conditions" bson:"conditions"`
	Actions    []Action    `json:"actions" bson:"actions"`
	Priority   int         `json:"priority" bson:"priority"`
	IsActive   bool        `json:"isActive" bson:"isActive"`

	ExecutionCount int64 `json:"executionCount" bson:"executionCount"`
	SuccessCount   int64 `json:"successCount" bson:"successCount"`
	FailureCount   int64 `json:"failureCount" bson:"failureCount"`

	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// Validate checks a rule before it is persisted.
func (r Rule) Validate() error {
	if strings.TrimSpace(r.LocationID) == "" {
		return fmt.Errorf("locationId is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if err := r.Trigger.Validate(); err != nil {
		return err
	}
	for i, c := range r.Conditions {
		if strings.TrimSpace(c.Field) == "" {
			return fmt.Errorf("condition %d: field is required", i)
		}
		if !KnownOperator(c.Operator) {
			return fmt.Errorf("condition %d: unknown operator %q", i, c.Operator)
		}
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("at least one action is required")
	}
	return ValidateActions(r.Actions)
}

// KnownOperator reports whether op is supported by the matcher.
func KnownOperator(op Operator) bool {
	switch op {
	case OpEquals, OpNotEquals, OpIn, OpNotIn, OpGT, OpGTE, OpLT, OpLTE, OpContains, OpExists:
		return true
	}
	return false
}

// RuleFilter narrows rule listings for the admin API.
type RuleFilter struct {
	LocationID  string
	TriggerType TriggerType
	ActiveOnly  bool
}
