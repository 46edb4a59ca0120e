package executor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Collaborator ports. Implementations live in internal/adapters and wrap the CRM,
// messaging, realtime, storage and forecast clients.

// SMSMessage is an outbound text message.
type SMSMessage struct {
	LocationID string
	ContactID  string
	To         string
	Body       string
}

// SMSSender delivers text messages and returns the provider message ID.
type SMSSender interface {
	SendSMS(ctx context.Context, msg SMSMessage) (string, error)
}

// EmailMessage is an outbound email.
type EmailMessage struct {
	LocationID string
	To         string
	ToName     string
	Subject    string
	HTML       string
}

// EmailSender delivers rendered emails.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage) error
}

// Task is a CRM follow-up task.
type Task struct {
	LocationID string
	ContactID  string
	Title      string
	Body       string
	AssignedTo string
	DueAt      *time.Time
}

// TaskCreator creates CRM tasks.
type TaskCreator interface {
	CreateTask(ctx context.Context, task Task) (string, error)
}

// StageMover moves a project to a pipeline stage.
type StageMover interface {
	MoveProjectStage(ctx context.Context, locationID, projectID, stageID string) error
}

// Assignment assigns a CRM user to a contact and/or opportunity.
type Assignment struct {
	LocationID    string
	ContactID     string
	OpportunityID string
	UserID        string
}

// UserAssigner applies assignments in the CRM.
type UserAssigner interface {
	AssignUser(ctx context.Context, a Assignment) error
}

// PipelineTransition moves an opportunity into another pipeline.
type PipelineTransition struct {
	LocationID    string
	OpportunityID string
	PipelineID    string
	StageID       string
	Status        string
}

// PipelineTransitioner applies pipeline transitions in the CRM.
type PipelineTransitioner interface {
	TransitionPipeline(ctx context.Context, t PipelineTransition) error
}

// PushNotification is an in-app notification for a staff user.
type PushNotification struct {
	LocationID string
	UserID     string
	Title      string
	Body       string
	Link       string
	Kind       string
}

// PushNotifier delivers in-app notifications.
type PushNotifier interface {
	Notify(ctx context.Context, n PushNotification) error
}

// RealtimePublisher publishes fire-and-forget messages to tenant channels.
type RealtimePublisher interface {
	Publish(ctx context.Context, channel, name string, data map[string]any) error
}

// ForecastQuery asks for conditions at a place and time.
type ForecastQuery struct {
	Latitude  float64
	Longitude float64
	At        time.Time
}

// Forecast is the subset of forecast data exposed to rules as "weather".
type Forecast struct {
	Severity                 float64
	Summary                  string
	TemperatureC             float64
	PrecipitationProbability float64
	WindSpeedKmh             float64
}

// WeatherProvider returns forecasts.
type WeatherProvider interface {
	Forecast(ctx context.Context, q ForecastQuery) (Forecast, error)
}

// ContractRequest describes a contract document to render.
type ContractRequest struct {
	LocationID    string
	QuoteID       string
	Title         string
	CustomerName  string
	CustomerEmail string
	Address       string
	Total         string
	Terms         string
	SignURL       string
	Lines         []ContractLine
}

// ContractLine is one priced line of a contract.
type ContractLine struct {
	Description string
	Quantity    string
	Amount      string
}

// ContractDocument is a stored contract.
type ContractDocument struct {
	URL       string
	ObjectKey string
}

// ContractGenerator renders and stores contracts.
type ContractGenerator interface {
	GenerateContract(ctx context.Context, req ContractRequest) (ContractDocument, error)
}

// TrackingSession grants a customer temporary access to a technician's live location.
type TrackingSession struct {
	Token         uuid.UUID
	LocationID    string
	AppointmentID string
	TechnicianID  string
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

// TrackingStore persists tracking sessions.
type TrackingStore interface {
	CreateTrackingSession(ctx context.Context, s TrackingSession) error
}

// BriefAppointment is one line of a technician's daily brief.
type BriefAppointment struct {
	ID          string
	Title       string
	StartTime   time.Time
	EndTime     time.Time
	Address     string
	ContactName string
}

// ScheduleReader lists a user's appointments in a time window.
type ScheduleReader interface {
	ListAppointments(ctx context.Context, locationID, userID string, from, to time.Time) ([]BriefAppointment, error)
}

// Deduper claims idempotency keys so retried runs skip side effects already performed.
type Deduper interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// CounterStore records rule execution bookkeeping atomically.
type CounterStore interface {
	IncrementRuleCounters(ctx context.Context, ruleID uuid.UUID, succeeded bool) error
}

// Metrics receives executor observations.
type Metrics interface {
	ActionCompleted(actionType string, outcome string)
	RuleExecuted(outcome string)
}

// DailyBrief is a technician's agenda for one day.
type DailyBrief struct {
	LocationID    string
	To            string
	RecipientName string
	Date          time.Time
	Timezone      string
	Appointments  []BriefAppointment
}

// BriefMailer renders and delivers daily briefs.
type BriefMailer interface {
	SendDailyBrief(ctx context.Context, brief DailyBrief) error
}
