package bootstrap

import (
	"context"
	"fmt"
	"time"

	"fieldservice_backend/internal/adapters"
	"fieldservice_backend/internal/automation/executor"
	"fieldservice_backend/internal/crm"
	"fieldservice_backend/internal/dedupe"
	"fieldservice_backend/internal/email"
	"fieldservice_backend/internal/notification"
	"fieldservice_backend/internal/pdf"
	"fieldservice_backend/internal/realtime"
	"fieldservice_backend/internal/storage"
	"fieldservice_backend/internal/weather"
	"fieldservice_backend/internal/whatsapp"
	"fieldservice_backend/platform/config"
	"fieldservice_backend/platform/logger"
)

// CollaboratorConfig is what BuildCollaborators reads.
type CollaboratorConfig interface {
	config.CRMConfig
	config.EmailConfig
	config.WhatsAppConfig
	config.RealtimeConfig
	config.MinIOConfig
	config.GotenbergConfig
	config.WeatherConfig
	config.SchedulerConfig
	config.AutomationConfig
}

// Collaborators are the outbound clients actions call, plus the pieces the binaries
// mount or run themselves.
type Collaborators struct {
	Deps          executor.Deps
	Mailer        *email.Mailer
	Publisher     realtime.Publisher
	Relay         *realtime.RedisRelay
	Notifications *notification.Module

	closers []func()
}

// BuildCollaborators wires every configured client. Unconfigured integrations stay nil
// so the actions that need them fail with a disabled-collaborator error. hub may be nil
// in processes that serve no SSE clients.
func BuildCollaborators(ctx context.Context, cfg CollaboratorConfig, infra *Infra, hub *realtime.Hub, log *logger.Logger) (*Collaborators, error) {
	c := &Collaborators{}
	deps := &c.Deps

	if client := crm.New(cfg, log); client != nil {
		deps.SMS = client
		deps.Tasks = client
		deps.Stages = client
		deps.Assigner = client
		deps.Pipelines = client
		deps.Schedules = client
		log.Info("crm client initialized")
	} else {
		log.Warn("CRM not configured; CRM-backed automation actions disabled")
	}

	if wa := whatsapp.NewClient(cfg, log); wa != nil {
		deps.WhatsApp = wa
	}

	sender, err := email.NewSender(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize email sender: %w", err)
	}
	c.Mailer = email.NewMailer(sender)
	deps.Email = c.Mailer
	deps.Briefs = c.Mailer

	deps.Weather = weather.New(cfg, log)

	contracts, err := buildContracts(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if contracts != nil {
		deps.Contracts = contracts
	}

	if cfg.GetRedisURL() != "" {
		claims, err := dedupe.NewRedisFromURL(cfg.GetRedisURL())
		if err != nil {
			return nil, fmt.Errorf("initialize message dedupe: %w", err)
		}
		deps.Dedupe = claims
		c.closers = append(c.closers, func() { _ = claims.Close() })

		relay, err := realtime.NewRedisRelayFromURL(cfg.GetRedisURL(), log)
		if err != nil {
			return nil, fmt.Errorf("initialize realtime relay: %w", err)
		}
		c.Relay = relay
		c.closers = append(c.closers, func() { _ = relay.Close() })
	} else {
		log.Warn("REDIS_URL not configured; message dedupe is process-local")
		deps.Dedupe = dedupe.NewMemory()
	}

	ably, err := realtime.NewAbly(cfg, log)
	if err != nil {
		return nil, err
	}
	// The relay reaches the hub through Forward; without it publish to the hub directly.
	var local realtime.Publisher
	switch {
	case c.Relay != nil:
		local = c.Relay
	case hub != nil:
		local = hub
	}
	c.Publisher = realtime.NewFanout(ably, local)
	deps.Realtime = c.Publisher

	if infra.Pool != nil {
		c.Notifications = notification.NewModule(infra.Pool, c.Publisher, log)
		deps.Push = c.Notifications.Service()
	} else {
		log.Warn("in-app notifications need the postgres driver; push actions disabled")
	}

	return c, nil
}

func buildContracts(ctx context.Context, cfg CollaboratorConfig, log *logger.Logger) (*pdf.ContractGenerator, error) {
	converter := pdf.NewGotenbergClient(cfg)
	if converter == nil {
		log.Warn("Gotenberg not configured; contract generation disabled")
		return nil, nil
	}

	store, err := storage.NewMinIOService(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize storage service: %w", err)
	}
	if store == nil {
		log.Warn("MinIO not configured; contract generation disabled")
		return nil, nil
	}

	bucket := cfg.GetMinioBucketContracts()
	if err := WithRetry(ctx, log, "ensure contracts bucket", 5, 2*time.Second, func() error {
		return store.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		return nil, fmt.Errorf("failed to ensure storage bucket exists: %w", err)
	}
	log.Info("contract generator initialized", "bucket", bucket)

	return pdf.NewContractGenerator(converter, store, bucket, log), nil
}

// DeadLetterAlerter builds the alerter that reports exhausted queue items.
func (c *Collaborators) DeadLetterAlerter(cfg config.AutomationConfig, infra *Infra, log *logger.Logger) *adapters.DeadLetterAlerterAdapter {
	return adapters.NewDeadLetterAlerter(infra.Store, c.Publisher, c.Mailer, cfg.GetAutomationAlertEmail(), cfg.GetAppBaseURL(), log)
}

// Close releases redis connections held by the collaborators.
func (c *Collaborators) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}
