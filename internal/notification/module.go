// Package notification stores in-app notifications for staff users and pushes them over
// the realtime channels. Automation push-notification actions land here.
package notification

import (
	apphttp "fieldservice_backend/internal/http"
	"fieldservice_backend/internal/notification/handler"
	"fieldservice_backend/internal/notification/inapp"
	"fieldservice_backend/internal/realtime"
	"fieldservice_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Module struct {
	service *inapp.Service
	handler *handler.HTTPHandler
}

// NewModule wires the Postgres repository, the service and its HTTP handler.
func NewModule(pool *pgxpool.Pool, publisher realtime.Publisher, log *logger.Logger) *Module {
	repo := inapp.NewRepository(pool)
	svc := inapp.NewService(repo, publisher, log)
	return &Module{
		service: svc,
		handler: handler.NewHTTPHandler(svc),
	}
}

func (m *Module) Name() string { return "notification" }

// Service exposes the notifier for the automation executor.
func (m *Module) Service() *inapp.Service { return m.service }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/notifications"))
}

var _ apphttp.Module = (*Module)(nil)
