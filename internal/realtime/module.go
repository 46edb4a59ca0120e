package realtime

import (
	apphttp "fieldservice_backend/internal/http"
)

// Module mounts the SSE stream for staff clients that do not use Ably.
type Module struct {
	hub *Hub
}

func NewModule(hub *Hub) *Module {
	return &Module{hub: hub}
}

func (m *Module) Name() string { return "realtime" }

func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/realtime")
	group.GET("/stream", m.hub.Handler())
	group.GET("/status", m.hub.Status)
}

var _ apphttp.Module = (*Module)(nil)
