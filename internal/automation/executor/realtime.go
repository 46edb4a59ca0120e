package executor

import (
	"context"
	"fmt"

	"fieldservice_backend/internal/automation/render"

	"github.com/google/uuid"
)

// TenantChannel is the realtime channel all staff clients of a location subscribe to.
func TenantChannel(locationID string) string {
	return "location:" + locationID
}

func (e *Executor) updateRealtimeChannel(ctx context.Context, inv *invocation) (string, error) {
	if e.deps.Realtime == nil {
		return "", disabled(inv.action.Type)
	}
	name := firstNonEmpty(inv.str("eventName"), inv.str("name"), string(inv.run.event.Type))
	channel := TenantChannel(inv.locationID())
	if suffix := inv.str("channel"); suffix != "" {
		channel = channel + ":" + suffix
	}

	payload := map[string]any{
		"entityType": inv.run.event.EntityType,
		"entityId":   inv.run.event.EntityID,
		"eventType":  string(inv.run.event.Type),
		"ruleId":     inv.run.rule.ID.String(),
	}
	if raw, ok := inv.config["payload"].(map[string]any); ok {
		for k, v := range raw {
			payload[k] = v
		}
	}

	// Realtime is fire-and-forget; publish errors still surface so they are logged.
	if err := e.deps.Realtime.Publish(ctx, channel, name, payload); err != nil {
		return "", err
	}
	return "published " + name + " on " + channel, nil
}

func (e *Executor) enableTracking(ctx context.Context, inv *invocation) (string, error) {
	if e.deps.Tracking == nil {
		return "", disabled(inv.action.Type)
	}
	appointmentID := inv.str("appointmentId", "appointment.id")
	if appointmentID == "" && inv.run.event.EntityType == "appointment" {
		appointmentID = inv.run.event.EntityID
	}
	if appointmentID == "" {
		return "", fmt.Errorf("no appointment in context")
	}
	technicianID := inv.str("technicianId", "appointment.assignedUserId")
	if technicianID == "" {
		return "", fmt.Errorf("no technician assigned")
	}

	ttl := e.opts.TrackingTTL
	if minutes, ok := inv.number("expiresInMinutes"); ok && minutes > 0 {
		ttl = minutesDuration(minutes)
	}
	now := e.opts.Now().UTC()
	session := TrackingSession{
		Token:         uuid.New(),
		LocationID:    inv.locationID(),
		AppointmentID: appointmentID,
		TechnicianID:  technicianID,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}
	if err := e.deps.Tracking.CreateTrackingSession(ctx, session); err != nil {
		return "", err
	}

	inv.run.ctx.Set("tracking.token", session.Token.String())
	inv.run.ctx.Set("tracking.expiresAt", session.ExpiresAt)
	if base := inv.str("baseUrl"); base != "" {
		inv.run.ctx.Set("tracking.url", base+"/track/"+session.Token.String())
	}

	if e.deps.Realtime != nil {
		err := e.deps.Realtime.Publish(ctx, TenantChannel(inv.locationID()), "tracking.enabled", map[string]any{
			"appointmentId": appointmentID,
			"technicianId":  technicianID,
			"expiresAt":     render.Stringify(session.ExpiresAt),
		})
		if err != nil {
			e.log.Warn("tracking realtime publish failed", "appointmentId", appointmentID, "error", err)
		}
	}
	return fmt.Sprintf("tracking enabled for appointment %s", appointmentID), nil
}
