package executor

import (
	"context"
	"fmt"
	"time"

	"fieldservice_backend/internal/automation/domain"
	"fieldservice_backend/internal/automation/render"
	"fieldservice_backend/platform/apperr"
	"fieldservice_backend/platform/phone"
	"fieldservice_backend/platform/sanitize"
)

const (
	channelSMS      = "sms"
	channelWhatsApp = "whatsapp"
)

func (e *Executor) sendSMS(ctx context.Context, inv *invocation) (string, error) {
	channel := inv.str("channel")
	if channel == "" {
		channel = channelSMS
	}
	sender := e.deps.SMS
	if channel == channelWhatsApp {
		sender = e.deps.WhatsApp
	} else if channel != channelSMS {
		return "", fmt.Errorf("unsupported channel %q", channel)
	}
	if sender == nil {
		return "", disabled(inv.action.Type)
	}

	to, err := phone.ParseE164(inv.str("to", "contact.phone"), e.opts.PhoneRegion)
	if err != nil {
		return "", fmt.Errorf("recipient: %w", err)
	}
	body := sanitize.SMSBody(firstNonEmpty(inv.str("message"), inv.str("body")))
	if body == "" {
		return "", fmt.Errorf("message is empty")
	}

	var messageID string
	err = e.once(ctx, inv, to, body, func() error {
		var sendErr error
		messageID, sendErr = sender.SendSMS(ctx, SMSMessage{
			LocationID: inv.locationID(),
			ContactID:  inv.str("contactId", "contact.id"),
			To:         to,
			Body:       body,
		})
		return sendErr
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s sent to %s %s", channel, to, messageID), nil
}

func (e *Executor) sendEmail(ctx context.Context, inv *invocation) (string, error) {
	if e.deps.Email == nil {
		return "", disabled(inv.action.Type)
	}
	to := inv.str("to", "contact.email")
	if to == "" {
		return "", fmt.Errorf("recipient email is empty")
	}
	subject := inv.str("subject")
	if subject == "" {
		return "", fmt.Errorf("subject is empty")
	}
	body := firstNonEmpty(inv.str("body"), inv.str("message"))

	err := e.once(ctx, inv, to, subject+"\n"+body, func() error {
		return e.deps.Email.SendEmail(ctx, EmailMessage{
			LocationID: inv.locationID(),
			To:         to,
			ToName:     inv.str("toName", "contact.name"),
			Subject:    subject,
			HTML:       body,
		})
	})
	if err != nil {
		return "", err
	}
	return "email sent to " + to, nil
}

func (e *Executor) pushNotification(ctx context.Context, inv *invocation) (string, error) {
	if e.deps.Push == nil {
		return "", disabled(inv.action.Type)
	}
	userID := inv.str("userId", "appointment.assignedUserId", "assignedUserId", "contact.assignedTo")
	if userID == "" {
		return "", fmt.Errorf("userId is empty")
	}
	title := inv.str("title")
	body := firstNonEmpty(inv.str("body"), inv.str("message"))
	if title == "" && body == "" {
		return "", fmt.Errorf("notification has no content")
	}

	err := e.once(ctx, inv, userID, title+"\n"+body, func() error {
		return e.deps.Push.Notify(ctx, PushNotification{
			LocationID: inv.locationID(),
			UserID:     userID,
			Title:      title,
			Body:       body,
			Link:       inv.str("link"),
			Kind:       string(inv.run.event.Type),
		})
	})
	if err != nil {
		return "", err
	}
	return "notified " + userID, nil
}

func (e *Executor) sendDailyBrief(ctx context.Context, inv *invocation) (string, error) {
	if e.deps.Briefs == nil || e.deps.Schedules == nil {
		return "", disabled(inv.action.Type)
	}
	userID := inv.str("userId", "user.id")
	to := inv.str("to", "user.email")
	if userID == "" || to == "" {
		return "", fmt.Errorf("userId and recipient are required")
	}

	tzName := inv.str("timezone")
	loc := time.UTC
	if tzName != "" {
		l, err := time.LoadLocation(tzName)
		if err != nil {
			return "", fmt.Errorf("timezone %q: %w", tzName, err)
		}
		loc = l
	}
	day := inv.run.event.OccurredAt
	if raw, ok := inv.config["date"]; ok {
		if t, ok := render.Time(raw); ok {
			day = t
		}
	}
	local := day.In(loc)
	from := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	to24 := from.AddDate(0, 0, 1)

	appointments, err := e.deps.Schedules.ListAppointments(ctx, inv.locationID(), userID, from.UTC(), to24.UTC())
	if err != nil {
		return "", err
	}
	if len(appointments) == 0 && !inv.flag("sendWhenEmpty") {
		return skipped("no appointments")
	}

	brief := DailyBrief{
		LocationID:    inv.locationID(),
		To:            to,
		RecipientName: inv.str("recipientName", "user.name"),
		Date:          from,
		Timezone:      loc.String(),
		Appointments:  appointments,
	}
	err = e.once(ctx, inv, to, from.Format(time.DateOnly), func() error {
		return e.deps.Briefs.SendDailyBrief(ctx, brief)
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("brief with %d appointments sent to %s", len(appointments), to), nil
}

// once performs send at most once per (run, action path, recipient, content). A failed
// send releases the claim so the next attempt can retry it.
func (e *Executor) once(ctx context.Context, inv *invocation, recipient, content string, send func() error) error {
	if e.deps.Dedupe == nil {
		return send()
	}
	key := domain.MessageFingerprint(inv.run.runKey, inv.path, recipient, content)
	claimed, err := e.deps.Dedupe.Claim(ctx, key, e.opts.MessageDedupeTTL)
	if err != nil {
		return apperr.Unavailable("dedupe claim failed", err)
	}
	if !claimed {
		return &skipError{reason: "already delivered"}
	}
	if err := send(); err != nil {
		if relErr := e.deps.Dedupe.Release(context.WithoutCancel(ctx), key); relErr != nil {
			e.log.Warn("dedupe release failed", "key", key, "error", relErr)
		}
		return err
	}
	return nil
}
