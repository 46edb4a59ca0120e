package email

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"fieldservice_backend/internal/automation/executor"
)

// Mailer renders automation emails into the shared layout and hands them to a Sender.
type Mailer struct {
	sender Sender
}

func NewMailer(sender Sender) *Mailer {
	if sender == nil {
		sender = NoopSender{}
	}
	return &Mailer{sender: sender}
}

// SendEmail wraps the rule-rendered body in the base layout.
func (m *Mailer) SendEmail(ctx context.Context, msg executor.EmailMessage) error {
	body := msg.HTML
	if !strings.Contains(body, "<") {
		body = strings.ReplaceAll(template.HTMLEscapeString(body), "\n", "<br>")
	}
	content, err := renderEmailTemplate("custom.html", customEmailData{
		baseEmailData: baseEmailData{Title: msg.Subject},
		Body:          template.HTML(body), //nolint:gosec // tenant-authored rule content
	})
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{To: msg.To, ToName: msg.ToName, Subject: msg.Subject, HTML: content})
}

// SendDailyBrief renders the technician's agenda in the brief's timezone.
func (m *Mailer) SendDailyBrief(ctx context.Context, brief executor.DailyBrief) error {
	loc := brief.Date.Location()
	lines := make([]briefLine, 0, len(brief.Appointments))
	for _, a := range brief.Appointments {
		window := a.StartTime.In(loc).Format("15:04")
		if !a.EndTime.IsZero() {
			window += " - " + a.EndTime.In(loc).Format("15:04")
		}
		lines = append(lines, briefLine{
			Window:      window,
			Title:       a.Title,
			Address:     a.Address,
			ContactName: a.ContactName,
		})
	}

	day := brief.Date.Format("Monday, January 2")
	heading := "Good morning"
	if brief.RecipientName != "" {
		heading += ", " + brief.RecipientName
	}
	subject := fmt.Sprintf(subjectDailyBriefFmt, day)
	content, err := renderEmailTemplate("daily_brief.html", dailyBriefEmailData{
		baseEmailData: baseEmailData{
			Title:      subject,
			Heading:    heading,
			Subheading: fmt.Sprintf("%d appointments on %s (%s)", len(lines), day, brief.Timezone),
		},
		Appointments: lines,
	})
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{To: brief.To, ToName: brief.RecipientName, Subject: subject, HTML: content})
}

// DeadLetterNotice tells an operator a rule gave up.
type DeadLetterNotice struct {
	To        string
	RuleName  string
	ItemID    string
	Attempts  int
	LastError string
	AdminURL  string
}

func (m *Mailer) SendDeadLetterNotice(ctx context.Context, n DeadLetterNotice) error {
	subject := fmt.Sprintf(subjectDeadLetterFmt, n.RuleName)
	content, err := renderEmailTemplate("dead_letter.html", deadLetterEmailData{
		baseEmailData: baseEmailData{
			Title:    subject,
			Heading:  "Automation dead-lettered",
			CTALabel: "Open queue",
			CTAURL:   n.AdminURL,
		},
		RuleName:  n.RuleName,
		ItemID:    n.ItemID,
		Attempts:  n.Attempts,
		LastError: n.LastError,
	})
	if err != nil {
		return err
	}
	return m.sender.Send(ctx, Message{To: n.To, Subject: subject, HTML: content})
}

var (
	_ executor.EmailSender = (*Mailer)(nil)
	_ executor.BriefMailer = (*Mailer)(nil)
)
