package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
	CTALabel   string
	CTAURL     string
}

type customEmailData struct {
	baseEmailData
	// Body is rendered rule output authored by tenant staff.
	Body template.HTML
}

type briefLine struct {
	Window      string
	Title       string
	Address     string
	ContactName string
}

type dailyBriefEmailData struct {
	baseEmailData
	Appointments []briefLine
}

type deadLetterEmailData struct {
	baseEmailData
	RuleName  string
	ItemID    string
	Attempts  int
	LastError string
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}
