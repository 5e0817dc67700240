package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/azure/arxiv-poster-bot/internal/config"
	"github.com/azure/arxiv-poster-bot/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Service sends operator notifications via Teams and email
type Service struct {
	config *config.Config
	client *resty.Client
	send   func(m *gomail.Message) error
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle    string      `json:"activityTitle,omitempty"`
	ActivitySubtitle string      `json:"activitySubtitle,omitempty"`
	ActivityText     string      `json:"activityText,omitempty"`
	Facts            []TeamsFact `json:"facts,omitempty"`
	Markdown         bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a new notification service
func NewService(cfg *config.Config) *Service {
	s := &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
	s.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
		return d.DialAndSend(m)
	}
	return s
}

// Enabled reports whether any operator channel is configured
func (s *Service) Enabled() bool {
	return s.config.TeamsWebhookURL != "" || s.config.NotificationEmail != ""
}

// SendReport sends the periodic status report via configured notification channels
func (s *Service) SendReport(report *models.Report) error {
	subject := fmt.Sprintf("arXiv Poster Report - %s (%d queued, %d posted today)",
		report.Period, report.Status.QueueDepth, report.Status.PostsToday)

	htmlBody, err := s.buildReportHTML(report)
	if err != nil {
		return fmt.Errorf("failed to build report HTML: %w", err)
	}

	return s.dispatch("report", s.buildReportTeams(report), subject, buildReportText(report), htmlBody)
}

// SendAlert sends an urgent alert notification
func (s *Service) SendAlert(alert *models.Alert) error {
	logrus.WithFields(logrus.Fields{
		"type":  alert.Type,
		"title": alert.Title,
	}).Warn("Operator alert")

	subject := fmt.Sprintf("[%s] arXiv Poster: %s", strings.ToUpper(alert.Type), alert.Title)
	text := fmt.Sprintf("%s\n\n%s\nRaised: %s\n", alert.Title, alert.Message, alert.CreatedAt.Format(time.RFC3339))
	if alert.Item != nil {
		text += fmt.Sprintf("Paper: %s (%s)\n", alert.Item.Title, alert.Item.URL)
	}
	html := "<pre>" + template.HTMLEscapeString(text) + "</pre>"

	return s.dispatch("alert", s.buildAlertTeams(alert), subject, text, html)
}

func (s *Service) dispatch(kind string, teams *TeamsMessage, subject, text, html string) error {
	var errors []string

	// Send to Teams if configured
	if s.config.TeamsWebhookURL != "" {
		if err := s.sendToTeams(teams); err != nil {
			logrus.Errorf("Failed to send Teams %s: %v", kind, err)
			errors = append(errors, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Infof("Successfully sent %s to Teams", kind)
		}
	}

	// Send via email if configured
	if s.config.NotificationEmail != "" {
		if err := s.sendEmail(subject, text, html); err != nil {
			logrus.Errorf("Failed to send email %s: %v", kind, err)
			errors = append(errors, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Infof("Successfully sent %s via email", kind)
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (s *Service) sendToTeams(message *TeamsMessage) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)

	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}

	if resp.StatusCode() != 200 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	return nil
}

func (s *Service) sendEmail(subject, text, html string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", html)

	if err := s.send(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

func (s *Service) buildAlertTeams(alert *models.Alert) *TeamsMessage {
	color := "0078D4"
	if alert.Type == "critical" {
		color = "D13438"
	}

	facts := []TeamsFact{
		{Name: "Type", Value: alert.Type},
		{Name: "Raised", Value: alert.CreatedAt.Format("2006-01-02 15:04:05 MST")},
	}
	if alert.Item != nil {
		facts = append(facts, TeamsFact{Name: "Paper", Value: fmt.Sprintf("[%s](%s)", alert.Item.Title, alert.Item.URL)})
	}

	return &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: color,
		Title:      "arXiv Poster Alert - " + alert.Title,
		Text:       alert.Message,
		Sections:   []TeamsSection{{Facts: facts, Markdown: true}},
	}
}

func (s *Service) buildReportTeams(report *models.Report) *TeamsMessage {
	st := report.Status
	message := &TeamsMessage{
		Type:    "MessageCard",
		Context: "https://schema.org/extensions",
		Title:   fmt.Sprintf("arXiv Poster Report - %s", report.Period),
		Text:    fmt.Sprintf("%d papers queued, %d posted today, %d posted in total", st.QueueDepth, st.PostsToday, st.PostedTotal),
	}

	facts := []TeamsFact{
		{Name: "Channel", Value: st.TargetChannel},
		{Name: "Posts Today", Value: fmt.Sprintf("%d / %d", st.PostsToday, st.MaxPostsPerDay)},
		{Name: "Last Discovery", Value: formatTime(st.LastDiscovery)},
		{Name: "Last Post", Value: formatTime(st.LastPost)},
		{Name: "Generated", Value: report.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
	}
	if report.Pruned > 0 {
		facts = append(facts, TeamsFact{Name: "Pruned Dedup Entries", Value: fmt.Sprintf("%d", report.Pruned)})
	}
	for _, e := range []struct{ name, value string }{
		{"Discovery Error", st.LastDiscoveryError},
		{"Posting Error", st.LastPostError},
		{"Save Error", st.LastSaveError},
	} {
		if e.value != "" {
			facts = append(facts, TeamsFact{Name: e.name, Value: e.value})
		}
	}

	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Summary",
		Facts:         facts,
		Markdown:      true,
	})

	// Add upcoming papers section
	if len(report.Upcoming) > 0 {
		var upcoming []string
		for _, item := range report.Upcoming {
			upcoming = append(upcoming, fmt.Sprintf("**[%s](%s)** - score %.1f (%s)",
				item.Title, item.URL, item.PriorityScore, item.PublishedAt.Format("Jan 2")))
		}

		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Up Next",
			ActivityText:  strings.Join(upcoming, "\n\n"),
			Markdown:      true,
		})
	}

	return message
}

func (s *Service) buildReportHTML(report *models.Report) (string, error) {
	tmpl := `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>arXiv Poster Report</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #b31b1b; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        .paper { border-left: 4px solid #b31b1b; padding: 10px; margin: 10px 0; background-color: #fafafa; }
        .paper-title { font-weight: bold; margin-bottom: 5px; }
        .paper-meta { color: #666; font-size: 0.9em; }
        .error { color: #d13438; }
    </style>
</head>
<body>
    <div class="header">
        <h1>arXiv Poster Report</h1>
        <p>{{.Period}} report generated on {{.GeneratedAt.Format "January 2, 2006 at 3:04 PM MST"}}</p>
    </div>

    <div class="summary">
        <h2>Summary</h2>
        <p><strong>Channel:</strong> {{.Status.TargetChannel}}</p>
        <p><strong>Queued:</strong> {{.Status.QueueDepth}}</p>
        <p><strong>Posted Today:</strong> {{.Status.PostsToday}} / {{.Status.MaxPostsPerDay}}</p>
        <p><strong>Posted Total:</strong> {{.Status.PostedTotal}}</p>
        {{if .Pruned}}<p><strong>Pruned Dedup Entries:</strong> {{.Pruned}}</p>{{end}}
        {{if .Status.LastDiscoveryError}}<p class="error">Discovery: {{.Status.LastDiscoveryError}}</p>{{end}}
        {{if .Status.LastPostError}}<p class="error">Posting: {{.Status.LastPostError}}</p>{{end}}
        {{if .Status.LastSaveError}}<p class="error">Persistence: {{.Status.LastSaveError}}</p>{{end}}
    </div>

    {{if .Upcoming}}
    <h2>Up Next</h2>
    {{range .Upcoming}}
        <div class="paper">
            <div class="paper-title">
                <a href="{{.URL}}" target="_blank">{{.Title}}</a>
            </div>
            <div class="paper-meta">
                {{.Authors | authors}} | {{.PublishedAt.Format "Jan 2, 2006"}} | Score: {{printf "%.1f" .PriorityScore}}
            </div>
            {{if .Abstract}}
            <p>{{.Abstract | truncate 200}}</p>
            {{end}}
        </div>
    {{end}}
    {{end}}

    <hr>
    <p><small>This report was generated automatically by the arXiv Poster Bot.</small></p>
</body>
</html>
`

	// Create template with custom functions
	t := template.New("email").Funcs(template.FuncMap{
		"authors": func(a []string) string {
			if len(a) > 3 {
				return strings.Join(a[:3], ", ") + " et al."
			}
			return strings.Join(a, ", ")
		},
		"truncate": func(length int, s string) string {
			if len(s) <= length {
				return s
			}
			return s[:length] + "..."
		},
	})

	t, err := t.Parse(tmpl)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, report); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func buildReportText(report *models.Report) string {
	var text strings.Builder
	st := report.Status

	text.WriteString(fmt.Sprintf("arXiv Poster Report - %s\n", report.Period))
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05 MST")))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("Channel: %s\n", st.TargetChannel))
	text.WriteString(fmt.Sprintf("Queued: %d\n", st.QueueDepth))
	text.WriteString(fmt.Sprintf("Posted Today: %d / %d\n", st.PostsToday, st.MaxPostsPerDay))
	text.WriteString(fmt.Sprintf("Posted Total: %d\n", st.PostedTotal))
	text.WriteString(fmt.Sprintf("Last Discovery: %s\n", formatTime(st.LastDiscovery)))
	text.WriteString(fmt.Sprintf("Last Post: %s\n", formatTime(st.LastPost)))
	if report.Pruned > 0 {
		text.WriteString(fmt.Sprintf("Pruned Dedup Entries: %d\n", report.Pruned))
	}

	if len(report.Upcoming) > 0 {
		text.WriteString("\nUP NEXT\n")
		text.WriteString("=======\n")

		for i, item := range report.Upcoming {
			text.WriteString(fmt.Sprintf("\n%d. %s\n", i+1, item.Title))
			text.WriteString(fmt.Sprintf("   Score: %.1f | Published: %s\n", item.PriorityScore, item.PublishedAt.Format("Jan 2, 2006")))
			text.WriteString(fmt.Sprintf("   URL: %s\n", item.URL))
		}
	}

	text.WriteString("\n---\nThis report was generated automatically by the arXiv Poster Bot.\n")

	return text.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04 MST")
}
