// Package notify posts run lifecycle events to a Slack incoming webhook.
// Notification failures are reported to the caller but never fail a run.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xerdata/dwhsync/internal/config"
)

const (
	colorGreen  = "#36a64f"
	colorYellow = "#ffc107"
	colorRed    = "#dc3545"
	colorBlue   = "#2196f3"

	maxErrorLength   = 500
	maxListedFailure = 3
)

// SlackMessage is the webhook payload.
type SlackMessage struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	IconEmoji   string       `json:"icon_emoji,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is one formatted block in a message.
type Attachment struct {
	Color  string  `json:"color,omitempty"`
	Title  string  `json:"title,omitempty"`
	Text   string  `json:"text,omitempty"`
	Fields []Field `json:"fields,omitempty"`
	Footer string  `json:"footer,omitempty"`
}

// Field is a key/value pair inside an attachment.
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Notifier sends run events. A Notifier built from a nil or disabled config
// is valid and silently drops every event.
type Notifier struct {
	cfg    *config.SlackConfig
	client *http.Client
}

// New creates a Notifier. cfg may be nil.
func New(cfg *config.SlackConfig) *Notifier {
	return &Notifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// IsEnabled reports whether events will actually be sent.
func (n *Notifier) IsEnabled() bool {
	return n.cfg != nil && n.cfg.Enabled && n.cfg.WebhookURL != ""
}

func (n *Notifier) getUsername() string {
	if n.cfg != nil && n.cfg.Username != "" {
		return n.cfg.Username
	}
	return "dwhsync"
}

// RunStarted announces a new run.
func (n *Notifier) RunStarted(runID, database string, tableCount int) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(SlackMessage{
		IconEmoji: ":arrow_forward:",
		Attachments: []Attachment{{
			Color: colorBlue,
			Title: "Sync Started",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Database", Value: database, Short: true},
				{Title: "Tables", Value: formatNumberWithCommas(int64(tableCount)), Short: true},
			},
		}},
	})
}

// RunCompleted announces a fully successful run.
func (n *Notifier) RunCompleted(runID string, startTime time.Time, duration time.Duration, tables int, rowsExtracted, rowsLoaded int64) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(SlackMessage{
		IconEmoji: ":white_check_mark:",
		Attachments: []Attachment{{
			Color: colorGreen,
			Title: "Sync Completed",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Started", Value: startTime.Format(time.RFC3339), Short: true},
				{Title: "Duration", Value: formatDuration(duration), Short: true},
				{Title: "Tables", Value: formatNumberWithCommas(int64(tables)), Short: true},
				{Title: "Rows Extracted", Value: formatNumberWithCommas(rowsExtracted), Short: true},
				{Title: "Rows Loaded", Value: formatNumberWithCommas(rowsLoaded), Short: true},
			},
		}},
	})
}

// RunCompletedWithErrors announces a run where some tables failed.
func (n *Notifier) RunCompletedWithErrors(runID string, startTime time.Time, duration time.Duration, succeeded, failed int, rowsExtracted, rowsLoaded int64, failures []string) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(SlackMessage{
		IconEmoji: ":warning:",
		Attachments: []Attachment{{
			Color: colorYellow,
			Title: "Sync Completed With Errors",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Duration", Value: formatDuration(duration), Short: true},
				{Title: "Succeeded", Value: formatNumberWithCommas(int64(succeeded)), Short: true},
				{Title: "Failed", Value: formatNumberWithCommas(int64(failed)), Short: true},
				{Title: "Rows Extracted", Value: formatNumberWithCommas(rowsExtracted), Short: true},
				{Title: "Rows Loaded", Value: formatNumberWithCommas(rowsLoaded), Short: true},
				{Title: "Failed Tables", Value: summarizeFailures(failures), Short: false},
			},
		}},
	})
}

// RunFailed announces a run that aborted outright.
func (n *Notifier) RunFailed(runID string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(SlackMessage{
		IconEmoji: ":x:",
		Attachments: []Attachment{{
			Color: colorRed,
			Title: "Sync Failed",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Duration", Value: formatDuration(duration), Short: true},
				{Title: "Error", Value: errorText(err), Short: false},
			},
		}},
	})
}

// TableSyncFailed announces one table's failure mid-run.
func (n *Notifier) TableSyncFailed(runID, table string, err error) error {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(SlackMessage{
		IconEmoji: ":x:",
		Attachments: []Attachment{{
			Color: colorRed,
			Title: "Table Sync Failed",
			Fields: []Field{
				{Title: "Run ID", Value: runID, Short: true},
				{Title: "Table", Value: table, Short: true},
				{Title: "Error", Value: errorText(err), Short: false},
			},
		}},
	})
}

func (n *Notifier) send(msg SlackMessage) error {
	msg.Channel = n.cfg.Channel
	msg.Username = n.getUsername()

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding slack message: %w", err)
	}

	resp, err := n.client.Post(n.cfg.WebhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("posting to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func errorText(err error) string {
	if err == nil {
		return "Unknown error"
	}
	msg := err.Error()
	if len(msg) > maxErrorLength {
		return msg[:maxErrorLength] + "..."
	}
	return msg
}

func summarizeFailures(failures []string) string {
	if len(failures) <= maxListedFailure {
		return "Failed tables: " + strings.Join(failures, ", ")
	}
	return fmt.Sprintf("Failed tables: %s... and %d more",
		strings.Join(failures[:maxListedFailure], ", "), len(failures)-maxListedFailure)
}

func formatNumberWithCommas(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)

	out := strings.Join(parts, ",")
	if neg {
		return "-" + out
	}
	return out
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60

	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
