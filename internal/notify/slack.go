package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/saadactin/Nitin-sir/internal/config"
)

// Notifier sends run lifecycle events and alerts to a Slack webhook.
type Notifier struct {
	config     *config.AlertsConfig
	httpClient *http.Client
}

// SlackMessage represents a Slack webhook message
type SlackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Username    string            `json:"username,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color      string       `json:"color,omitempty"`
	Title      string       `json:"title,omitempty"`
	Text       string       `json:"text,omitempty"`
	Fields     []SlackField `json:"fields,omitempty"`
	Footer     string       `json:"footer,omitempty"`
	FooterIcon string       `json:"footer_icon,omitempty"`
	Timestamp  int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Severity colors, matching the alert ladder in the warehouse.
const (
	colorGreen  = "#36a64f"
	colorYellow = "#ffc107"
	colorOrange = "#fd7e14"
	colorRed    = "#dc3545"
)

// New creates a Slack notifier. A nil or webhook-less config yields a
// notifier whose sends are all no-ops.
func New(cfg *config.AlertsConfig) *Notifier {
	if cfg == nil {
		cfg = &config.AlertsConfig{}
	}
	return &Notifier{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// IsEnabled returns true if a webhook is configured
func (n *Notifier) IsEnabled() bool {
	return n.config != nil && n.config.SlackWebhook != ""
}

// RunStarted sends notification when a run starts. Gated on the
// notify_on_start setting as well as the webhook.
func (n *Notifier) RunStarted(runID string, instances []string, tableCount int) error {
	if !n.IsEnabled() || !n.config.NotifyOnStart {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.SlackChannel,
		Username:  n.username(),
		IconEmoji: ":arrows_counterclockwise:",
		Attachments: []SlackAttachment{
			{
				Color: colorGreen,
				Title: "Sync Run Started",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Tables", Value: fmt.Sprintf("%d", tableCount), Short: true},
					{Title: "Instances", Value: strings.Join(instances, ", "), Short: false},
				},
				Footer:    "syncctl",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// RunCompleted sends notification when every table in a run succeeded
func (n *Notifier) RunCompleted(runID string, startedAt time.Time, duration time.Duration, tableCount int, rows int64) error {
	if !n.IsEnabled() {
		return nil
	}

	headerText := fmt.Sprintf("Sync run completed. %d tables up to date, %s rows written.",
		tableCount, formatCount(rows))

	msg := SlackMessage{
		Channel:   n.config.SlackChannel,
		Username:  n.username(),
		IconEmoji: ":white_check_mark:",
		Text:      headerText,
		Attachments: []SlackAttachment{
			{
				Color: colorGreen,
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Started", Value: startedAt.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
					{Title: "Duration", Value: formatDuration(duration), Short: true},
					{Title: "Tables", Value: fmt.Sprintf("%d", tableCount), Short: true},
					{Title: "Rows Written", Value: formatCount(rows), Short: true},
					{Title: "Throughput", Value: fmt.Sprintf("%s rows/sec", formatCount(throughput(rows, duration))), Short: true},
				},
				Footer:    "syncctl",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// RunCompletedWithErrors sends notification when a run finished but some
// tables failed
func (n *Notifier) RunCompletedWithErrors(runID string, startedAt time.Time, duration time.Duration,
	succeeded, failed int, rows int64, failures []string) error {
	if !n.IsEnabled() {
		return nil
	}

	headerText := fmt.Sprintf("Sync run completed with errors. %d tables succeeded, %d failed. %s rows written.",
		succeeded, failed, formatCount(rows))

	msg := SlackMessage{
		Channel:   n.config.SlackChannel,
		Username:  n.username(),
		IconEmoji: ":warning:",
		Text:      headerText,
		Attachments: []SlackAttachment{
			{
				Color: colorYellow,
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Started", Value: startedAt.UTC().Format("2006-01-02 15:04:05 UTC"), Short: true},
					{Title: "Duration", Value: formatDuration(duration), Short: true},
					{Title: "Succeeded", Value: fmt.Sprintf("%d tables", succeeded), Short: true},
					{Title: "Failed", Value: fmt.Sprintf("%d tables", failed), Short: true},
					{Title: "Rows Written", Value: formatCount(rows), Short: true},
					{Title: "Failed Tables", Value: summarizeFailures(failures), Short: false},
				},
				Footer:    "syncctl",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// RunFailed sends notification when a run aborts
func (n *Notifier) RunFailed(runID string, err error, duration time.Duration) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
		if len(errMsg) > 500 {
			errMsg = errMsg[:500] + "..."
		}
	}

	msg := SlackMessage{
		Channel:   n.config.SlackChannel,
		Username:  n.username(),
		IconEmoji: ":x:",
		Attachments: []SlackAttachment{
			{
				Color: colorRed,
				Title: "Sync Run Failed",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Duration", Value: duration.Round(time.Second).String(), Short: true},
					{Title: "Error", Value: errMsg, Short: false},
				},
				Footer:    "syncctl",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// TableSyncFailed sends notification for an individual table failure
func (n *Notifier) TableSyncFailed(runID, table string, err error) error {
	if !n.IsEnabled() {
		return nil
	}

	errMsg := "Unknown error"
	if err != nil {
		errMsg = err.Error()
	}

	msg := SlackMessage{
		Channel:   n.config.SlackChannel,
		Username:  n.username(),
		IconEmoji: ":warning:",
		Attachments: []SlackAttachment{
			{
				Color: colorYellow,
				Title: "Table Sync Failed",
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Table", Value: table, Short: true},
					{Title: "Error", Value: errMsg, Short: false},
				},
				Footer:    "syncctl",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

// AlertRaised delivers an alert with the color of its severity
func (n *Notifier) AlertRaised(runID, severity, source, message string) error {
	if !n.IsEnabled() {
		return nil
	}

	msg := SlackMessage{
		Channel:   n.config.SlackChannel,
		Username:  n.username(),
		IconEmoji: ":rotating_light:",
		Attachments: []SlackAttachment{
			{
				Color: severityColor(severity),
				Title: fmt.Sprintf("Alert (%s)", severity),
				Text:  message,
				Fields: []SlackField{
					{Title: "Run ID", Value: runID, Short: true},
					{Title: "Source", Value: source, Short: true},
				},
				Footer:    "syncctl",
				Timestamp: time.Now().Unix(),
			},
		},
	}

	return n.send(msg)
}

func (n *Notifier) send(msg SlackMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	resp, err := n.httpClient.Post(n.config.SlackWebhook, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sending to Slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Slack returned status %d", resp.StatusCode)
	}

	return nil
}

func (n *Notifier) username() string {
	if n.config.SlackUsername != "" {
		return n.config.SlackUsername
	}
	return "syncctl"
}

func severityColor(severity string) string {
	switch severity {
	case "critical":
		return colorRed
	case "high":
		return colorOrange
	case "medium":
		return colorYellow
	default:
		return colorGreen
	}
}

func summarizeFailures(failures []string) string {
	if len(failures) == 0 {
		return "none"
	}
	if len(failures) <= 5 {
		return strings.Join(failures, ", ")
	}
	return fmt.Sprintf("%s... and %d more",
		strings.Join(failures[:3], ", "), len(failures)-3)
}

func throughput(rows int64, d time.Duration) int64 {
	secs := d.Seconds()
	if secs <= 0 {
		return rows
	}
	return int64(float64(rows) / secs)
}

func formatCount(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result []byte
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	return string(result)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
