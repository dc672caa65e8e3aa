package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/saadactin/Nitin-sir/internal/config"
)

func captureSlack(t *testing.T) (*httptest.Server, *[]SlackMessage) {
	t.Helper()
	var got []SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg SlackMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("decoding webhook payload: %v", err)
		}
		got = append(got, msg)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestDisabledNotifierSendsNothing(t *testing.T) {
	n := New(nil)
	if n.IsEnabled() {
		t.Fatal("notifier with no webhook reports enabled")
	}
	if err := n.RunFailed("run_1", errors.New("boom"), time.Second); err != nil {
		t.Errorf("disabled send returned %v", err)
	}
}

func TestRunStartedHonorsNotifyOnStart(t *testing.T) {
	srv, got := captureSlack(t)

	n := New(&config.AlertsConfig{SlackWebhook: srv.URL})
	if err := n.RunStarted("run_1", []string{"prod"}, 4); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	if len(*got) != 0 {
		t.Fatalf("notify_on_start disabled but %d messages sent", len(*got))
	}

	n = New(&config.AlertsConfig{SlackWebhook: srv.URL, NotifyOnStart: true})
	if err := n.RunStarted("run_1", []string{"prod", "reporting"}, 4); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	if len(*got) != 1 {
		t.Fatalf("sent %d messages, want 1", len(*got))
	}

	att := (*got)[0].Attachments[0]
	if att.Title != "Sync Run Started" {
		t.Errorf("title = %q", att.Title)
	}
	if att.Fields[2].Value != "prod, reporting" {
		t.Errorf("instances field = %q", att.Fields[2].Value)
	}
}

func TestAlertRaisedCarriesSeverityColor(t *testing.T) {
	srv, got := captureSlack(t)
	n := New(&config.AlertsConfig{SlackWebhook: srv.URL, SlackChannel: "#sync-ops"})

	err := n.AlertRaised("run_7", "critical", "audit",
		"Row count mismatch on prod/erp dbo.orders: source=100 target=98 (delta -2, 2.0% drift)")
	if err != nil {
		t.Fatalf("AlertRaised: %v", err)
	}

	if len(*got) != 1 {
		t.Fatalf("sent %d messages, want 1", len(*got))
	}
	msg := (*got)[0]
	if msg.Channel != "#sync-ops" {
		t.Errorf("channel = %q", msg.Channel)
	}
	if msg.Username != "syncctl" {
		t.Errorf("username = %q, want default", msg.Username)
	}
	att := msg.Attachments[0]
	if att.Color != colorRed {
		t.Errorf("color = %q, want %q for critical", att.Color, colorRed)
	}
	if !strings.Contains(att.Text, "source=100 target=98") {
		t.Errorf("attachment text = %q", att.Text)
	}
}

func TestSendRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no_service", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := New(&config.AlertsConfig{SlackWebhook: srv.URL})
	err := n.TableSyncFailed("run_1", "dbo.orders", errors.New("write failed"))
	if err == nil || !strings.Contains(err.Error(), "status 503") {
		t.Errorf("err = %v, want status 503", err)
	}
}

func TestSeverityColor(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{"critical", colorRed},
		{"high", colorOrange},
		{"medium", colorYellow},
		{"low", colorGreen},
		{"none", colorGreen},
	}
	for _, tt := range tests {
		if got := severityColor(tt.severity); got != tt.want {
			t.Errorf("severityColor(%q) = %q, want %q", tt.severity, got, tt.want)
		}
	}
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{1234567, "1,234,567"},
	}
	for _, tt := range tests {
		if got := formatCount(tt.in); got != tt.want {
			t.Errorf("formatCount(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSummarizeFailures(t *testing.T) {
	if got := summarizeFailures(nil); got != "none" {
		t.Errorf("empty = %q", got)
	}
	if got := summarizeFailures([]string{"dbo.a", "dbo.b"}); got != "dbo.a, dbo.b" {
		t.Errorf("short list = %q", got)
	}
	long := []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7"}
	if got := summarizeFailures(long); got != "t1, t2, t3... and 4 more" {
		t.Errorf("long list = %q", got)
	}
}
