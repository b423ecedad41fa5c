package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cas-valuer/internal/config"
	"cas-valuer/internal/models"
)

type recordingChannel struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingChannel) Name() string    { return "recording" }
func (r *recordingChannel) IsEnabled() bool { return true }

func (r *recordingChannel) Send(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return r.err
}

func TestLevelFilter(t *testing.T) {
	completed := StatementOutcome{StatementID: "s1", Status: models.StatusCompleted}
	failed := StatementOutcome{StatementID: "s2", Status: models.StatusFailed, Err: errors.New("boom")}

	tests := []struct {
		level string
		want  int
	}{
		{"all", 2},
		{"failures", 1},
		{"", 1},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			ch := &recordingChannel{}
			mn := NewMultiNotifier(config.NotifyConfig{Level: tt.level})
			mn.AddChannel(ch)

			_ = mn.SendStatement(context.Background(), completed)
			_ = mn.SendStatement(context.Background(), failed)

			if len(ch.sent) != tt.want {
				t.Fatalf("sent %d notifications, want %d", len(ch.sent), tt.want)
			}
			for _, n := range ch.sent {
				if n.Timestamp.IsZero() {
					t.Error("timestamp not set")
				}
			}
		})
	}
}

func TestOutcomeNotification(t *testing.T) {
	n := StatementOutcome{
		StatementID: "abc",
		FileName:    "cas.json",
		Status:      models.StatusFailed,
		Err:         errors.New("provider down"),
		Duration:    1500 * time.Millisecond,
	}.Notification()

	if n.Type != NotificationFailed {
		t.Errorf("Type = %s", n.Type)
	}
	if !strings.Contains(n.Title, "cas.json") {
		t.Errorf("Title = %q", n.Title)
	}
	if n.Data["error"] != "provider down" {
		t.Errorf("error data = %v", n.Data["error"])
	}
	if n.Data["duration_ms"] != int64(1500) {
		t.Errorf("duration_ms = %v", n.Data["duration_ms"])
	}

	n = StatementOutcome{StatementID: "abc", Status: models.StatusCompleted}.Notification()
	if n.Type != NotificationCompleted || !strings.Contains(n.Title, "abc") {
		t.Errorf("completed notification = %+v", n)
	}
}

func TestNotificationsAreRedacted(t *testing.T) {
	ch := &recordingChannel{}
	mn := NewMultiNotifier(config.NotifyConfig{Level: "all"})
	mn.AddChannel(ch)

	err := mn.SendStatement(context.Background(), StatementOutcome{
		StatementID: "s1",
		Status:      models.StatusFailed,
		Err:         errors.New("folio of ABCDE1234F has no schemes"),
	})
	if err != nil {
		t.Fatalf("SendStatement() error = %v", err)
	}
	n := ch.sent[0]
	if strings.Contains(n.Message, "ABCDE1234F") {
		t.Errorf("message leaks PAN: %q", n.Message)
	}
	if s, _ := n.Data["error"].(string); strings.Contains(s, "ABCDE1234F") {
		t.Errorf("data leaks PAN: %q", s)
	}
}

func TestChannelErrorsAreAggregated(t *testing.T) {
	mn := NewMultiNotifier(config.NotifyConfig{Level: "all"})
	ok := &recordingChannel{}
	mn.AddChannel(&recordingChannel{err: errors.New("down")})
	mn.AddChannel(ok)

	err := mn.Send(context.Background(), Notification{Type: NotificationInfo, Title: "hi"})
	if err == nil || !strings.Contains(err.Error(), "recording: down") {
		t.Fatalf("Send() error = %v", err)
	}
	if len(ok.sent) != 1 {
		t.Error("healthy channel skipped after a failing one")
	}
}

func TestWebhookNotifier(t *testing.T) {
	type request struct {
		agent string
		body  map[string]interface{}
	}
	requests := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := request{agent: r.Header.Get("User-Agent")}
		_ = json.NewDecoder(r.Body).Decode(&req.body)
		requests <- req
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	mn := NewMultiNotifier(config.NotifyConfig{
		Level:   "failures",
		Webhook: config.WebhookConfig{Enabled: true, URL: srv.URL},
	})
	if !mn.Enabled() {
		t.Fatal("webhook channel not enabled")
	}

	err := mn.SendStatement(context.Background(), StatementOutcome{
		StatementID: "s1",
		Status:      models.StatusFailed,
		Err:         errors.New("bad document"),
	})
	if err != nil {
		t.Fatalf("SendStatement() error = %v", err)
	}
	req := <-requests
	got, agent := req.body, req.agent
	if got["type"] != string(NotificationFailed) {
		t.Errorf("type = %v", got["type"])
	}
	data, _ := got["data"].(map[string]interface{})
	if data["statement_id"] != "s1" {
		t.Errorf("data = %v", data)
	}
	if agent != "cas-valuer/1.0" {
		t.Errorf("User-Agent = %q", agent)
	}
}

func TestWebhookNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhookNotifier(config.WebhookConfig{Enabled: true, URL: srv.URL})
	if err := w.Send(context.Background(), Notification{Type: NotificationInfo}); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestTelegramNotifier(t *testing.T) {
	type request struct {
		path    string
		payload map[string]interface{}
	}
	requests := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := request{path: r.URL.Path}
		_ = json.NewDecoder(r.Body).Decode(&req.payload)
		requests <- req
	}))
	defer srv.Close()

	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "tok", ChatID: "42"})
	tg.apiURL = srv.URL

	err := tg.Send(context.Background(), Notification{Title: "a<b", Message: "x & y"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	req := <-requests
	path, payload := req.path, req.payload
	if path != "/bottok/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if payload["chat_id"] != "42" {
		t.Errorf("chat_id = %v", payload["chat_id"])
	}
	if payload["text"] != "<b>a&lt;b</b>\n\nx &amp; y" {
		t.Errorf("text = %q", payload["text"])
	}
}

func TestTelegramDisabledWithoutChat(t *testing.T) {
	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true, BotToken: "tok"})
	if tg.IsEnabled() {
		t.Error("enabled without chat id")
	}
	if err := tg.Send(context.Background(), Notification{}); err != nil {
		t.Errorf("disabled Send() = %v", err)
	}
}
