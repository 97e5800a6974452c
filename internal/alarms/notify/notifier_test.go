package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alarmapp "climate-guard/internal/alarms/application"
	alarms "climate-guard/internal/alarms/domain"
)

type captureChannel struct {
	messages []string
}

func (c *captureChannel) Send(_ context.Context, content string) error {
	c.messages = append(c.messages, content)
	return nil
}

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func TestWebhookNotifierPayload(t *testing.T) {
	payloadCh := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL, WithTimeout(time.Second))
	require.NoError(t, err)
	notifier, err := NewNotifier(channel, nil)
	require.NoError(t, err)

	notifier.Notify(context.Background(), alarmapp.TransitionEvent{
		Signal:  alarms.SignalTemperature,
		State:   alarms.BuzzerActive,
		Command: alarms.CommandActivate,
		At:      time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	})

	select {
	case payload := <-payloadCh:
		assert.True(t, strings.HasPrefix(payload.Text, "[Buzzer On]"))
		assert.Contains(t, payload.Text, "Signal: temperature")
		assert.Contains(t, payload.Text, "Time: 2024-03-01T08:00:00Z")
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestNotifierDedupeWindow(t *testing.T) {
	channel := &captureChannel{}
	clock := &fixedClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	notifier, err := NewNotifier(channel, nil, WithClock(clock), WithDedupeWindow(time.Minute))
	require.NoError(t, err)

	event := alarmapp.TransitionEvent{Signal: alarms.SignalHumidity, State: alarms.BuzzerInactive, Command: alarms.CommandDeactivate, At: clock.now}
	notifier.Notify(context.Background(), event)
	notifier.Notify(context.Background(), event)
	assert.Len(t, channel.messages, 1)

	clock.now = clock.now.Add(2 * time.Minute)
	notifier.Notify(context.Background(), event)
	assert.Len(t, channel.messages, 2)
}

func TestLoadTemplateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.yaml")
	require.NoError(t, os.WriteFile(path, []byte("template: \"{{.Signal}} is {{.EventLabel}}\"\n"), 0o600))

	tpl, err := LoadTemplateFile(path)
	require.NoError(t, err)
	out, err := tpl.Render(TemplateData{Signal: "humidity", EventLabel: "Off"})
	require.NoError(t, err)
	assert.Equal(t, "humidity is Off", out)
}

func TestNewNotifier_NilChannel(t *testing.T) {
	_, err := NewNotifier(nil, nil)
	assert.Error(t, err)
}
