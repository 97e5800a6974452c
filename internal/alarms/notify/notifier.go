package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	alarmapp "climate-guard/internal/alarms/application"
	alarms "climate-guard/internal/alarms/domain"
	"climate-guard/internal/observability/logging"
)

// Clock provides time for deduplication.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders buzzer transitions and sends them through a channel.
type Notifier struct {
	channel        Channel
	template       *Template
	clock          Clock
	logger         *zap.Logger
	mu             sync.Mutex
	sent           map[string]sendRecord
	dedupeWindow   time.Duration
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout bounds each send.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		n.logger = logging.OrNop(logger)
	}
}

// NewNotifier constructs a transition notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("buzzer notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		logger:         zap.NewNop(),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements application.TransitionNotifier. Failures are logged only.
func (n *Notifier) Notify(ctx context.Context, event alarmapp.TransitionEvent) {
	if n == nil || n.channel == nil {
		return
	}
	content, err := n.template.Render(buildTemplateData(event))
	if err != nil {
		n.logger.Warn("notification render failed", zap.Error(err))
		return
	}
	key := string(event.Signal) + "|" + string(event.State)
	if !n.shouldSend(key, content) {
		return
	}
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}
	if err := n.channel.Send(ctx, content); err != nil {
		n.logger.Warn("notification send failed",
			zap.String("signal", string(event.Signal)),
			zap.Error(err))
		return
	}
	n.markSent(key, content)
}

func buildTemplateData(event alarmapp.TransitionEvent) TemplateData {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	return TemplateData{
		Signal:     string(event.Signal),
		State:      string(event.State),
		Command:    string(event.Command),
		Time:       at.UTC().Format(time.RFC3339),
		Event:      string(event.Command),
		EventLabel: eventLabel(event.State),
	}
}

func eventLabel(state alarms.BuzzerState) string {
	switch state {
	case alarms.BuzzerActive:
		return "On"
	case alarms.BuzzerInactive:
		return "Off"
	default:
		return string(state)
	}
}

func (n *Notifier) shouldSend(key, content string) bool {
	if n.dedupeWindow <= 0 {
		return true
	}
	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	return record.hash != hashContent(content) || n.clock.Now().UTC().Sub(record.at) >= n.dedupeWindow
}

func (n *Notifier) markSent(key, content string) {
	n.mu.Lock()
	n.sent[key] = sendRecord{at: n.clock.Now().UTC(), hash: hashContent(content)}
	n.mu.Unlock()
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
