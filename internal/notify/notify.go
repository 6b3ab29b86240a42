// Package notify tells humans about new leads. Delivery is best effort: a
// failed notification never fails the submission that caused it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	perrors "github.com/p-blackswan/videofunnel/internal/errors"
	"github.com/p-blackswan/videofunnel/internal/models"
	"github.com/p-blackswan/videofunnel/internal/retry"
)

// Notifier announces a newly captured lead.
type Notifier interface {
	LeadCaptured(ctx context.Context, lead *models.Lead) error
}

// LogNotifier logs leads. It is always installed so development setups see
// captures without Slack.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *LogNotifier) LeadCaptured(_ context.Context, lead *models.Lead) error {
	l.logger.Info().
		Str("lead_id", lead.ID).
		Str("source", string(lead.Source)).
		Msg("lead captured")
	return nil
}

// SlackNotifier posts to a Slack incoming webhook. Rate limiting, server
// errors and transport failures are retried with backoff.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
	retry      retry.Config
	logger     zerolog.Logger
}

// SlackOption configures a SlackNotifier.
type SlackOption func(*SlackNotifier)

// WithRetry overrides the webhook retry policy.
func WithRetry(cfg retry.Config) SlackOption {
	return func(n *SlackNotifier) { n.retry = cfg }
}

// WithSlackLogger sets the logger used to report retries.
func WithSlackLogger(l zerolog.Logger) SlackOption {
	return func(n *SlackNotifier) { n.logger = l }
}

// NewSlackNotifier creates a webhook notifier. channel may be empty to use
// the webhook's default.
func NewSlackNotifier(webhookURL, channel string, opts ...SlackOption) *SlackNotifier {
	n := &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 10 * time.Second},
		retry:      retry.DefaultConfig(),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With().Str("component", "notify").Str("notifier", "slack").Logger()
	return n
}

func (n *SlackNotifier) LeadCaptured(ctx context.Context, lead *models.Lead) error {
	msg := leadMessage(n.channel, lead)

	cfg := n.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		n.logger.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Str("lead_id", lead.ID).Msg("retrying slack webhook")
	}
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		return classifySlackError(ctx, slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.client, msg))
	})
	if err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

// classifySlackError maps webhook failures onto errors the retry policy
// understands.
func classifySlackError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var status slack.StatusCodeError
	if errors.As(err, &status) {
		return &perrors.APIError{Service: "slack", StatusCode: status.Code, Message: status.Status, Err: err}
	}
	var limited *slack.RateLimitedError
	if errors.As(err, &limited) {
		return &perrors.APIError{Service: "slack", StatusCode: http.StatusTooManyRequests, Message: "rate limited", Err: err}
	}
	if ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %v", perrors.ErrUnavailable, err)
}

func leadMessage(channel string, lead *models.Lead) *slack.WebhookMessage {
	fields := []slack.AttachmentField{
		{Title: "Email", Value: lead.Email, Short: true},
		{Title: "Source", Value: string(lead.Source), Short: true},
	}
	if lead.FirstName != "" {
		fields = append(fields, slack.AttachmentField{Title: "Name", Value: lead.FirstName, Short: true})
	}
	if len(lead.Tags) > 0 {
		fields = append(fields, slack.AttachmentField{Title: "Tags", Value: strings.Join(lead.Tags, ", "), Short: true})
	}
	if lead.Referrer != "" {
		fields = append(fields, slack.AttachmentField{Title: "Referrer", Value: lead.Referrer})
	}

	return &slack.WebhookMessage{
		Channel: channel,
		Text:    fmt.Sprintf(":tada: New lead from %s", lead.Source),
		Attachments: []slack.Attachment{{
			Color:  "good",
			Fields: fields,
			Footer: lead.ID,
		}},
	}
}

// MultiNotifier fans out to multiple notifiers and joins their errors.
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(ns ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: ns}
}

func (m *MultiNotifier) LeadCaptured(ctx context.Context, lead *models.Lead) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.LeadCaptured(ctx, lead); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async delivers notifications from a background worker so callers never
// wait on a webhook. When the queue is full the lead is dropped and logged.
type Async struct {
	next    Notifier
	queue   chan *models.Lead
	timeout time.Duration
	logger  zerolog.Logger
	onError func(error)

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAsync starts a worker that forwards to next. onError may be nil.
func NewAsync(next Notifier, queueSize int, timeout time.Duration, onError func(error), logger zerolog.Logger) *Async {
	if queueSize < 1 {
		queueSize = 64
	}
	a := &Async{
		next:    next,
		queue:   make(chan *models.Lead, queueSize),
		timeout: timeout,
		logger:  logger.With().Str("component", "notify").Logger(),
		onError: onError,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// LeadCaptured enqueues lead. It never blocks and never returns an error.
func (a *Async) LeadCaptured(_ context.Context, lead *models.Lead) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- lead:
	default:
		a.logger.Warn().Str("lead_id", lead.ID).Msg("notification queue full, dropping")
	}
	return nil
}

func (a *Async) run() {
	defer a.wg.Done()
	for lead := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := a.next.LeadCaptured(ctx, lead)
		cancel()
		if err != nil {
			a.logger.Warn().Err(err).Str("lead_id", lead.ID).Msg("lead notification failed")
			if a.onError != nil {
				a.onError(err)
			}
		}
	}
}

// Close stops accepting leads and waits for queued ones to be delivered.
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	a.wg.Wait()
}
