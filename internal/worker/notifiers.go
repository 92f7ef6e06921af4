package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"fieldops/internal/hub"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Delivery is what a provider reports back. Sent=false with a Reason is a
// failed delivery even when err is nil.
type Delivery struct {
	Sent   bool
	ID     string
	Reason string
}

type EmailNotifier interface {
	SendEmail(ctx context.Context, to, subject, html string) (Delivery, error)
}

type SMSNotifier interface {
	SendSMS(ctx context.Context, to, body string) (Delivery, error)
}

type PushNotifier interface {
	SendPush(ctx context.Context, token, title, body string, data map[string]interface{}) (Delivery, error)
}

type Notifiers struct {
	Email EmailNotifier
	SMS   SMSNotifier
	Push  PushNotifier
}

type NotifierConfig struct {
	EmailProvider string
	SMSProvider   string
	PushProvider  string
}

// NewNotifiers builds one provider per channel. Kinds are log (default),
// noop, fail, webhook, a literal http(s) URL, and hub for push.
func NewNotifiers(cfg NotifierConfig, h *hub.Hub, logger *zap.Logger) Notifiers {
	if logger == nil {
		logger = zap.NewNop()
	}
	var push PushNotifier = newProvider(cfg.PushProvider, "push", logger)
	if strings.EqualFold(cfg.PushProvider, "hub") && h != nil {
		push = hubProvider{hub: h}
	}
	return Notifiers{
		Email: newProvider(cfg.EmailProvider, "email", logger),
		SMS:   newProvider(cfg.SMSProvider, "sms", logger),
		Push:  push,
	}
}

type provider interface {
	EmailNotifier
	SMSNotifier
	PushNotifier
}

func newProvider(kind, channel string, logger *zap.Logger) provider {
	switch strings.ToLower(kind) {
	case "", "stub", "log", "hub":
		return logProvider{channel: channel, logger: logger}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "webhook":
		url := os.Getenv("REMINDER_" + strings.ToUpper(channel) + "_WEBHOOK_URL")
		token := os.Getenv("REMINDER_" + strings.ToUpper(channel) + "_WEBHOOK_TOKEN")
		if url == "" {
			logger.Warn("webhook provider without url, falling back to log", zap.String("channel", channel))
			return logProvider{channel: channel, logger: logger}
		}
		return newWebhookProvider(channel, url, token)
	default:
		if strings.HasPrefix(kind, "http://") || strings.HasPrefix(kind, "https://") {
			return newWebhookProvider(channel, kind, "")
		}
		logger.Warn("unknown provider kind, falling back to log", zap.String("channel", channel), zap.String("kind", kind))
		return logProvider{channel: channel, logger: logger}
	}
}

type logProvider struct {
	channel string
	logger  *zap.Logger
}

func (p logProvider) SendEmail(ctx context.Context, to, subject, html string) (Delivery, error) {
	return p.log(to, subject)
}

func (p logProvider) SendSMS(ctx context.Context, to, body string) (Delivery, error) {
	return p.log(to, body)
}

func (p logProvider) SendPush(ctx context.Context, token, title, body string, data map[string]interface{}) (Delivery, error) {
	return p.log(token, title+": "+body)
}

func (p logProvider) log(recipient, message string) (Delivery, error) {
	id := uuid.NewString()
	p.logger.Info("send reminder",
		zap.String("channel", p.channel),
		zap.String("recipient", recipient),
		zap.String("message", message),
		zap.String("delivery_id", id),
	)
	return Delivery{Sent: true, ID: id}, nil
}

type noopProvider struct{}

func (noopProvider) SendEmail(ctx context.Context, to, subject, html string) (Delivery, error) {
	return Delivery{Sent: true}, nil
}

func (noopProvider) SendSMS(ctx context.Context, to, body string) (Delivery, error) {
	return Delivery{Sent: true}, nil
}

func (noopProvider) SendPush(ctx context.Context, token, title, body string, data map[string]interface{}) (Delivery, error) {
	return Delivery{Sent: true}, nil
}

var errProviderFailure = errors.New("provider failure")

type failProvider struct{}

func (failProvider) SendEmail(ctx context.Context, to, subject, html string) (Delivery, error) {
	return Delivery{}, errProviderFailure
}

func (failProvider) SendSMS(ctx context.Context, to, body string) (Delivery, error) {
	return Delivery{}, errProviderFailure
}

func (failProvider) SendPush(ctx context.Context, token, title, body string, data map[string]interface{}) (Delivery, error) {
	return Delivery{}, errProviderFailure
}

type webhookProvider struct {
	channel string
	url     string
	token   string
	client  *http.Client
}

func newWebhookProvider(channel, url, token string) webhookProvider {
	return webhookProvider{
		channel: channel,
		url:     url,
		token:   token,
		client: &http.Client{
			Timeout:   5 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (p webhookProvider) SendEmail(ctx context.Context, to, subject, html string) (Delivery, error) {
	return p.post(ctx, map[string]interface{}{"to": to, "subject": subject, "html": html})
}

func (p webhookProvider) SendSMS(ctx context.Context, to, body string) (Delivery, error) {
	return p.post(ctx, map[string]interface{}{"to": to, "body": body})
}

func (p webhookProvider) SendPush(ctx context.Context, token, title, body string, data map[string]interface{}) (Delivery, error) {
	return p.post(ctx, map[string]interface{}{"token": token, "title": title, "body": body, "data": data})
}

type webhookResponse struct {
	Sent   *bool  `json:"sent"`
	ID     string `json:"id"`
	SID    string `json:"sid"`
	Reason string `json:"reason"`
}

func (p webhookProvider) post(ctx context.Context, payload map[string]interface{}) (Delivery, error) {
	payload["channel"] = p.channel
	body, err := json.Marshal(payload)
	if err != nil {
		return Delivery{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Delivery{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return Delivery{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return Delivery{}, fmt.Errorf("provider rejected request: status %d", resp.StatusCode)
	}

	// An empty or non-JSON 2xx body counts as sent.
	var decoded webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Delivery{Sent: true}, nil
	}
	delivery := Delivery{Sent: true, ID: decoded.ID, Reason: decoded.Reason}
	if delivery.ID == "" {
		delivery.ID = decoded.SID
	}
	if decoded.Sent != nil {
		delivery.Sent = *decoded.Sent
	}
	return delivery, nil
}

// hubProvider pushes to the realtime sessions of the user whose id is the token.
type hubProvider struct {
	hub *hub.Hub
}

func (p hubProvider) SendPush(ctx context.Context, token, title, body string, data map[string]interface{}) (Delivery, error) {
	payload, err := json.Marshal(map[string]interface{}{"title": title, "body": body, "data": data})
	if err != nil {
		return Delivery{}, err
	}
	frame, err := json.Marshal(hub.Envelope{Type: "reminder", Payload: payload})
	if err != nil {
		return Delivery{}, err
	}
	if p.hub.Deliver(token, frame) == 0 {
		return Delivery{Sent: false, Reason: "no connected session"}, nil
	}
	return Delivery{Sent: true, ID: uuid.NewString()}, nil
}
