package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/nats-io/nats.go"

	"tourguard/internal/model"
)

// Notifier is the external delivery collaborator. Notify must be safe for
// concurrent use; a returned error triggers a retry.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// AlertSubjectPrefix is the NATS subject prefix alerts are published under,
// followed by the alert kind.
const AlertSubjectPrefix = "tourguard.alert"

// AlertSubject returns the subject for an alert kind.
func AlertSubject(kind model.AlertKind) string {
	return AlertSubjectPrefix + "." + string(kind)
}

// LogNotifier only logs. Used when no delivery channel is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n model.Notification) error {
	log.Printf("[Notify] %s %s tourist=%s zone=%s severity=%s", n.Kind, n.AlertID, n.TouristID, n.ZoneID, n.Severity)
	return nil
}

// NATSNotifier publishes alerts on core NATS.
type NATSNotifier struct {
	nc *nats.Conn
}

func NewNATSNotifier(nc *nats.Conn) *NATSNotifier {
	return &NATSNotifier{nc: nc}
}

func (p *NATSNotifier) Notify(ctx context.Context, n model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal notification: %w", err))
	}
	if err := p.nc.Publish(AlertSubject(n.Kind), data); err != nil {
		return fmt.Errorf("publish %s: %w", n.AlertID, err)
	}
	// Flush so a dead connection surfaces as an error and gets retried.
	return p.nc.FlushWithContext(ctx)
}

// StreamAlerts is the durable alert log.
const StreamAlerts = "TOURGUARD_ALERTS"

// JetStreamNotifier publishes alerts into a JetStream stream and waits for
// the server ack. Core subscribers on the same subjects still receive them.
type JetStreamNotifier struct {
	js nats.JetStreamContext
}

// NewJetStreamNotifier creates or updates the alert stream.
func NewJetStreamNotifier(nc *nats.Conn, maxAge time.Duration) (*JetStreamNotifier, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}
	cfg := &nats.StreamConfig{
		Name:      StreamAlerts,
		Subjects:  []string{AlertSubjectPrefix + ".*"},
		Retention: nats.LimitsPolicy,
		MaxMsgs:   -1,
		MaxAge:    maxAge,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}
	if _, err := js.AddStream(cfg); err != nil {
		if !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
		}
		if _, err := js.UpdateStream(cfg); err != nil {
			return nil, fmt.Errorf("failed to update stream %s: %w", cfg.Name, err)
		}
	}
	return &JetStreamNotifier{js: js}, nil
}

// StreamInfo reports the alert stream state for health checks.
func (p *JetStreamNotifier) StreamInfo() (*nats.StreamInfo, error) {
	return p.js.StreamInfo(StreamAlerts)
}

func (p *JetStreamNotifier) Notify(ctx context.Context, n model.Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal notification: %w", err))
	}
	// The alert ID doubles as the dedup key, so a retried publish is stored once.
	_, err = p.js.Publish(AlertSubject(n.Kind), data, nats.Context(ctx), nats.MsgId(n.AlertID))
	if err != nil {
		return fmt.Errorf("jetstream publish %s: %w", n.AlertID, err)
	}
	return nil
}

const (
	WebhookSignatureHeader = "X-Tourguard-Signature"
	WebhookTimestampHeader = "X-Tourguard-Timestamp"
	WebhookEventHeader     = "X-Tourguard-Event"
	WebhookIDHeader        = "X-Tourguard-ID"
)

// WebhookNotifier POSTs alerts to an HTTP endpoint, signed with HMAC-SHA256
// over timestamp + "." + body when a secret is set.
type WebhookNotifier struct {
	url        string
	secret     string
	httpClient *http.Client
}

func NewWebhookNotifier(url, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		secret:     secret,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *WebhookNotifier) Notify(ctx context.Context, n model.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal notification: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request failed: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Tourguard-Webhook/1.0")
	req.Header.Set(WebhookEventHeader, string(n.Kind))
	req.Header.Set(WebhookIDHeader, n.AlertID)

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(WebhookTimestampHeader, timestamp)
	if w.secret != "" {
		req.Header.Set(WebhookSignatureHeader, GenerateSignature(payload, timestamp, w.secret))
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request failed: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		// the receiver rejected the payload; retrying will not help
		return backoff.Permanent(fmt.Errorf("webhook returned %d: %s", resp.StatusCode, body))
	}
	return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, body)
}

// GenerateSignature returns hex(hmac-sha256(timestamp + "." + payload)).
func GenerateSignature(payload []byte, timestamp, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature produced by GenerateSignature.
func VerifySignature(payload []byte, timestamp, signature, secret string) bool {
	expected := GenerateSignature(payload, timestamp, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// MultiNotifier fans out to several notifiers. A retry re-sends to all of
// them, so receivers see at-least-once delivery.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n model.Notification) error {
	var errs []error
	for _, nf := range m {
		if err := nf.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
