package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cenkalti/backoff/v5"

	"tourguard/internal/model"
)

func TestWebhookNotifierSignsPayload(t *testing.T) {
	const secret = "s3cret"
	var got model.Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts := r.Header.Get(WebhookTimestampHeader)
		if !VerifySignature(body, ts, r.Header.Get(WebhookSignatureHeader), secret) {
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}
		if r.Header.Get(WebhookEventHeader) != string(model.AlertPanic) || r.Header.Get(WebhookIDHeader) != "a1" {
			http.Error(w, "bad headers", http.StatusBadRequest)
			return
		}
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, secret)
	err := n.Notify(context.Background(), model.Notification{AlertID: "a1", TouristID: "t1", Kind: model.AlertPanic, Severity: model.SeverityHigh})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.AlertID != "a1" || got.Severity != model.SeverityHigh {
		t.Fatalf("receiver got %+v", got)
	}
}

func TestWebhookNotifierErrorClasses(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusTooManyRequests, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		err := NewWebhookNotifier(srv.URL, "").Notify(context.Background(), model.Notification{AlertID: "a1", Kind: model.AlertZoneEntry, Severity: model.SeverityLow})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: no error", tt.status)
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) != tt.permanent {
			t.Fatalf("status %d: permanent = %v, want %v", tt.status, !tt.permanent, tt.permanent)
		}
	}
}

func TestSignatureRoundTrip(t *testing.T) {
	sig := GenerateSignature([]byte(`{"a":1}`), "1700000000", "k")
	if !VerifySignature([]byte(`{"a":1}`), "1700000000", sig, "k") {
		t.Fatal("signature does not verify")
	}
	if VerifySignature([]byte(`{"a":2}`), "1700000000", sig, "k") {
		t.Fatal("tampered payload verified")
	}
	if VerifySignature([]byte(`{"a":1}`), "1700000001", sig, "k") {
		t.Fatal("replayed timestamp verified")
	}
}

func TestMultiNotifierJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{failures: -1}
	m := MultiNotifier{ok, bad}
	if err := m.Notify(context.Background(), model.Notification{AlertID: "a1"}); err == nil {
		t.Fatal("failure swallowed")
	}
	if len(ok.delivered("")) != 1 {
		t.Fatal("healthy notifier skipped")
	}
	if err := (MultiNotifier{ok}).Notify(context.Background(), model.Notification{AlertID: "a2"}); err != nil {
		t.Fatalf("all healthy: %v", err)
	}
}

func TestAlertSubject(t *testing.T) {
	if got := AlertSubject(model.AlertPanic); got != "tourguard.alert.PANIC" {
		t.Fatalf("subject = %s", got)
	}
}
