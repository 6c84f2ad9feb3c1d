package sms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWebhookSenderPostsPayload(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "tok-1")
	if err := s.Send(context.Background(), "+15550100", "appointment tomorrow 10:00"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAuth != "Bearer tok-1" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotPayload["to"] != "+15550100" || gotPayload["body"] != "appointment tomorrow 10:00" {
		t.Fatalf("unexpected payload: %v", gotPayload)
	}
}

func TestWebhookSenderGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "")
	err := s.Send(context.Background(), "+15550100", "hello")
	if err == nil {
		t.Fatalf("expected error for non-2xx")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("status missing from error: %v", err)
	}
}

func TestWebhookSenderRejectsEmptyRecipient(t *testing.T) {
	s := NewWebhookSender("http://gateway.invalid/sms", "")
	if err := s.Send(context.Background(), "  ", "hello"); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
}

func TestWebhookSenderRequiresURL(t *testing.T) {
	s := NewWebhookSender("", "")
	if err := s.Send(context.Background(), "+15550100", "hello"); err == nil {
		t.Fatalf("expected error when url not configured")
	}
}
