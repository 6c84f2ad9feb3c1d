package notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/arefin-khan/clinicsched/services/notification-service/internal/storage"
)

type fakeEmail struct {
	sent []string
	err  error
}

func (f *fakeEmail) Send(to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

type fakeSMS struct {
	sent []string
	err  error
}

func (f *fakeSMS) Send(_ context.Context, to, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

func (f *fakeSMS) ProviderID() string { return "sms-fake" }

type fakeHistory struct {
	rows []storage.Notification
	err  error
}

func (f *fakeHistory) Insert(_ context.Context, n storage.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, n)
	return nil
}

type fakeOutcomes struct {
	sent     []string
	failed   []string
	provider string
	reason   string
}

func (f *fakeOutcomes) Sent(_ context.Context, msg Message, providerID string) error {
	f.sent = append(f.sent, msg.AppointmentID)
	f.provider = providerID
	return nil
}

func (f *fakeOutcomes) Failed(_ context.Context, msg Message, reason string) error {
	f.failed = append(f.failed, msg.AppointmentID)
	f.reason = reason
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStart() time.Time {
	return time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)
}

func TestDeliverEmailSent(t *testing.T) {
	em := &fakeEmail{}
	sm := &fakeSMS{}
	hist := &fakeHistory{}
	out := &fakeOutcomes{}
	n := NewNotifier(em, sm, hist, out, discardLogger(), "")

	msg := ReminderMessage("appt-1", "pat-1", "email", "pat@example.com", testStart())
	if err := n.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(em.sent) != 1 || em.sent[0] != "pat@example.com" {
		t.Fatalf("email sent = %v", em.sent)
	}
	if len(sm.sent) != 0 {
		t.Fatalf("unexpected sms sends: %v", sm.sent)
	}
	if len(hist.rows) != 1 {
		t.Fatalf("history rows = %d", len(hist.rows))
	}
	if hist.rows[0].Status != "sent" || hist.rows[0].Kind != KindReminder {
		t.Fatalf("history row = %+v", hist.rows[0])
	}
	if len(out.sent) != 1 || out.provider != "smtp" {
		t.Fatalf("outcome sent = %v provider = %q", out.sent, out.provider)
	}
}

func TestDeliverSMSUsesProviderID(t *testing.T) {
	em := &fakeEmail{}
	sm := &fakeSMS{}
	hist := &fakeHistory{}
	out := &fakeOutcomes{}
	n := NewNotifier(em, sm, hist, out, discardLogger(), "")

	msg := ReminderMessage("appt-1", "pat-1", "sms", "+15550100", testStart())
	if err := n.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(sm.sent) != 1 {
		t.Fatalf("sms sent = %v", sm.sent)
	}
	if out.provider != "sms-fake" {
		t.Fatalf("provider = %q", out.provider)
	}
}

func TestDeliverSendFailureRecordedNotReturned(t *testing.T) {
	em := &fakeEmail{err: errors.New("smtp down")}
	hist := &fakeHistory{}
	out := &fakeOutcomes{}
	n := NewNotifier(em, &fakeSMS{}, hist, out, discardLogger(), "")

	msg := ReminderMessage("appt-1", "pat-1", "email", "pat@example.com", testStart())
	if err := n.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(hist.rows) != 1 || hist.rows[0].Status != "failed" {
		t.Fatalf("history rows = %+v", hist.rows)
	}
	if hist.rows[0].FailureReason != "smtp down" {
		t.Fatalf("failure reason = %q", hist.rows[0].FailureReason)
	}
	if len(out.failed) != 1 || out.reason != "smtp down" {
		t.Fatalf("outcome failed = %v reason = %q", out.failed, out.reason)
	}
}

func TestDeliverUnsupportedChannelFails(t *testing.T) {
	hist := &fakeHistory{}
	out := &fakeOutcomes{}
	n := NewNotifier(&fakeEmail{}, &fakeSMS{}, hist, out, discardLogger(), "")

	msg := Message{AppointmentID: "appt-1", Channel: "fax", Recipient: "x", Kind: KindReminder}
	if err := n.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(out.failed) != 1 {
		t.Fatalf("outcome failed = %v", out.failed)
	}
	if !strings.Contains(out.reason, "unsupported channel") {
		t.Fatalf("reason = %q", out.reason)
	}
}

func TestDeliverFailSuffixSimulatesFailure(t *testing.T) {
	em := &fakeEmail{}
	hist := &fakeHistory{}
	out := &fakeOutcomes{}
	n := NewNotifier(em, &fakeSMS{}, hist, out, discardLogger(), "@fail.test")

	msg := ReminderMessage("appt-1", "pat-1", "email", "pat@fail.test", testStart())
	if err := n.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	if len(em.sent) != 0 {
		t.Fatalf("send should be skipped, got %v", em.sent)
	}
	if out.reason != "simulated failure" {
		t.Fatalf("reason = %q", out.reason)
	}
}

func TestDeliverHistoryErrorReturned(t *testing.T) {
	hist := &fakeHistory{err: errors.New("db down")}
	n := NewNotifier(&fakeEmail{}, &fakeSMS{}, hist, &fakeOutcomes{}, discardLogger(), "")

	msg := ReminderMessage("appt-1", "pat-1", "email", "pat@example.com", testStart())
	if err := n.Deliver(context.Background(), msg); err == nil {
		t.Fatal("expected error when history insert fails")
	}
}

func TestRescheduleMessageMentionsBothTimes(t *testing.T) {
	prev := testStart()
	next := prev.Add(48 * time.Hour)
	msg := RescheduleMessage("appt-1", "pat-1", "email", "pat@example.com", prev, next)
	if msg.Kind != KindReschedule {
		t.Fatalf("kind = %q", msg.Kind)
	}
	if !strings.Contains(msg.Body, "03 Mar 2026") || !strings.Contains(msg.Body, "05 Mar 2026") {
		t.Fatalf("body = %q", msg.Body)
	}
}
