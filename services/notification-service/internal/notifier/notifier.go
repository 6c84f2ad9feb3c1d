package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/arefin-khan/clinicsched/services/notification-service/internal/email"
	"github.com/arefin-khan/clinicsched/services/notification-service/internal/sms"
	"github.com/arefin-khan/clinicsched/services/notification-service/internal/storage"
)

// Message is one notification to deliver. Kind distinguishes reminders
// from lifecycle notices in the audit trail.
type Message struct {
	AppointmentID string
	PatientID     string
	Channel       string
	Recipient     string
	Kind          string
	Subject       string
	Body          string
}

const (
	KindReminder     = "reminder"
	KindCancellation = "cancellation"
	KindReschedule   = "reschedule"
)

type History interface {
	Insert(ctx context.Context, n storage.Notification) error
}

// Outcomes receives the delivery result; the production implementation
// enqueues notification.sent.v1 / notification.failed.v1 outbox events.
type Outcomes interface {
	Sent(ctx context.Context, msg Message, providerID string) error
	Failed(ctx context.Context, msg Message, reason string) error
}

type Notifier struct {
	email      email.Sender
	sms        sms.Sender
	history    History
	outcomes   Outcomes
	logger     *slog.Logger
	failSuffix string
}

// NewNotifier wires the channel senders. failSuffix, when non-empty,
// simulates delivery failure for recipients ending in it (load and
// failure-path testing in compose environments).
func NewNotifier(emailSender email.Sender, smsSender sms.Sender, history History, outcomes Outcomes, logger *slog.Logger, failSuffix string) *Notifier {
	return &Notifier{
		email:      emailSender,
		sms:        smsSender,
		history:    history,
		outcomes:   outcomes,
		logger:     logger,
		failSuffix: failSuffix,
	}
}

// Deliver sends the message on its channel, records it in the history
// table and reports the outcome. Send failures are recorded, not
// returned; the returned error covers persistence only.
func (n *Notifier) Deliver(ctx context.Context, msg Message) error {
	status := "sent"
	failureReason := ""
	providerID := ""

	if n.failSuffix != "" && strings.HasSuffix(msg.Recipient, n.failSuffix) {
		status = "failed"
		failureReason = "simulated failure"
	}

	if status == "sent" {
		switch strings.ToLower(msg.Channel) {
		case "email":
			if err := n.email.Send(msg.Recipient, msg.Subject, msg.Body); err != nil {
				status = "failed"
				failureReason = err.Error()
				n.logger.Error("email send failed", "err", err, "recipient", msg.Recipient)
			} else {
				providerID = "smtp"
			}
		case "sms":
			if err := n.sms.Send(ctx, msg.Recipient, msg.Body); err != nil {
				status = "failed"
				failureReason = err.Error()
				n.logger.Error("sms send failed", "err", err, "recipient", msg.Recipient)
			} else {
				providerID = n.sms.ProviderID()
			}
		default:
			status = "failed"
			failureReason = "unsupported channel: " + msg.Channel
			n.logger.Error("unsupported channel", "channel", msg.Channel)
		}
	}

	if err := n.history.Insert(ctx, storage.Notification{
		AppointmentID: msg.AppointmentID,
		PatientID:     msg.PatientID,
		Channel:       msg.Channel,
		Recipient:     msg.Recipient,
		Kind:          msg.Kind,
		Body:          msg.Body,
		Status:        status,
		FailureReason: failureReason,
	}); err != nil {
		n.logger.Error("failed to persist notification", "err", err)
		return err
	}

	if status == "failed" {
		if err := n.outcomes.Failed(ctx, msg, failureReason); err != nil {
			n.logger.Error("failed to enqueue notification.failed", "err", err)
			return err
		}
		return nil
	}
	if err := n.outcomes.Sent(ctx, msg, providerID); err != nil {
		n.logger.Error("failed to enqueue notification.sent", "err", err)
		return err
	}

	n.logger.Info("notification delivered", "appointment_id", msg.AppointmentID, "channel", msg.Channel, "kind", msg.Kind)
	return nil
}

// ReminderMessage formats an appointment reminder for a channel.
func ReminderMessage(appointmentID, patientID, channel, recipient string, startTime time.Time) Message {
	when := startTime.UTC().Format("Mon, 02 Jan 2006 15:04 MST")
	return Message{
		AppointmentID: appointmentID,
		PatientID:     patientID,
		Channel:       channel,
		Recipient:     recipient,
		Kind:          KindReminder,
		Subject:       "Appointment reminder",
		Body:          fmt.Sprintf("Reminder: you have an appointment on %s.", when),
	}
}

// CancellationMessage formats a cancellation notice.
func CancellationMessage(appointmentID, patientID, channel, recipient string, startTime time.Time, reason string) Message {
	when := startTime.UTC().Format("Mon, 02 Jan 2006 15:04 MST")
	body := fmt.Sprintf("Your appointment on %s has been cancelled.", when)
	if reason != "" {
		body += " Reason: " + reason + "."
	}
	return Message{
		AppointmentID: appointmentID,
		PatientID:     patientID,
		Channel:       channel,
		Recipient:     recipient,
		Kind:          KindCancellation,
		Subject:       "Appointment cancelled",
		Body:          body,
	}
}

// RescheduleMessage formats a reschedule notice.
func RescheduleMessage(appointmentID, patientID, channel, recipient string, previousStart, newStart time.Time) Message {
	prev := previousStart.UTC().Format("Mon, 02 Jan 2006 15:04 MST")
	next := newStart.UTC().Format("Mon, 02 Jan 2006 15:04 MST")
	return Message{
		AppointmentID: appointmentID,
		PatientID:     patientID,
		Channel:       channel,
		Recipient:     recipient,
		Kind:          KindReschedule,
		Subject:       "Appointment rescheduled",
		Body:          fmt.Sprintf("Your appointment on %s has been moved to %s.", prev, next),
	}
}
