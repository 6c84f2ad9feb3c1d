package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/arefin-khan/clinicsched/libs/config"
	"github.com/arefin-khan/clinicsched/libs/db"
	"github.com/arefin-khan/clinicsched/libs/httpx"
	"github.com/arefin-khan/clinicsched/libs/kafkax"
	otelx "github.com/arefin-khan/clinicsched/libs/otel"
	"github.com/arefin-khan/clinicsched/libs/runtime"
	"github.com/arefin-khan/clinicsched/services/notification-service/internal/consumer"
	"github.com/arefin-khan/clinicsched/services/notification-service/internal/email"
	"github.com/arefin-khan/clinicsched/services/notification-service/internal/inbox"
	"github.com/arefin-khan/clinicsched/services/notification-service/internal/notifier"
	"github.com/arefin-khan/clinicsched/services/notification-service/internal/outbox"
	"github.com/arefin-khan/clinicsched/services/notification-service/internal/sms"
	"github.com/arefin-khan/clinicsched/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Topics this service consumes. Payload shapes are owned by the emitting
// services; only fields used here are decoded.
const (
	topicReminderDue       = "scheduling.reminder.due.v1"
	topicCancelled         = "scheduling.appointment.cancelled.v1"
	topicRescheduled       = "scheduling.appointment.rescheduled.v1"
	topicPatientRegistered = "directory.patient.registered.v1"
	topicPatientUpdated    = "directory.patient.updated.v1"
)

// outboxOutcomes enqueues notification.sent.v1 / notification.failed.v1.
type outboxOutcomes struct {
	pool *db.Pool
	repo *outbox.Repository
}

func (o *outboxOutcomes) Sent(ctx context.Context, msg notifier.Message, providerID string) error {
	if strings.TrimSpace(providerID) == "" {
		providerID = "unknown"
	}
	return o.write(ctx, outbox.TopicNotificationSent, msg, map[string]any{
		"appointment_id": msg.AppointmentID,
		"patient_id":     msg.PatientID,
		"channel":        msg.Channel,
		"kind":           msg.Kind,
		"provider_id":    providerID,
		"sent_at":        time.Now().UTC().Format(time.RFC3339),
	})
}

func (o *outboxOutcomes) Failed(ctx context.Context, msg notifier.Message, reason string) error {
	return o.write(ctx, outbox.TopicNotificationFailed, msg, map[string]any{
		"appointment_id": msg.AppointmentID,
		"patient_id":     msg.PatientID,
		"channel":        msg.Channel,
		"kind":           msg.Kind,
		"error_reason":   reason,
		"failed_at":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (o *outboxOutcomes) write(ctx context.Context, topic string, msg notifier.Message, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	tx, err := o.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := o.repo.Insert(ctx, tx, outbox.Event{
		AggregateType: "notification",
		AggregateID:   msg.AppointmentID,
		EventType:     topic,
		Payload:       raw,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)
	contactsRepo := storage.NewContactsRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@clinicsched.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)

	smsProvider := strings.ToLower(config.String("SMS_PROVIDER", "noop"))
	smsWebhookURL := config.String("SMS_WEBHOOK_URL", "")
	smsWebhookToken := config.String("SMS_WEBHOOK_TOKEN", "")
	var smsSender sms.Sender
	switch smsProvider {
	case "noop":
		smsSender = sms.NewNoopSender()
	default:
		smsSender = sms.NewWebhookSender(smsWebhookURL, smsWebhookToken)
	}

	deliverer := notifier.NewNotifier(
		emailSender,
		smsSender,
		notificationsRepo,
		&outboxOutcomes{pool: pool, repo: outboxRepo},
		logger,
		config.String("NOTIFICATION_FAIL_SUFFIX", ""),
	)

	consumerCfg := consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "notification-service"),
		Topics: []string{
			topicReminderDue,
			topicCancelled,
			topicRescheduled,
			topicPatientRegistered,
			topicPatientUpdated,
		},
	}
	eventConsumer := consumer.New(logger, inboxRepo, consumerCfg, func(ctx context.Context, msg kafka.Message) error {
		switch msg.Topic {
		case topicReminderDue:
			return handleReminderDue(ctx, deliverer, logger, msg.Value)
		case topicCancelled:
			return handleCancelled(ctx, deliverer, contactsRepo, logger, msg.Value)
		case topicRescheduled:
			return handleRescheduled(ctx, deliverer, contactsRepo, logger, msg.Value)
		case topicPatientRegistered, topicPatientUpdated:
			return handlePatientContact(ctx, contactsRepo, logger, msg.Value)
		default:
			logger.Warn("unexpected topic", "topic", msg.Topic)
			return nil
		}
	})
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		appointmentID := r.URL.Query().Get("appointment_id")
		if appointmentID == "" {
			http.Error(w, "appointment_id is required", http.StatusBadRequest)
			return
		}
		records, err := notificationsRepo.ListByAppointment(r.Context(), appointmentID, 50)
		if err != nil {
			logger.Error("list notifications failed", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"notifications": records})
	})
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func handleReminderDue(ctx context.Context, deliverer *notifier.Notifier, logger *slog.Logger, value []byte) error {
	var payload struct {
		AppointmentID string `json:"appointment_id"`
		PatientID     string `json:"patient_id"`
		Channel       string `json:"channel"`
		Recipient     string `json:"recipient"`
		StartTime     string `json:"start_time"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		logger.Error("invalid reminder payload", "err", err)
		return nil
	}
	if payload.AppointmentID == "" || payload.Channel == "" || payload.Recipient == "" {
		logger.Error("missing reminder fields", "appointment_id", payload.AppointmentID)
		return nil
	}
	startTime, err := time.Parse(time.RFC3339, payload.StartTime)
	if err != nil {
		logger.Error("invalid start_time", "err", err)
		return nil
	}

	msg := notifier.ReminderMessage(payload.AppointmentID, payload.PatientID, payload.Channel, payload.Recipient, startTime)
	return deliverer.Deliver(ctx, msg)
}

func handleCancelled(ctx context.Context, deliverer *notifier.Notifier, contacts *storage.ContactsRepository, logger *slog.Logger, value []byte) error {
	var payload struct {
		AppointmentID string    `json:"appointment_id"`
		PatientID     string    `json:"patient_id"`
		StartTime     time.Time `json:"start_time"`
		Reason        string    `json:"reason"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		logger.Error("invalid cancelled event", "err", err)
		return nil
	}
	if payload.AppointmentID == "" || payload.PatientID == "" {
		logger.Error("missing cancelled fields")
		return nil
	}

	channel, recipient, err := resolveContact(ctx, contacts, logger, payload.PatientID)
	if err != nil {
		return err
	}
	if recipient == "" {
		return nil
	}

	msg := notifier.CancellationMessage(payload.AppointmentID, payload.PatientID, channel, recipient, payload.StartTime, payload.Reason)
	return deliverer.Deliver(ctx, msg)
}

func handleRescheduled(ctx context.Context, deliverer *notifier.Notifier, contacts *storage.ContactsRepository, logger *slog.Logger, value []byte) error {
	var payload struct {
		AppointmentID     string    `json:"appointment_id"`
		PatientID         string    `json:"patient_id"`
		PreviousStartTime time.Time `json:"previous_start_time"`
		StartTime         time.Time `json:"start_time"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		logger.Error("invalid rescheduled event", "err", err)
		return nil
	}
	if payload.AppointmentID == "" || payload.PatientID == "" {
		logger.Error("missing rescheduled fields")
		return nil
	}

	channel, recipient, err := resolveContact(ctx, contacts, logger, payload.PatientID)
	if err != nil {
		return err
	}
	if recipient == "" {
		return nil
	}

	msg := notifier.RescheduleMessage(payload.AppointmentID, payload.PatientID, channel, recipient, payload.PreviousStartTime, payload.StartTime)
	return deliverer.Deliver(ctx, msg)
}

// resolveContact prefers email; an empty recipient means no usable
// contact is cached and the notice is skipped.
func resolveContact(ctx context.Context, contacts *storage.ContactsRepository, logger *slog.Logger, patientID string) (channel string, recipient string, err error) {
	contact, ok, err := contacts.Get(ctx, patientID)
	if err != nil {
		return "", "", err
	}
	if !ok || !contact.Active {
		logger.Info("no active contact cached, notice skipped", "patient_id", patientID)
		return "", "", nil
	}
	if contact.Email != "" {
		return "email", contact.Email, nil
	}
	if contact.Phone != "" {
		return "sms", contact.Phone, nil
	}
	logger.Info("contact has no reachable channel, notice skipped", "patient_id", patientID)
	return "", "", nil
}

func handlePatientContact(ctx context.Context, contacts *storage.ContactsRepository, logger *slog.Logger, value []byte) error {
	var payload struct {
		PatientID string `json:"patient_id"`
		FullName  string `json:"full_name"`
		Email     string `json:"email"`
		Phone     string `json:"phone"`
		Active    bool   `json:"active"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		logger.Error("invalid patient event", "err", err)
		return nil
	}
	if payload.PatientID == "" {
		logger.Error("missing patient_id in patient event")
		return nil
	}

	return contacts.Upsert(ctx, storage.Contact{
		PatientID: payload.PatientID,
		FullName:  payload.FullName,
		Email:     payload.Email,
		Phone:     payload.Phone,
		Active:    payload.Active,
	})
}
