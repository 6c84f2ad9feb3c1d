package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/arefin-khan/clinicsched/libs/config"
	"github.com/arefin-khan/clinicsched/libs/db"
	"github.com/arefin-khan/clinicsched/libs/httpx"
	"github.com/arefin-khan/clinicsched/libs/kafkax"
	otelx "github.com/arefin-khan/clinicsched/libs/otel"
	"github.com/arefin-khan/clinicsched/libs/runtime"
	"github.com/arefin-khan/clinicsched/services/analytics-service/internal/consumer"
	"github.com/arefin-khan/clinicsched/services/analytics-service/internal/inbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	topicNotificationSent   = "notification.sent.v1"
	topicNotificationFailed = "notification.failed.v1"
	topicReminderDLQ        = "scheduling.reminder.dlq.v1"
	topicBooked             = "scheduling.appointment.booked.v1"
	topicRescheduled        = "scheduling.appointment.rescheduled.v1"
	topicCancelled          = "scheduling.appointment.cancelled.v1"
	topicCompleted          = "scheduling.appointment.completed.v1"
)

func main() {
	service := config.String("SERVICE_NAME", "analytics-service")
	port, err := config.Port("PORT", "8086")
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
	consumerCfg := consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "analytics-service"),
		Topics: []string{
			topicNotificationSent,
			topicNotificationFailed,
			topicReminderDLQ,
			topicBooked,
			topicRescheduled,
			topicCancelled,
			topicCompleted,
		},
	}
	eventConsumer := consumer.New(logger, inboxRepo, consumerCfg, func(ctx context.Context, msg kafka.Message) error {
		switch msg.Topic {
		case topicNotificationSent:
			return recordNotification(ctx, pool, logger, msg.Value, "sent")
		case topicNotificationFailed:
			return recordNotification(ctx, pool, logger, msg.Value, "failed")
		case topicReminderDLQ:
			return recordDLQ(ctx, pool, logger, msg.Value)
		case topicBooked, topicRescheduled, topicCancelled, topicCompleted:
			return recordAppointmentEvent(ctx, pool, logger, msg)
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
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "analytics")
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

func recordNotification(ctx context.Context, pool *db.Pool, logger *slog.Logger, value []byte, status string) error {
	var payload struct {
		AppointmentID string `json:"appointment_id"`
		PatientID     string `json:"patient_id"`
		Channel       string `json:"channel"`
		Kind          string `json:"kind"`
		SentAt        string `json:"sent_at"`
		FailedAt      string `json:"failed_at"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		logger.Error("invalid notification payload", "err", err)
		return nil
	}
	occurredAt := payload.SentAt
	if status == "failed" {
		occurredAt = payload.FailedAt
	}
	if payload.AppointmentID == "" || payload.Channel == "" || occurredAt == "" {
		logger.Error("missing notification fields")
		return nil
	}
	t, err := time.Parse(time.RFC3339, occurredAt)
	if err != nil {
		logger.Error("invalid notification timestamp", "err", err)
		return nil
	}

	if _, err := pool.Exec(ctx, `
		INSERT INTO notification_metrics (appointment_id, patient_id, channel, kind, occurred_at, status)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6)
	`, payload.AppointmentID, payload.PatientID, payload.Channel, payload.Kind, t.UTC(), status); err != nil {
		logger.Error("failed to write notification metric", "err", err)
		return err
	}

	sentInc, failedInc := 1, 0
	if status == "failed" {
		sentInc, failedInc = 0, 1
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO daily_notification_metrics (day, channel, sent_count, failed_count)
		VALUES ($1::date, $2, $3, $4)
		ON CONFLICT (day, channel)
		DO UPDATE SET sent_count = daily_notification_metrics.sent_count + EXCLUDED.sent_count,
		              failed_count = daily_notification_metrics.failed_count + EXCLUDED.failed_count,
		              updated_at = now()
	`, t.UTC(), payload.Channel, sentInc, failedInc); err != nil {
		logger.Error("failed to update daily notification metrics", "err", err)
		return err
	}

	logger.Info("notification metric recorded", "appointment_id", payload.AppointmentID, "channel", payload.Channel, "status", status)
	return nil
}

func recordDLQ(ctx context.Context, pool *db.Pool, logger *slog.Logger, value []byte) error {
	var payload struct {
		AppointmentID string `json:"appointment_id"`
		PatientID     string `json:"patient_id"`
		DoctorID      string `json:"doctor_id"`
		Channel       string `json:"channel"`
		Recipient     string `json:"recipient"`
		RemindAt      string `json:"remind_at"`
		ErrorReason   string `json:"error_reason"`
		FailedAt      string `json:"failed_at"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		logger.Error("invalid dlq payload", "err", err)
		return nil
	}
	if payload.AppointmentID == "" || payload.Channel == "" || payload.RemindAt == "" || payload.FailedAt == "" {
		logger.Error("missing dlq fields")
		return nil
	}
	remindAt, err := time.Parse(time.RFC3339, payload.RemindAt)
	if err != nil {
		logger.Error("invalid remind_at", "err", err)
		return nil
	}
	failedAt, err := time.Parse(time.RFC3339, payload.FailedAt)
	if err != nil {
		logger.Error("invalid failed_at", "err", err)
		return nil
	}

	if _, err := pool.Exec(ctx, `
		INSERT INTO reminder_dlq_events (appointment_id, patient_id, doctor_id, channel, recipient, remind_at, error_reason, failed_at)
		VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, '')::uuid, $4, $5, $6, $7, $8)
	`, payload.AppointmentID, payload.PatientID, payload.DoctorID, payload.Channel, payload.Recipient, remindAt.UTC(), payload.ErrorReason, failedAt.UTC()); err != nil {
		logger.Error("failed to write dlq event", "err", err)
		return err
	}

	logger.Warn("reminder dlq recorded", "appointment_id", payload.AppointmentID, "channel", payload.Channel)
	return nil
}

func recordAppointmentEvent(ctx context.Context, pool *db.Pool, logger *slog.Logger, msg kafka.Message) error {
	var payload struct {
		AppointmentID string    `json:"appointment_id"`
		PatientID     string    `json:"patient_id"`
		DoctorID      string    `json:"doctor_id"`
		StartTime     time.Time `json:"start_time"`
		CompletedAt   time.Time `json:"completed_at"`
	}
	if err := json.Unmarshal(msg.Value, &payload); err != nil {
		logger.Error("invalid appointment payload", "err", err)
		return nil
	}
	if payload.AppointmentID == "" || payload.DoctorID == "" {
		logger.Error("missing appointment fields")
		return nil
	}

	// Completed events carry no slot times; bucket them by completion.
	day := payload.StartTime
	if msg.Topic == topicCompleted {
		day = payload.CompletedAt
	}
	if day.IsZero() {
		logger.Error("missing occurrence time", "topic", msg.Topic)
		return nil
	}

	meta := kafkax.ExtractEventMeta(msg)

	tx, err := pool.Begin(ctx)
	if err != nil {
		logger.Error("db begin failed", "err", err)
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO appointment_events (event_id, event_type, doctor_id, appointment_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, meta.EventID, meta.EventType, payload.DoctorID, payload.AppointmentID, day.UTC())
	if err != nil {
		logger.Error("failed to insert appointment event", "err", err)
		return err
	}
	if tag.RowsAffected() == 0 {
		_ = tx.Commit(ctx)
		return nil
	}

	var booked, rescheduled, cancelled, completed int
	switch msg.Topic {
	case topicBooked:
		booked = 1
	case topicRescheduled:
		rescheduled = 1
	case topicCancelled:
		cancelled = 1
	case topicCompleted:
		completed = 1
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO daily_appointment_metrics (doctor_id, day, booked_count, rescheduled_count, cancelled_count, completed_count)
		VALUES ($1, $2::date, $3, $4, $5, $6)
		ON CONFLICT (doctor_id, day)
		DO UPDATE SET booked_count = daily_appointment_metrics.booked_count + EXCLUDED.booked_count,
		              rescheduled_count = daily_appointment_metrics.rescheduled_count + EXCLUDED.rescheduled_count,
		              cancelled_count = daily_appointment_metrics.cancelled_count + EXCLUDED.cancelled_count,
		              completed_count = daily_appointment_metrics.completed_count + EXCLUDED.completed_count,
		              updated_at = now()
	`, payload.DoctorID, day.UTC(), booked, rescheduled, cancelled, completed); err != nil {
		logger.Error("failed to update daily metrics", "err", err)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		logger.Error("failed to commit appointment metric", "err", err)
		return err
	}

	logger.Info("appointment metric recorded", "appointment_id", payload.AppointmentID, "doctor_id", payload.DoctorID, "event_type", meta.EventType)
	return nil
}
