package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/arefin-khan/clinicsched/libs/config"
	"github.com/arefin-khan/clinicsched/libs/db"
	"github.com/arefin-khan/clinicsched/libs/httpx"
	"github.com/arefin-khan/clinicsched/libs/kafkax"
	otelx "github.com/arefin-khan/clinicsched/libs/otel"
	"github.com/arefin-khan/clinicsched/libs/runtime"
	"github.com/arefin-khan/clinicsched/services/reminder-service/internal/consumer"
	"github.com/arefin-khan/clinicsched/services/reminder-service/internal/inbox"
	"github.com/arefin-khan/clinicsched/services/reminder-service/internal/jobs"
	"github.com/arefin-khan/clinicsched/services/reminder-service/internal/outbox"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Scheduling topics this service consumes. The payload shapes are owned by
// scheduling-service; only the fields used here are decoded.
const (
	topicReminderRequested = "scheduling.reminder.requested.v1"
	topicRescheduled       = "scheduling.appointment.rescheduled.v1"
	topicCancelled         = "scheduling.appointment.cancelled.v1"
	topicCompleted         = "scheduling.appointment.completed.v1"
)

type reminderRequest struct {
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	Channel       string    `json:"channel"`
	Recipient     string    `json:"recipient"`
	StartTime     time.Time `json:"start_time"`
	RemindAt      time.Time `json:"remind_at"`
}

func main() {
	service := config.String("SERVICE_NAME", "reminder-service")
	port, err := config.Port("PORT", "8084")
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
	jobRepo := jobs.NewRepository()
	outboxRepo := outbox.NewRepository(pool)

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	backoffSeconds, err := strconv.Atoi(config.String("REMINDER_BACKOFF_SECONDS", "60"))
	if err != nil || backoffSeconds <= 0 {
		backoffSeconds = 60
	}
	jobWorker := jobs.NewWorker(pool, jobRepo, outboxRepo, logger, jobs.WorkerConfig{
		Interval:  2 * time.Second,
		BatchSize: 50,
		Backoff:   time.Duration(backoffSeconds) * time.Second,
	})
	go jobWorker.Run(ctx)

	consumerCfg := consumer.Config{
		Brokers: config.String("KAFKA_BROKERS", ""),
		GroupID: config.String("KAFKA_GROUP_ID", "reminder-service"),
		Topics: []string{
			topicReminderRequested,
			topicRescheduled,
			topicCancelled,
			topicCompleted,
		},
	}

	eventConsumer := consumer.New(logger, inboxRepo, consumerCfg, func(ctx context.Context, msg kafka.Message) error {
		switch msg.Topic {
		case topicReminderRequested:
			return handleReminderRequested(ctx, pool, jobRepo, logger, msg.Value)
		case topicRescheduled:
			return handleRescheduled(ctx, pool, jobRepo, logger, msg.Value)
		case topicCancelled:
			return handleTerminal(ctx, pool, jobRepo, logger, msg.Value, "appointment cancelled")
		case topicCompleted:
			return handleTerminal(ctx, pool, jobRepo, logger, msg.Value, "appointment completed")
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
	handler = otelhttp.NewHandler(handler, "reminder")
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

func handleReminderRequested(ctx context.Context, pool *db.Pool, repo *jobs.Repository, logger *slog.Logger, value []byte) error {
	var payload reminderRequest
	if err := json.Unmarshal(value, &payload); err != nil {
		logger.Error("invalid reminder request", "err", err)
		return nil
	}
	if payload.AppointmentID == "" || payload.PatientID == "" || payload.Channel == "" || payload.Recipient == "" || payload.RemindAt.IsZero() {
		logger.Error("missing reminder fields", "appointment_id", payload.AppointmentID)
		return nil
	}

	remindAt := payload.RemindAt.UTC()
	idempotencyKey := payload.AppointmentID + "|" + remindAt.Format(time.RFC3339) + "|" + payload.Channel

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := repo.Insert(ctx, tx, jobs.Job{
		IdempotencyKey:   idempotencyKey,
		AppointmentID:    payload.AppointmentID,
		PatientID:        payload.PatientID,
		DoctorID:         payload.DoctorID,
		Channel:          payload.Channel,
		Recipient:        payload.Recipient,
		RemindAt:         remindAt,
		AppointmentStart: payload.StartTime.UTC(),
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// handleRescheduled voids only the jobs tied to the previous slot; the
// fresh reminder requests for the new slot arrive on their own topic and
// may land before or after this event.
func handleRescheduled(ctx context.Context, pool *db.Pool, repo *jobs.Repository, logger *slog.Logger, value []byte) error {
	var payload struct {
		AppointmentID     string    `json:"appointment_id"`
		PreviousStartTime time.Time `json:"previous_start_time"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		logger.Error("invalid rescheduled event", "err", err)
		return nil
	}
	if payload.AppointmentID == "" {
		logger.Error("missing appointment_id in rescheduled event")
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	voided, err := repo.VoidByAppointment(ctx, tx, payload.AppointmentID, payload.PreviousStartTime.UTC(), "appointment rescheduled")
	if err != nil {
		return err
	}
	if voided > 0 {
		logger.Info("reminder jobs voided", "appointment_id", payload.AppointmentID, "count", voided)
	}

	return tx.Commit(ctx)
}

func handleTerminal(ctx context.Context, pool *db.Pool, repo *jobs.Repository, logger *slog.Logger, value []byte, reason string) error {
	var payload struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.Unmarshal(value, &payload); err != nil {
		logger.Error("invalid lifecycle event", "err", err)
		return nil
	}
	if payload.AppointmentID == "" {
		logger.Error("missing appointment_id in lifecycle event")
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	voided, err := repo.VoidByAppointment(ctx, tx, payload.AppointmentID, time.Time{}, reason)
	if err != nil {
		return err
	}
	if voided > 0 {
		logger.Info("reminder jobs voided", "appointment_id", payload.AppointmentID, "count", voided)
	}

	return tx.Commit(ctx)
}
