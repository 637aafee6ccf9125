package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okovalchuk/slotline/libs/config"
	"github.com/okovalchuk/slotline/libs/db"
	"github.com/okovalchuk/slotline/libs/httpx"
	"github.com/okovalchuk/slotline/libs/kafkax"
	otelx "github.com/okovalchuk/slotline/libs/otel"
	"github.com/okovalchuk/slotline/libs/runtime"
	"github.com/okovalchuk/slotline/services/notification-service/internal/consumer"
	"github.com/okovalchuk/slotline/services/notification-service/internal/email"
	"github.com/okovalchuk/slotline/services/notification-service/internal/inbox"
	"github.com/okovalchuk/slotline/services/notification-service/internal/storage"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type appointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	UserID        string `json:"user_id"`
	ServiceID     string `json:"service_id"`
	OperatorID    string `json:"operator_id"`
	ScheduleID    string `json:"schedule_id"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Status        string `json:"status"`
}

func subjectFor(eventType string) string {
	switch eventType {
	case "appointment.reserved.v1":
		return "Appointment reserved"
	case "appointment.confirmed.v1":
		return "Appointment confirmed"
	case "appointment.cancelled.v1":
		return "Appointment cancelled"
	case "appointment.completed.v1":
		return "Appointment completed"
	default:
		return "Appointment update"
	}
}

func bodyFor(eventType string, evt appointmentEvent) string {
	when := evt.Start
	if t, err := time.Parse(time.RFC3339, evt.Start); err == nil {
		when = t.Format("Mon, 02 Jan 2006 15:04 MST")
	}
	switch eventType {
	case "appointment.reserved.v1":
		return fmt.Sprintf("Your appointment %s on %s is reserved and awaiting confirmation.", evt.AppointmentID, when)
	case "appointment.confirmed.v1":
		return fmt.Sprintf("Your appointment %s on %s has been confirmed.", evt.AppointmentID, when)
	case "appointment.cancelled.v1":
		return fmt.Sprintf("Your appointment %s on %s has been cancelled.", evt.AppointmentID, when)
	case "appointment.completed.v1":
		return fmt.Sprintf("Your appointment %s has been marked completed. Thank you.", evt.AppointmentID)
	default:
		return fmt.Sprintf("Your appointment %s on %s was updated (status: %s).", evt.AppointmentID, when, evt.Status)
	}
}

func splitTopics(raw string) []string {
	var out []string
	for _, t := range strings.Split(raw, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
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

	pool, err := db.Open(ctx, dbURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)

	smtpHost := config.String("SMTP_HOST", "mailpit")
	smtpPort := config.String("SMTP_PORT", "1025")
	smtpFrom := config.String("SMTP_FROM", "no-reply@slotline.local")
	emailSender := email.NewSMTPSender(smtpHost, smtpPort, smtpFrom)

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")
	topics := splitTopics(config.String("KAFKA_CONSUME_TOPICS",
		"appointment.reserved.v1,appointment.confirmed.v1,appointment.cancelled.v1,appointment.completed.v1"))

	handle := func(ctx context.Context, msg kafka.Message) error {
		var evt appointmentEvent
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if evt.AppointmentID == "" || evt.UserID == "" {
			logger.Error("missing event fields", "topic", msg.Topic)
			return nil
		}

		record := storage.Notification{
			AppointmentID: evt.AppointmentID,
			UserID:        evt.UserID,
			OperatorID:    evt.OperatorID,
			EventType:     msg.Topic,
			Channel:       "email",
		}

		recipient, err := notificationsRepo.ContactEmail(ctx, evt.UserID)
		switch {
		case errors.Is(err, storage.ErrNoContact):
			record.Status = "skipped"
			record.Detail = "no contact on file"
		case err != nil:
			logger.Error("contact lookup failed", "err", err, "user_id", evt.UserID)
			return err
		default:
			record.Recipient = recipient
			if err := emailSender.Send(recipient, subjectFor(msg.Topic), bodyFor(msg.Topic, evt)); err != nil {
				record.Status = "failed"
				record.Detail = err.Error()
				logger.Error("email send failed", "err", err, "recipient", recipient)
			} else {
				record.Status = "sent"
			}
		}

		if err := notificationsRepo.Insert(ctx, record); err != nil {
			logger.Error("failed to persist notification", "err", err)
			return err
		}
		logger.Info("event processed",
			"appointment_id", evt.AppointmentID, "event_type", msg.Topic, "status", record.Status)
		return nil
	}

	for _, topic := range topics {
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handle)
		go c.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
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
