package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/okovalchuk/slotline/libs/config"
	"github.com/okovalchuk/slotline/libs/db"
	"github.com/okovalchuk/slotline/libs/httpx"
	"github.com/okovalchuk/slotline/libs/kafkax"
	otelx "github.com/okovalchuk/slotline/libs/otel"
	"github.com/okovalchuk/slotline/libs/runtime"
	"github.com/okovalchuk/slotline/services/booking-service/internal/booking"
	"github.com/okovalchuk/slotline/services/booking-service/internal/handlers"
	"github.com/okovalchuk/slotline/services/booking-service/internal/outbox"
	"github.com/okovalchuk/slotline/services/booking-service/internal/schedule"
	"github.com/okovalchuk/slotline/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
	})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	defaultZone, err := schedule.LoadZone(config.String("PORTAL_TIMEZONE", "UTC"))
	if err != nil {
		logger.Error("invalid PORTAL_TIMEZONE", "err", err)
		panic(err)
	}

	outboxRepo := outbox.NewRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool, outboxRepo)
	scheduleRepo := storage.NewScheduleRepository(pool)
	ledger := booking.NewLedger(apptRepo, scheduleRepo, logger, booking.LedgerConfig{
		DefaultZone:  defaultZone,
		MaxRangeDays: config.Int("SLOT_RANGE_MAX_DAYS", booking.DefaultMaxRangeDays),
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	bookingHandler := handlers.NewBookingHandler(ledger, logger)
	scheduleHandler := handlers.NewScheduleHandler(ledger, scheduleRepo, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	mux.HandleFunc("/api/v1/public/slots", bookingHandler.Slots)
	mux.HandleFunc("/api/v1/public/reserve", bookingHandler.Reserve)
	mux.HandleFunc("/api/v1/appointments", bookingHandler.List)
	mux.HandleFunc("/api/v1/appointments/", bookingHandler.Get)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/confirm", bookingHandler.Confirm)
	mux.HandleFunc("/api/v1/appointments/complete", bookingHandler.Complete)
	mux.HandleFunc("/api/v1/schedules", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			scheduleHandler.List(w, r)
		case http.MethodDelete:
			scheduleHandler.Delete(w, r)
		default:
			scheduleHandler.Create(w, r)
		}
	})
	mux.HandleFunc("/api/v1/schedules/validate", scheduleHandler.Validate)
	mux.HandleFunc("/api/v1/schedules/exceptions", scheduleHandler.AddException)
	mux.HandleFunc("/api/v1/operators/timezone", scheduleHandler.SetTimezone)

	middlewares := []httpx.Middleware{
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods: parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,OPTIONS")),
			AllowedHeaders: parseList(config.String("CORS_ALLOWED_HEADERS", "Content-Type,X-Request-Id,X-User-Id,X-User-Role")),
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(time.Duration(config.Int("REQUEST_TIMEOUT_SECONDS", 10)) * time.Second),
		rateLimitMiddleware(logger),
	}
	handler := httpx.Chain(mux, middlewares...)
	handler = otelhttp.NewHandler(handler, "booking")

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

// rateLimitMiddleware prefers the Redis fixed-window limiter so multiple
// booking-service replicas share one budget; without Redis it falls back to
// the in-process limiter.
func rateLimitMiddleware(logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		rl := httpx.NewRedisRateLimiter(rdb, limit, time.Minute, config.String("RATE_LIMIT_PREFIX", "slotline"))
		logger.Info("rate limiting enabled (redis)", "per_minute", limit, "redis_addr", addr)
		return rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true))
	}
	rl := httpx.NewRateLimiter(limit, time.Minute)
	logger.Info("rate limiting enabled (in-memory)", "per_minute", limit)
	return rl.Middleware()
}

func parseList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
