package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/FilipeAphrody/farmhand-auth/internal/config"
	delivery "github.com/FilipeAphrody/farmhand-auth/internal/delivery/http"
	"github.com/FilipeAphrody/farmhand-auth/internal/lib/sl"
	"github.com/FilipeAphrody/farmhand-auth/internal/metrics"
	"github.com/FilipeAphrody/farmhand-auth/internal/notifier"
	"github.com/FilipeAphrody/farmhand-auth/internal/repository"
	"github.com/FilipeAphrody/farmhand-auth/internal/usecase"
	"github.com/FilipeAphrody/farmhand-auth/pkg/security"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	// 1. Configuration and logging
	cfg := config.MustLoad()
	log := sl.SetupLogger(cfg.Env)
	log.Info("starting farmhand-auth", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Infrastructure (persistence)
	db, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		log.Error("failed to open postgres", sl.Err(err))
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to connect to postgres", sl.Err(err))
		os.Exit(1)
	}
	if cfg.Postgres.Migrate {
		if err := repository.Migrate(ctx, db); err != nil {
			log.Error("migrations failed", sl.Err(err))
			os.Exit(1)
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to redis", sl.Err(err))
		os.Exit(1)
	}

	// 3. Repositories, tokens and notifications
	userRepo := repository.NewPostgresUserRepo(db)
	pendingRepo := repository.NewPostgresPendingRepo(db)
	sessionRepo := repository.NewRedisSessionRepo(rdb)
	tokens := security.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)

	sender, closeSender, err := newSender(cfg.Notifier, log)
	if err != nil {
		log.Error("failed to set up notifier", sl.Err(err))
		os.Exit(1)
	}
	defer closeSender()
	dispatcher := notifier.NewDispatcher(sender, log, cfg.Notifier.Timeout)

	rec := metrics.New(prometheus.DefaultRegisterer)

	// 4. Business logic
	authUsecase := usecase.NewAuthUsecase(userRepo, pendingRepo, sessionRepo, tokens, dispatcher,
		usecase.Config{
			PendingTTL:           cfg.Auth.PendingTTL,
			ResetTTL:             cfg.Auth.ResetTTL,
			VerifyTTL:            cfg.Auth.VerifyTTL,
			TwoFactorTTL:         cfg.Auth.TwoFactorTTL,
			CodeLength:           cfg.Auth.CodeLength,
			MaxTwoFactorAttempts: cfg.Auth.MaxTwoFactorAttempts,
		},
		usecase.WithLogger(log),
		usecase.WithMetrics(rec),
	)

	if b := cfg.Bootstrap; b.AdminEmail != "" {
		created, err := authUsecase.BootstrapAdmin(ctx, b.AdminUsername, b.AdminEmail, b.AdminPassword)
		if err != nil {
			log.Error("admin bootstrap failed", sl.Err(err))
			os.Exit(1)
		}
		if created {
			log.Info("bootstrap admin created", slog.String("email", b.AdminEmail))
		}
	}

	// 5. HTTP server and global middleware
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.HTTPServer.ReadTimeout
	e.Server.WriteTimeout = cfg.HTTPServer.WriteTimeout
	e.Server.IdleTimeout = cfg.HTTPServer.IdleTimeout

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
				slog.String("request_id", v.RequestID),
			}
			if v.Error != nil {
				log.Error("request", append(attrs, sl.Err(v.Error))...)
				return nil
			}
			log.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     cfg.HTTPServer.CORSOrigins,
		AllowCredentials: !allowsAnyOrigin(cfg.HTTPServer.CORSOrigins),
	}))
	e.Use(middleware.Secure())

	var store middleware.RateLimiterStore
	switch cfg.RateLimit.Store {
	case "redis":
		store = delivery.NewRedisLimiterStore(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	default:
		store = delivery.NewMemoryLimiterStore(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.ExpiresIn)
	}

	// 6. Routes
	delivery.RegisterRoutes(e.Group(""), delivery.Deps{
		Auth:    authUsecase,
		Tokens:  tokens,
		Cookies: delivery.CookieConfig{Secure: cfg.HTTPServer.CookieSecure},
		Log:     log,
		Limit:   delivery.RateLimit(store, rec, log),
	})

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// 7. Start and shut down gracefully
	go func() {
		log.Info("http server listening", slog.String("address", cfg.HTTPServer.Address))
		if err := e.Start(cfg.HTTPServer.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", sl.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", sl.Err(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("pending notifications dropped", sl.Err(err))
	}

	log.Info("server exited")
}

// newSender builds the notification transport named by cfg.Driver.
// No SMS provider is integrated, so outside amqp the SMS channel is logged.
func newSender(cfg config.Notifier, log *slog.Logger) (notifier.Sender, func(), error) {
	logSender := notifier.NewLogSender(log)

	switch cfg.Driver {
	case "smtp":
		smtp := notifier.NewSMTPSender(notifier.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			User:     cfg.SMTP.User,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		return notifier.Router{Email: smtp, SMS: logSender}, func() {}, nil
	case "amqp":
		conn, ch, err := notifier.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return nil, nil, err
		}
		pub := notifier.NewAMQPSender(ch, cfg.AMQP.Exchange, cfg.AMQP.RoutingPrefix)
		closeFn := func() {
			_ = ch.Close()
			_ = conn.Close()
		}
		return notifier.Router{Email: pub, SMS: pub}, closeFn, nil
	default:
		return notifier.Router{Email: logSender, SMS: logSender}, func() {}, nil
	}
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return len(origins) == 0
}
