// Command vaccinealert runs the vaccine slot alert service.
//
// Usage:
//
//	vaccinealert [serve]          run the scheduler and the ops HTTP API
//	vaccinealert run-once         run a single alert cycle and print its report
//	vaccinealert migrate          apply database migrations and exit
//	vaccinealert hash-api-key KEY print the bcrypt hash for OPS_API_KEY_HASH
//
// @title Vaccine Alert Ops API
// @version 1.0
// @description Operations API for the vaccine slot alert pipeline.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"vaccinealert/config"
	_ "vaccinealert/docs"
	"vaccinealert/internal/adapters/auth"
	"vaccinealert/internal/adapters/cowin"
	"vaccinealert/internal/adapters/dedup"
	"vaccinealert/internal/adapters/email"
	deliveryhttp "vaccinealert/internal/delivery/http"
	"vaccinealert/internal/delivery/http/controllers"
	"vaccinealert/internal/domain"
	"vaccinealert/internal/repository/postgres"
	"vaccinealert/internal/services"
)

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	if cmd == "hash-api-key" {
		if len(os.Args) != 3 {
			log.Fatal("usage: vaccinealert hash-api-key KEY")
		}
		hash, err := auth.NewBcryptHasher(0).Hash(os.Args[2])
		if err != nil {
			log.Fatalf("hash api key: %v", err)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := config.NewLogger(cfg.App)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "run-once":
		err = runOnce(ctx, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	if err != nil {
		logger.Error("exiting", "command", cmd, "err", err)
		os.Exit(1)
	}
}

// app holds the wired alert pipeline.
type app struct {
	scheduler     *services.AlertScheduler
	opsAuth       domain.OpsAuthService
	subscriptions domain.SubscriptionService
	tokens        *auth.JWT
	closers       []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close failed", "err", err)
		}
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	dialect := postgres.Dialect(cfg.Database.Driver)
	db, err := postgres.Open(ctx, dialect, cfg.Database.URL, postgres.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	logger.Info("database connected", "driver", dialect)

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db, dialect, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	var claimer domain.Claimer
	if cfg.Redis.Enabled {
		client, err := dedup.NewRedisClient(ctx, dedup.RedisConfig{
			Addr:     cfg.Redis.Address(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		claimer = dedup.NewRedisClaimer(client, cfg.Redis.KeyPrefix)
		logger.Info("redis dedup store connected", "addr", cfg.Redis.Address())
	} else {
		mem := dedup.NewMemoryClaimer()
		a.closers = append(a.closers, mem.Close)
		claimer = mem
		logger.Warn("redis disabled, alerts are only deduplicated within this process")
	}

	mailer, err := email.NewMailer(email.MailerConfig{
		Provider:    cfg.Mailer.Provider,
		FromAddress: cfg.Mailer.FromAddress,
		FromName:    cfg.Mailer.FromName,
		SES: email.SESConfig{
			Region:             cfg.Mailer.SESRegion,
			AccessKeyID:        cfg.Mailer.SESAccessKeyID,
			SecretAccessKey:    cfg.Mailer.SESSecretAccessKey,
			InsecureSkipVerify: cfg.Mailer.InsecureSkipVerify,
		},
		SMTP: email.SMTPConfig{
			Host:               cfg.Mailer.SMTPHost,
			Port:               cfg.Mailer.SMTPPort,
			Username:           cfg.Mailer.SMTPUsername,
			Password:           cfg.Mailer.SMTPPassword,
			InsecureSkipVerify: cfg.Mailer.InsecureSkipVerify,
		},
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	loc, err := cfg.Alert.Location()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.tokens = auth.NewJWT(cfg.Auth.JWTSecret)
	var issuer domain.TokenIssuer
	if cfg.Auth.JWTSecret != "" {
		issuer = a.tokens
	} else {
		logger.Warn("JWT_SECRET not set, alert emails carry no unsubscribe link and the ops API rejects every token")
	}

	registry := postgres.NewRegistryRepository(db, dialect, cfg.Alert.Threshold)
	reports := postgres.NewCycleReportRepository(db, dialect)
	fetcher := cowin.NewCalendarFetcher(&http.Client{}, cowin.Config{
		BaseURL:   cfg.Calendar.BaseURL,
		UserAgent: cfg.Calendar.UserAgent,
		Timeout:   cfg.Alert.FetchTimeout,
		TimeZone:  loc,
	}, logger)
	notifier := services.NewNotifier(logger, mailer, email.NewTemplateRenderer(), claimer, issuer, services.NotifierConfig{
		SendTimeout:        cfg.Alert.NotifyTimeout,
		DedupTTL:           cfg.Alert.DedupTTL,
		UnsubscribeBaseURL: cfg.Auth.PublicBaseURL,
		UnsubscribeExpiry:  cfg.Auth.UnsubscribeExpiry,
	})
	processor := services.NewBatchProcessor(logger, registry, fetcher, notifier, domain.TierGating(cfg.Alert.TierGating), nil)
	cycles := services.NewAlertCycleService(logger, registry, processor, claimer, services.CycleConfig{
		BatchSize: cfg.Alert.BatchSize,
		Workers:   cfg.Alert.Workers,
		Deadline:  cfg.Alert.CycleDeadline,
	}, nil)

	a.scheduler = services.NewAlertScheduler(logger, cycles, reports, services.SchedulerConfig{
		Interval:   cfg.Alert.CycleInterval,
		RunOnStart: cfg.Alert.RunOnStart,
	})
	a.opsAuth = services.NewOpsAuthService(auth.NewBcryptHasher(0), a.tokens, cfg.Auth.OpsAPIKeyHash, cfg.Auth.TokenExpiry)
	a.subscriptions = services.NewSubscriptionService(logger, a.tokens, registry)
	return a, nil
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	router := deliveryhttp.NewRouter(deliveryhttp.RouterConfig{
		Logger:         logger,
		Ops:            controllers.NewOpsController(logger, a.scheduler),
		Auth:           controllers.NewAuthController(logger, a.opsAuth),
		Subscription:   controllers.NewSubscriptionController(logger, a.subscriptions),
		Verifier:       a.tokens,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if !cfg.Alert.NoScheduler {
		a.scheduler.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "env", cfg.App.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			a.scheduler.Stop()
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
	a.scheduler.Stop()
	logger.Info("server stopped")
	return nil
}

func runOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	report := a.scheduler.RunNow(ctx)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if report.Skipped {
		return domain.ErrCycleInProgress
	}
	return nil
}

func migrate(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	dialect := postgres.Dialect(cfg.Database.Driver)
	db, err := postgres.Open(ctx, dialect, cfg.Database.URL, postgres.PoolConfig{})
	if err != nil {
		return err
	}
	defer db.Close()
	return postgres.Migrate(ctx, db, dialect, logger)
}
