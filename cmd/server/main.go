package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"stockroom/backend/internal/app"
	"stockroom/backend/internal/config"
	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/fanout"
	"stockroom/backend/internal/httpapi"
	"stockroom/backend/internal/logger"
	"stockroom/backend/internal/metrics"
	"stockroom/backend/internal/scheduler"
	"stockroom/backend/internal/service"
	"stockroom/backend/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalw("invalid security configuration", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatalw("server stopped with error", "error", err)
	}
	log.Infow("server stopped")
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	var closers app.Closers
	defer closers.Close(log)

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	backend, err := app.OpenBackend(startCtx, cfg, log, &closers)
	if err != nil {
		return err
	}
	records := store.NewRecords(backend, log)
	engine := app.RestockEngine(startCtx, cfg, log, &closers)
	m := metrics.New()

	// The hub lists users through the service, which in turn broadcasts
	// through the hub.
	var svc *service.Service
	hub := fanout.NewHub(log, m, func(ctx context.Context) ([]domain.User, error) {
		return svc.ListUserViews(ctx)
	})
	svc = service.New(records, service.Deps{
		Hub:     hub,
		Alerter: app.Alerter(cfg, log, engine),
		Restock: engine,
		Metrics: m,
		Logger:  log,
	})

	if err := bootstrapAdmin(startCtx, svc, cfg.AdminPassword); err != nil {
		return err
	}
	svc.RunStartupReconciliation(startCtx)

	auth := httpapi.NewAuthManager(startCtx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, svc)
	api := httpapi.New(httpapi.Options{
		Service:       svc,
		Auth:          auth,
		Hub:           hub,
		Metrics:       m,
		Logger:        log,
		AllowedOrigin: cfg.AllowedOrigin,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	sched := scheduler.New(svc, time.Duration(cfg.SchedulerIntervalMinutes)*time.Minute, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error {
		log.Infow("stockroom backend listening", "addr", cfg.Address(), "backend", cfg.DataBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		err := server.Shutdown(shutdownCtx)
		hub.Close()
		return err
	})

	return g.Wait()
}

func bootstrapAdmin(ctx context.Context, svc *service.Service, password string) error {
	hash, err := httpapi.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if _, err := svc.EnsureAdminUser(ctx, hash); err != nil {
		return fmt.Errorf("ensure admin account: %w", err)
	}
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.AdminPassword) < 8 {
		return fmt.Errorf("ADMIN_PASSWORD must be set and at least 8 characters")
	}
	if err := validatePasswordStrength(cfg.AdminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD is too weak: %w", err)
	}
	return nil
}

// validatePasswordStrength rejects passwords that repeat one character,
// run sequentially, or appear on a short list of defaults.
func validatePasswordStrength(password string) error {
	known := map[string]bool{
		"password": true, "password1": true, "admin123": true, "administrator": true,
		"12345678": true, "123456789": true, "qwertyuiop": true, "changeme": true,
		"stockroom": true, "letmein123": true,
	}
	if known[strings.ToLower(password)] {
		return fmt.Errorf("common password not allowed")
	}

	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("single repeated character not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(password); i++ {
		diff := int(password[i]) - int(password[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential password not allowed")
	}

	return nil
}
