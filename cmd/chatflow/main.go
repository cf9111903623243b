package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatflow/internal/ai"
	"chatflow/internal/calendar"
	"chatflow/internal/config"
	"chatflow/internal/constants"
	"chatflow/internal/database"
	"chatflow/internal/dedup"
	"chatflow/internal/features"
	"chatflow/internal/models"
	"chatflow/internal/retry"
	"chatflow/internal/service"
	"chatflow/internal/timeparse"
	"chatflow/internal/tracing"
	"chatflow/pkg/circuitbreaker"
	"chatflow/pkg/telegram"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes chat identifiers and message text)")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

// TenantStore persists per-tenant settings.
type TenantStore interface {
	SaveTenantSettings(ctx context.Context, s *models.TenantSettings) error
}

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("chatflow %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting chatflow")

	watcher := config.NewConfigWatcher(*configPath, config.DefaultWatchInterval, logger)
	cfg, err := watcher.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyLogLevel(logger, cfg.LogLevel, *verbose)

	tracingManager := tracing.NewTracingManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		Jitter:       true,
	})

	bot := telegram.NewClient(
		cfg.Telegram.APIBaseURL,
		cfg.Telegram.BotToken,
		&http.Client{Timeout: time.Duration(cfg.Telegram.TimeoutSec) * time.Second},
		backoff,
		logger,
	)
	botUsername := resolveBotUsername(ctx, bot, cfg.Engine.BotUsername, logger)
	if cfg.Telegram.WebhookURL != "" {
		if err := bot.SetWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			logger.WithError(err).Warn("Failed to register Telegram webhook")
		}
	}

	provisionTenants(ctx, db, cfg.Tenants, logger)

	flags := features.NewFlagManager()
	if err := flags.LoadFromConfig(cfg.Features); err != nil {
		return fmt.Errorf("invalid feature flags: %w", err)
	}
	flags.LoadFromEnvironment()

	dedupStore := newDedupStore(ctx, cfg, logger)
	defer dedupStore.Close()

	zone := timeparse.Location(cfg.Timezone)
	engine := service.NewEngine(service.Deps{
		Store:     db,
		Messenger: bot,
		AI:        newAI(ctx, cfg, logger),
		Calendar:  newCalendar(cfg, backoff, logger),
		Dedup:     dedupStore,
	}, service.Options{
		DefaultTenantID: cfg.DefaultTenantID,
		Zone:            zone,
		PendingTTL:      time.Duration(cfg.Engine.PendingTTLMin) * time.Minute,
		HandlerTimeout:  time.Duration(cfg.Engine.HandlerTimeoutSec) * time.Second,
		MaxToolRounds:   cfg.Engine.MaxToolRounds,
		BotUsername:     botUsername,
		Temperature:     cfg.AI.Temperature,
		MaxTokens:       cfg.AI.MaxTokens,
		Verbose:         *verbose,
		Features:        flags,
	}, logger)

	cleanup := service.NewCleanupJob(db, cfg.RetentionDays, logger)
	runner, err := newRunner(cfg, db, bot, zone, flags, cleanup, logger)
	if err != nil {
		return err
	}
	runner.Start()
	defer runner.Stop()

	watcher.OnConfigChange(func(next *models.Config) {
		applyLogLevel(logger, next.LogLevel, *verbose)
		cleanup.SetRetentionDays(next.RetentionDays)
		provisionTenants(ctx, db, next.Tenants, logger)
		if err := flags.Reload(next.Features); err != nil {
			logger.WithError(err).Warn("Ignoring invalid feature flags in reloaded config")
		}
	})
	go watcher.Start(ctx)

	server := NewServer(cfg, engine, db, logger)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	waitForHandlers(shutdownCtx, engine, logger)

	logger.Info("Server shutdown completed")
	return nil
}

// applyLogLevel parses level, capping it at info unless verbose is set so
// message text only reaches the logs when explicitly requested.
func applyLogLevel(logger *logrus.Logger, level string, verbose bool) {
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	if level == "" {
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", level)
		logger.SetLevel(logrus.InfoLevel)
		return
	}
	if parsed > logrus.InfoLevel {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
}

func openDatabase(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	var db *database.Database
	err := backoff.Retry(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}
	return db, nil
}

// provisionTenants writes the tenant settings listed in config. Tenants not
// listed keep whatever is stored, or the built-in defaults.
func provisionTenants(ctx context.Context, store TenantStore, tenants []models.TenantSettings, logger *logrus.Logger) {
	for i := range tenants {
		t := tenants[i]
		if err := store.SaveTenantSettings(ctx, &t); err != nil {
			logger.WithError(err).WithField(service.LogFieldTenantID, t.TenantID).Warn("Failed to save tenant settings")
			continue
		}
		logger.WithFields(logrus.Fields{
			service.LogFieldTenantID: t.TenantID,
			"timezone":               t.Timezone,
		}).Debug("Provisioned tenant settings")
	}
}

func resolveBotUsername(ctx context.Context, bot telegram.Client, configured string, logger *logrus.Logger) string {
	if configured != "" {
		return configured
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	me, err := bot.GetMe(ctx)
	if err != nil {
		logger.WithError(err).Warn("Failed to look up bot username; mentions will not be recognized")
		return ""
	}
	return me.Username
}

// newAI returns an empty bundle when the provider cannot be built; AI
// features then answer with an apology instead of failing startup.
func newAI(ctx context.Context, cfg *models.Config, logger *logrus.Logger) service.AI {
	var bundle service.AI

	provider, err := ai.NewDefaultRegistry().Get(ctx, cfg.AI)
	if err != nil {
		logger.WithError(err).Warn("AI provider unavailable")
	} else {
		breaker := circuitbreaker.New("ai-"+provider.Name(),
			uint32(cfg.AI.BreakerFailures),
			time.Duration(cfg.AI.BreakerTimeoutSec)*time.Second,
			logger)
		bundle.Provider = ai.NewGuarded(provider, breaker, time.Duration(cfg.AI.TimeoutSec)*time.Second, logger)
	}

	if cfg.Search.APIKey != "" {
		bundle.Searcher = ai.NewWebSearcher(cfg.Search)
	}
	return bundle
}

func newCalendar(cfg *models.Config, backoff *retry.Backoff, logger *logrus.Logger) calendar.Client {
	if cfg.Calendar.AccessToken == "" {
		return nil
	}
	return calendar.NewGoogleClient(cfg.Calendar, backoff, logger)
}

// newDedupStore prefers Redis so several replicas share one key space, and
// falls back to process memory when Redis is unset or unreachable.
func newDedupStore(ctx context.Context, cfg *models.Config, logger *logrus.Logger) dedup.Store {
	ttl := time.Duration(cfg.Engine.DedupTTLSec) * time.Second
	if cfg.Redis.URL == "" {
		return dedup.NewMemoryStore(ttl)
	}
	store, err := dedup.NewRedisStore(ctx, cfg.Redis.URL, cfg.Redis.KeyPrefix, ttl)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, de-duplicating in memory")
		return dedup.NewMemoryStore(ttl)
	}
	logger.Info("Using Redis de-duplication store")
	return store
}

func newRunner(cfg *models.Config, db *database.Database, bot telegram.Client, zone *time.Location,
	flags *features.FlagManager, cleanup *service.CleanupJob, logger *logrus.Logger) (*service.Runner, error) {
	runner := service.NewRunner(logger)
	sc := cfg.Scheduler

	jobs := []struct {
		job   service.Job
		every time.Duration
		flag  string
	}{
		{service.NewReminderScheduler(db, bot, zone, logger), time.Duration(sc.ReminderIntervalSec) * time.Second, ""},
		{service.NewRecurringTaskScheduler(db, bot, zone, logger), time.Duration(sc.RecurringIntervalSec) * time.Second, features.FlagRecurringTasks},
		{service.NewNudgeScheduler(db, bot, zone, logger), time.Duration(sc.NudgeIntervalSec) * time.Second, features.FlagNudges},
		{cleanup, time.Duration(sc.CleanupIntervalHours) * time.Hour, ""},
	}
	for _, j := range jobs {
		if j.flag != "" && !flags.IsEnabled(j.flag) {
			logger.WithField("job", j.job.Name()).Info("Scheduler disabled by feature flag")
			continue
		}
		if err := runner.Add(j.job, j.every); err != nil {
			return nil, err
		}
	}
	return runner, nil
}

func waitForHandlers(ctx context.Context, engine *service.Engine, logger *logrus.Logger) {
	done := make(chan struct{})
	go func() {
		engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("Timed out waiting for in-flight handlers")
	}
}
