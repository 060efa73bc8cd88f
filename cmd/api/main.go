package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"checkout-ledger/internal/client"
	"checkout-ledger/internal/config"
	"checkout-ledger/internal/envelope"
	"checkout-ledger/internal/notify"
	"checkout-ledger/internal/repository"
	"checkout-ledger/internal/server"
	"checkout-ledger/internal/service"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	flag "github.com/spf13/pflag"
)

const serviceName = "checkout-ledger"

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	panelFile := flag.String("service-panel", "", "service panel seed file (overrides SERVICE_PANEL_FILE)")
	flag.Parse()

	// load .env into os.Environ
	if err := godotenv.Load(*envFile); err != nil {
		log.Info().Str("file", *envFile).Msg("no env file found (ok in prod)")
	}

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to parse config")
	}
	if *panelFile != "" {
		cfg.ServicePanelFile = *panelFile
	}

	setupLogger(cfg.Log, cfg.Environment.Name)

	db, err := client.OpenDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}

	sealer, err := envelope.New(cfg.Encryption.Key, cfg.Encryption.Salt)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init encryption")
	}

	stripeClient := client.NewStripeClient(&cfg.Stripe)

	userRepo := repository.NewUserRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	credRepo := repository.NewCredentialRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	logRepo := repository.NewSubmissionLogRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)
	settingRepo := repository.NewSettingRepository(db)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	panel := service.NewServicePanel(settingRepo)
	seed, err := service.LoadServiceDefinitions(cfg.ServicePanelFile)
	if err != nil {
		log.Warn().Err(err).Msg("service panel seed not loaded")
	}
	if err := panel.Init(ctx, seed); err != nil {
		log.Fatal().Err(err).Msg("failed to load service panel")
	}

	sink, closeSink := notificationSink(cfg.Notify)
	dispatcher := notify.NewDispatcher(sink, notify.Options{
		QueueSize:   cfg.Notify.QueueSize,
		Workers:     cfg.Notify.Workers,
		Timeout:     cfg.Notify.Timeout,
		MaxAttempts: cfg.Notify.MaxAttempts,
	})
	dispatcher.Start(ctx)

	userService := service.NewUserService(userRepo)
	credentialStore := service.NewCredentialStore(db, credRepo, subRepo, userRepo, sealer)
	ledger := service.NewSubscriptionLedger(db, subRepo, logRepo, credentialStore, panel)
	resolver := service.NewEmailResolver(db, subRepo, credRepo, credentialStore, sealer)
	reconciler := service.NewReconciler(
		db,
		orderRepo,
		subRepo,
		userRepo,
		panel,
		resolver,
		stripeClient,
		dispatcher,
		cfg.FeePercentage,
	)
	billing := service.NewBillingWebhooks(db, stripeClient, webhookEventRepo, userRepo, reconciler)

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	// Init HTTP server
	srv := server.NewServer(server.Options{
		Users:            userService,
		Ledger:           ledger,
		Panel:            panel,
		Reconciler:       reconciler,
		Billing:          billing,
		BotWebhookSecret: cfg.Bot.WebhookSecret,
		AdminToken:       cfg.Admin.Token,
	})

	log.Info().Str("addr", serverAddr).Msg("starting HTTP server")
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	<-sigChan
	log.Info().Msg("signal received, starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("notification queue not drained")
	}
	if err := closeSink(); err != nil {
		log.Error().Err(err).Msg("notification sink close error")
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

func setupLogger(cfg config.Log, environment string) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(os.Stdout)
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	log.Logger = logger.With().
		Timestamp().
		Str("service", serviceName).
		Str("env", environment).
		Logger()
}

// notificationSink builds the configured sinks. With none configured,
// notifications only reach the log.
func notificationSink(cfg config.Notify) (notify.Sink, func() error) {
	var (
		sinks  notify.FanOut
		kafka  *notify.KafkaSink
		closer = func() error { return nil }
	)

	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, notify.NewDiscordWebhook(cfg.DiscordWebhookURL))
	}
	if len(cfg.KafkaBrokers) > 0 {
		kafka = notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, kafka)
		closer = kafka.Close
	}

	if len(sinks) == 0 {
		return notify.LogSink{}, closer
	}
	return sinks, closer
}
