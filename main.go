package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	cfgFile string
	envFile string

	rootCmd = &cobra.Command{
		Use:   "ghgateway",
		Short: "GitHub App gateway",
		Long:  `Serves GitHub workflow, infrastructure and container dashboards and dispatches workflow runs through a GitHub App.`,
		RunE:  runServe,
		PersistentPreRun: func(*cobra.Command, []string) {
			// A missing .env is normal outside local development.
			_ = godotenv.Load(envFile)
		},
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and webhook consumer",
		RunE:  runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// services are the wired components shared by every command.
type services struct {
	cfg        *Config
	logger     *zap.Logger
	metrics    *Metrics
	client     *GitHubClient
	app        *App
	scanner    *Scanner
	dispatcher *Dispatcher
}

func loadServices() (*services, error) {
	cfg, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	logger := NewLogger(cfg.Server.Dev, cfg.Server.LogLevel)
	metrics := NewMetrics()
	client := NewGitHubClient(cfg.GitHub.APIURL, nil, logger, metrics)
	app := NewApp(cfg.AppCredential(), client, *cfg.GitHub.TokenCache, logger, metrics)

	if app.Configured() {
		logger.Info("GitHub App configured", zap.String("app_id", cfg.GitHub.AppID))
	} else {
		logger.Warn("GitHub App not configured, App strategies unavailable")
	}

	return &services{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		client:     client,
		app:        app,
		scanner:    NewScanner(client, cfg.Scan.CacheTTL, cfg.Scan.AggregateLimit, logger, metrics),
		dispatcher: NewDispatcher(client, app, cfg.GitHub.Token, logger),
	}, nil
}

// sessionPurgeInterval is how often serve deletes expired sessions.
const sessionPurgeInterval = time.Hour

func openStore(ctx context.Context, cfg *Config, logger *zap.Logger) (*Store, error) {
	db, err := OpenDB(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	store := NewStore(db, logger)
	if err := store.InitSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}
	defer svc.logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, svc.cfg, svc.logger)
	if err != nil {
		return err
	}
	defer store.Close()
	svc.logger.Info("document store ready", zap.String("path", svc.cfg.Store.Path))

	processor := NewEventProcessor(store, svc.scanner, svc.app, svc.logger)

	var (
		mq        *RabbitMQ
		publisher EventPublisher
	)
	if svc.cfg.Queue.AMQPURL != "" {
		mq, err = NewRabbitMQ(svc.cfg.Queue.AMQPURL, svc.logger)
		if err != nil {
			return err
		}
		defer mq.Close()
		publisher = mq
	} else {
		svc.logger.Info("RABBITMQ_URL not set, webhook events are processed inline")
	}

	server := &Server{
		cfg:        svc.cfg,
		client:     svc.client,
		app:        svc.app,
		scanner:    svc.scanner,
		dispatcher: svc.dispatcher,
		auth:       NewCallerAuth(store, svc.app, svc.logger),
		store:      store,
		webhook:    NewWebhookHandler(svc.cfg.GitHub.WebhookSecret, publisher, processor, svc.logger, svc.metrics),
		metrics:    svc.metrics,
		limiter:    rate.NewLimiter(rate.Limit(svc.cfg.Dispatch.Rate), svc.cfg.Dispatch.Burst),
		logger:     svc.logger,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})
	g.Go(func() error {
		return store.PurgeSessionsEvery(ctx, sessionPurgeInterval)
	})
	if mq != nil {
		g.Go(func() error {
			return StartEventConsumer(ctx, mq, processor)
		})
	}
	return g.Wait()
}
