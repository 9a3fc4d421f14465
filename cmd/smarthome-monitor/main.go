package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/diwise/messaging-golang/pkg/messaging"
	"github.com/go-chi/chi/v5"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"github.com/diwise/smarthome-monitor/internal/pkg/application"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/devices"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/metrics"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/repositories/database"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/router"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/tracing"
	"github.com/diwise/smarthome-monitor/internal/pkg/presentation/api"
	"github.com/diwise/smarthome-monitor/internal/pkg/presentation/api/auth"
)

const serviceName string = "smarthome-monitor"

type Config struct {
	ListenAddress  string   `split_words:"true" default:"0.0.0.0"`
	ServicePort    string   `split_words:"true" default:"8080"`
	ControlPort    string   `split_words:"true" default:"8000"`
	LogLevel       string   `split_words:"true" default:"info"`
	AllowedOrigins []string `split_words:"true" default:"*"`

	DbDriver   string `split_words:"true" default:"sqlite"`
	DbPath     string `split_words:"true" default:"smarthome.db"`
	DbHost     string `split_words:"true"`
	DbUser     string `split_words:"true"`
	DbPassword string `split_words:"true"`
	DbName     string `split_words:"true" default:"smarthome"`
	DbSslMode  string `split_words:"true" default:"disable"`

	JwtSecret       string `split_words:"true" required:"true"`
	EnableMessaging bool   `split_words:"true" default:"false"`

	ConfigFile   string `split_words:"true"`
	PoliciesFile string `split_words:"true"`
}

func main() {
	serviceVersion := version()

	cfg, err := loadConfig()

	ctx, logger := logging.NewLogger(context.Background(), serviceName, serviceVersion, cfg.LogLevel)
	exitIf(err, logger, "could not load configuration from environment")

	// Allow command line arguments to override the environment
	flag.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "simulation and notification configuration file")
	flag.StringVar(&cfg.PoliciesFile, "policies", cfg.PoliciesFile, "an authorization policy file")
	flag.Parse()

	logger.Info().Msg("starting up ...")

	cleanup, err := tracing.Init(ctx, logger, serviceName, serviceVersion)
	exitIf(err, logger, "failed to init tracing")
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var messenger messaging.MsgContext
	if cfg.EnableMessaging {
		messenger, err = messaging.Initialize(messaging.LoadConfiguration(serviceName, logger))
		exitIf(err, logger, "failed to init messenger")
		defer messenger.Close()
	}

	handler, app, err := initialize(ctx, logger, cfg, messenger)
	exitIf(err, logger, "failed to initialize service")

	err = app.Start(ctx)
	exitIf(err, logger, "failed to start application")

	public := &http.Server{Addr: net.JoinHostPort(cfg.ListenAddress, cfg.ServicePort), Handler: handler}
	control := &http.Server{Addr: net.JoinHostPort(cfg.ListenAddress, cfg.ControlPort), Handler: controlRouter()}

	serve := func(name string, s *http.Server) {
		logger.Info().Str("addr", s.Addr).Msgf("starting %s server", name)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msgf("%s server failed", name)
			stop()
		}
	}

	go serve("control", control)
	go serve("public", public)

	<-ctx.Done()
	logger.Info().Msg("shutting down ...")

	app.Scheduler().Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// event streams never go idle, so they are closed once the grace period ends
	if err := public.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("closing remaining public connections")
		public.Close()
	}
	if err := control.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("control server shutdown failed")
	}

	app.Stop()
}

func loadConfig() (Config, error) {
	cfg := Config{}
	err := envconfig.Process("smarthome", &cfg)
	return cfg, err
}

// initialize wires storage, the application and the public api. messenger may
// be nil, in which case nothing is published to or consumed from the bus.
func initialize(ctx context.Context, logger zerolog.Logger, cfg Config, messenger messaging.MsgContext) (http.Handler, application.App, error) {
	appCfg, err := loadApplicationConfig(cfg.ConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("could not load configuration file: %w", err)
	}

	store, err := database.New(newConnector(logger, cfg))
	if err != nil {
		return nil, nil, fmt.Errorf("could not create or connect to database: %w", err)
	}

	tokens := auth.NewTokenAuth(cfg.JwtSecret)

	opts := []application.Option{
		application.WithStreamIdentity(func(r *http.Request) string {
			user, _ := auth.GetUserFromContext(r.Context())
			return user
		}),
	}
	if messenger != nil {
		opts = append(opts, application.WithTopicPublisher(messenger))
	}

	app, err := application.New(logger, store, tokens, appCfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	if messenger != nil {
		messenger.RegisterTopicMessageHandler(devices.DeviceStatusTopic, devices.NewDeviceStatusHandler(app.Devices()))
	}

	var policies io.Reader
	if cfg.PoliciesFile != "" {
		b, err := os.ReadFile(cfg.PoliciesFile)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open opa policy file: %w", err)
		}
		policies = bytes.NewReader(b)
	}

	r, err := api.RegisterHandlers(ctx, logger, router.New(serviceName, cfg.AllowedOrigins...), policies, tokens, app)
	if err != nil {
		return nil, nil, err
	}

	return r, app, nil
}

func newConnector(logger zerolog.Logger, cfg Config) database.ConnectorFunc {
	if cfg.DbDriver == "postgres" {
		return database.NewPostgreSQLConnector(logger, database.ConnectorConfig{
			Host:     cfg.DbHost,
			Username: cfg.DbUser,
			DbName:   cfg.DbName,
			Password: cfg.DbPassword,
			SslMode:  cfg.DbSslMode,
		})
	}

	return database.NewSQLiteConnector(logger, cfg.DbPath)
}

func loadApplicationConfig(path string) (*application.Config, error) {
	if path == "" {
		return application.DefaultConfig(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return application.LoadConfiguration(f)
}

func controlRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}

func version() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	buildSettings := buildInfo.Settings
	infoMap := map[string]string{}
	for _, s := range buildSettings {
		infoMap[s.Key] = s.Value
	}

	sha := infoMap["vcs.revision"]
	if infoMap["vcs.modified"] == "true" {
		sha += "+"
	}

	return sha
}

func exitIf(err error, logger zerolog.Logger, msg string) {
	if err != nil {
		logger.Error().Err(err).Msg(msg)
		time.Sleep(2 * time.Second)
		os.Exit(1)
	}
}
