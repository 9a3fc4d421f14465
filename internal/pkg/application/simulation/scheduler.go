package simulation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"

	"github.com/diwise/smarthome-monitor/internal/pkg/application/readings"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/realtime"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/metrics"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/tracing"
	"github.com/diwise/smarthome-monitor/pkg/types"
)

const DefaultInterval = 15 * time.Second

var ErrAlreadyStarted = fmt.Errorf("scheduler already started")

var tracer = otel.Tracer("smarthome-monitor/simulation")

type Config struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Seed     int64         `yaml:"seed"`
}

//go:generate moq -rm -out scheduler_mock.go . Scheduler

type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	Tick(ctx context.Context) error
}

type Storage interface {
	GetDevices(ctx context.Context) ([]types.Device, error)
	AddReadings(ctx context.Context, readings []types.SensorReading) ([]types.SensorReading, error)
}

type scheduler struct {
	mu          sync.Mutex
	cron        *cron.Cron
	stop        chan struct{}
	watcher     chan struct{}
	interval    time.Duration
	storage     Storage
	generator   readings.Generator
	broadcaster realtime.Broadcaster
}

func New(storage Storage, generator readings.Generator, broadcaster realtime.Broadcaster, interval time.Duration) Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &scheduler{
		interval:    interval,
		storage:     storage,
		generator:   generator,
		broadcaster: broadcaster,
	}
}

// Start schedules a tick every interval until Stop is called or ctx is done.
// A tick that is still running when the next one is due is skipped.
func (s *scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrAlreadyStarted
	}

	logger := logging.GetLoggerFromContext(ctx).With().Str("job", "simulation").Logger()
	tickCtx := logging.NewContextWithLogger(context.Background(), logger)

	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{logger}),
		cron.SkipIfStillRunning(cronLogger{logger}),
	))

	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		if err := s.Tick(tickCtx); err != nil {
			logger.Error().Err(err).Msg("simulation tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule simulation: %w", err)
	}

	c.Start()
	s.cron = c
	s.stop = make(chan struct{})
	s.watcher = make(chan struct{})

	logger.Info().Str("interval", s.interval.String()).Msg("simulation started")

	go func(stop, watcher chan struct{}) {
		defer close(watcher)
		select {
		case <-ctx.Done():
			s.mu.Lock()
			current := s.stop == stop
			s.mu.Unlock()
			if current {
				s.Stop()
			}
		case <-stop:
		}
	}(s.stop, s.watcher)

	return nil
}

// Stop prevents further ticks and waits for a running tick to finish.
func (s *scheduler) Stop() {
	s.mu.Lock()
	c, stop := s.cron, s.stop
	s.cron, s.stop = nil, nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	if c != nil {
		<-c.Stop().Done()
	}
}

// Tick generates, persists and publishes one reading per known device. If the
// readings cannot be persisted nothing is published.
func (s *scheduler) Tick(ctx context.Context) error {
	var err error
	ctx, span := tracer.Start(ctx, "simulation-tick")
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	metrics.SimulationTicks.Inc()

	logger := logging.GetLoggerFromContext(ctx)

	devices, err := s.storage.GetDevices(ctx)
	if err != nil {
		metrics.SimulationFailures.Inc()
		err = fmt.Errorf("failed to load devices: %w", err)
		return err
	}

	if len(devices) == 0 {
		logger.Debug().Msg("no devices to simulate")
		return nil
	}

	byID := lo.KeyBy(devices, func(d types.Device) uint { return d.ID })

	generated := lo.Map(devices, func(d types.Device, _ int) types.SensorReading {
		return s.generator.Generate(d)
	})

	saved, err := s.storage.AddReadings(ctx, generated)
	if err != nil {
		metrics.SimulationFailures.Inc()
		err = fmt.Errorf("failed to persist %d readings: %w", len(generated), err)
		return err
	}

	metrics.ReadingsPersisted.WithLabelValues("simulation").Add(float64(len(saved)))

	for _, r := range saved {
		name := byID[r.DeviceID].Name
		if perr := s.broadcaster.Publish(ctx, realtime.All, types.NewReadingUpdated(name, r)); perr != nil {
			logger.Error().Err(perr).Uint("deviceID", r.DeviceID).Msg("failed to publish reading")
		}
	}

	logger.Debug().Int("count", len(saved)).Msg("simulated readings published")

	return nil
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
