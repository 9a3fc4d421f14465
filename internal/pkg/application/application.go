package application

import (
	"context"
	"math/rand"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/diwise/smarthome-monitor/internal/pkg/application/devices"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/events"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/readings"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/realtime"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/simulation"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/users"
	"github.com/diwise/smarthome-monitor/internal/pkg/application/webevents"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/logging"
	"github.com/diwise/smarthome-monitor/internal/pkg/infrastructure/repositories/database"
)

type App interface {
	Start(ctx context.Context) error
	Stop()

	Users() users.UserService
	Devices() devices.DeviceService
	Readings() readings.ReadingService

	Registry() realtime.Registry
	WebEvents() webevents.WebEvents
	Scheduler() simulation.Scheduler
}

type app struct {
	cfg       *Config
	registry  realtime.Registry
	webEvents webevents.WebEvents
	users     users.UserService
	devices   devices.DeviceService
	readings  readings.ReadingService
	scheduler simulation.Scheduler
	sinks     []realtime.QueuedSink
}

type options struct {
	publisher events.TopicPublisher
	identify  func(*http.Request) string
	generator readings.Generator
}

type Option func(*options)

// WithTopicPublisher publishes reading and alert events on the message bus.
func WithTopicPublisher(p events.TopicPublisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// WithStreamIdentity selects the server-sent event channel of a request.
func WithStreamIdentity(identify func(*http.Request) string) Option {
	return func(o *options) {
		o.identify = identify
	}
}

func WithGenerator(g readings.Generator) Option {
	return func(o *options) {
		o.generator = g
	}
}

func New(logger zerolog.Logger, store database.Store, tokens users.TokenIssuer, cfg *Config, opts ...Option) (App, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	o := &options{
		identify: func(*http.Request) string { return "" },
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.generator == nil {
		seed := cfg.Simulation.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		o.generator = readings.NewGenerator(rand.NewSource(seed))
	}

	we := webevents.New(logger, o.identify)

	forwarder, err := events.NewAlertForwarder(cfg.Events())
	if err != nil {
		return nil, err
	}

	sinkCtx := logging.NewContextWithLogger(context.Background(), logger)
	queued := []realtime.QueuedSink{
		realtime.NewQueuedSink(sinkCtx, "sse", we, realtime.DefaultQueueSize),
	}

	if o.publisher != nil {
		queued = append(queued, realtime.NewQueuedSink(sinkCtx, "topics", events.NewTopicSink(o.publisher), realtime.DefaultQueueSize))
	}

	if forwarder != nil {
		queued = append(queued, realtime.NewQueuedSink(sinkCtx, "alerts", forwarder, realtime.DefaultQueueSize))
	}

	sinks := make([]realtime.Sink, 0, len(queued))
	for _, q := range queued {
		sinks = append(sinks, q)
	}

	registry := realtime.NewRegistry()
	b := realtime.NewBroadcaster(registry, sinks...)

	return &app{
		cfg:       cfg,
		registry:  registry,
		webEvents: we,
		users:     users.New(store, tokens),
		devices:   devices.New(store, b),
		readings:  readings.New(store, o.generator, b),
		scheduler: simulation.New(store, o.generator, b, cfg.Simulation.Interval),
		sinks:     queued,
	}, nil
}

func (a *app) Start(ctx context.Context) error {
	if !a.cfg.Simulation.Enabled {
		return nil
	}

	return a.scheduler.Start(ctx)
}

func (a *app) Stop() {
	a.scheduler.Stop()

	for _, q := range a.sinks {
		q.Close()
	}

	a.webEvents.Shutdown()
}

func (a *app) Users() users.UserService {
	return a.users
}

func (a *app) Devices() devices.DeviceService {
	return a.devices
}

func (a *app) Readings() readings.ReadingService {
	return a.readings
}

func (a *app) Registry() realtime.Registry {
	return a.registry
}

func (a *app) WebEvents() webevents.WebEvents {
	return a.webEvents
}

func (a *app) Scheduler() simulation.Scheduler {
	return a.scheduler
}
