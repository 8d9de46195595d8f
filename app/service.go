package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kilianp07/fleetpulse/api"
	"github.com/kilianp07/fleetpulse/app/plugins"
	"github.com/kilianp07/fleetpulse/config"
	"github.com/kilianp07/fleetpulse/core/assignment"
	"github.com/kilianp07/fleetpulse/core/audit"
	"github.com/kilianp07/fleetpulse/core/broadcast"
	"github.com/kilianp07/fleetpulse/core/geo"
	"github.com/kilianp07/fleetpulse/core/geofence"
	coremetrics "github.com/kilianp07/fleetpulse/core/metrics"
	"github.com/kilianp07/fleetpulse/core/model"
	coremon "github.com/kilianp07/fleetpulse/core/monitoring"
	"github.com/kilianp07/fleetpulse/core/pipeline"
	"github.com/kilianp07/fleetpulse/core/vehiclestatus"
	"github.com/kilianp07/fleetpulse/infra/logger"
	_ "github.com/kilianp07/fleetpulse/infra/metrics" // registers the metrics sinks
	"github.com/kilianp07/fleetpulse/infra/monitoring"
	"github.com/kilianp07/fleetpulse/infra/mqtt"
	"github.com/kilianp07/fleetpulse/infra/postgres"
	"github.com/kilianp07/fleetpulse/infra/redis"
	"github.com/kilianp07/fleetpulse/infra/ws"
)

// FleetState is the vehicle store behind the assignment pool.
type FleetState interface {
	pipeline.BulkPersister
	pipeline.VehicleStateSource
	assignment.VehiclePool
	SetProfile(ctx context.Context, c model.VehicleCandidate) error
}

// Service wires the pipeline, the assignment engine and their transports.
type Service struct {
	cfg *config.Config
	log logger.Logger

	Catalog   *geofence.Catalog
	Pipeline  *pipeline.Processor
	Engine    *assignment.Engine
	Broadcast *broadcast.Broadcaster
	Auditor   *audit.Auditor
	Fleet     FleetState
	Handler   http.Handler

	ingest *mqtt.Subscriber
	redis  *goredis.Client
	pg     *pgxpool.Pool
	sink   coremetrics.MetricsSink

	closeOnce sync.Once
}

// New creates a Service from the configuration. Remote stores are connected
// with ctx.
func New(ctx context.Context, cfg *config.Config) (svc *Service, err error) {
	logger.SetLevel(cfg.Logging.Level)
	s := &Service{cfg: cfg, log: logger.New("service")}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	if cfg.Geofence.Catalog != "" {
		if s.Catalog, err = geofence.LoadCatalog(cfg.Geofence.Catalog); err != nil {
			return nil, fmt.Errorf("geofence catalog: %w", err)
		}
	} else if s.Catalog, err = geofence.NewCatalog(); err != nil {
		return nil, err
	}
	s.log.Infof("loaded %d geofences", s.Catalog.Len())

	if s.sink, err = coremetrics.NewMetricsSink(cfg.Metrics.Sinks); err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	relays, err := plugins.NewRelays(cfg, logger.New("relay"))
	if err != nil {
		return nil, fmt.Errorf("relays: %w", err)
	}
	s.Broadcast = broadcast.New(cfg.Broadcast, relays, logger.New("broadcast"))

	persisters, err := s.openStores(ctx)
	if err != nil {
		return nil, err
	}
	index, err := s.spatialIndex(ctx)
	if err != nil {
		return nil, err
	}

	detector := geofence.NewDetector(geofence.NewStore(cfg.Geofence.Shards), cfg.Geofence.Hysteresis())
	eval := geofence.NewEvaluator(plugins.NewRiskScorer(cfg.Prediction))
	s.Pipeline = pipeline.New(cfg.Pipeline, index, s.Catalog, detector, eval,
		pipeline.WithPersister(persisters),
		pipeline.WithPublisher(s.Broadcast),
		pipeline.WithMetricsSink(s.sink),
		pipeline.WithVehicleState(s.Fleet),
		pipeline.WithLogger(logger.New("pipeline")),
	)

	store, err := audit.Open(cfg.Audit)
	if err != nil {
		return nil, fmt.Errorf("audit store: %w", err)
	}
	s.Auditor = audit.NewAuditor(store)
	s.Engine = assignment.New(cfg.Assignment, s.Fleet, geo.StraightLineRouter{},
		assignment.WithAudit(s.Auditor),
		assignment.WithPublisher(s.Broadcast),
		assignment.WithMetricsSink(s.sink),
		assignment.WithLogger(logger.New("assignment")),
	)

	if cfg.MQTT.Ingest {
		if s.ingest, err = mqtt.NewSubscriber(cfg.MQTT.Config, s.Pipeline, logger.New("ingest")); err != nil {
			return nil, fmt.Errorf("mqtt ingest: %w", err)
		}
	}

	s.Handler = api.NewRouter(api.Deps{
		Locations:  s.Pipeline,
		Dispatcher: s.Engine,
		Audit:      s.Auditor,
		Membership: s.Pipeline,
		Profiles:   s.Fleet,
		Events:     ws.NewHub(s.Broadcast, cfg.WS, logger.New("ws")),
		Health:     s.healthChecks(),
		Logger:     logger.New("http"),
	})
	return s, nil
}

// openStores connects the fleet state and the optional Postgres history. It
// returns the persister fed by every flushed batch.
func (s *Service) openStores(ctx context.Context) (pipeline.BulkPersister, error) {
	var err error
	switch s.cfg.Fleet.Store {
	case "redis":
		if s.redis, err = redis.Connect(ctx, s.cfg.Redis); err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.Fleet = redis.NewFleetState(s.redis, s.cfg.Redis)
	default:
		s.Fleet = vehiclestatus.NewMemoryStore(vehiclestatus.WithTTL(s.cfg.Fleet.StateTTL()))
	}
	persisters := multiPersister{s.Fleet}
	if s.cfg.Postgres.DSN != "" {
		if s.pg, err = postgres.Connect(ctx, s.cfg.Postgres); err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		persisters = append(persisters, postgres.NewPersister(s.pg))
	}
	return persisters, nil
}

func (s *Service) spatialIndex(ctx context.Context) (pipeline.SpatialIndex, error) {
	if s.cfg.Geofence.Index != "postgres" {
		return geo.NewMemoryIndex(s.Catalog.All()), nil
	}
	if s.pg == nil {
		return nil, errors.New("postgres index requires postgres.dsn")
	}
	idx := postgres.NewSpatialIndex(s.pg)
	if err := idx.Sync(ctx, s.Catalog.All()); err != nil {
		return nil, fmt.Errorf("sync geofences: %w", err)
	}
	return idx, nil
}

func (s *Service) healthChecks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{}
	if s.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return s.redis.Ping(ctx).Err() }
	}
	if s.pg != nil {
		checks["postgres"] = s.pg.Ping
	}
	return checks
}

// Run serves the API and processes updates until ctx is cancelled or the
// server fails. Ingest stops first; the pipeline then flushes what is queued.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// relays keep draining after ctx ends; Close stops them
	go s.Broadcast.Run(context.WithoutCancel(ctx))

	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		s.Pipeline.Run(ctx)
	}()

	srv := &http.Server{Addr: s.cfg.HTTP.Addr, Handler: s.Handler, ReadHeaderTimeout: 5 * time.Second}
	srvErr := make(chan error, 1)
	go func() {
		s.log.Infof("http listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-srvErr:
		s.log.Errorf("http server: %v", runErr)
	}

	if s.ingest != nil {
		s.ingest.Close()
	}
	shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.HTTP.ShutdownTimeout())
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warnf("http shutdown: %v", err)
	}
	stop()
	cancel()
	<-pipelineDone
	s.log.Infof("pipeline drained, %d updates left", s.Pipeline.Pending())
	return runErr
}

// Close releases resources in dependency order. It is safe to call on a
// partially built service.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		if s.ingest != nil {
			s.ingest.Close()
		}
		if s.Pipeline != nil {
			s.Pipeline.Close()
		}
		if s.Engine != nil {
			s.Engine.Close()
		}
		if s.Broadcast != nil {
			if err := s.Broadcast.Close(); err != nil {
				s.log.Warnf("close relays: %v", err)
			}
		}
		if s.Auditor != nil {
			if err := s.Auditor.Close(); err != nil {
				s.log.Warnf("close audit store: %v", err)
			}
		}
		if s.redis != nil {
			_ = s.redis.Close()
		}
		if s.pg != nil {
			s.pg.Close()
		}
		coremon.Flush(2 * time.Second)
	})
}

// multiPersister writes a batch to every store. All stores are tried; the
// errors are joined.
type multiPersister []pipeline.BulkPersister

func (m multiPersister) Upsert(ctx context.Context, updates []model.LocationUpdate) error {
	var errs []error
	for _, p := range m {
		if err := p.Upsert(ctx, updates); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
