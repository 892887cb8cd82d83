package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-taskrunner/metrics"
)

const (
	HealthzHost = "0.0.0.0"
	HealthzPort = 8080
)

type Config struct {
	HealthzAddr string
	MetricsAddr string
	Log         log.Logger
}

// DefaultConfig listens for health checks on HealthzPort and for metrics
// scrapes on the given metrics host and port.
func DefaultConfig(metricsHost string, metricsPort int, logger log.Logger) Config {
	return Config{
		HealthzAddr: net.JoinHostPort(HealthzHost, strconv.Itoa(HealthzPort)),
		MetricsAddr: net.JoinHostPort(metricsHost, strconv.Itoa(metricsPort)),
		Log:         logger,
	}
}

type Service struct {
	Healthz *HealthzServer
	Metrics *MetricsServer
	cfg     Config
	log     log.Logger
}

func New(cfg Config) *Service {
	if cfg.Log == nil {
		cfg.Log = log.New("component", "service")
	}
	return &Service{
		Healthz: &HealthzServer{log: cfg.Log},
		Metrics: &MetricsServer{},
		cfg:     cfg,
		log:     cfg.Log,
	}
}

func (s *Service) Start(ctx context.Context) {
	s.log.Info("service starting")

	go func() {
		s.log.Info("starting healthz server", "addr", s.cfg.HealthzAddr)
		if err := s.Healthz.Start(ctx, s.cfg.HealthzAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error starting healthz server", "err", err)
			metrics.RecordErrorDetails("error starting healthz server", err)
		}
	}()

	go func() {
		s.log.Info("starting metrics server", "addr", s.cfg.MetricsAddr)
		if err := s.Metrics.Start(ctx, s.cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error starting metrics server", "err", err)
			metrics.RecordErrorDetails("error starting metrics server", err)
		}
	}()

	s.log.Info("service started")
}

func (s *Service) Shutdown() {
	s.log.Info("service shutting down")

	_ = s.Healthz.Shutdown()
	s.log.Info("healthz stopped")

	_ = s.Metrics.Shutdown()
	s.log.Info("metrics stopped")

	s.log.Info("service stopped")
}
