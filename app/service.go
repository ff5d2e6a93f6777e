package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/evrange/api/predict"
	"github.com/kilianp07/evrange/config"
	coremetrics "github.com/kilianp07/evrange/core/metrics"
	"github.com/kilianp07/evrange/core/prediction"
	"github.com/kilianp07/evrange/infra/artifacts"
	"github.com/kilianp07/evrange/infra/audit"
	"github.com/kilianp07/evrange/infra/logger"
	"github.com/kilianp07/evrange/infra/metrics"
	"github.com/kilianp07/evrange/infra/mqtt"
	"github.com/kilianp07/evrange/internal/eventbus"
)

// Service serves range predictions over HTTP and, when enabled, MQTT.
type Service struct {
	Engine    *prediction.Engine
	Bundle    *artifacts.Bundle
	server    *http.Server
	responder *mqtt.Responder
	bus       *eventbus.Bus
	sink      coremetrics.MetricsSink
	log       logger.Logger
}

// LoadBundle resolves the configured bundle directory, falling back to the
// latest saved run.
func LoadBundle(cfg *config.Config) (*artifacts.Bundle, error) {
	dir := cfg.Artifacts.Bundle
	if dir == "" {
		latest, err := artifacts.NewStore(cfg.Artifacts.Dir).Latest()
		if err != nil {
			return nil, err
		}
		dir = latest
	}
	b, err := artifacts.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", dir, err)
	}
	return b, nil
}

// New loads the model bundle and wires the serving components.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	bundle, err := LoadBundle(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := prediction.NewEngine(bundle.Model, bundle.Processor)
	if err != nil {
		return nil, err
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	if cfg.Audit.Enabled {
		a, err := audit.NewLog(cfg.Audit)
		if err != nil {
			_ = coremetrics.Close(sink)
			return nil, fmt.Errorf("audit log: %w", err)
		}
		sink = coremetrics.NewMultiSink(sink, a)
	}
	svc := &Service{Engine: engine, Bundle: bundle, bus: eventbus.NewWithBuffer(64), sink: sink, log: logg}

	if cfg.MQTT.Enabled {
		r, err := mqtt.NewResponder(cfg.MQTT, engine, svc.bus)
		if err != nil {
			_ = coremetrics.Close(sink)
			return nil, fmt.Errorf("mqtt responder: %w", err)
		}
		svc.responder = r
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))
	mux.Handle("/", predict.NewHandler(predict.Options{
		Predictor: engine,
		Bus:       svc.bus,
		Info: predict.Info{
			RunID:          bundle.Manifest.RunID,
			Fingerprint:    bundle.Manifest.Fingerprint,
			SequenceLength: bundle.Manifest.SequenceLength,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}))
	svc.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
	}
	logg.Infof("loaded model %s (fingerprint %.12s)", bundle.Manifest.RunID, bundle.Manifest.Fingerprint)
	return svc, nil
}

// Run serves until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	done := metrics.StartEventCollector(ctx, s.bus, s.sink)
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("listening on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := s.server.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	s.bus.Close()
	<-done
	if n := s.bus.Dropped(); n > 0 {
		s.log.Warnf("dropped %d prediction events on a full collector queue", n)
	}
	return err
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.responder != nil {
		s.responder.Close()
	}
	return coremetrics.Close(s.sink)
}
