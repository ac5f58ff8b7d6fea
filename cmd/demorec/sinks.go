package main

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/q2demo/demorec/internal/catalog"
	"github.com/q2demo/demorec/internal/config"
	"github.com/q2demo/demorec/internal/handlers"
	"github.com/q2demo/demorec/internal/influx"
	"github.com/q2demo/demorec/internal/recorder"
	"github.com/q2demo/demorec/internal/relay"
)

// sinks are the optional outputs of demo sessions. Each one that fails to
// start is logged and left out.
type sinks struct {
	Stats recorder.StatsSink

	catalog *catalog.Catalog
	influx  *influx.Manager
	relay   *relay.Relay
}

func openSinks(ctx context.Context) *sinks {
	s := &sinks{}
	var stats recorder.MultiSink

	if cfg := config.GetCatalogConfig(); cfg.Enabled {
		c, err := catalog.Open(cfg, ZLog)
		if err != nil {
			Logger.Error("Failed to open demo catalog", "error", err)
		} else {
			s.catalog = c
			stats = append(stats, c)
			Logger.Info("Demo catalog opened", "type", cfg.Type)
		}
	}

	if cfg := config.GetInfluxConfig(); cfg.Enabled {
		backup := filepath.Join(config.GetLoggingConfig().Dir, "influx_backup.log.gz")
		m := influx.NewManager(cfg, ZLog, backup)
		if err := m.Connect(ctx); err != nil {
			Logger.Error("Failed to set up InfluxDB", "error", err)
		} else {
			s.influx = m
			stats = append(stats, m)
		}
	}

	if cfg := config.GetRelayConfig(); cfg.Enabled {
		r := relay.New(cfg, Logger)
		if err := r.Init(); err != nil {
			Logger.Error("Failed to connect to relay", "error", err, "url", cfg.URL)
		} else {
			s.relay = r
			Logger.Info("Relay connected", "url", cfg.URL)
		}
	}

	if len(stats) > 0 {
		s.Stats = stats
	}
	return s
}

// RelaySink returns the relay, or nil when it is not connected.
func (s *sinks) RelaySink() handlers.Relay {
	if s.relay == nil {
		return nil
	}
	return s.relay
}

func (s *sinks) Close() {
	var errs []error
	if s.relay != nil {
		errs = append(errs, s.relay.Close())
	}
	if s.influx != nil {
		errs = append(errs, s.influx.Close())
	}
	if s.catalog != nil {
		errs = append(errs, s.catalog.Close())
	}
	if err := errors.Join(errs...); err != nil {
		Logger.Warn("Failed to close sinks", "error", err)
	}
}
