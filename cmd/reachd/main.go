package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/reachd/internal/advertise"
	"github.com/dmdmdm-nz/reachd/internal/api"
	"github.com/dmdmdm-nz/reachd/internal/metrics"
	"github.com/dmdmdm-nz/reachd/internal/reachmgr"
	"github.com/dmdmdm-nz/reachd/internal/runtime"
	"github.com/dmdmdm-nz/reachd/pkg/cli"
	"github.com/dmdmdm-nz/reachd/pkg/reachability"
)

func main() {
	// Parse command line flags
	cfg := cli.ParseFlags()

	// Configure logging
	log.SetLevel(cfg.Level())
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FullTimestamp:   true,
	})

	log.WithFields(log.Fields{
		"host":         cfg.Host,
		"port":         cfg.Port,
		"logLevel":     cfg.LogLevel,
		"targets":      cfg.Targets,
		"any":          cfg.Any,
		"pollInterval": cfg.PollInterval,
		"advertise":    cfg.Advertise,
		"config":       cfg.ConfigFile,
	}).Info("Config")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	platform := reachability.SystemPlatform(reachability.WithPollInterval(cfg.PollInterval))
	reachSvc := reachmgr.NewService(reachability.WithPlatform(platform))
	metricsSvc := metrics.NewMetrics()
	apiSvc := api.NewService(cfg.Host, cfg.Port)

	// Wire subscriptions BEFORE adding targets so no status is missed.
	evCh, evUnsub := reachSvc.Subscribe()
	metricsSvc.AttachReachMgr(evCh, evUnsub)

	apiSvc.AttachReachMgr(reachSvc)
	apiSvc.AttachMetrics(metricsSvc.Handler())

	var advertiseSvc *advertise.Service
	if cfg.Advertise {
		advertiseSvc = advertise.NewService(cfg.AdvertiseName, cfg.Port)
		advCh, advUnsub := reachSvc.Subscribe()
		advertiseSvc.AttachReachMgr(advCh, advUnsub)
	}

	if cfg.Any {
		addTarget(reachSvc, reachability.AnyTarget)
	}
	for _, host := range cfg.Targets {
		addTarget(reachSvc, reachability.HostTarget(host))
	}

	// Start in dependency order: reachmgr → metrics → api → advertise
	super := runtime.NewSupervisor()
	super.Add("reachmgr", reachSvc.Start, reachSvc.Close)
	super.Add("metrics", metricsSvc.Start, metricsSvc.Close)
	super.Add("api", apiSvc.Start, apiSvc.Close)
	if advertiseSvc != nil {
		super.Add("advertise", advertiseSvc.Start, advertiseSvc.Close)
	}

	if err := super.Start(ctx); err != nil {
		log.WithError(err).Error("Supervisor start failed")
		os.Exit(1)
	}
	if err := super.Wait(ctx); err != nil {
		log.WithError(err).Error("Supervisor stopped with an error")
		os.Exit(1)
	}
}

func addTarget(s *reachmgr.Service, t reachability.Target) {
	if _, err := s.AddTarget(t); err != nil {
		log.WithField("target", t.String()).WithError(err).Error("Failed to watch target")
	}
}
