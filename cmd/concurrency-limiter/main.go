/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Command concurrency-limiter runs an HTTP service whose API requests are limited
// by the number of in-flight requests per resource key (tenant), counted in Redis.
package main

import (
	"context"
	"flag"
	"fmt"
	golog "log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-concurrencylimit/adminapi"
	"github.com/acronis/go-concurrencylimit/concurrency"
	"github.com/acronis/go-concurrencylimit/httpserver"
	"github.com/acronis/go-concurrencylimit/internal/buildinfo"
	"github.com/acronis/go-concurrencylimit/log"
	"github.com/acronis/go-concurrencylimit/redisstore"
	"github.com/acronis/go-concurrencylimit/restapi"
	"github.com/acronis/go-concurrencylimit/service"
)

const (
	serviceName      = "concurrency-limiter"
	errorDomain      = "ConcurrencyLimiter"
	metricsNamespace = "concurrency_limiter"
	envVarsPrefix    = "CONCURRENCY_LIMITER"

	cleanupStopTimeout = time.Second * 30
	serviceStopTimeout = time.Minute
)

func main() {
	if err := runApp(); err != nil {
		golog.Fatal(err)
	}
}

func runApp() error {
	cfgPath := flag.String("config", "", "path to the configuration file (.yaml, .yml or .json)")
	flag.Parse()

	cfg, err := loadAppConfig(*cfgPath, envVarsPrefix)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, loggerClose := log.NewLogger(cfg.Log)
	defer loggerClose()

	logger.Info("starting "+serviceName, log.String("version", buildinfo.Version()))

	redisClient, err := redisstore.NewClient(context.Background(), cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := redisClient.Close(); closeErr != nil {
			logger.Error("failed to close redis client", log.Error(closeErr))
		}
	}()

	keys := cfg.Concurrency.KeyLayout()
	switchBoard := concurrency.NewRedisSwitchBoard(redisClient, cfg.Concurrency.Switch.Key, cfg.Concurrency.Switch.DefaultMode)
	concurrencyMetrics := concurrency.NewMetricsCollectorWithOpts(concurrency.MetricsCollectorOpts{Namespace: metricsNamespace})

	leaseManager := concurrency.NewLeaseManager(switchBoard,
		concurrency.NewOrderedSetStrategy(redisClient, keys),
		concurrency.NewIndependentKeyStrategy(redisClient, keys, concurrency.IndependentKeyStrategyOpts{
			ScanCount: int64(cfg.Concurrency.Scan.Count),
			MaxRounds: cfg.Concurrency.Scan.MaxRounds,
		}),
		concurrency.LeaseManagerOpts{Keys: keys, Logger: logger, Metrics: concurrencyMetrics})

	cleaner := concurrency.NewCleaner(redisClient, switchBoard, concurrency.CleanerOpts{
		Keys:      keys,
		ScanCount: int64(cfg.Concurrency.Scan.Count),
		MaxRounds: cfg.Concurrency.Cleanup.MaxRounds,
		Logger:    logger,
		Metrics:   concurrencyMetrics,
	})

	adminHandler := adminapi.NewHandler(cfg.Admin, adminapi.Deps{
		Scanner:     redisClient,
		SwitchBoard: switchBoard,
		Overview:    concurrency.NewOverviewAggregator(redisClient, switchBoard, keys, logger),
		Cleaner:     cleaner,
		Leases:      leaseManager,
	}, errorDomain, logger)

	httpServer, err := httpserver.New(cfg.Server, logger, httpserver.Opts{
		ServiceNameInURL: serviceName,
		APIRoutes: map[httpserver.APIVersion]httpserver.APIRoute{
			1: workRoutes,
		},
		AdminRoutes: adminHandler.Routes,
		ErrorDomain: errorDomain,
		HealthCheck: httpserver.NewComponentsHealthCheck(map[string]httpserver.ComponentCheck{
			"redis": redisstore.HealthCheck(redisClient),
		}),
		LeaseManager:       leaseManager,
		HTTPRequestMetrics: httpserver.HTTPRequestMetricsOpts{Namespace: metricsNamespace},
	})
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	units := []service.Unit{httpServer}
	appMetrics := &appMetricsRegisterer{
		buildInfo:   buildinfo.NewCollector(metricsNamespace),
		concurrency: concurrencyMetrics,
	}
	if cfg.Concurrency.Cleanup.Enabled {
		cleanupWorker := service.NewPeriodicWorkerWithOpts(cleaner, time.Duration(cfg.Concurrency.Cleanup.Interval),
			logger.With(log.String("worker", "concurrency_cleanup")), service.PeriodicWorkerOpts{RunImmediately: true})
		units = append(units, service.NewWorkerUnitWithOpts(cleanupWorker, service.WorkerUnitOpts{
			MetricsRegisterer:   appMetrics,
			GracefulStopTimeout: cleanupStopTimeout,
		}))
	} else {
		appMetrics.MustRegisterMetrics()
		defer appMetrics.UnregisterMetrics()
	}

	return service.NewWithOpts(logger, service.NewCompositeUnit(units...),
		service.Opts{GracefulStopTimeout: serviceStopTimeout}).Start()
}

// appMetricsRegisterer registers process-wide collectors that don't belong to a particular unit.
type appMetricsRegisterer struct {
	buildInfo   prometheus.Collector
	concurrency *concurrency.MetricsCollector
}

var _ service.MetricsRegisterer = (*appMetricsRegisterer)(nil)

func (r *appMetricsRegisterer) MustRegisterMetrics() {
	prometheus.MustRegister(r.buildInfo)
	r.concurrency.MustRegister()
	restapi.MustInitAndRegisterMetrics(metricsNamespace)
}

func (r *appMetricsRegisterer) UnregisterMetrics() {
	restapi.UnregisterMetrics()
	r.concurrency.Unregister()
	prometheus.Unregister(r.buildInfo)
}
