package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"autotrade-core/internal/admission"
	"autotrade-core/internal/api"
	"autotrade-core/internal/engine"
	"autotrade-core/internal/gateway"
	"autotrade-core/internal/monitor"
	"autotrade-core/internal/order"
	"autotrade-core/internal/persistence"
	"autotrade-core/internal/session"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/broker/paper"
	"autotrade-core/pkg/broker/rest"
	"autotrade-core/pkg/config"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logger"
)

// buildVersion is overridden with -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatalf("load config: %v", err)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		OutputFile: cfg.LogFile,
	}); err != nil {
		logger.L().Fatalf("init logger: %v", err)
	}
	log := logger.WithComponent("main")
	log.WithFields(logger.Fields{"version": buildVersion, "port": cfg.Port, "db": cfg.DBPath, "paper": cfg.PaperTrading}).
		Info("starting autotrade-core")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.WithError(err).Fatal("apply migrations")
	}
	// Sessions do not survive a restart; close out whatever the last run left open.
	if n, err := database.MarkInterruptedSessions(ctx, "process restarted"); err != nil {
		log.WithError(err).Warn("mark interrupted sessions")
	} else if n > 0 {
		log.WithField("count", n).Info("marked interrupted sessions STOPPED")
	}

	if cfg.StrategiesFile != "" {
		if seeds, err := strategy.LoadConfig(cfg.StrategiesFile); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				log.WithField("file", cfg.StrategiesFile).Info("no strategy seed file")
			} else {
				log.WithError(err).Fatal("load strategy seed file")
			}
		} else if err := strategy.SyncConfigToDB(ctx, database, seeds); err != nil {
			log.WithError(err).Fatal("sync strategies")
		} else {
			log.WithField("count", len(seeds)).Info("strategies synced")
		}
	}

	// Gateways
	var (
		factory   gateway.Factory
		authority broker.MarketClock
		venueName string
	)
	if cfg.PaperTrading {
		venue := paper.New(gateway.PaperConfig(cfg))
		factory = gateway.PaperFactory(venue)
		authority = venue
		venueName = "paper"
	} else {
		restCfg := gateway.RESTConfig(cfg)
		factory = gateway.RESTFactory(restCfg)
		authority = rest.New(restCfg)
		venueName = cfg.GatewayBaseURL
	}
	poolCfg := gateway.DefaultConfig()
	pool := gateway.NewManager(factory, poolCfg)
	pool.Start(ctx)
	defer pool.Stop()
	log.WithField("venue", venueName).Info("gateway pool ready")

	// Market admission
	calendar, err := buildCalendar(cfg)
	if err != nil {
		log.WithError(err).Fatal("build trading calendar")
	}
	admit := admission.NewController(authority, calendar, admission.Options{TTL: cfg.AdmissionTTL})

	// Audit + metrics
	audit := persistence.NewAuditWriter(database, 50, 500*time.Millisecond)
	defer audit.Close()
	metrics := monitor.NewSystemMetrics()
	alerts := monitor.New(nil)

	registry := session.NewRegistry(session.Deps{
		Gateways:             pool,
		Admission:            admit,
		Store:                database,
		Audit:                audit,
		Metrics:              metrics,
		Cooldown:             order.NewCooldown(cfg.OrderCooldown, time.Now),
		TickTimeout:          cfg.TickTimeout,
		DefaultPollInterval:  cfg.DefaultPollInterval,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		HistoryDays:          cfg.HistoryDays,
	})
	unsubscribe := registry.Subscribe(alerts.Observe)
	defer unsubscribe()

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetGatewayPoolStats(pool.Stats())
			}
		}
	}()

	engService := engine.NewImpl(engine.Config{
		Registry:  registry,
		Admission: admit,
		DB:        database,
		Audit:     audit,
		Meta: engine.SystemStatus{
			Version:      buildVersion,
			PaperTrading: cfg.PaperTrading,
		},
	})

	server := api.NewServer(api.Options{
		Engine:    engService,
		Events:    registry,
		Metrics:   metrics,
		JWTSecret: cfg.JWTSecret,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", httpServer.Addr).Info("admin API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("admin API stopped")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("admin API shutdown")
	}
	res, err := engService.EmergencyStopAll(shutdownCtx)
	if err != nil {
		log.WithError(err).Error("stop sessions")
	} else {
		log.WithFields(logger.Fields{"stopped": res.Stopped, "failures": len(res.Failures)}).Info("sessions stopped")
	}
}

func buildCalendar(cfg *config.Config) (*admission.Calendar, error) {
	domestic, err := admission.HoursSpec{
		Timezone:   cfg.DomesticTimezone,
		Open:       cfg.DomesticOpen,
		Close:      cfg.DomesticClose,
		LunchStart: cfg.DomesticLunchFrom,
		LunchEnd:   cfg.DomesticLunchTo,
		Holidays:   cfg.DomesticHolidays,
	}.Build()
	if err != nil {
		return nil, err
	}
	global, err := admission.HoursSpec{
		Timezone: cfg.GlobalTimezone,
		Open:     cfg.GlobalOpen,
		Close:    cfg.GlobalClose,
		Holidays: cfg.GlobalHolidays,
	}.Build()
	if err != nil {
		return nil, err
	}
	return admission.NewCalendar(map[broker.Segment]admission.Hours{
		broker.SegmentDomestic: domestic,
		broker.SegmentGlobal:   global,
	}), nil
}
