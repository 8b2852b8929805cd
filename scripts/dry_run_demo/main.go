package main

import (
	"context"
	"time"

	"autotrade-core/internal/admission"
	"autotrade-core/internal/backtest"
	"autotrade-core/internal/gateway"
	"autotrade-core/internal/persistence"
	"autotrade-core/internal/session"
	"autotrade-core/internal/strategy"
	"autotrade-core/pkg/broker"
	"autotrade-core/pkg/broker/paper"
	"autotrade-core/pkg/config"
	"autotrade-core/pkg/db"
	"autotrade-core/pkg/logger"
)

// dry_run_demo runs one session against the paper venue with an in-memory
// database, then replays the same strategy over the venue's history.
// It never reaches a real venue.
//
// Usage:
//   go run ./scripts/dry_run_demo

const demoAccount = "demo"

func main() {
	log := logger.WithComponent("demo")

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	pcfg := gateway.PaperConfig(cfg)
	pcfg.AlwaysOpen = true
	pcfg.Volatility = 0.03
	pcfg.StartPrices = map[string]float64{"005930": 70000, "000660": 180000}
	venue := paper.New(pcfg)

	database, err := db.New(":memory:")
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.WithError(err).Fatal("migrate")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := gateway.NewManager(gateway.PaperFactory(venue), gateway.DefaultConfig())
	audit := persistence.NewAuditWriter(database, 10, 200*time.Millisecond)
	registry := session.NewRegistry(session.Deps{
		Gateways:  pool,
		Admission: admission.NewController(venue, nil, admission.Options{}),
		Store:     database,
		Audit:     audit,
	})
	unsub := registry.Subscribe(func(ev session.Event) {
		if ev.Type == session.EventTick {
			return
		}
		log.WithFields(logger.Fields{"type": ev.Type, "status": ev.Status, "code": ev.Code}).Info(ev.Message)
	})
	defer unsub()

	sessCfg := session.Config{
		AccountID:         demoAccount,
		Segment:           broker.SegmentDomestic,
		StrategyKinds:     []string{"ma_cross", "rsi", "bollinger"},
		Instruments:       []db.InstrumentAllocation{{Code: "005930", AllocationPercent: 60}, {Code: "000660", AllocationPercent: 40}},
		TotalCapital:      5_000_000,
		StopLossPercent:   3,
		TakeProfitPercent: 6,
		PollInterval:      time.Second,
	}
	snap, err := registry.Start(ctx, sessCfg)
	if err != nil {
		log.WithError(err).Fatal("start session")
	}
	log.WithField("session", snap.ID).Info("session running, sampling for 10s")

	time.Sleep(10 * time.Second)
	if err := registry.Stop(ctx, snap.ID); err != nil {
		log.WithError(err).Warn("stop session")
	}
	if err := audit.Close(); err != nil {
		log.WithError(err).Warn("flush audit")
	}

	final, _ := registry.Status(snap.ID)
	for _, p := range final.Positions {
		log.WithFields(logger.Fields{
			"code": p.Code, "qty": p.Quantity, "avg_cost": p.AverageCost, "realized": p.RealizedPnL,
		}).Info("position")
	}
	entries, err := database.Queries().ListAuditBySession(ctx, snap.ID, 100)
	if err != nil {
		log.WithError(err).Warn("read audit")
	}
	log.WithFields(logger.Fields{
		"status": final.Status, "audit_entries": len(entries), "cash": venue.Cash(demoAccount),
	}).Info("session finished")

	for _, inst := range sessCfg.Instruments {
		points, err := venue.PriceHistory(ctx, inst.Code, 250)
		if err != nil {
			log.WithError(err).Warn("history")
			continue
		}
		ev, err := strategy.BuildAll(sessCfg.StrategyKinds, nil)
		if err != nil {
			log.WithError(err).Fatal("build strategy")
		}
		res, err := backtest.Run(backtest.Config{
			Code:              inst.Code,
			Points:            points,
			Evaluator:         ev,
			Capital:           sessCfg.TotalCapital,
			AllocationPercent: inst.AllocationPercent,
			FeeRate:           pcfg.FeeRate,
			Cooldown:          24 * time.Hour,
		})
		if err != nil {
			log.WithError(err).Warn("backtest")
			continue
		}
		log.WithFields(logger.Fields{
			"code": res.Code, "trades": len(res.Trades), "return_pct": res.ReturnPercent,
			"max_drawdown_pct": res.MaxDrawdownPercent,
		}).Info("replay")
	}
}
