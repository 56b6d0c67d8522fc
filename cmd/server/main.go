// Package main provides the entry point for the trading backend server:
// it loads the UnifiedConfig, builds the exchange adapter and the shared
// collaborators (market data hub, event bus, global risk monitor,
// blacklist, capital allocator, trade journal) once, then a
// multi-timeframe analyzer, market scanner, position sizer, signal
// quality gate and engine per enabled engine,
// registers every engine with the Unified Orchestrator, and serves the
// operator status surface until an OS signal requests shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/trading-backend/internal/allocator"
	"github.com/atlas-desktop/trading-backend/internal/analyzer"
	"github.com/atlas-desktop/trading-backend/internal/api"
	"github.com/atlas-desktop/trading-backend/internal/blacklist"
	"github.com/atlas-desktop/trading-backend/internal/config"
	"github.com/atlas-desktop/trading-backend/internal/engine"
	"github.com/atlas-desktop/trading-backend/internal/events"
	"github.com/atlas-desktop/trading-backend/internal/execution/adapters"
	"github.com/atlas-desktop/trading-backend/internal/gate"
	"github.com/atlas-desktop/trading-backend/internal/journal"
	"github.com/atlas-desktop/trading-backend/internal/marketdata"
	"github.com/atlas-desktop/trading-backend/internal/orchestrator"
	"github.com/atlas-desktop/trading-backend/internal/riskmonitor"
	"github.com/atlas-desktop/trading-backend/internal/scanner"
	"github.com/atlas-desktop/trading-backend/internal/sizing"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// statusSource adapts the orchestrator and its registered engines to
// api.SnapshotSource without either package depending on the other.
type statusSource struct {
	orch    *orchestrator.Orchestrator
	engines []*engine.Engine
	risk    *riskmonitor.Monitor
}

func (s *statusSource) Health() []types.EngineHealth { return s.orch.Health() }

func (s *statusSource) Positions() []types.Position {
	var out []types.Position
	for _, e := range s.engines {
		out = append(out, e.Positions()...)
	}
	return out
}

func (s *statusSource) State() types.RiskState { return s.risk.State() }

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting trading backend",
		zap.String("config", *configPath),
		zap.Int("engines", len(cfg.Engines)),
		zap.Bool("testnet", cfg.Credentials.Testnet),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exchangeAdapter := adapters.NewBinanceAdapter(logger, adapters.BinanceConfig{
		APIKey:    cfg.Credentials.APIKey,
		APISecret: cfg.Credentials.APISecret,
		Testnet:   cfg.Credentials.Testnet,
	})
	if err := exchangeAdapter.Connect(ctx); err != nil {
		logger.Fatal("failed to connect exchange adapter", zap.Error(err))
	}

	hub := marketdata.NewHub(logger, exchangeAdapter)
	go hub.Run(ctx, marketdata.DefaultPriceTTL)

	bus := events.New(logger, events.DefaultConfig())
	bus.Start(ctx)
	defer bus.Stop()

	risk := riskmonitor.NewMonitor(logger, riskmonitor.Config{
		DailyLossLimitPct:         cfg.Global.DailyLossLimitPct,
		MaxDrawdownPct:            cfg.Global.MaxDrawdownPct,
		CircuitBreakerCooldown:    cfg.Global.CircuitBreakerCooldown,
		EmergencyPortfolioLossPct: cfg.Global.EmergencyPortfolioLossPct,
	}, decimal.NewFromInt(100000), time.Now().UTC().Format("2006-01-02"))
	if err := risk.StartDayRollover(); err != nil {
		logger.Fatal("failed to start risk monitor day rollover", zap.Error(err))
	}
	defer risk.Stop()

	bl := blacklist.New(logger, cfg.Global.BlacklistDuration)
	bl.StartSweeper()
	defer bl.Stop()

	specs := make([]allocator.EngineSpec, 0, len(cfg.Engines))
	for _, ec := range cfg.Engines {
		specs = append(specs, allocator.EngineSpec{Name: ec.Name, Enabled: ec.Enabled, CapitalPct: ec.CapitalPct})
	}
	alloc, err := allocator.New(logger, specs)
	if err != nil {
		logger.Fatal("failed to build capital allocator", zap.Error(err))
	}

	jrnl, err := journal.New(logger, cfg.DataDir, 200)
	if err != nil {
		logger.Fatal("failed to open trade journal", zap.Error(err))
	}

	orch := orchestrator.New(logger, orchestrator.Config{
		HeartbeatWarnSeconds:    cfg.Global.HeartbeatWarnSeconds,
		HeartbeatRestartSeconds: cfg.Global.HeartbeatRestartSeconds,
		MaxRestarts:             cfg.Global.MaxRestarts,
		ShutdownGracePeriod:     cfg.Global.ShutdownGracePeriod,
		MonitorTick:             cfg.Global.MonitorTick,
	}, risk)
	orch.SetBus(bus)
	orch.SetAllocator(alloc)

	engines := make([]*engine.Engine, 0, len(cfg.Engines))
	timeframes := []types.Timeframe{
		types.Timeframe4h, types.Timeframe1h, types.Timeframe15m,
		types.Timeframe5m, types.Timeframe1m,
	}

	for _, ec := range cfg.Engines {
		if !ec.Enabled {
			logger.Info("engine disabled, skipping", zap.String("engine", ec.Name))
			continue
		}
		if err := jrnl.Load(ec.Name); err != nil {
			logger.Warn("failed to replay journal history", zap.String("engine", ec.Name), zap.Error(err))
		}

		an := analyzer.New(logger, hub, timeframes, cfg.Global.ReferenceSymbol)
		scn := scanner.New(logger, hub, bl, scanner.Config{
			MinQuoteVolume24h: decimal.NewFromInt(5_000_000),
			TopN:              10,
			Watchlist:         ec.Watchlist,
		})
		sz := sizing.New(logger, sizing.Bounds{
			SizePctMin:  ec.SizePctMin,
			SizePctMax:  ec.SizePctMax,
			LeverageMax: ec.LeverageMax,
		})

		e := engine.New(logger, engine.Config{
			Name:                     ec.Name,
			MaxPositions:             ec.MaxPositions,
			ScanInterval:             ec.ScanInterval,
			MonitorInterval:          ec.MonitorInterval,
			MinConfidenceTrending:    ec.MinConfidenceTrending,
			MinConfidenceOther:       ec.MinConfidenceOther,
			ConfirmationCandles:      ec.ConfirmationCandles,
			ConfirmationDriftPct:     ec.ConfirmationDriftPct,
			CorrelationGroup:         cfg.Global.CorrelationGroups[ec.Name],
			CorrelationCap:           cfg.Global.CorrelationCap,
			EmergencyPositionLossPct: ec.EmergencyPositionLossPct,
		}, engine.Deps{
			Adapter:   exchangeAdapter,
			Hub:       hub,
			Scanner:   scn,
			Analyzer:  an,
			Gate:      gate.Default(),
			Sizer:     sz,
			Journal:   jrnl,
			Allocator: alloc,
			Risk:      risk,
			Blacklist: bl,
			Bus:       bus,
		})

		orch.Register(ec.Name, e)
		engines = append(engines, e)
	}

	statusSrv := api.NewServer(logger, fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), &statusSource{orch: orch, engines: engines, risk: risk})
	statusSrv.SubscribeBus(bus)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := orch.Run(ctx); err != nil {
			logger.Error("orchestrator exited with error", zap.Error(err))
		}
	}()

	go func() {
		if err := statusSrv.Run(ctx, 2*time.Second); err != nil {
			logger.Error("status api exited with error", zap.Error(err))
		}
	}()

	logger.Info("trading backend started",
		zap.String("status", fmt.Sprintf("http://%s:%d/status", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", cfg.Server.Host, cfg.Server.Port)),
	)

	<-sigChan
	logger.Info("shutdown signal received")
	cancel()

	if err := exchangeAdapter.Disconnect(); err != nil {
		logger.Warn("error disconnecting exchange adapter", zap.Error(err))
	}

	time.Sleep(500 * time.Millisecond) // let supervised goroutines observe ctx.Done before process exit
	logger.Info("trading backend stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
