// Package main provides the entry point for the host-resident forex/CFD
// trade executor agent: evaluates strategies against broker market data,
// gates every order through the risk Gatekeeper, manages open positions'
// smart exits, and reports status to the control plane over REST and a
// websocket push channel.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/trade-executor/internal/config"
	"github.com/atlas-desktop/trade-executor/internal/dispatch"
	"github.com/atlas-desktop/trade-executor/internal/evaluator"
	"github.com/atlas-desktop/trade-executor/internal/executor"
	"github.com/atlas-desktop/trade-executor/internal/fabric"
	"github.com/atlas-desktop/trade-executor/internal/indicators"
	"github.com/atlas-desktop/trade-executor/internal/position"
	"github.com/atlas-desktop/trade-executor/internal/regime"
	"github.com/atlas-desktop/trade-executor/internal/risk"
	"github.com/atlas-desktop/trade-executor/internal/sizing"
	"github.com/atlas-desktop/trade-executor/internal/strategy"
	"github.com/atlas-desktop/trade-executor/internal/telemetry"
	"github.com/atlas-desktop/trade-executor/pkg/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configFile := flag.String("config", getEnvOrDefault("EXECUTOR_CONFIG", ""), "Path to a config file layered under env vars and defaults")
	executorID := flag.String("executor-id", "", "Executor identity reported to the control plane (overrides config)")
	controlPlaneURL := flag.String("control-plane-url", "", "Control plane REST base URL (overrides config)")
	controlChannelURL := flag.String("control-channel-url", getEnvOrDefault("CONTROL_CHANNEL_URL", "wss://control.atlas-desktop.example/ws"), "Control channel websocket URL")
	apiKey := flag.String("api-key", "", "Control plane API key (overrides config)")
	passphrase := flag.String("secret-passphrase", os.Getenv("EXECUTOR_SECRET_PASSPHRASE"), "Passphrase protecting the persisted API secret record")
	pushListenAddr := flag.String("push-listen-addr", getEnvOrDefault("PUSH_LISTEN_ADDR", ":9401"), "Address the broker's unsolicited push socket dials into")
	flag.Parse()

	overrides := map[string]any{}
	if *executorID != "" {
		overrides["executor_id"] = *executorID
	}
	if *controlPlaneURL != "" {
		overrides["platform_url"] = *controlPlaneURL
	}
	if *apiKey != "" {
		overrides["api_key"] = *apiKey
	}

	cfg, err := config.Load(*configFile, overrides)
	if err != nil {
		panic(fmt.Sprintf("loading config: %v", err))
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	apiSecret := cfg.APISecret
	if rec, err := config.LoadRecord(cfg.DataDir, *passphrase); err == nil {
		if secret, err := config.DecryptedSecret(rec, *passphrase); err == nil {
			apiSecret = secret
		}
	}

	logger.Info("starting trade executor",
		zap.String("executor_id", cfg.ExecutorID),
		zap.String("profile", cfg.Profile),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- fabric: transport layer ----
	brokerPool := fabric.NewBrokerPool(logger, fabric.BrokerPoolConfig{
		Host:        cfg.BrokerHost,
		Port:        cfg.BrokerPort,
		PoolSize:    cfg.BrokerPoolSize,
		DialTimeout: 10 * time.Second,
		ReadTimeout: 30 * time.Second,
		Backoff:     fabric.DefaultBackoffPolicy(),
	})
	pushListener := fabric.NewPushListener(logger, *pushListenAddr)
	controlChannel := fabric.NewControlChannelClient(logger, *controlChannelURL, cfg.APIKey, fabric.DefaultBackoffPolicy())
	controlPlaneREST := fabric.NewControlPlaneREST(logger, cfg.PlatformURL, cfg.ExecutorID, cfg.APIKey, apiSecret, 5)

	accountFeed := newAccountFeed(brokerPool)

	// ---- risk ----
	limits := types.DemoRiskLimits()
	if cfg.Profile == "live" {
		limits = types.LiveRiskLimits()
	}
	corrCache := risk.NewCorrelationCache(5 * time.Minute)
	gatekeeper := risk.NewGatekeeper(logger, limits, corrCache)
	dailyState := risk.NewDailyState()
	dailyReset := risk.NewDailyResetScheduler(logger, dailyState)

	// ---- position registry & smart exit manager ----
	registry := position.NewRegistry(logger, position.BrokerPoolSnapshot{Pool: brokerPool})
	indicatorEngine := indicators.NewCachedEngine(indicators.NewCache(1000, 5*time.Minute))
	marketDataClient := evaluator.NewMarketDataClient(logger)
	exitManager := position.NewExitManager(logger, marketDataClient, indicatorEngine)

	// ---- order dispatcher ----
	orderDispatcher := dispatch.New(logger, dispatch.Config{
		Broker:     brokerPool,
		Gatekeeper: gatekeeper,
		Positions:  registry,
		AccountState: func() risk.AccountState {
			return accountFeed.riskState(dailyState, registry)
		},
		Alerts: func(a types.Alert) {
			if err := controlPlaneREST.ReportAlert(ctx, a); err != nil {
				logger.Warn("failed to report safety alert", zap.Error(err))
			}
		},
		Trades: controlPlaneREST,
	})

	// ---- evaluation pipeline ----
	pushListener.On(types.PushMarketData, marketDataClient.HandlePush)
	symbolMapper := evaluator.NewSymbolMapper(nil)
	regimeDetector := regime.NewDetector(logger)
	sizer := sizing.NewSizer(logger)

	eval := evaluator.New(logger, evaluator.Config{
		MarketData:      marketDataClient,
		Symbols:         symbolMapper,
		IndicatorEngine: indicatorEngine,
		Positions:       registry,
		Account:         accountFeed,
		Regimes:         regimeDetector,
		Sizer:           sizer,
		News:            strategy.NoScheduledNews,
	})
	scheduler := evaluator.NewScheduler(logger, eval, evaluator.SchedulerConfig{}, func(result types.EvaluationResult, err error) {
		if err != nil {
			logger.Warn("strategy evaluation failed", zap.String("strategy_id", result.StrategyID), zap.Error(err))
			return
		}
		if err := orderDispatcher.HandleEvaluation(ctx, result); err != nil {
			logger.Warn("order dispatch failed", zap.String("strategy_id", result.StrategyID), zap.Error(err))
		}
	})

	// ---- telemetry ----
	collector := telemetry.NewCollector("/", getEnvOrDefault("LATENCY_PROBE_ADDR", ""))
	metrics := telemetry.NewMetrics()
	alertStore := telemetry.NewStore(nil)
	heartbeat := telemetry.NewLoop(logger, telemetry.LoopConfig{
		ExecutorID: cfg.ExecutorID,
		REST:       controlPlaneREST,
		Push:       controlChannel,
		Broker:     brokerPool,
		Collector:  collector,
		Metrics:    metrics,
		DailyState: dailyState,
		Metadata: func() map[string]any {
			pnl, peak, missed := dailyState.Snapshot()
			return map[string]any{
				"dailyPnL":     pnl.String(),
				"peakBalance":  peak.String(),
				"missedBeats":  missed,
				"openPositions": len(registry.All()),
			}
		},
	})

	exec := executor.New(logger, executor.Config{
		ExecutorID:     cfg.ExecutorID,
		Scheduler:      scheduler,
		Dispatcher:     orderDispatcher,
		Positions:      registry,
		ExitManager:    exitManager,
		Broker:         brokerPool,
		PushListener:   pushListener,
		ControlChannel: controlChannel,
		REST:           controlPlaneREST,
		Heartbeat:      heartbeat,
		Alerts:         alertStore,
		DailyReset:     dailyReset,
		DailyState:     dailyState,
	})

	var diagnostics *telemetry.DiagnosticsServer
	if cfg.MetricsEnabled {
		diagnostics = telemetry.NewDiagnosticsServer(logger, cfg.DiagnosticsAddr, metrics)
		diagnostics.Start()
	}

	if err := exec.Start(ctx); err != nil {
		logger.Fatal("failed to start executor", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	cancel()
	if diagnostics != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := diagnostics.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping diagnostics server", zap.Error(err))
		}
		shutdownCancel()
	}
	if err := exec.Stop(); err != nil {
		logger.Error("error during executor shutdown", zap.Error(err))
	}
	logger.Info("executor stopped")
}

// accountFeed adapts the broker's GET_ACCOUNT_INFO command into the shapes
// evaluator.AccountProvider and the Order Dispatcher's risk.AccountState
// provider need, re-marshalling the loosely-typed response the same way
// internal/position/decode.go does for GET_POSITIONS.
type accountFeed struct {
	broker *fabric.BrokerPool
}

func newAccountFeed(broker *fabric.BrokerPool) *accountFeed {
	return &accountFeed{broker: broker}
}

func (a *accountFeed) fetch() (types.AccountInfo, error) {
	resp, err := a.broker.Send(context.Background(), types.BrokerGetAccountInfo, nil)
	if err != nil {
		return types.AccountInfo{}, fmt.Errorf("account feed: fetching account info: %w", err)
	}
	blob, err := json.Marshal(resp.Data)
	if err != nil {
		return types.AccountInfo{}, fmt.Errorf("account feed: re-marshalling account info: %w", err)
	}
	var info types.AccountInfo
	if err := json.Unmarshal(blob, &info); err != nil {
		return types.AccountInfo{}, fmt.Errorf("account feed: decoding account info: %w", err)
	}
	return info, nil
}

// AccountSnapshot satisfies evaluator.AccountProvider.
func (a *accountFeed) AccountSnapshot() (types.AccountInfo, types.AccountProfile) {
	info, err := a.fetch()
	if err != nil {
		return types.AccountInfo{}, types.ProfileDemo
	}
	return info, types.ProfileDemo
}

// riskState builds the risk.AccountState the Gatekeeper evaluates every
// candidate order against.
func (a *accountFeed) riskState(daily *risk.DailyState, registry *position.Registry) risk.AccountState {
	info, err := a.fetch()
	if err != nil {
		info = types.AccountInfo{}
	}
	daily.UpdatePeakBalance(info.Equity)
	pnl, peak, _ := daily.Snapshot()

	return risk.AccountState{
		Account:         info,
		StartingBalance: info.Balance.Sub(pnl),
		PeakBalance:     peak,
		DailyPnL:        pnl,
		FreeMargin:      info.FreeMargin,
		CurrentExposure: registry.TotalExposure(),
		OpenPositions:   recordsToPositions(registry),
	}
}

func recordsToPositions(registry *position.Registry) []types.Position {
	records := registry.All()
	out := make([]types.Position, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Position)
	}
	return out
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zapCfg := zap.Config{
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

	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
