package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"quorum/internal/agent"
	"quorum/internal/budget"
	qcfg "quorum/internal/config"
	"quorum/internal/config/loader"
	"quorum/internal/consortium"
	"quorum/internal/engine"
	"quorum/internal/gateway/broker"
	"quorum/internal/gateway/feeds"
	"quorum/internal/gateway/inference"
	"quorum/internal/ledger"
	"quorum/internal/logger"
	"quorum/internal/marketctx"
	"quorum/internal/scheduler"
	"quorum/internal/store"
	"quorum/internal/store/decisionlog"
	"quorum/internal/store/gormstore"
	adminhttp "quorum/internal/transport/http/admin"
)

// gatewayStack bundles the broker-facing pieces so tests can swap the
// whole surface in one override.
type gatewayStack struct {
	Broker broker.Broker
	Bars   marketctx.BarSource
}

type AppBuilder struct {
	cfg *qcfg.Config

	storeFn       func(*qcfg.Config) (store.Store, error)
	decisionLogFn func(*qcfg.Config) (*decisionlog.Store, error)
	gatewaysFn    func(*qcfg.Config) (gatewayStack, error)
	providersFn   func(*qcfg.Config) (map[string]inference.ModelProvider, error)
	controlsFn    func(*qcfg.Config) (*loader.ControlsLoader, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *qcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		storeFn:       buildLedgerStore,
		decisionLogFn: buildDecisionLog,
		gatewaysFn:    buildGateways,
		providersFn:   buildModelProviders,
		controlsFn:    buildControlsLoader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	controls, err := b.controlsFn(cfg)
	if err != nil {
		return nil, err
	}

	governor := budget.NewGovernor(cfg.Budget.DailyCeilingUSD)
	if controls != nil {
		if snap := controls.Snapshot(); snap.DailyCeilingUSD > 0 {
			governor.SetCeiling(snap.DailyCeilingUSD)
		}
		controls.OnChange(func(c loader.Controls) {
			if c.DailyCeilingUSD > 0 {
				applied := governor.SetCeiling(c.DailyCeilingUSD)
				logger.Infof("budget ceiling updated to $%.2f via controls file", applied)
			}
		})
	}

	ledgerStore, err := b.storeFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("init ledger store: %w", err)
	}
	decisions, err := b.decisionLogFn(cfg)
	if err != nil {
		return nil, fmt.Errorf("init decision log: %w", err)
	}

	gateways, err := b.gatewaysFn(cfg)
	if err != nil {
		return nil, err
	}

	market := marketctx.NewProvider(
		gateways.Bars,
		buildNewsSource(cfg),
		buildSentimentSource(cfg),
		marketctx.WithTTL(time.Duration(cfg.Market.CacheTTLSeconds)*time.Second),
		marketctx.WithSourceTimeout(time.Duration(cfg.Market.SourceTimeoutSeconds)*time.Second),
		marketctx.WithBarLimit(cfg.Market.BarLimit),
	)

	providers, err := b.providersFn(cfg)
	if err != nil {
		return nil, err
	}

	profiles, err := agent.LoadProfiles(cfg.Trading.ProfilesFile)
	if err != nil {
		return nil, fmt.Errorf("load agent profiles: %w", err)
	}
	units := make([]engine.Decider, 0, len(profiles))
	for _, profile := range profiles {
		provider, ok := providers[profile.Model]
		if !ok {
			return nil, fmt.Errorf("agent %q references unknown model preset %q", profile.Name, profile.Model)
		}
		units = append(units, agent.NewUnit(agent.UnitParams{
			Profile:     profile,
			Provider:    provider,
			Governor:    governor,
			History:     ledgerStore,
			FeePerTrade: cfg.Trading.FeePerTrade,
		}))
		logger.Infof("agent %s ready (model=%s risk=%s)", profile.Name, profile.Model, profile.RiskProfile)
	}

	execManager := ledger.NewManager(ledgerStore, gateways.Broker, cfg.Trading.FeePerTrade, cfg.Trading.InitialCapital)

	var winRates consortium.WinRateSource
	if src, ok := ledgerStore.(consortium.WinRateSource); ok {
		winRates = src
	}
	aggregator := consortium.NewAggregator("consortium", winRates)

	live := engine.NewLiveEngine(engine.EngineParams{
		Symbols:        cfg.Trading.Symbols,
		InitialCapital: cfg.Trading.InitialCapital,
		Market:         market,
		Units:          units,
		Aggregator:     aggregator,
		Ledger:         execManager,
		Store:          ledgerStore,
		DecisionLog:    decisions,
		Prices:         gateways.Broker,
		CycleTimeout:   time.Duration(cfg.Scheduler.CycleTimeoutSeconds) * time.Second,
	})

	hours := broker.NewMarketHours(gateways.Broker, time.Duration(cfg.Broker.ClockTTLSeconds)*time.Second)

	sched := &scheduler.Scheduler{
		DenseInterval:  time.Duration(cfg.Scheduler.DenseIntervalSeconds) * time.Second,
		SparseInterval: time.Duration(cfg.Scheduler.SparseIntervalSeconds) * time.Second,
		ReviewInterval: time.Duration(cfg.Scheduler.ReviewIntervalSeconds) * time.Second,
		RunImmediately: cfg.Scheduler.RunImmediately,
		MarketOpen:     hours.IsOpen,
		Enabled: func() bool {
			if controls == nil {
				return true
			}
			return controls.Snapshot().Enabled
		},
		RunCycle:  func(ctx context.Context) { _ = live.RunCycle(ctx) },
		RunReview: func(ctx context.Context) { _ = live.RunReview(ctx) },
	}

	var admin *adminhttp.Server
	if cfg.Admin.Enabled {
		// a typed nil loader must not leak into the interface field
		var tradingControl adminhttp.TradingControl
		if controls != nil {
			tradingControl = controls
		}
		handler := adminhttp.NewHandler(ledgerStore, governor, tradingControl, decisions)
		admin, err = adminhttp.NewServer(adminhttp.ServerConfig{Addr: cfg.Admin.Listen, Handler: handler})
		if err != nil {
			return nil, fmt.Errorf("init admin server: %w", err)
		}
	}

	return &App{
		cfg:       cfg,
		sched:     sched,
		admin:     admin,
		controls:  controls,
		ledgerDB:  ledgerStore,
		decisions: decisions,
	}, nil
}

func buildLedgerStore(cfg *qcfg.Config) (store.Store, error) {
	return gormstore.NewGormStore(cfg.Store.LedgerPath)
}

func buildDecisionLog(cfg *qcfg.Config) (*decisionlog.Store, error) {
	return decisionlog.NewStore(cfg.Store.DecisionLogPath)
}

// buildGateways wires one Alpaca client as both the order broker and the
// daily bar source.
func buildGateways(cfg *qcfg.Config) (gatewayStack, error) {
	alp := broker.NewAlpacaBroker(cfg.Broker.BaseURL)
	return gatewayStack{Broker: alp, Bars: alp}, nil
}

func buildModelProviders(cfg *qcfg.Config) (map[string]inference.ModelProvider, error) {
	out := make(map[string]inference.ModelProvider, len(cfg.Models))
	for _, m := range cfg.Models {
		apiKey := ""
		if env := strings.TrimSpace(m.APIKeyEnv); env != "" {
			apiKey = os.Getenv(env)
			if apiKey == "" {
				logger.Warnf("model preset %s: env %s is empty", m.Name, env)
			}
		}
		provider, err := inference.NewProvider(inference.Preset{
			Name:            m.Name,
			BaseURL:         m.BaseURL,
			APIKey:          apiKey,
			Model:           m.Model,
			Temperature:     m.Temperature,
			MaxOutputTokens: m.MaxOutputTokens,
			TimeoutSeconds:  m.TimeoutSeconds,
			MaxRetries:      m.MaxRetries,
			InputPerMTok:    m.InputPerMTok,
			OutputPerMTok:   m.OutputPerMTok,
		})
		if err != nil {
			return nil, fmt.Errorf("model preset %s: %w", m.Name, err)
		}
		out[m.Name] = provider
	}
	return out, nil
}

func buildControlsLoader(cfg *qcfg.Config) (*loader.ControlsLoader, error) {
	path := strings.TrimSpace(cfg.Trading.ControlsFile)
	if path == "" {
		logger.Warnf("no controls file configured, trading starts enabled with the static ceiling")
		return nil, nil
	}
	return loader.NewControlsLoader(path)
}

func buildNewsSource(cfg *qcfg.Config) marketctx.NewsSource {
	if strings.TrimSpace(cfg.Feeds.NewsBaseURL) == "" {
		return nil
	}
	apiKey := ""
	if env := strings.TrimSpace(cfg.Feeds.NewsAPIKeyEnv); env != "" {
		apiKey = os.Getenv(env)
	}
	return feeds.NewNewsDigest(cfg.Feeds.NewsBaseURL, apiKey, cfg.Feeds.NewsMaxItems)
}

func buildSentimentSource(cfg *qcfg.Config) marketctx.SentimentSource {
	if strings.TrimSpace(cfg.Feeds.SentimentURL) == "" {
		return nil
	}
	return feeds.NewSentimentFeed(cfg.Feeds.SentimentURL, time.Duration(cfg.Feeds.SentimentTTLMinutes)*time.Minute)
}

func WithLedgerStore(st store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		if st != nil {
			b.storeFn = func(*qcfg.Config) (store.Store, error) { return st, nil }
		}
	}
}

func WithGateways(br broker.Broker, bars marketctx.BarSource) AppBuilderOption {
	return func(b *AppBuilder) {
		if br != nil {
			b.gatewaysFn = func(*qcfg.Config) (gatewayStack, error) {
				return gatewayStack{Broker: br, Bars: bars}, nil
			}
		}
	}
}

func WithModelProviders(fn func(*qcfg.Config) (map[string]inference.ModelProvider, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.providersFn = fn
		}
	}
}

func WithControlsLoader(fn func(*qcfg.Config) (*loader.ControlsLoader, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.controlsFn = fn
		}
	}
}
