package config

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	if c.Trading.InitialCapital <= 0 {
		c.Trading.InitialCapital = 1000
	}
	if c.Trading.FeePerTrade <= 0 {
		c.Trading.FeePerTrade = 1
	}
	if c.Trading.ProfilesFile == "" {
		c.Trading.ProfilesFile = "configs/agents.yaml"
	}

	if c.Budget.DailyCeilingUSD <= 0 {
		c.Budget.DailyCeilingUSD = 0.80
	}

	if c.Market.CacheTTLSeconds <= 0 {
		c.Market.CacheTTLSeconds = 60
	}
	if c.Market.SourceTimeoutSeconds <= 0 {
		c.Market.SourceTimeoutSeconds = 10
	}
	if c.Market.BarLimit <= 0 {
		c.Market.BarLimit = 120
	}

	if c.Broker.ClockTTLSeconds <= 0 {
		c.Broker.ClockTTLSeconds = 60
	}

	if c.Feeds.NewsMaxItems <= 0 {
		c.Feeds.NewsMaxItems = 10
	}
	if c.Feeds.SentimentTTLMinutes <= 0 {
		c.Feeds.SentimentTTLMinutes = 15
	}

	if c.Store.LedgerPath == "" {
		c.Store.LedgerPath = "data/ledger.db"
	}
	if c.Store.DecisionLogPath == "" {
		c.Store.DecisionLogPath = "data/decisions.db"
	}

	if c.Scheduler.DenseIntervalSeconds <= 0 {
		c.Scheduler.DenseIntervalSeconds = 300
	}
	if c.Scheduler.SparseIntervalSeconds <= 0 {
		c.Scheduler.SparseIntervalSeconds = 3600
	}
	if c.Scheduler.ReviewIntervalSeconds <= 0 {
		c.Scheduler.ReviewIntervalSeconds = 120
	}
	if c.Scheduler.CycleTimeoutSeconds <= 0 {
		c.Scheduler.CycleTimeoutSeconds = 240
	}

	if c.Admin.Listen == "" {
		c.Admin.Listen = ":8087"
	}

	for i := range c.Models {
		m := &c.Models[i]
		if m.TimeoutSeconds <= 0 {
			m.TimeoutSeconds = 60
		}
		if m.MaxOutputTokens <= 0 {
			m.MaxOutputTokens = 800
		}
		if m.MaxRetries <= 0 {
			m.MaxRetries = 2
		}
	}
}
