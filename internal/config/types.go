package config

// Config is the full static configuration, assembled from the main YAML
// file plus any included files. Runtime controls (enabled flag, budget
// ceiling) live in their own hot-reloaded file, see loader.Controls.
type Config struct {
	App       AppConfig       `toml:"app"`
	Trading   TradingConfig   `toml:"trading"`
	Budget    BudgetConfig    `toml:"budget"`
	Market    MarketConfig    `toml:"market"`
	Models    []ModelConfig   `toml:"models"`
	Broker    BrokerConfig    `toml:"broker"`
	Feeds     FeedsConfig     `toml:"feeds"`
	Store     StoreConfig     `toml:"store"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Admin     AdminConfig     `toml:"admin"`
}

type AppConfig struct {
	LogLevel       string `toml:"log_level"`
	LogFile        string `toml:"log_file"`
	LLMLogFile     string `toml:"llm_log_file"`
	DumpLLMPayload bool   `toml:"dump_llm_payload"`
}

type TradingConfig struct {
	Symbols        []string `toml:"symbols"`
	InitialCapital float64  `toml:"initial_capital"`
	FeePerTrade    float64  `toml:"fee_per_trade"`
	ProfilesFile   string   `toml:"profiles_file"`
	ControlsFile   string   `toml:"controls_file"`
}

type BudgetConfig struct {
	DailyCeilingUSD float64 `toml:"daily_ceiling_usd"`
}

type MarketConfig struct {
	CacheTTLSeconds      int `toml:"cache_ttl_seconds"`
	SourceTimeoutSeconds int `toml:"source_timeout_seconds"`
	BarLimit             int `toml:"bar_limit"`
}

// ModelConfig is one inference endpoint preset, referenced by name from
// the agent profiles. API keys are looked up from the named env var, they
// never sit in the config file.
type ModelConfig struct {
	Name            string  `toml:"name"`
	BaseURL         string  `toml:"base_url"`
	APIKeyEnv       string  `toml:"api_key_env"`
	Model           string  `toml:"model"`
	Temperature     float64 `toml:"temperature"`
	MaxOutputTokens int     `toml:"max_output_tokens"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
	MaxRetries      int     `toml:"max_retries"`
	InputPerMTok    float64 `toml:"input_per_mtok"`
	OutputPerMTok   float64 `toml:"output_per_mtok"`
}

type BrokerConfig struct {
	BaseURL         string `toml:"base_url"`
	ClockTTLSeconds int    `toml:"clock_ttl_seconds"`
}

type FeedsConfig struct {
	NewsBaseURL         string `toml:"news_base_url"`
	NewsAPIKeyEnv       string `toml:"news_api_key_env"`
	NewsMaxItems        int    `toml:"news_max_items"`
	SentimentURL        string `toml:"sentiment_url"`
	SentimentTTLMinutes int    `toml:"sentiment_ttl_minutes"`
}

type StoreConfig struct {
	LedgerPath      string `toml:"ledger_path"`
	DecisionLogPath string `toml:"decision_log_path"`
}

type SchedulerConfig struct {
	DenseIntervalSeconds  int  `toml:"dense_interval_seconds"`
	SparseIntervalSeconds int  `toml:"sparse_interval_seconds"`
	ReviewIntervalSeconds int  `toml:"review_interval_seconds"`
	CycleTimeoutSeconds   int  `toml:"cycle_timeout_seconds"`
	RunImmediately        bool `toml:"run_immediately"`
}

type AdminConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}
