package config

// ProviderType identifies an LLM or embedding provider.
type ProviderType string

const (
	ProviderOpenAI ProviderType = "openai"
	ProviderOllama ProviderType = "ollama"
	// ProviderStatic uses canned fallback replies only. Useful for local
	// development without an API key.
	ProviderStatic ProviderType = "static"
)

// Config is the top-level sol-engine configuration, corresponding to .solengine.yml.
type Config struct {
	DataDir  string         `yaml:"data_dir" koanf:"data_dir"`
	Server   ServerConfig   `yaml:"server" koanf:"server"`
	Reply    ReplyConfig    `yaml:"reply" koanf:"reply"`
	Pattern  PatternConfig  `yaml:"pattern" koanf:"pattern"`
	Predict  PredictConfig  `yaml:"predict" koanf:"predict"`
	Persona  PersonaConfig  `yaml:"persona" koanf:"persona"`
	Memory   MemoryConfig   `yaml:"memory" koanf:"memory"`
	Dispatch DispatchConfig `yaml:"dispatch" koanf:"dispatch"`
	Security SecurityConfig `yaml:"security" koanf:"security"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port     int  `yaml:"port" koanf:"port"`
	AllowAll bool `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}

// ReplyConfig controls reply generation and the recall embedder.
type ReplyConfig struct {
	Provider          ProviderType `yaml:"provider" koanf:"provider"`
	Model             string       `yaml:"model" koanf:"model"`
	EmbeddingProvider ProviderType `yaml:"embedding_provider" koanf:"embedding_provider"`
	EmbeddingModel    string       `yaml:"embedding_model" koanf:"embedding_model"`
	TimeoutSeconds    int          `yaml:"timeout_seconds" koanf:"timeout_seconds"`
	MaxTokens         int          `yaml:"max_tokens" koanf:"max_tokens"`
	Temperature       float64      `yaml:"temperature" koanf:"temperature"`
}

// PatternConfig tunes the feature store and correlation engine.
type PatternConfig struct {
	ScaleMin         float64 `yaml:"scale_min" koanf:"scale_min"`
	ScaleMax         float64 `yaml:"scale_max" koanf:"scale_max"`
	RetentionDays    int     `yaml:"retention_days" koanf:"retention_days"`
	BatchThreshold   int     `yaml:"batch_threshold" koanf:"batch_threshold"`
	MinSupport       int     `yaml:"min_support" koanf:"min_support"`
	MinTotalSamples  int     `yaml:"min_total_samples" koanf:"min_total_samples"`
	ClockSkewSeconds int     `yaml:"clock_skew_seconds" koanf:"clock_skew_seconds"`
}

// PredictConfig tunes the predictor. Weight constants are deliberately
// configuration rather than code: the numeric trade-off is a product-tuning
// decision pending empirical data.
type PredictConfig struct {
	LeadTimeMinutes          map[string]int `yaml:"lead_time_minutes" koanf:"lead_time_minutes"`
	EvidenceWeight           float64        `yaml:"evidence_weight" koanf:"evidence_weight"`
	StalenessHalfLifeMinutes float64        `yaml:"staleness_half_life_minutes" koanf:"staleness_half_life_minutes"`
	QueryTimeoutMillis       int            `yaml:"query_timeout_millis" koanf:"query_timeout_millis"`
}

// PersonaConfig tunes personality-state blending.
type PersonaConfig struct {
	Alpha              float64 `yaml:"alpha" koanf:"alpha"`
	HistoryTurns       int     `yaml:"history_turns" koanf:"history_turns"`
	SessionIdleMinutes int     `yaml:"session_idle_minutes" koanf:"session_idle_minutes"`
}

// MemoryConfig tunes the conversation memory store.
type MemoryConfig struct {
	WindowTurns     int  `yaml:"window_turns" koanf:"window_turns"`
	CacheTTLSeconds int  `yaml:"cache_ttl_seconds" koanf:"cache_ttl_seconds"`
	RecallEnabled   bool `yaml:"recall_enabled" koanf:"recall_enabled"`
	RecallResults   int  `yaml:"recall_results" koanf:"recall_results"`
}

// DispatchConfig tunes proactive suggestion gating.
type DispatchConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" koanf:"confidence_threshold"`
	MinNegativeDelta    float64 `yaml:"min_negative_delta" koanf:"min_negative_delta"`
	CooldownMinutes     int     `yaml:"cooldown_minutes" koanf:"cooldown_minutes"`
	WebhookURL          string  `yaml:"webhook_url" koanf:"webhook_url"`
}

// SecurityConfig holds encryption settings. The master key itself is read
// from SOLENGINE_MASTER_KEY, never written to the YAML file.
type SecurityConfig struct {
	MasterKey        string `yaml:"-" koanf:"master_key"`
	PBKDF2Iterations int    `yaml:"pbkdf2_iterations" koanf:"pbkdf2_iterations"`
}
