package config

// Signal names recognized across the engine. The schema for signal kinds is
// fixed here and must be honored by sample producers.
var Signals = []string{"mood", "energy", "focus", "anxiety"}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: ".solengine",
		Server: ServerConfig{
			Port: 8420,
		},
		Reply: ReplyConfig{
			Provider:          ProviderOpenAI,
			Model:             "gpt-4o-mini",
			EmbeddingProvider: ProviderOpenAI,
			EmbeddingModel:    "text-embedding-3-small",
			TimeoutSeconds:    20,
			MaxTokens:         300,
			Temperature:       0.8,
		},
		Pattern: PatternConfig{
			ScaleMin:         1,
			ScaleMax:         5,
			RetentionDays:    30,
			BatchThreshold:   5,
			MinSupport:       3,
			MinTotalSamples:  10,
			ClockSkewSeconds: 120,
		},
		Predict: PredictConfig{
			LeadTimeMinutes: map[string]int{
				"mood":    45,
				"energy":  30,
				"focus":   30,
				"anxiety": 60,
			},
			EvidenceWeight:           0.6,
			StalenessHalfLifeMinutes: 240,
			QueryTimeoutMillis:       500,
		},
		Persona: PersonaConfig{
			Alpha:              0.3,
			HistoryTurns:       50,
			SessionIdleMinutes: 120,
		},
		Memory: MemoryConfig{
			WindowTurns:     10,
			CacheTTLSeconds: 30,
			RecallEnabled:   true,
			RecallResults:   3,
		},
		Dispatch: DispatchConfig{
			ConfidenceThreshold: 0.5,
			MinNegativeDelta:    0.3,
			CooldownMinutes:     60,
		},
		Security: SecurityConfig{
			PBKDF2Iterations: 100000,
		},
	}
}
