package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (SOLENGINE_*).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	// Overlay environment variables. Double underscore nests, single
	// underscore stays part of the key, so SOLENGINE_SERVER__PORT ->
	// server.port and SOLENGINE_PATTERN__SCALE_MIN -> pattern.scale_min.
	if err := k.Load(env.Provider("SOLENGINE_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "SOLENGINE_")), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// The encryption master key has a dedicated variable which wins over
	// anything in the file. It is never written back to YAML.
	if key := os.Getenv("SOLENGINE_MASTER_KEY"); key != "" {
		cfg.Security.MasterKey = key
	}

	return cfg, nil
}

// Save writes the configuration to the given YAML file path.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validProviders is the set of recognized reply provider values.
var validProviders = map[ProviderType]bool{
	ProviderOpenAI: true,
	ProviderOllama: true,
	ProviderStatic: true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}

	if !validProviders[c.Reply.Provider] {
		return fmt.Errorf("invalid reply.provider %q: must be one of openai, ollama, static", c.Reply.Provider)
	}
	if c.Reply.Provider != ProviderStatic && c.Reply.Model == "" {
		return fmt.Errorf("reply.model is required for provider %q", c.Reply.Provider)
	}

	p := c.Pattern
	if p.ScaleMin >= p.ScaleMax {
		return fmt.Errorf("pattern.scale_min must be below pattern.scale_max")
	}
	if p.RetentionDays <= 0 {
		return fmt.Errorf("pattern.retention_days must be positive")
	}
	if p.BatchThreshold <= 0 {
		return fmt.Errorf("pattern.batch_threshold must be positive")
	}
	if p.MinSupport <= 0 {
		return fmt.Errorf("pattern.min_support must be positive")
	}
	if p.MinTotalSamples < p.MinSupport {
		return fmt.Errorf("pattern.min_total_samples must be at least pattern.min_support")
	}

	for _, sig := range Signals {
		if c.Predict.LeadTimeMinutes[sig] <= 0 {
			return fmt.Errorf("predict.lead_time_minutes.%s must be positive", sig)
		}
	}
	if c.Predict.EvidenceWeight <= 0 {
		return fmt.Errorf("predict.evidence_weight must be positive")
	}

	if c.Persona.Alpha <= 0 || c.Persona.Alpha > 1 {
		return fmt.Errorf("persona.alpha must be in (0,1]")
	}

	if c.Memory.WindowTurns <= 0 {
		return fmt.Errorf("memory.window_turns must be positive")
	}

	d := c.Dispatch
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		return fmt.Errorf("dispatch.confidence_threshold must be in [0,1]")
	}
	if d.CooldownMinutes <= 0 {
		return fmt.Errorf("dispatch.cooldown_minutes must be positive")
	}

	if c.Security.PBKDF2Iterations < 10000 {
		return fmt.Errorf("security.pbkdf2_iterations must be at least 10000")
	}

	return nil
}
