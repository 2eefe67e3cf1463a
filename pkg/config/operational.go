// Copyright 2025 Certen Protocol
//
// Structured YAML operational config, mirroring the split between flat
// env config (secrets, required fields) and nested YAML config (tuning
// knobs operators adjust without a redeploy).

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueSettings is the per-stage concurrency/retention tuning for the
// bundling pipeline's queue fabric.
type QueueSettings struct {
	Concurrency int      `yaml:"concurrency"`
	MaxAttempts int      `yaml:"max_attempts"`
	BaseBackoff Duration `yaml:"base_backoff"`
	MaxBackoff  Duration `yaml:"max_backoff"`
	Retention   Duration `yaml:"retention"`
}

// QueueConfig is the full set of per-stage queue settings, keyed by
// stage name (e.g. "new-data-item", "planner", "preparer", ...).
type QueueConfig struct {
	Stages map[string]QueueSettings `yaml:"stages"`
}

// DefaultQueueConfig returns the pipeline's baked-in stage tuning, used
// when QueueConfigFile is absent or a stage is unlisted in it.
func DefaultQueueConfig() QueueConfig {
	mk := func(concurrency int, backoff, retention string) QueueSettings {
		return QueueSettings{
			Concurrency: concurrency,
			MaxAttempts: 3,
			BaseBackoff: mustDuration(backoff),
			MaxBackoff:  mustDuration("5m"),
			Retention:   mustDuration(retention),
		}
	}
	return QueueConfig{Stages: map[string]QueueSettings{
		"new-data-item":      mk(5, "2s", "72h"),
		"planner":            mk(1, "5s", "72h"),
		"preparer":           mk(3, "2s", "72h"),
		"poster":             mk(2, "10s", "168h"),
		"seeder":             mk(2, "2s", "72h"),
		"verifier":           mk(3, "5s", "168h"),
		"put-offsets":        mk(5, "2s", "72h"),
		"optical-post":       mk(5, "5s", "24h"),
		"unbundle-nested":    mk(2, "2s", "72h"),
		"finalize-multipart": mk(3, "2s", "72h"),
		"cleanup-warm":       mk(1, "30s", "24h"),
	}}
}

func mustDuration(s string) Duration {
	parsed, err := time.ParseDuration(s)
	if err != nil {
		panic(err)
	}
	return Duration{parsed}
}

// LoadQueueConfig reads per-stage queue tuning from a YAML file, falling
// back to defaults for any stage the file omits.
func LoadQueueConfig(path string) (QueueConfig, error) {
	cfg := DefaultQueueConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading queue config %s: %w", path, err)
	}
	var overrides QueueConfig
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return cfg, fmt.Errorf("parsing queue config %s: %w", path, err)
	}
	for stage, settings := range overrides.Stages {
		cfg.Stages[stage] = settings
	}
	return cfg, nil
}

// PremiumTagsConfig lists the tag values that qualify an upload for the
// premium/free-allowance tier, and the wallet addresses permanently
// exempt from payment enforcement.
type PremiumTagsConfig struct {
	PremiumTags   []string `yaml:"premium_tags"`
	FreeAllowList []string `yaml:"free_allow_list"`
}

// LoadPremiumTagsConfig reads the premium-tag allowlist from YAML. A
// missing file yields an empty config rather than an error, since both
// lists are optional tuning knobs.
func LoadPremiumTagsConfig(path string) (PremiumTagsConfig, error) {
	var cfg PremiumTagsConfig
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading premium tags config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing premium tags config %s: %w", path, err)
	}
	return cfg, nil
}

// StablecoinNetwork describes one chain on which the gasless payment
// protocol accepts a stablecoin authorization.
type StablecoinNetwork struct {
	Name               string `yaml:"name"`
	ChainID            int64  `yaml:"chain_id"`
	TokenContract      string `yaml:"token_contract"`
	TokenDecimals      int    `yaml:"token_decimals"`
	TokenDomainName    string `yaml:"token_domain_name"`    // EIP-712 domain name, e.g. "USD Coin"
	TokenDomainVersion string `yaml:"token_domain_version"` // EIP-712 domain version, e.g. "2"
	FacilitatorURL     string `yaml:"facilitator_url"`
	RPCURL             string `yaml:"rpc_url"`
	Enabled            bool   `yaml:"enabled"`
}

// StablecoinNetworksConfig is the full table of supported networks.
type StablecoinNetworksConfig struct {
	Networks []StablecoinNetwork `yaml:"networks"`
}

// LoadStablecoinNetworksConfig reads the stablecoin network table.
func LoadStablecoinNetworksConfig(path string) (StablecoinNetworksConfig, error) {
	var cfg StablecoinNetworksConfig
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading stablecoin networks config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing stablecoin networks config %s: %w", path, err)
	}
	return cfg, nil
}

// Enabled returns only the networks marked enabled, in file order.
func (c StablecoinNetworksConfig) Enabled() []StablecoinNetwork {
	out := make([]StablecoinNetwork, 0, len(c.Networks))
	for _, n := range c.Networks {
		if n.Enabled {
			out = append(out, n)
		}
	}
	return out
}

// ByChainID looks up a network by chain id.
func (c StablecoinNetworksConfig) ByChainID(chainID int64) (StablecoinNetwork, bool) {
	for _, n := range c.Networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return StablecoinNetwork{}, false
}
