// Package config loads the indexer's domain configuration: one entry per
// chain (RPC endpoints, sync tuning) and the log filter / factory sources
// tracked on it. Generalized from the teacher's ChainConfig, which hard-coded
// exactly two Polymarket contract addresses, to an arbitrary Sources list any
// contract/topic combination can populate; which Go handler a source's
// events are dispatched to is still wired in code (cmd/indexer's function
// registry), not this file — config says what to watch, not how to process it.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/0xkanth/evmindex/pkg/models"
)

// LogFilterConfig is the JSON shape of a models.LogFilter source.
type LogFilterConfig struct {
	Addresses []string `json:"addresses"`
	Topics0   []string `json:"topics0,omitempty"`
	Topics1   []string `json:"topics1,omitempty"`
	Topics2   []string `json:"topics2,omitempty"`
	Topics3   []string `json:"topics3,omitempty"`
}

// FactoryConfig is the JSON shape of a models.Factory source.
type FactoryConfig struct {
	Address              string   `json:"address"`
	EventSelector         string   `json:"eventSelector"`
	ChildAddressLocation string   `json:"childAddressLocation"`
	ChildTopics0         []string `json:"childTopics0,omitempty"`
}

// SourceConfig declares one source feeding one indexing function. Exactly
// one of LogFilter or Factory is set. Contract/Event name the function key
// ("{Contract}:{Event}") the registered handler is looked up under.
type SourceConfig struct {
	Contract  string           `json:"contract"`
	Event     string           `json:"event"`
	LogFilter *LogFilterConfig `json:"logFilter,omitempty"`
	Factory   *FactoryConfig   `json:"factory,omitempty"`
}

// ChainConfig holds configuration for a blockchain network.
type ChainConfig struct {
	ChainID             uint64         `json:"chainId"`
	Name                string         `json:"name"`
	RPCUrls             []string       `json:"rpcUrls"`
	WSUrls              []string       `json:"wsUrls"` // WebSocket URLs
	Confirmations       uint64         `json:"confirmations"` // blocks
	StartBlock          uint64         `json:"startBlock"`    // block to start indexing from
	BatchSize           uint64         `json:"batchSize"`
	Workers             int            `json:"workers"`
	PollIntervalSeconds int            `json:"pollIntervalSeconds"`
	Sources             []SourceConfig `json:"sources"`
}

// Config holds all chain configurations.
type Config struct {
	Chains map[string]*ChainConfig `json:"chains"`
}

// LoadConfig loads chain configuration from a JSON file.
func LoadConfig(filepath string) (*Config, error) {
	file, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// GetChain returns configuration for a specific chain.
func (c *Config) GetChain(name string) (*ChainConfig, error) {
	chain, ok := c.Chains[name]
	if !ok {
		return nil, fmt.Errorf("chain %s not found in config", name)
	}
	return chain, nil
}

// PollInterval returns the realtime poll interval, defaulting to 2s when
// unset (matching the teacher's block-time-scaled default poll cadence).
func (cc *ChainConfig) PollInterval() time.Duration {
	if cc.PollIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(cc.PollIntervalSeconds) * time.Second
}

// LogFilters converts this chain's LogFilter sources into models.LogFilter
// values, ready for fragment expansion and collector backfill.
func (cc *ChainConfig) LogFilters() []models.LogFilter {
	var out []models.LogFilter
	for _, s := range cc.Sources {
		if s.LogFilter == nil {
			continue
		}
		out = append(out, models.LogFilter{
			ChainID:   cc.ChainID,
			Addresses: s.LogFilter.Addresses,
			Topics0:   s.LogFilter.Topics0,
			Topics1:   s.LogFilter.Topics1,
			Topics2:   s.LogFilter.Topics2,
			Topics3:   s.LogFilter.Topics3,
		})
	}
	return out
}

// Factories converts this chain's Factory sources into models.Factory values.
func (cc *ChainConfig) Factories() []models.Factory {
	var out []models.Factory
	for _, s := range cc.Sources {
		if s.Factory == nil {
			continue
		}
		out = append(out, models.Factory{
			ChainID:              cc.ChainID,
			Address:              s.Factory.Address,
			EventSelector:        s.Factory.EventSelector,
			ChildAddressLocation: models.ChildAddressLocation(s.Factory.ChildAddressLocation),
			ChildTopics0:         s.Factory.ChildTopics0,
		})
	}
	return out
}
