// Package config loads the per-network descriptors the pipeline needs:
// RPC and bundler endpoints, fee semantics, and smart-account support.
package config

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"
)

// Erc4337 describes a network's account-abstraction support.
type Erc4337 struct {
	Enabled    bool   `yaml:"enabled"`
	EntryPoint string `yaml:"entry_point" validate:"omitempty,eth_addr"`
	// HasPaymaster is true when the wallet's own paymaster is deployed on
	// this network, enabling token and gas-tank fee payment for 4337 ops.
	HasPaymaster bool   `yaml:"has_paymaster"`
	Paymaster    string `yaml:"paymaster" validate:"omitempty,eth_addr"`
}

// Network is one chain the wallet can operate on.
type Network struct {
	Name        string   `yaml:"name" validate:"required"`
	ChainID     int64    `yaml:"chain_id" validate:"required,gt=0"`
	RpcURL      string   `yaml:"rpc_url" validate:"required,url"`
	BundlerURLs []string `yaml:"bundler_urls" validate:"dive,url"`
	// RelayerURL serves relayer broadcasting and paymaster signing.
	RelayerURL string  `yaml:"relayer_url" validate:"omitempty,url"`
	Erc4337    Erc4337 `yaml:"erc4337"`
	// Has1559 marks networks with base fee + priority fee pricing.
	Has1559 bool `yaml:"eip1559"`
	// IsRollup marks networks that charge an extra L1 data fee.
	IsRollup bool `yaml:"rollup"`
	// HasRelayer marks networks where the wallet's relayer can broadcast
	// smart-account transactions.
	HasRelayer bool `yaml:"has_relayer"`
	// FeeIncreasePercent is the relayer/paymaster service surcharge applied
	// on covered fee payments.
	FeeIncreasePercent int64  `yaml:"fee_increase_percent" validate:"gte=0,lte=100"`
	NativeSymbol       string `yaml:"native_symbol" validate:"required"`
	NativeDecimals     uint8  `yaml:"native_decimals" validate:"required"`
	// BlockGasLimit bounds plausible gas estimates; estimates above it are
	// rejected outright.
	BlockGasLimit uint64 `yaml:"block_gas_limit"`
}

// ChainIDBig returns the chain id as a big.Int.
func (n *Network) ChainIDBig() *big.Int {
	return big.NewInt(n.ChainID)
}

// EntryPointAddress returns the configured EntryPoint, falling back to the
// canonical v0.6 address.
func (n *Network) EntryPointAddress() common.Address {
	if n.Erc4337.EntryPoint != "" {
		return common.HexToAddress(n.Erc4337.EntryPoint)
	}
	return common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
}

// Config is the full wallet configuration file.
type Config struct {
	Networks []Network `yaml:"networks" validate:"required,min=1,dive"`
	// EstimationRefreshSeconds drives the background re-estimation job.
	EstimationRefreshSeconds int `yaml:"estimation_refresh_seconds"`
}

// Network returns the descriptor for chainID.
func (c *Config) Network(chainID int64) (*Network, error) {
	for i := range c.Networks {
		if c.Networks[i].ChainID == chainID {
			return &c.Networks[i], nil
		}
	}
	return nil, fmt.Errorf("chain id %d is not configured", chainID)
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes and validates raw YAML config content.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("malformed config: %w", err)
	}
	if cfg.EstimationRefreshSeconds == 0 {
		cfg.EstimationRefreshSeconds = 30
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
