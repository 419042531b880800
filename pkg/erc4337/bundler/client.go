// Package bundler provides primitives to work with ERC-4337 bundler RPC
// endpoints, plus the ordered failover policy between them. Bundler RPC is
// stateless, so a client can be swapped for another mid-session.
package bundler

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/AvaProtocol/wallet-core/pkg/erc4337/userop"
	"github.com/AvaProtocol/wallet-core/pkg/logger"
)

// EntryPointV06 is the canonical EntryPoint v0.6 address, EIP-55 checksummed
// because several bundlers reject lowercase hex here.
var EntryPointV06 = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")

// GasPriceTier is one maxFee/maxPriorityFee pair reported by a bundler.
type GasPriceTier struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// GasPrices is the per-speed gas price table a bundler reports.
type GasPrices struct {
	Slow   GasPriceTier
	Medium GasPriceTier
	Fast   GasPriceTier
	Ape    GasPriceTier
}

// Tiers returns the table as (name, tier) pairs, cheapest first.
func (g *GasPrices) Tiers() []struct {
	Name string
	Tier GasPriceTier
} {
	return []struct {
		Name string
		Tier GasPriceTier
	}{
		{"slow", g.Slow},
		{"medium", g.Medium},
		{"fast", g.Fast},
		{"ape", g.Ape},
	}
}

// GasEstimation is the gas limits bundle returned by
// eth_estimateUserOperationGas.
type GasEstimation struct {
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int
	// Some bundlers report a dedicated paymaster verification limit; nil
	// when absent.
	PaymasterVerificationGasLimit *big.Int
}

// Bundler is the estimation pipeline's view of one bundler endpoint.
type Bundler interface {
	Name() string
	FetchGasPrices(ctx context.Context) (*GasPrices, error)
	Estimate(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (*GasEstimation, error)
	SendUserOperation(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (string, error)
	DecodeError(err error) *DecodedError
}

// Client talks to a single bundler RPC endpoint.
type Client struct {
	name   string
	client *rpc.Client
	logger logger.Logger
}

// NewClient connects to the bundler at url. name identifies the endpoint in
// failover decisions and logs.
func NewClient(name, url string, lgr logger.Logger) (*Client, error) {
	// DialHTTP is more compatible with HTTP-based bundler endpoints than
	// Dial, while still supporting WebSocket URLs.
	c, err := rpc.DialHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("cannot create bundler client for %s: %w", name, err)
	}
	return &Client{name: name, client: c, logger: logger.EnsureLogger(lgr)}, nil
}

func (c *Client) Name() string { return c.name }

func (c *Client) Close() {
	c.client.Close()
}

type wireGasPriceTier struct {
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
}

func (t wireGasPriceTier) parse() (GasPriceTier, error) {
	maxFee, ok := parseHexBig(t.MaxFeePerGas)
	if !ok {
		return GasPriceTier{}, fmt.Errorf("malformed maxFeePerGas %q", t.MaxFeePerGas)
	}
	maxPriority, ok := parseHexBig(t.MaxPriorityFeePerGas)
	if !ok {
		return GasPriceTier{}, fmt.Errorf("malformed maxPriorityFeePerGas %q", t.MaxPriorityFeePerGas)
	}
	return GasPriceTier{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: maxPriority}, nil
}

func parseHexBig(s string) (*big.Int, bool) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, false
	}
	return new(big.Int).SetString(s, 16)
}

// FetchGasPrices queries the bundler's gas price oracle. The ape tier is
// synthesized as 1.5x the fast tier since bundlers only report three tiers.
func (c *Client) FetchGasPrices(ctx context.Context) (*GasPrices, error) {
	var result struct {
		Slow     wireGasPriceTier `json:"slow"`
		Standard wireGasPriceTier `json:"standard"`
		Fast     wireGasPriceTier `json:"fast"`
	}
	if err := c.client.CallContext(ctx, &result, "pimlico_getUserOperationGasPrice"); err != nil {
		return nil, fmt.Errorf("bundler %s gas price fetch failed: %w", c.name, err)
	}

	slow, err := result.Slow.parse()
	if err != nil {
		return nil, err
	}
	medium, err := result.Standard.parse()
	if err != nil {
		return nil, err
	}
	fast, err := result.Fast.parse()
	if err != nil {
		return nil, err
	}

	scale := func(v *big.Int) *big.Int {
		out := new(big.Int).Mul(v, big.NewInt(150))
		return out.Div(out, big.NewInt(100))
	}
	ape := GasPriceTier{
		MaxFeePerGas:         scale(fast.MaxFeePerGas),
		MaxPriorityFeePerGas: scale(fast.MaxPriorityFeePerGas),
	}

	return &GasPrices{Slow: slow, Medium: medium, Fast: fast, Ape: ape}, nil
}

// Estimate calls eth_estimateUserOperationGas. The signature field is only
// length-checked by bundlers, so callers pass a spoofed signature.
// https://eips.ethereum.org/EIPS/eip-4337#rpc-methods-eth-namespace
func (c *Client) Estimate(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (*GasEstimation, error) {
	var result struct {
		PreVerificationGas            string `json:"preVerificationGas"`
		VerificationGasLimit          string `json:"verificationGasLimit"`
		CallGasLimit                  string `json:"callGasLimit"`
		PaymasterVerificationGasLimit string `json:"paymasterVerificationGasLimit"`
	}

	err := c.client.CallContext(ctx, &result, "eth_estimateUserOperationGas", op.ToWire(), entryPoint.Hex())
	if err != nil {
		return nil, err
	}

	est := &GasEstimation{}
	var ok bool
	if est.PreVerificationGas, ok = parseHexBig(result.PreVerificationGas); !ok {
		return nil, fmt.Errorf("bundler %s returned malformed preVerificationGas %q", c.name, result.PreVerificationGas)
	}
	if est.VerificationGasLimit, ok = parseHexBig(result.VerificationGasLimit); !ok {
		return nil, fmt.Errorf("bundler %s returned malformed verificationGasLimit %q", c.name, result.VerificationGasLimit)
	}
	if est.CallGasLimit, ok = parseHexBig(result.CallGasLimit); !ok {
		return nil, fmt.Errorf("bundler %s returned malformed callGasLimit %q", c.name, result.CallGasLimit)
	}
	if result.PaymasterVerificationGasLimit != "" {
		est.PaymasterVerificationGasLimit, _ = parseHexBig(result.PaymasterVerificationGasLimit)
	}
	return est, nil
}

// SendUserOperation submits a fully signed UserOperation and returns the
// userOp hash.
func (c *Client) SendUserOperation(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (string, error) {
	var hash string
	err := c.client.CallContext(ctx, &hash, "eth_sendUserOperation", op.ToWire(), entryPoint.Hex())
	if err != nil {
		return "", fmt.Errorf("bundler %s rejected the user operation: %w", c.name, err)
	}
	c.logger.Infof("user operation submitted via %s: %s", c.name, hash)
	return hash, nil
}

// DecodeError classifies an error from this bundler.
func (c *Client) DecodeError(err error) *DecodedError {
	return Decode(err)
}
