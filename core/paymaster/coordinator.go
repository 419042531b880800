// Package paymaster decides how an ERC-4337 operation's gas gets sponsored
// and performs the paymaster round-trips: none (self-paid), the wallet's own
// deployed paymaster (payment carried as an explicit fee call), or an
// ERC-7677 service specified by the requesting dApp.
package paymaster

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"

	"github.com/AvaProtocol/wallet-core/core/accountop"
	"github.com/AvaProtocol/wallet-core/core/config"
	"github.com/AvaProtocol/wallet-core/metrics"
	"github.com/AvaProtocol/wallet-core/pkg/erc4337/userop"
	"github.com/AvaProtocol/wallet-core/pkg/logger"
)

// Mode is the sponsorship decision for one operation.
type Mode string

const (
	// ModeNone means the account pays its own gas in native.
	ModeNone Mode = "none"
	// ModeOwnPaymaster uses the wallet's deployed paymaster; the payment
	// travels as an explicit fee call inside the batch.
	ModeOwnPaymaster Mode = "own"
	// ModeERC7677 uses a dApp-specified sponsorship service.
	ModeERC7677 Mode = "erc7677"
)

// Sponsorship is a dApp- or service-provided sponsorship offer.
type Sponsorship struct {
	// ID identifies the offer in the failed-sponsorship registry.
	ID         string
	ServiceURL string
	Context    map[string]interface{}
}

// Error is a structured paymaster failure. RequiresReestimate is set when
// losing the sponsorship changes which fee options exist, so the whole
// estimate must be redone instead of retrying in place.
type Error struct {
	Message            string
	RequiresReestimate bool
}

func (e *Error) Error() string { return e.Message }

// Coordinator owns the sponsorship decision and round-trips for a single
// AccountOp flow.
type Coordinator struct {
	mode        Mode
	network     *config.Network
	sponsorship *Sponsorship
	service     *ServiceClient
	registry    *FailedRegistry
	relayer     *resty.Client
	logger      logger.Logger
}

// New picks the sponsorship mode. A sponsorship whose id already failed this
// session is skipped entirely and the flow falls back to self-paid.
func New(network *config.Network, sponsorship *Sponsorship, registry *FailedRegistry, lgr logger.Logger) *Coordinator {
	c := &Coordinator{
		network:  network,
		registry: registry,
		relayer:  resty.New().SetTimeout(15 * time.Second),
		logger:   logger.EnsureLogger(lgr),
	}

	if sponsorship != nil && sponsorship.ServiceURL != "" && !registry.Failed(sponsorship.ID) {
		c.mode = ModeERC7677
		c.sponsorship = sponsorship
		c.service = NewServiceClient(sponsorship.ServiceURL)
		return c
	}
	if sponsorship != nil && registry.Failed(sponsorship.ID) {
		c.logger.Infof("sponsorship %s failed earlier this session, falling back to self-paid", sponsorship.ID)
	}

	if network.Erc4337.HasPaymaster {
		c.mode = ModeOwnPaymaster
		return c
	}
	c.mode = ModeNone
	return c
}

func (c *Coordinator) Mode() Mode { return c.mode }

// IsSponsored reports whether a third party covers the fee.
func (c *Coordinator) IsSponsored() bool { return c.mode == ModeERC7677 }

// IsUsable reports whether any paymaster is involved at all.
func (c *Coordinator) IsUsable() bool { return c.mode != ModeNone }

// ShouldIncludePayment reports whether the batch must carry an explicit fee
// call paying the collector.
func (c *Coordinator) ShouldIncludePayment() bool { return c.mode == ModeOwnPaymaster }

// FeeCallForEstimation returns a placeholder fee call so estimation accounts
// for the payment's own gas. The 1 wei amount is replaced by the real one
// during signing.
func (c *Coordinator) FeeCallForEstimation() *accountop.Call {
	if !c.ShouldIncludePayment() {
		return nil
	}
	to := accountop.FeeCollector
	return &accountop.Call{To: &to, Value: big.NewInt(1)}
}

// EstimationData returns the paymasterAndData stub attached to the operation
// during gas estimation. It is never valid on-chain.
func (c *Coordinator) EstimationData(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) ([]byte, error) {
	switch c.mode {
	case ModeERC7677:
		data, err := c.service.GetStubData(ctx, op, entryPoint, c.network.ChainID, c.sponsorship.Context)
		if err != nil {
			return nil, fmt.Errorf("sponsorship stub data unavailable: %w", err)
		}
		return data, nil

	case ModeOwnPaymaster:
		// Paymaster address followed by a spoofed validity window and
		// signature, enough for the bundler's length checks.
		pm := common.HexToAddress(c.network.Erc4337.Paymaster)
		data := append([]byte{}, pm.Bytes()...)
		data = append(data, make([]byte, 64)...)
		data = append(data, userop.SpoofSignature()...)
		return data, nil

	default:
		return nil, nil
	}
}

type relayerSignResponse struct {
	Success          bool   `json:"success"`
	PaymasterAndData string `json:"paymasterAndData"`
	Message          string `json:"message"`
}

// Call performs the live paymaster round-trip during signing, returning the
// final paymasterAndData. Estimation must never call it: the own-paymaster
// flow consumes a one-time nonce on the relayer side.
func (c *Coordinator) Call(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) ([]byte, *Error) {
	switch c.mode {
	case ModeERC7677:
		data, err := c.service.GetData(ctx, op, entryPoint, c.network.ChainID, c.sponsorship.Context)
		if err != nil {
			c.registry.MarkFailed(c.sponsorship.ID)
			metrics.Default().IncPaymasterFallback()
			c.logger.Warnf("sponsorship %s failed, excluded for this session: %v", c.sponsorship.ID, err)
			return nil, &Error{
				Message:            "The fee sponsorship is not available anymore. The fee will be recalculated and paid by your account.",
				RequiresReestimate: true,
			}
		}
		return data, nil

	case ModeOwnPaymaster:
		var result relayerSignResponse
		resp, err := c.relayer.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]interface{}{
				"userOperation": op.ToWire(),
				"entryPoint":    entryPoint.Hex(),
			}).
			SetResult(&result).
			Post(fmt.Sprintf("%s/v2/paymaster/%d/sign", c.network.RelayerURL, c.network.ChainID))
		if err != nil || resp.StatusCode() != 200 || !result.Success {
			detail := ""
			if err != nil {
				detail = err.Error()
			} else if result.Message != "" {
				detail = result.Message
			} else {
				detail = resp.Status()
			}
			c.logger.Warnf("own paymaster signing failed: %s", detail)
			return nil, &Error{
				Message:            "The fee payment could not be authorized. Your transaction fee was recalculated, please try again.",
				RequiresReestimate: true,
			}
		}
		data, decodeErr := decodeHexBlob(result.PaymasterAndData)
		if decodeErr != nil {
			return nil, &Error{
				Message:            "The fee payment could not be authorized. Your transaction fee was recalculated, please try again.",
				RequiresReestimate: true,
			}
		}
		return data, nil

	default:
		return nil, nil
	}
}

func decodeHexBlob(s string) ([]byte, error) {
	if len(s) < 2 || s[:2] != "0x" {
		return nil, fmt.Errorf("missing 0x prefix")
	}
	return common.FromHex(s), nil
}
