package metrics

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/wallet-core/pkg/erc4337/bundler"
	"github.com/AvaProtocol/wallet-core/pkg/erc4337/userop"
)

// InstrumentedBundler wraps a bundler endpoint and counts its estimate and
// submit outcomes, without changing behavior.
type InstrumentedBundler struct {
	inner   bundler.Bundler
	metrics *WalletMetrics
}

func Instrument(inner bundler.Bundler, m *WalletMetrics) *InstrumentedBundler {
	return &InstrumentedBundler{inner: inner, metrics: m}
}

func (b *InstrumentedBundler) Name() string { return b.inner.Name() }

func (b *InstrumentedBundler) FetchGasPrices(ctx context.Context) (*bundler.GasPrices, error) {
	return b.inner.FetchGasPrices(ctx)
}

func (b *InstrumentedBundler) Estimate(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (*bundler.GasEstimation, error) {
	est, err := b.inner.Estimate(ctx, op, entryPoint)
	if err != nil {
		b.metrics.IncEstimation("bundler", "failed")
		return nil, err
	}
	b.metrics.IncEstimation("bundler", "ok")
	return est, nil
}

func (b *InstrumentedBundler) SendUserOperation(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (string, error) {
	hash, err := b.inner.SendUserOperation(ctx, op, entryPoint)
	if err != nil {
		b.metrics.IncOpSigned("broadcast_failed")
		return "", err
	}
	b.metrics.IncOpSigned("broadcast")
	return hash, nil
}

func (b *InstrumentedBundler) DecodeError(err error) *bundler.DecodedError {
	return b.inner.DecodeError(err)
}
