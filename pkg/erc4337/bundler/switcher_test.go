package bundler

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/AvaProtocol/wallet-core/pkg/erc4337/userop"
)

type stubBundler struct {
	name string
}

func (s *stubBundler) Name() string { return s.name }
func (s *stubBundler) FetchGasPrices(ctx context.Context) (*GasPrices, error) {
	return nil, errors.New("not implemented")
}
func (s *stubBundler) Estimate(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (*GasEstimation, error) {
	return nil, errors.New("not implemented")
}
func (s *stubBundler) SendUserOperation(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (string, error) {
	return "", errors.New("not implemented")
}
func (s *stubBundler) DecodeError(err error) *DecodedError { return Decode(err) }

func TestSwitcher(t *testing.T) {
	downErr := &DecodedError{Cause: CauseEndpointDown, Message: "down"}

	t.Run("advances through candidates without wraparound", func(t *testing.T) {
		s := NewSwitcher([]Bundler{&stubBundler{"pimlico"}, &stubBundler{"biconomy"}}, nil, nil)

		assert.Equal(t, "pimlico", s.Current().Name())
		assert.True(t, s.CanSwitch(downErr))
		s.Switch()
		assert.Equal(t, "biconomy", s.Current().Name())

		assert.False(t, s.CanSwitch(downErr), "no candidate left")
		s.Switch()
		assert.Equal(t, "biconomy", s.Current().Name(), "switch past the end is a no-op")
	})

	t.Run("terminal errors are not switchable", func(t *testing.T) {
		s := NewSwitcher([]Bundler{&stubBundler{"a"}, &stubBundler{"b"}}, nil, nil)
		terminal := Decode(errors.New("AA21 didn't pay prefund"))
		assert.False(t, s.CanSwitch(terminal))
	})

	t.Run("refuses to switch while signing is frozen", func(t *testing.T) {
		frozen := false
		s := NewSwitcher([]Bundler{&stubBundler{"a"}, &stubBundler{"b"}}, func() bool { return frozen }, nil)

		assert.True(t, s.CanSwitch(downErr))
		frozen = true
		assert.False(t, s.CanSwitch(downErr))
	})
}

func TestDecode(t *testing.T) {
	t.Run("invalid nonce is non-fatal", func(t *testing.T) {
		decoded := Decode(errors.New("AA25 invalid account nonce"))
		assert.Equal(t, CauseInvalidNonce, decoded.Cause)
		assert.True(t, decoded.NonFatal())
		assert.False(t, decoded.Switchable())
	})

	t.Run("endpoint failures are switchable", func(t *testing.T) {
		decoded := Decode(errors.New("502 bad gateway"))
		assert.Equal(t, CauseEndpointDown, decoded.Cause)
		assert.True(t, decoded.Switchable())
	})

	t.Run("decoded errors pass through", func(t *testing.T) {
		orig := &DecodedError{Cause: CauseRateLimited, Message: "slow down"}
		assert.Same(t, orig, Decode(orig))
	})

	t.Run("messages stay display ready", func(t *testing.T) {
		decoded := Decode(errors.New("AA31 paymaster deposit too low"))
		assert.NotContains(t, decoded.Message, "AA31")
	})
}
