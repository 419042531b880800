package accountop

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepCopy(t *testing.T) {
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	op := &AccountOp{
		Account: common.HexToAddress("0x2222222222222222222222222222222222222222"),
		ChainID: big.NewInt(1),
		Nonce:   big.NewInt(7),
		Calls:   []Call{{To: &to, Value: big.NewInt(100), Data: []byte{0xde, 0xad}}},
		GasFeePayment: &GasFeePayment{
			PaidBy: common.HexToAddress("0x2222222222222222222222222222222222222222"),
			Amount: big.NewInt(630000000000000),
			Speed:  SpeedMedium,
		},
		Meta: map[string]string{"origin": "dapp"},
	}

	cp := op.DeepCopy()

	t.Run("copy is equal", func(t *testing.T) {
		assert.Equal(t, op.Account, cp.Account)
		assert.Equal(t, op.Nonce, cp.Nonce)
		assert.Equal(t, op.Calls, cp.Calls)
		assert.Equal(t, op.GasFeePayment.Amount, cp.GasFeePayment.Amount)
	})

	t.Run("mutating the original does not leak into the copy", func(t *testing.T) {
		op.Nonce.SetInt64(99)
		op.Calls[0].Value.SetInt64(0)
		op.Calls[0].Data[0] = 0x00
		op.GasFeePayment.Amount.SetInt64(1)
		op.Meta["origin"] = "changed"

		assert.Equal(t, int64(7), cp.Nonce.Int64())
		assert.Equal(t, int64(100), cp.Calls[0].Value.Int64())
		assert.Equal(t, byte(0xde), cp.Calls[0].Data[0])
		assert.Equal(t, int64(630000000000000), cp.GasFeePayment.Amount.Int64())
		assert.Equal(t, "dapp", cp.Meta["origin"])
	})
}

func TestBuildFeeCall(t *testing.T) {
	t.Run("native payment is a plain transfer to the collector", func(t *testing.T) {
		call, err := BuildFeeCall(&GasFeePayment{Amount: big.NewInt(1000), Symbol: "ETH"})
		require.NoError(t, err)
		assert.Equal(t, FeeCollector, *call.To)
		assert.Equal(t, int64(1000), call.Value.Int64())
		assert.Empty(t, call.Data)
	})

	t.Run("token payment encodes an ERC-20 transfer", func(t *testing.T) {
		usdc := common.HexToAddress("0x3333333333333333333333333333333333333333")
		call, err := BuildFeeCall(&GasFeePayment{InToken: usdc, Amount: big.NewInt(5_000_000), Symbol: "USDC"})
		require.NoError(t, err)
		assert.Equal(t, usdc, *call.To)
		assert.Equal(t, int64(0), call.Value.Int64())
		// transfer(address,uint256) selector
		assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, call.Data[:4])
	})

	t.Run("gas tank payment encodes the marker tuple", func(t *testing.T) {
		call, err := BuildFeeCall(&GasFeePayment{IsGasTank: true, Amount: big.NewInt(42), Symbol: "USDC"})
		require.NoError(t, err)
		assert.Equal(t, FeeCollector, *call.To)
		assert.Equal(t, int64(0), call.Value.Int64())

		vals, err := gasTankArgs.Unpack(call.Data)
		require.NoError(t, err)
		assert.Equal(t, "gasTank", vals[0])
		assert.Equal(t, big.NewInt(42), vals[1])
		assert.Equal(t, "USDC", vals[2])
	})

	t.Run("missing amount fails closed", func(t *testing.T) {
		_, err := BuildFeeCall(&GasFeePayment{})
		assert.Error(t, err)
	})
}
