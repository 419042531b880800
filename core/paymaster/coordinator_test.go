package paymaster

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/wallet-core/core/config"
	"github.com/AvaProtocol/wallet-core/pkg/erc4337/userop"
)

func testNetwork(hasPaymaster bool) *config.Network {
	return &config.Network{
		Name:           "base",
		ChainID:        8453,
		RpcURL:         "https://rpc.example.org",
		NativeSymbol:   "ETH",
		NativeDecimals: 18,
		Erc4337: config.Erc4337{
			Enabled:      true,
			HasPaymaster: hasPaymaster,
			Paymaster:    "0x4444444444444444444444444444444444444444",
		},
	}
}

func testUserOp() *userop.UserOperation {
	return &userop.UserOperation{
		Nonce:                big.NewInt(0),
		CallGasLimit:         big.NewInt(200000),
		VerificationGasLimit: big.NewInt(1000000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(20_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
		Signature:            userop.SpoofSignature(),
	}
}

func TestModeSelection(t *testing.T) {
	registry := NewFailedRegistry()

	t.Run("no sponsorship, no deployed paymaster", func(t *testing.T) {
		c := New(testNetwork(false), nil, registry, nil)
		assert.Equal(t, ModeNone, c.Mode())
		assert.False(t, c.IsUsable())
		assert.False(t, c.IsSponsored())
		assert.Nil(t, c.FeeCallForEstimation())
	})

	t.Run("deployed paymaster means explicit fee payment", func(t *testing.T) {
		c := New(testNetwork(true), nil, registry, nil)
		assert.Equal(t, ModeOwnPaymaster, c.Mode())
		assert.True(t, c.ShouldIncludePayment())
		assert.False(t, c.IsSponsored())

		feeCall := c.FeeCallForEstimation()
		require.NotNil(t, feeCall)
		assert.Equal(t, int64(1), feeCall.Value.Int64())
	})

	t.Run("sponsorship wins over the deployed paymaster", func(t *testing.T) {
		c := New(testNetwork(true), &Sponsorship{ID: "svc-1", ServiceURL: "https://pm.example.org"}, registry, nil)
		assert.Equal(t, ModeERC7677, c.Mode())
		assert.True(t, c.IsSponsored())
		assert.False(t, c.ShouldIncludePayment())
	})

	t.Run("previously failed sponsorship falls back to self-paid", func(t *testing.T) {
		registry.MarkFailed("svc-bad")
		c := New(testNetwork(true), &Sponsorship{ID: "svc-bad", ServiceURL: "https://pm.example.org"}, registry, nil)
		assert.Equal(t, ModeOwnPaymaster, c.Mode())
	})
}

func TestERC7677RoundTrips(t *testing.T) {
	t.Run("stub and live data", func(t *testing.T) {
		var gotMethods []string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req rpcRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			gotMethods = append(gotMethods, req.Method)
			resp := map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      1,
				"result":  map[string]string{"paymasterAndData": "0xdeadbeef"},
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		}))
		defer srv.Close()

		registry := NewFailedRegistry()
		c := New(testNetwork(false), &Sponsorship{ID: "svc-ok", ServiceURL: srv.URL}, registry, nil)
		op := testUserOp()
		entryPoint := testNetwork(false).EntryPointAddress()

		stub, err := c.EstimationData(context.Background(), op, entryPoint)
		require.NoError(t, err)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, stub)

		live, perr := c.Call(context.Background(), op, entryPoint)
		require.Nil(t, perr)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, live)

		assert.Equal(t, []string{"pm_getPaymasterStubData", "pm_getPaymasterData"}, gotMethods)
	})

	t.Run("responses without a json content type still decode", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			resp := map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      1,
				"result":  map[string]string{"paymasterAndData": "0x1234"},
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		}))
		defer srv.Close()

		c := New(testNetwork(false), &Sponsorship{ID: "svc-plain", ServiceURL: srv.URL}, NewFailedRegistry(), nil)
		stub, err := c.EstimationData(context.Background(), testUserOp(), testNetwork(false).EntryPointAddress())
		require.NoError(t, err)
		assert.Equal(t, []byte{0x12, 0x34}, stub)
	})

	t.Run("live failure marks the registry and asks for a re-estimate", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resp := map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      1,
				"error":   map[string]interface{}{"code": -32000, "message": "sponsorship quota exceeded"},
			}
			require.NoError(t, json.NewEncoder(w).Encode(resp))
		}))
		defer srv.Close()

		registry := NewFailedRegistry()
		c := New(testNetwork(false), &Sponsorship{ID: "svc-quota", ServiceURL: srv.URL}, registry, nil)

		_, perr := c.Call(context.Background(), testUserOp(), testNetwork(false).EntryPointAddress())
		require.NotNil(t, perr)
		assert.True(t, perr.RequiresReestimate)
		assert.True(t, registry.Failed("svc-quota"))

		// a second coordinator for the same offer now self-pays
		again := New(testNetwork(true), &Sponsorship{ID: "svc-quota", ServiceURL: srv.URL}, registry, nil)
		assert.Equal(t, ModeOwnPaymaster, again.Mode())
	})
}

func TestOwnPaymasterEstimationData(t *testing.T) {
	registry := NewFailedRegistry()
	c := New(testNetwork(true), nil, registry, nil)

	data, err := c.EstimationData(context.Background(), testUserOp(), testNetwork(true).EntryPointAddress())
	require.NoError(t, err)
	// address + spoofed window + spoofed signature
	assert.Equal(t, 20+64+65, len(data))
}
