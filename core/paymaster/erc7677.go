package paymaster

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"

	"github.com/AvaProtocol/wallet-core/pkg/erc4337/userop"
)

// ServiceClient talks to an ERC-7677 paymaster web service over its JSON-RPC
// endpoint (pm_getPaymasterStubData / pm_getPaymasterData).
type ServiceClient struct {
	http *resty.Client
	url  string
}

func NewServiceClient(url string) *ServiceClient {
	return &ServiceClient{
		http: resty.New().SetTimeout(15 * time.Second),
		url:  url,
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
	ID      int             `json:"id"`
}

// stubDataResult / dataResult follow the EntryPoint v0.6 shape of ERC-7677,
// which returns a single packed paymasterAndData blob.
type paymasterDataResult struct {
	PaymasterAndData string `json:"paymasterAndData"`
	Sponsor          *struct {
		Name string `json:"name"`
	} `json:"sponsor,omitempty"`
}

func (c *ServiceClient) call(ctx context.Context, method string, op *userop.UserOperation, entryPoint common.Address, chainID int64, pmContext map[string]interface{}) ([]byte, error) {
	if pmContext == nil {
		pmContext = map[string]interface{}{}
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params: []interface{}{
			op.ToWire(),
			entryPoint.Hex(),
			hexutil.EncodeUint64(uint64(chainID)),
			pmContext,
		},
		ID: 1,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post(c.url)
	if err != nil {
		return nil, fmt.Errorf("paymaster service request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("paymaster service returned %d: %s", resp.StatusCode(), resp.String())
	}

	// Decoded by hand rather than through SetResult: some services answer
	// without a json content type and resty would skip unmarshalling.
	var rpcResp rpcResponse
	if err := json.Unmarshal(resp.Body(), &rpcResp); err != nil {
		return nil, fmt.Errorf("malformed paymaster service response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("paymaster service error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	var result paymasterDataResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return nil, fmt.Errorf("malformed paymaster service response: %w", err)
	}
	data, err := hexutil.Decode(result.PaymasterAndData)
	if err != nil {
		return nil, fmt.Errorf("malformed paymasterAndData: %w", err)
	}
	return data, nil
}

// GetStubData fetches placeholder paymaster data valid for gas estimation
// only.
func (c *ServiceClient) GetStubData(ctx context.Context, op *userop.UserOperation, entryPoint common.Address, chainID int64, pmContext map[string]interface{}) ([]byte, error) {
	return c.call(ctx, "pm_getPaymasterStubData", op, entryPoint, chainID, pmContext)
}

// GetData fetches the real, signed paymaster data for the final operation.
func (c *ServiceClient) GetData(ctx context.Context, op *userop.UserOperation, entryPoint common.Address, chainID int64, pmContext map[string]interface{}) ([]byte, error) {
	return c.call(ctx, "pm_getPaymasterData", op, entryPoint, chainID, pmContext)
}
