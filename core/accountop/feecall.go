package accountop

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// FeeCollector receives every non-sponsored fee payment.
var FeeCollector = common.HexToAddress("0x942f9CE5D9a33a82F88D233AEb3292E680230348")

const erc20TransferABI = `[{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

var (
	transferABI abi.ABI
	gasTankArgs abi.Arguments
)

func init() {
	var err error
	transferABI, err = abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		panic(fmt.Errorf("invalid ERC-20 transfer ABI: %w", err))
	}

	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	gasTankArgs = abi.Arguments{
		{Type: stringTy},
		{Type: uint256Ty},
		{Type: stringTy},
	}
}

// BuildFeeCall encodes the fee payment as a call appended to the batch:
// a plain native transfer, an ERC-20 transfer, or the (string,uint256,string)
// gas-tank marker the relayer debits off-chain. All three target the fee
// collector.
func BuildFeeCall(p *GasFeePayment) (*Call, error) {
	if p == nil || p.Amount == nil {
		return nil, fmt.Errorf("fee payment is not derived yet")
	}
	to := FeeCollector

	if p.IsGasTank {
		data, err := gasTankArgs.Pack("gasTank", p.Amount, p.Symbol)
		if err != nil {
			return nil, fmt.Errorf("cannot encode gas tank marker: %w", err)
		}
		return &Call{To: &to, Value: big.NewInt(0), Data: data}, nil
	}

	if p.InToken == (common.Address{}) {
		return &Call{To: &to, Value: new(big.Int).Set(p.Amount)}, nil
	}

	token := p.InToken
	data, err := transferABI.Pack("transfer", to, p.Amount)
	if err != nil {
		return nil, fmt.Errorf("cannot encode fee token transfer: %w", err)
	}
	return &Call{To: &token, Value: big.NewInt(0), Data: data}, nil
}
