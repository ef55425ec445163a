package eth

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Token addresses — Ethereum mainnet defaults for cache warming
var (
	WETHAddress = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	USDCAddress = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	USDTAddress = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	DAIAddress  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	WBTCAddress = common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
)

// KnownTokens — lookup by symbol string
var KnownTokens = map[string]common.Address{
	"WETH": WETHAddress,
	"USDC": USDCAddress,
	"USDT": USDTAddress,
	"DAI":  DAIAddress,
	"WBTC": WBTCAddress,
}

// MaxUint256 is the approval amount granted to the simulation target.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ERC20 ABI — balanceOf (0x70a08231) and approve (0x095ea7b3) are all the
// simulator touches
const ERC20ABI = `[
	{
		"constant": true,
		"inputs": [{"internalType": "address", "name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"payable": false,
		"stateMutability": "view",
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"internalType": "address", "name": "spender", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
		"payable": false,
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var erc20 abi.ABI

func init() {
	var err error
	erc20, err = abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		panic("bad ERC20 ABI: " + err.Error())
	}
}

// BalanceOfData packs balanceOf(holder) calldata.
func BalanceOfData(holder common.Address) []byte {
	data, err := erc20.Pack("balanceOf", holder)
	if err != nil {
		panic(err)
	}
	return data
}

// ApproveData packs approve(spender, MaxUint256) calldata.
func ApproveData(spender common.Address) []byte {
	data, err := erc20.Pack("approve", spender, MaxUint256)
	if err != nil {
		panic(err)
	}
	return data
}

// UnpackBalance decodes the uint256 returned by balanceOf.
func UnpackBalance(ret []byte) (*big.Int, error) {
	out, err := erc20.Unpack("balanceOf", ret)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}
