package simulator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/SpreadSolvers/simulator/internal/eth"
)

// Backend is the read side of the chain client the fork hydrates from. All
// reads are pinned to the block number chosen at the start of a simulation.
type Backend interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
}

// ChainBackend adds the eth_callMany surface used by the RPC path.
// *eth.Client satisfies it.
type ChainBackend interface {
	Backend
	CallMany(ctx context.Context, bundles []eth.Bundle, simCtx eth.SimulationContext, overrides eth.StateOverrides, timeoutMillis uint64) ([][]eth.CallManyResult, error)
}

// Params describes one simulation: user calls target with calldata while
// holding AmountIn of TokenIn.
type Params struct {
	User     common.Address
	TokenIn  common.Address
	Target   common.Address
	Calldata []byte
	AmountIn *uint256.Int
}

// ParseParams decodes the hex/decimal request fields of the public contract.
func ParseParams(user, tokenIn, target, calldata, amountIn string) (Params, error) {
	p := Params{}
	for _, a := range []struct{ name, val string }{
		{"user_address", user}, {"token_in_address", tokenIn}, {"to_address", target},
	} {
		if !common.IsHexAddress(a.val) {
			return Params{}, fmt.Errorf("invalid %s: %q", a.name, a.val)
		}
	}
	p.User = common.HexToAddress(user)
	p.TokenIn = common.HexToAddress(tokenIn)
	p.Target = common.HexToAddress(target)

	if calldata != "" && calldata != "0x" {
		data, err := hexutil.Decode(calldata)
		if err != nil {
			return Params{}, fmt.Errorf("invalid calldata: %w", err)
		}
		p.Calldata = data
	}

	amount, err := uint256.FromDecimal(amountIn)
	if err != nil {
		return Params{}, fmt.Errorf("invalid amount_in: %w", err)
	}
	p.AmountIn = amount
	return p, nil
}

// Result statuses of the public contract.
const (
	StatusSuccess = "simulation_success"
	StatusFailed  = "simulation_failed"
	StatusError   = "error"
)

// Result is the discriminated simulation outcome. Output carries return data
// for StatusSuccess and revert data for StatusFailed. RPCErr records a
// non-fatal RPC-path failure when the local path produced the result.
type Result struct {
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	RPCErr string `json:"rpc_err,omitempty"`
	Error  string `json:"error,omitempty"`
}

func successResult(output []byte) Result {
	return Result{Status: StatusSuccess, Output: hexutil.Encode(output)}
}

func revertedResult(revertData []byte) Result {
	return Result{Status: StatusFailed, Output: hexutil.Encode(revertData)}
}

func errorResult(format string, args ...any) Result {
	return Result{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// StateCache holds everything the fork has learned about chain state, plus
// simulated mutations. Also the unit of snapshotting.
type StateCache struct {
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	code     map[common.Address][]byte
	storage  map[common.Address]map[common.Hash]common.Hash
}

func NewStateCache() *StateCache {
	return &StateCache{
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		code:     make(map[common.Address][]byte),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (c *StateCache) copy() *StateCache {
	snap := NewStateCache()
	for addr, bal := range c.balances {
		snap.balances[addr] = new(big.Int).Set(bal)
	}
	for addr, nonce := range c.nonces {
		snap.nonces[addr] = nonce
	}
	for addr, code := range c.code {
		snap.code[addr] = code
	}
	for addr, slots := range c.storage {
		snap.storage[addr] = make(map[common.Hash]common.Hash, len(slots))
		for slot, val := range slots {
			snap.storage[addr][slot] = val
		}
	}
	return snap
}
