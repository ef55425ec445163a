package eth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Wire types for eth_callMany (erigon flavour). Field names follow the
// node's JSON schema, values ride on hexutil so quantities encode as 0x hex.

type CallManyTransaction struct {
	From     *common.Address `json:"from,omitempty"`
	To       *common.Address `json:"to,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
}

type BlockOverride struct {
	BlockNumber *hexutil.Uint64 `json:"blockNumber,omitempty"`
	Coinbase    *common.Address `json:"coinbase,omitempty"`
	Timestamp   *hexutil.Uint64 `json:"timestamp,omitempty"`
	GasLimit    *hexutil.Uint64 `json:"gasLimit,omitempty"`
	BaseFee     *hexutil.Big    `json:"baseFee,omitempty"`
}

type Bundle struct {
	Transactions  []CallManyTransaction `json:"transactions"`
	BlockOverride *BlockOverride        `json:"blockOverride,omitempty"`
}

// SimulationContext pins the bundle to a block; TransactionIndex selects the
// position within that block the simulation starts from (-1 = end of block).
type SimulationContext struct {
	BlockNumber      hexutil.Uint64 `json:"blockNumber"`
	TransactionIndex *int           `json:"transactionIndex,omitempty"`
}

type AccountOverride struct {
	Balance   *hexutil.Big                `json:"balance,omitempty"`
	Nonce     *hexutil.Uint64             `json:"nonce,omitempty"`
	Code      hexutil.Bytes               `json:"code,omitempty"`
	State     map[common.Hash]common.Hash `json:"state,omitempty"`
	StateDiff map[common.Hash]common.Hash `json:"stateDiff,omitempty"`
}

type StateOverrides map[common.Address]AccountOverride

// CallManyResult is one per-transaction entry of the response. Exactly one of
// Value/Error is populated on a well-behaved node; reverts come back as Error
// with the revert payload in Value when the node preserves it.
type CallManyResult struct {
	Value hexutil.Bytes `json:"value,omitempty"`
	Error string        `json:"error,omitempty"`
}

// CallMany executes the bundles at the given context with state overrides.
// The outer result slice is per bundle, the inner per transaction.
func (c *Client) CallMany(
	ctx context.Context,
	bundles []Bundle,
	simCtx SimulationContext,
	overrides StateOverrides,
	timeoutMillis uint64,
) ([][]CallManyResult, error) {
	var result [][]CallManyResult
	err := c.rpc.CallContext(ctx, &result, "eth_callMany", bundles, simCtx, overrides, timeoutMillis)
	if err != nil {
		return nil, classify(err)
	}
	return result, nil
}
