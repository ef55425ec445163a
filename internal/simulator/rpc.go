package simulator

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/SpreadSolvers/simulator/internal/eth"
	"github.com/SpreadSolvers/simulator/internal/slots"
)

const (
	callManyTimeoutMillis = 5000
	callManyTxGas         = hexutil.Uint64(probeGas)
)

// runRPC drives eth_callMany with the override set: funded user, chain nonce,
// synthetic token balance. Returns an error for every shape the spec routes
// to the local path.
func runRPC(ctx context.Context, backend ChainBackend, header *types.Header, p Params, rec slots.Record) (Result, error) {
	nonce, err := backend.NonceAt(ctx, p.User, header.Number)
	if err != nil {
		return Result{}, fmt.Errorf("nonce fetch: %w", err)
	}

	userNonce := hexutil.Uint64(nonce)
	gas := callManyTxGas
	overrides := eth.StateOverrides{
		p.User: {
			Balance: (*hexutil.Big)(tenEther),
			Nonce:   &userNonce,
		},
	}
	// merge rather than assign; user and token may be the same address
	tokenOv := overrides[p.TokenIn]
	tokenOv.StateDiff = map[common.Hash]common.Hash{
		rec.StorageKey(p.User): common.Hash(p.AmountIn.Bytes32()),
	}
	overrides[p.TokenIn] = tokenOv

	// what-if-next-block context: pinned number + 1, pinned base fee
	nextNumber := hexutil.Uint64(header.Number.Uint64() + 1)
	var baseFee *hexutil.Big
	if header.BaseFee != nil {
		baseFee = (*hexutil.Big)(header.BaseFee)
	}

	value := (*hexutil.Big)(new(big.Int))
	bundle := eth.Bundle{
		Transactions: []eth.CallManyTransaction{
			{
				From: &p.User,
				To:   &p.TokenIn,
				Gas:  &gas,
				Data: eth.ApproveData(p.Target),
			},
			{
				From:  &p.User,
				To:    &p.Target,
				Gas:   &gas,
				Value: value,
				Data:  p.Calldata,
			},
		},
		BlockOverride: &eth.BlockOverride{
			BlockNumber: &nextNumber,
			BaseFee:     baseFee,
		},
	}

	txIndex := -1
	simCtx := eth.SimulationContext{
		BlockNumber:      hexutil.Uint64(header.Number.Uint64()),
		TransactionIndex: &txIndex,
	}

	results, err := backend.CallMany(ctx, []eth.Bundle{bundle}, simCtx, overrides, callManyTimeoutMillis)
	if err != nil {
		return Result{}, err
	}

	// anything but [approve ok, decisive user call] is a rejection
	if len(results) != 1 || len(results[0]) != 2 {
		return Result{}, fmt.Errorf("%w: unexpected eth_callMany shape", eth.ErrRPCRejected)
	}
	approve, userCall := results[0][0], results[0][1]
	if approve.Error != "" {
		return Result{}, fmt.Errorf("%w: approve failed: %s", eth.ErrRPCRejected, approve.Error)
	}
	if userCall.Error != "" {
		// only a revert is decisive; other failures (out of gas, ...) go to
		// the local path
		if !strings.Contains(userCall.Error, "revert") {
			return Result{}, fmt.Errorf("%w: user call failed: %s", eth.ErrRPCRejected, userCall.Error)
		}
		// the node keeps any revert payload in value
		return revertedResult(userCall.Value), nil
	}
	return successResult(userCall.Value), nil
}
