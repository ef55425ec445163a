package simulator

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	"github.com/SpreadSolvers/simulator/internal/eth"
	"github.com/SpreadSolvers/simulator/internal/slots"
)

// gas funding for the simulated user; covers any realistic call
var tenEther = new(big.Int).Mul(big.NewInt(10), big.NewInt(params.Ether))

// runLocal executes approve + user call on the fork with the synthetic
// balance planted at the discovered slot. Mirrors the RPC bundle: an approve
// failure aborts, a user-call revert is a Reverted result.
func runLocal(exec *Executor, p Params, rec slots.Record) (Result, error) {
	fork := exec.Fork()

	code, err := fork.GetCode(p.Target)
	if err != nil {
		return Result{}, fmt.Errorf("target code fetch: %w", err)
	}
	if len(code) == 0 {
		return Result{}, fmt.Errorf("target %s has no code", p.Target.Hex())
	}

	fork.SetBalance(p.User, tenEther)
	fork.SetStorageAt(p.TokenIn, rec.StorageKey(p.User), common.Hash(p.AmountIn.Bytes32()))

	gasLimit := fork.Header().GasLimit

	approve, err := exec.Execute(Call{
		From: p.User,
		To:   p.TokenIn,
		Data: eth.ApproveData(p.Target),
		Gas:  gasLimit,
	}, nil)
	if err != nil {
		return Result{}, fmt.Errorf("approve execution: %w", err)
	}
	if approve.Err != nil {
		return Result{}, fmt.Errorf("approve reverted: %v", approve.Err)
	}

	call, err := exec.Execute(Call{
		From:  p.User,
		To:    p.Target,
		Data:  p.Calldata,
		Value: new(big.Int),
		Gas:   gasLimit,
	}, nil)
	if err != nil {
		return Result{}, fmt.Errorf("user call execution: %w", err)
	}
	if call.Err != nil {
		if call.Reverted() {
			return revertedResult(call.RevertData), nil
		}
		return Result{}, fmt.Errorf("user call failed: %v", call.Err)
	}
	return successResult(call.Output), nil
}
