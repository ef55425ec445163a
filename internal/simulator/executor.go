package simulator

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"
)

// Executor runs single calls against a StateFork. Successful calls commit
// into the fork cache, so a sequence of calls sees each other's effects.
type Executor struct {
	fork   *StateFork
	config *params.ChainConfig
}

func NewExecutor(fork *StateFork, chainID uint64) *Executor {
	return &Executor{
		fork:   fork,
		config: chainConfig(chainID),
	}
}

func (e *Executor) Fork() *StateFork {
	return e.fork
}

// chainConfig picks the fork schedule. Mainnet gets the real config; other
// chains run mainnet rules with the chain ID swapped, which is sound because
// every read is pinned to the current head.
func chainConfig(chainID uint64) *params.ChainConfig {
	if chainID == params.MainnetChainConfig.ChainID.Uint64() {
		return params.MainnetChainConfig
	}
	cfg := *params.MainnetChainConfig
	cfg.ChainID = new(big.Int).SetUint64(chainID)
	return &cfg
}

// Call is one simulated message call.
type Call struct {
	From  common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// CallResult distinguishes clean returns from reverts. Err is the VM error
// (vm.ErrExecutionReverted, vm.ErrOutOfGas, ...); consensus-level failures
// surface as the Execute error instead.
type CallResult struct {
	Output     []byte
	RevertData []byte
	GasUsed    uint64
	Err        error
	Logs       []*types.Log
}

func (r *CallResult) Reverted() bool {
	return errors.Is(r.Err, vm.ErrExecutionReverted)
}

// Execute runs the call in the context of the block after the pinned one,
// with the pinned base fee. hooks, when set, instruments every opcode.
func (e *Executor) Execute(call Call, hooks *tracing.Hooks) (*CallResult, error) {
	stateDB := NewForkedStateDB(e.fork)

	header := e.fork.Header()
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	// simulate against the next block; Random non-nil selects post-merge rules
	blockContext := vm.BlockContext{
		CanTransfer: core.CanTransfer,
		Transfer:    core.Transfer,
		GetHash:     func(n uint64) common.Hash { return common.Hash{} },
		Coinbase:    header.Coinbase,
		BlockNumber: new(big.Int).Add(header.Number, big.NewInt(1)),
		Time:        header.Time + 12,
		Difficulty:  new(big.Int),
		GasLimit:    header.GasLimit,
		BaseFee:     baseFee,
		BlobBaseFee: big.NewInt(1),
		Random:      &common.Hash{},
	}

	evm := vm.NewEVM(blockContext, stateDB, e.config, vm.Config{
		NoBaseFee: true,
		Tracer:    hooks,
	})
	evm.SetTxContext(vm.TxContext{
		Origin:   call.From,
		GasPrice: new(big.Int),
	})

	snap := stateDB.Snapshot()

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	nonce := stateDB.GetNonce(call.From)

	// nonce and EOA checks are skipped: the caller may be anything and the
	// synthetic overrides never maintain a consistent nonce history
	msg := &core.Message{
		To:                    &call.To,
		From:                  call.From,
		Nonce:                 nonce,
		Value:                 value,
		GasLimit:              call.Gas,
		GasPrice:              new(big.Int),
		GasFeeCap:             new(big.Int),
		GasTipCap:             new(big.Int),
		Data:                  call.Data,
		AccessList:            nil,
		SkipNonceChecks:       true,
		SkipTransactionChecks: true,
	}

	gp := new(core.GasPool).AddGas(call.Gas)
	result, err := core.ApplyMessage(evm, msg, gp)
	if ferr := e.fork.Err(); ferr != nil {
		return nil, fmt.Errorf("state hydration failed: %w", ferr)
	}
	if err != nil {
		stateDB.RevertToSnapshot(snap)
		return nil, fmt.Errorf("message execution failed: %w", err)
	}

	res := &CallResult{
		GasUsed: result.UsedGas,
		Logs:    stateDB.Logs(),
	}
	if result.Failed() {
		res.Err = result.Err
		res.RevertData = result.Revert()
		stateDB.RevertToSnapshot(snap)
	} else {
		res.Output = result.ReturnData
	}
	return res, nil
}
