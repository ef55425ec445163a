package simulator

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"github.com/SpreadSolvers/simulator/internal/eth"
	"github.com/SpreadSolvers/simulator/internal/slots"
)

// Discovery outcomes. Rejected covers probes that revert, touch no storage,
// or where no slot influences the result; Unsupported covers tokens whose
// balance depends on a slot without equalling it (rebasing, share-based).
var (
	ErrDiscoveryRejected    = errors.New("balance slot discovery rejected")
	ErrDiscoveryUnsupported = errors.New("token balance is not linearly slot-backed")
	ErrProbeOutOfGas        = errors.New("balanceOf probe ran out of gas")
)

// probeGas is the balanceOf budget. Generous so only pathological tokens
// fail on gas, and those are reported distinctly.
const probeGas = 10_000_000

// sentinel is the verification value planted in candidate slots. 2^128 sits
// far above any circulating supply, so an echoed sentinel identifies the
// balance slot with negligible collision risk.
var sentinel = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

type slotWithAddress struct {
	address common.Address
	slot    common.Hash
}

// sloadRecorder collects every storage key read during a call, in first
// observation order. The address is the storage owner, which under a proxy's
// delegatecall is the proxy itself.
type sloadRecorder struct {
	order []slotWithAddress
	seen  map[slotWithAddress]bool
}

func newSloadRecorder() *sloadRecorder {
	return &sloadRecorder{seen: make(map[slotWithAddress]bool)}
}

func (r *sloadRecorder) hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) {
			if vm.OpCode(op) != vm.SLOAD {
				return
			}
			stack := scope.StackData()
			if len(stack) == 0 {
				return
			}
			key := slotWithAddress{
				address: scope.Address(),
				slot:    common.Hash(stack[len(stack)-1].Bytes32()),
			}
			if r.seen[key] {
				return
			}
			r.seen[key] = true
			r.order = append(r.order, key)
		},
	}
}

// DiscoverBalanceSlot finds the storage slot and mapping layout behind
// token.balanceOf(probe), verified by sentinel mutation. The returned record
// is stamped with the fork's pinned block.
func DiscoverBalanceSlot(exec *Executor, token, probe common.Address, logger logrus.FieldLogger) (slots.Record, error) {
	recorder := newSloadRecorder()

	res, err := exec.Execute(Call{
		From: probe,
		To:   token,
		Data: eth.BalanceOfData(probe),
		Gas:  probeGas,
	}, recorder.hooks())
	if err != nil {
		return slots.Record{}, fmt.Errorf("probe call: %w", err)
	}
	if errors.Is(res.Err, vm.ErrOutOfGas) {
		return slots.Record{}, ErrProbeOutOfGas
	}
	if res.Err != nil {
		return slots.Record{}, fmt.Errorf("%w: balanceOf reverted: %v", ErrDiscoveryRejected, res.Err)
	}
	if len(recorder.order) == 0 {
		return slots.Record{}, fmt.Errorf("%w: balanceOf read no storage", ErrDiscoveryRejected)
	}

	baseline, err := eth.UnpackBalance(res.Output)
	if err != nil {
		return slots.Record{}, fmt.Errorf("%w: bad balanceOf return: %v", ErrDiscoveryRejected, err)
	}

	logger.WithFields(logrus.Fields{
		"token":      token.Hex(),
		"candidates": len(recorder.order),
	}).Debug("collected SLOAD candidates")

	influenced := false
	for _, cand := range recorder.order {
		balance, err := balanceWithSentinel(exec, token, probe, cand)
		if err != nil {
			// verification probe failed for this candidate only
			continue
		}
		if balance.Cmp(baseline) != 0 {
			influenced = true
		}
		if balance.Cmp(sentinel.ToBig()) != 0 {
			continue
		}
		// the slot echoes the sentinel; it must also live in the token's own
		// storage and match a mapping layout to be expressible as a record
		if cand.address != token {
			continue
		}
		layout, base, ok := slots.RecoverBaseSlot(probe, cand.slot)
		if !ok {
			continue
		}
		rec := slots.Record{
			Token:    token,
			Layout:   layout,
			BaseSlot: base,
			Block:    exec.Fork().Header().Number.Uint64(),
		}
		logger.WithFields(logrus.Fields{
			"token":  token.Hex(),
			"layout": layout.String(),
			"base":   base.Hex(),
		}).Info("balance slot confirmed")
		return rec, nil
	}

	if influenced {
		return slots.Record{}, ErrDiscoveryUnsupported
	}
	return slots.Record{}, fmt.Errorf("%w: no candidate verified", ErrDiscoveryRejected)
}

// balanceWithSentinel plants the sentinel at the candidate slot, re-reads the
// balance, and restores the slot.
func balanceWithSentinel(exec *Executor, token, probe common.Address, cand slotWithAddress) (*big.Int, error) {
	fork := exec.Fork()

	original, err := fork.GetStorageAt(cand.address, cand.slot)
	if err != nil {
		return nil, err
	}
	fork.SetStorageAt(cand.address, cand.slot, common.Hash(sentinel.Bytes32()))
	defer fork.SetStorageAt(cand.address, cand.slot, original)

	res, err := exec.Execute(Call{
		From: probe,
		To:   token,
		Data: eth.BalanceOfData(probe),
		Gas:  probeGas,
	}, nil)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return eth.UnpackBalance(res.Output)
}
