package simulator

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/SpreadSolvers/simulator/internal/eth"
)

// memBackend serves chain state from maps, standing in for a node. CallMany
// fails with a method-not-found rejection unless a handler is injected.
type memBackend struct {
	header   *types.Header
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	code     map[common.Address][]byte
	storage  map[common.Address]map[common.Hash]common.Hash

	callMany func(bundles []eth.Bundle, simCtx eth.SimulationContext, overrides eth.StateOverrides) ([][]eth.CallManyResult, error)
}

func newMemBackend() *memBackend {
	return &memBackend{
		header: &types.Header{
			Number:   big.NewInt(19_000_000),
			Time:     1_700_000_000,
			GasLimit: 30_000_000,
			BaseFee:  big.NewInt(1_000_000_000),
			Coinbase: common.HexToAddress("0x000000000000000000000000000000000000c01b"),
		},
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		code:     make(map[common.Address][]byte),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (b *memBackend) setStorage(addr common.Address, slot, val common.Hash) {
	if b.storage[addr] == nil {
		b.storage[addr] = make(map[common.Hash]common.Hash)
	}
	b.storage[addr][slot] = val
}

func (b *memBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return b.header, nil
}

func (b *memBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if bal, ok := b.balances[account]; ok {
		return new(big.Int).Set(bal), nil
	}
	return new(big.Int), nil
}

func (b *memBackend) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return b.nonces[account], nil
}

func (b *memBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return b.code[account], nil
}

func (b *memBackend) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	if m, ok := b.storage[account]; ok {
		if val, ok := m[key]; ok {
			return val.Bytes(), nil
		}
	}
	return common.Hash{}.Bytes(), nil
}

func (b *memBackend) CallMany(ctx context.Context, bundles []eth.Bundle, simCtx eth.SimulationContext, overrides eth.StateOverrides, timeoutMillis uint64) ([][]eth.CallManyResult, error) {
	if b.callMany != nil {
		return b.callMany(bundles, simCtx, overrides)
	}
	return nil, fmt.Errorf("%w: the method eth_callMany does not exist/is not available", eth.ErrRPCRejected)
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l.WithField("module", "test")
}

// ---- hand-assembled contracts ----

// withApproveTail wraps a balanceOf body so 68-byte calldata (approve or
// transfer) returns true and everything else falls through to the body.
func withApproveTail(body []byte) []byte {
	head := []byte{
		byte(vm.CALLDATASIZE), byte(vm.PUSH1), 0x44, byte(vm.EQ),
		byte(vm.PUSH1), 0x00, byte(vm.JUMPI),
	}
	head[5] = byte(len(head) + len(body))
	code := append(head, body...)
	return append(code,
		byte(vm.JUMPDEST),
		byte(vm.PUSH1), 0x01, byte(vm.PUSH1), 0x00, byte(vm.MSTORE),
		byte(vm.PUSH1), 0x20, byte(vm.PUSH1), 0x00, byte(vm.RETURN),
	)
}

// mappingLoad leaves keccak(holder‖base) or keccak(base‖holder) on the stack
// as an SLOAD result for the holder passed as the balanceOf argument.
func mappingLoad(baseSlot byte, vyper bool) []byte {
	holderOff, baseOff := byte(0x00), byte(0x20)
	if vyper {
		holderOff, baseOff = 0x20, 0x00
	}
	return []byte{
		byte(vm.PUSH1), 0x04, byte(vm.CALLDATALOAD), byte(vm.PUSH1), holderOff, byte(vm.MSTORE),
		byte(vm.PUSH1), baseSlot, byte(vm.PUSH1), baseOff, byte(vm.MSTORE),
		byte(vm.PUSH1), 0x40, byte(vm.PUSH1), 0x00, byte(vm.KECCAK256),
		byte(vm.SLOAD),
	}
}

func returnTop() []byte {
	return []byte{
		byte(vm.PUSH1), 0x00, byte(vm.MSTORE),
		byte(vm.PUSH1), 0x20, byte(vm.PUSH1), 0x00, byte(vm.RETURN),
	}
}

// erc20Code: balanceOf reads the mapping directly, approve/transfer return
// true
func erc20Code(baseSlot byte, vyper bool) []byte {
	body := append(mappingLoad(baseSlot, vyper), returnTop()...)
	return withApproveTail(body)
}

// shareTokenCode: balanceOf returns raw_shares * sload(rateSlot); no single
// sentinel write can echo back, which is the rebasing/share-token shape
func shareTokenCode(baseSlot, rateSlot byte) []byte {
	body := append(mappingLoad(baseSlot, false),
		byte(vm.PUSH1), rateSlot, byte(vm.SLOAD),
		byte(vm.MUL),
	)
	body = append(body, returnTop()...)
	return withApproveTail(body)
}

// revertingCode: every call reverts with no data
func revertingCode() []byte {
	return []byte{byte(vm.PUSH1), 0x00, byte(vm.PUSH1), 0x00, byte(vm.REVERT)}
}

// constantCode: balanceOf answers 42 without touching storage
func constantCode() []byte {
	return append([]byte{byte(vm.PUSH1), 0x2a}, returnTop()...)
}

// proxyCode delegatecalls every call to impl and returns one word
func proxyCode(impl common.Address) []byte {
	code := []byte{
		byte(vm.CALLDATASIZE), byte(vm.PUSH1), 0x00, byte(vm.PUSH1), 0x00, byte(vm.CALLDATACOPY),
		byte(vm.PUSH1), 0x20, byte(vm.PUSH1), 0x00,
		byte(vm.CALLDATASIZE), byte(vm.PUSH1), 0x00,
		byte(vm.PUSH20),
	}
	code = append(code, impl.Bytes()...)
	return append(code,
		byte(vm.GAS), byte(vm.DELEGATECALL),
		byte(vm.POP),
		byte(vm.PUSH1), 0x20, byte(vm.PUSH1), 0x00, byte(vm.RETURN),
	)
}

// returnSevenCode: a target that cleanly returns the word 7
func returnSevenCode() []byte {
	return append([]byte{byte(vm.PUSH1), 0x07}, returnTop()...)
}

// revertWithCode: a target that reverts with the given payload
func revertWithCode(payload []byte) []byte {
	prefix := []byte{
		byte(vm.PUSH1), byte(len(payload)), byte(vm.PUSH1), 0x00, byte(vm.PUSH1), 0x00, byte(vm.CODECOPY),
		byte(vm.PUSH1), byte(len(payload)), byte(vm.PUSH1), 0x00, byte(vm.REVERT),
	}
	prefix[3] = byte(len(prefix))
	return append(prefix, payload...)
}

// abiRevert encodes Error(string) the way solc's revert("...") does
func abiRevert(msg string) []byte {
	out := append([]byte{}, crypto.Keccak256([]byte("Error(string)"))[:4]...)
	out = append(out, common.LeftPadBytes([]byte{0x20}, 32)...)
	out = append(out, common.LeftPadBytes(big.NewInt(int64(len(msg))).Bytes(), 32)...)
	out = append(out, common.RightPadBytes([]byte(msg), 32)...)
	return out
}

// transferData packs transfer(to, amount) calldata
func transferData(to common.Address, amount *big.Int) []byte {
	data := append([]byte{}, crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]...)
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	return append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
}
