package simulator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const fetchTimeout = 10 * time.Second

// StateFork lazily mirrors chain state at one pinned block. Every read that
// misses the cache goes to the backend exactly once; simulated writes land in
// the cache and shadow the chain.
type StateFork struct {
	backend     Backend
	ctx         context.Context
	header      *types.Header
	blockNumber *big.Int

	cache *StateCache
	mu    sync.RWMutex

	// snapshot stack for revert
	snapshots []*StateCache

	// first backend failure; checked after execution so a half-hydrated run
	// never masquerades as a result
	fetchErr error
}

// NewStateFork pins a fork at header. seedCode pre-populates contract code
// learned in earlier simulations; it is copied, not aliased.
func NewStateFork(ctx context.Context, backend Backend, header *types.Header, seedCode map[common.Address][]byte) *StateFork {
	cache := NewStateCache()
	for addr, code := range seedCode {
		cache.code[addr] = code
	}
	return &StateFork{
		backend:     backend,
		ctx:         ctx,
		header:      header,
		blockNumber: header.Number,
		cache:       cache,
		snapshots:   make([]*StateCache, 0),
	}
}

func (f *StateFork) Header() *types.Header {
	return f.header
}

// Err reports the first backend failure observed during lazy hydration.
func (f *StateFork) Err() error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.fetchErr
}

func (f *StateFork) noteErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr == nil {
		f.fetchErr = err
	}
}

// returns account balance at forked state
func (f *StateFork) GetBalance(addr common.Address) (*big.Int, error) {
	f.mu.RLock()
	if bal, ok := f.cache.balances[addr]; ok {
		f.mu.RUnlock()
		return new(big.Int).Set(bal), nil
	}
	f.mu.RUnlock()

	ctx, cancel := context.WithTimeout(f.ctx, fetchTimeout)
	defer cancel()

	bal, err := f.backend.BalanceAt(ctx, addr, f.blockNumber)
	if err != nil {
		err = fmt.Errorf("balance fetch for %s at block %s: %w", addr.Hex(), f.blockNumber, err)
		f.noteErr(err)
		return nil, err
	}

	f.mu.Lock()
	f.cache.balances[addr] = bal
	f.mu.Unlock()

	return new(big.Int).Set(bal), nil
}

// returns account nonce at forked state
func (f *StateFork) GetNonce(addr common.Address) (uint64, error) {
	f.mu.RLock()
	if nonce, ok := f.cache.nonces[addr]; ok {
		f.mu.RUnlock()
		return nonce, nil
	}
	f.mu.RUnlock()

	ctx, cancel := context.WithTimeout(f.ctx, fetchTimeout)
	defer cancel()
	nonce, err := f.backend.NonceAt(ctx, addr, f.blockNumber)
	if err != nil {
		f.noteErr(err)
		return 0, err
	}

	f.mu.Lock()
	f.cache.nonces[addr] = nonce
	f.mu.Unlock()

	return nonce, nil
}

// returns contract bytecode at forked state
func (f *StateFork) GetCode(addr common.Address) ([]byte, error) {
	f.mu.RLock()
	if code, ok := f.cache.code[addr]; ok {
		f.mu.RUnlock()
		return code, nil
	}
	f.mu.RUnlock()

	ctx, cancel := context.WithTimeout(f.ctx, fetchTimeout)
	defer cancel()
	code, err := f.backend.CodeAt(ctx, addr, f.blockNumber)
	if err != nil {
		f.noteErr(err)
		return nil, err
	}

	f.mu.Lock()
	f.cache.code[addr] = code
	f.mu.Unlock()

	return code, nil
}

// returns storage slot value at forked state
func (f *StateFork) GetStorageAt(addr common.Address, slot common.Hash) (common.Hash, error) {
	f.mu.RLock()
	if addrStorage, ok := f.cache.storage[addr]; ok {
		if val, ok := addrStorage[slot]; ok {
			f.mu.RUnlock()
			return val, nil
		}
	}
	f.mu.RUnlock()

	ctx, cancel := context.WithTimeout(f.ctx, fetchTimeout)
	defer cancel()
	data, err := f.backend.StorageAt(ctx, addr, slot, f.blockNumber)
	if err != nil {
		f.noteErr(err)
		return common.Hash{}, err
	}

	val := common.BytesToHash(data)

	f.mu.Lock()
	if f.cache.storage[addr] == nil {
		f.cache.storage[addr] = make(map[common.Hash]common.Hash)
	}
	f.cache.storage[addr][slot] = val
	f.mu.Unlock()

	return val, nil
}

// modify balance for simulation
func (f *StateFork) SetBalance(addr common.Address, bal *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache.balances[addr] = new(big.Int).Set(bal)
}

// modify nonce for simulation
func (f *StateFork) SetNonce(addr common.Address, nonce uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cache.nonces[addr] = nonce
}

// SetCode plants bytecode, shadowing whatever the chain has.
func (f *StateFork) SetCode(addr common.Address, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.cache.code[addr] = code
}

// modifies storage
func (f *StateFork) SetStorageAt(addr common.Address, slot common.Hash, val common.Hash) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cache.storage[addr] == nil {
		f.cache.storage[addr] = make(map[common.Hash]common.Hash)
	}
	f.cache.storage[addr][slot] = val
}

// snapshot creates a revert point
func (f *StateFork) Snapshot() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.snapshots = append(f.snapshots, f.cache.copy())
	return len(f.snapshots) - 1
}

func (f *StateFork) RevertToSnapshot(snapID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if snapID < 0 || snapID >= len(f.snapshots) {
		return fmt.Errorf("invalid snapshot id: %d", snapID)
	}

	f.cache = f.snapshots[snapID]
	f.snapshots = f.snapshots[:snapID]

	return nil
}

// CodeCache exports the hydrated bytecode so the next simulation on the same
// chain skips those fetches. Storage and account state stay behind.
func (f *StateFork) CodeCache() map[common.Address][]byte {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[common.Address][]byte, len(f.cache.code))
	for addr, code := range f.cache.code {
		out[addr] = code
	}
	return out
}
