package simulator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/SpreadSolvers/simulator/internal/eth"
	"github.com/SpreadSolvers/simulator/internal/slots"
)

// Simulator orchestrates slot discovery and the RPC→local simulation paths.
// One instance is meant for serial use; the lazy-fetch fork and the per-chain
// code retention are shared mutable state. Run instances in parallel instead.
type Simulator struct {
	cacheDir string
	log      logrus.FieldLogger

	slotCaches map[uint64]*slots.Cache
	codeCaches map[uint64]map[common.Address][]byte
}

func New(cacheDir string, logger logrus.FieldLogger) *Simulator {
	return &Simulator{
		cacheDir:   cacheDir,
		log:        logger,
		slotCaches: make(map[uint64]*slots.Cache),
		codeCaches: make(map[uint64]map[common.Address][]byte),
	}
}

func (s *Simulator) Close() {
	for _, c := range s.slotCaches {
		c.Close()
	}
}

func (s *Simulator) slotCache(chainID uint64) (*slots.Cache, error) {
	if c, ok := s.slotCaches[chainID]; ok {
		return c, nil
	}
	c, err := slots.Open(s.cacheDir, chainID)
	if err != nil {
		return nil, err
	}
	s.slotCaches[chainID] = c
	return c, nil
}

// Simulate runs params against the chain behind rpcURL. Never returns a Go
// error: every failure mode is folded into the error status of the result.
func (s *Simulator) Simulate(ctx context.Context, p Params, chainID uint64, rpcURL string) Result {
	client, err := eth.Dial(rpcURL)
	if err != nil {
		return errorResult("dial rpc: %v", err)
	}
	defer client.Close()

	return s.simulate(ctx, client, p, chainID)
}

// simulate is Simulate with the backend injected, for tests.
func (s *Simulator) simulate(ctx context.Context, backend ChainBackend, p Params, chainID uint64) Result {
	// pin the block once; every read below observes this state
	header, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return errorResult("resolve latest block: %v", err)
	}

	log := s.log.WithFields(logrus.Fields{
		"chain": chainID,
		"block": header.Number.Uint64(),
		"token": p.TokenIn.Hex(),
	})

	cache, err := s.slotCache(chainID)
	if err != nil {
		return errorResult("open slot cache: %v", err)
	}

	var exec *Executor
	rec, ok := cache.Get(p.TokenIn)
	if !ok {
		exec = NewExecutor(NewStateFork(ctx, backend, header, s.codeCaches[chainID]), chainID)
		rec, err = DiscoverBalanceSlot(exec, p.TokenIn, p.User, log)
		if err != nil {
			// discovery failures are fatal; no path can simulate without a slot
			return errorResult("slot discovery: %v", err)
		}
		if err := cache.Put(rec); err != nil {
			log.WithError(err).Warn("slot cache write failed")
		}
		s.codeCaches[chainID] = exec.Fork().CodeCache()
	} else {
		log.WithField("layout", rec.Layout.String()).Debug("slot cache hit")
	}

	res, rpcErr := runRPC(ctx, backend, header, p, rec)
	if rpcErr == nil {
		log.Debug("rpc path decisive")
		return res
	}
	log.WithError(rpcErr).Info("rpc path failed, falling back to local execution")

	if exec == nil {
		exec = NewExecutor(NewStateFork(ctx, backend, header, s.codeCaches[chainID]), chainID)
	}
	res, localErr := runLocal(exec, p, rec)

	// keep hydrated bytecode for the next simulation on this chain
	s.codeCaches[chainID] = exec.Fork().CodeCache()

	if localErr != nil {
		return errorResult("rpc path: %v; local path: %v", rpcErr, localErr)
	}
	res.RPCErr = rpcErr.Error()
	return res
}

// DiscoverAndCache runs discovery for one token without simulating anything.
// Used by cache warming.
func (s *Simulator) DiscoverAndCache(ctx context.Context, backend Backend, token, probe common.Address, chainID uint64) (slots.Record, error) {
	header, err := backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return slots.Record{}, fmt.Errorf("resolve latest block: %w", err)
	}

	cache, err := s.slotCache(chainID)
	if err != nil {
		return slots.Record{}, err
	}
	if rec, ok := cache.Get(token); ok {
		return rec, nil
	}

	exec := NewExecutor(NewStateFork(ctx, backend, header, s.codeCaches[chainID]), chainID)
	rec, err := DiscoverBalanceSlot(exec, token, probe, s.log)
	if err != nil {
		return slots.Record{}, err
	}
	s.codeCaches[chainID] = exec.Fork().CodeCache()

	if err := cache.Put(rec); err != nil {
		return slots.Record{}, err
	}
	return rec, nil
}

// IsDiscoveryErr reports whether err is one of the terminal discovery
// failures, as opposed to a transport problem worth retrying.
func IsDiscoveryErr(err error) bool {
	return errors.Is(err, ErrDiscoveryRejected) ||
		errors.Is(err, ErrDiscoveryUnsupported) ||
		errors.Is(err, ErrProbeOutOfGas)
}
