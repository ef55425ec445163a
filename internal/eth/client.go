package eth

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// ErrRPCRejected marks a structured error object returned by the node, as
// opposed to a transport failure. Both route to the local fallback.
var ErrRPCRejected = errors.New("rpc rejected request")

type Client struct {
	eth *ethclient.Client
	rpc *gethrpc.Client
}

func Dial(rawurl string) (*Client, error) {
	rpc, err := gethrpc.Dial(rawurl)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rawurl, err)
	}
	return &Client{eth: ethclient.NewClient(rpc), rpc: rpc}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

// HeaderByNumber resolves a header; nil means latest. The orchestrator calls
// this once per simulation and pins every subsequent read to the result.
func (c *Client) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, number)
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, blockNumber)
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, blockNumber)
}

func (c *Client) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return c.eth.CodeAt(ctx, account, blockNumber)
}

func (c *Client) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	return c.eth.StorageAt(ctx, account, key, blockNumber)
}

func (c *Client) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	return c.eth.NonceAt(ctx, account, blockNumber)
}

// classify wraps node-side error objects in ErrRPCRejected so callers can
// tell "the node said no" apart from "the network ate the request".
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) {
		return fmt.Errorf("%w: code %d: %s", ErrRPCRejected, rpcErr.ErrorCode(), rpcErr.Error())
	}
	return err
}
