// Package ethoracle resolves voting weight from on-chain account balances.
// The snapshot timestamp is mapped to the highest block sealed at or before
// that moment, which keeps the weight of a voter stable for the lifetime of
// a proposal.
package ethoracle

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/amount"
	"github.com/accord-one/accord/errors"
	"github.com/accord-one/accord/oracle"
)

// backend is the slice of the ethclient surface the oracle needs.
type backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

var _ backend = (*ethclient.Client)(nil)

// Client is a BalanceOracle backed by an Ethereum node.
type Client struct {
	client backend
}

var _ oracle.BalanceOracle = (*Client)(nil)

// Dial connects to the given RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransient, err.Error())
	}
	return &Client{client: client}, nil
}

// NewClient wraps an already connected ethclient.
func NewClient(client *ethclient.Client) *Client {
	return &Client{client: client}
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.client.Close()
}

// BalanceAt returns the account balance at the snapshot moment.
func (c *Client) BalanceAt(ctx context.Context, actor accord.Address, snapshot accord.UnixTime) (amount.Amount, error) {
	var zero amount.Amount
	if err := actor.Validate(); err != nil {
		return zero, err
	}

	block, err := c.snapshotBlock(ctx, snapshot)
	if err != nil {
		return zero, err
	}

	balance, err := c.client.BalanceAt(ctx, common.BytesToAddress(actor), block)
	if err != nil {
		return zero, errors.Wrapf(errors.ErrTransient, "balance query: %v", err)
	}
	return amount.FromBig(balance)
}

// snapshotBlock finds the number of the highest block with a seal time not
// after the snapshot, by binary search over the header chain. A snapshot
// older than the first block has no observable balance and is refused.
func (c *Client) snapshotBlock(ctx context.Context, snapshot accord.UnixTime) (*big.Int, error) {
	head, err := c.header(ctx, nil)
	if err != nil {
		return nil, err
	}
	at := uint64(snapshot)
	if head.Time <= at {
		return head.Number, nil
	}
	genesis, err := c.header(ctx, new(big.Int))
	if err != nil {
		return nil, err
	}
	if genesis.Time > at {
		return nil, errors.Wrapf(errors.ErrInput, "snapshot %d predates the chain", at)
	}

	lo, hi := uint64(0), head.Number.Uint64()
	for lo < hi {
		mid := lo + (hi-lo+1)/2
		h, err := c.header(ctx, new(big.Int).SetUint64(mid))
		if err != nil {
			return nil, err
		}
		if h.Time <= at {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return new(big.Int).SetUint64(lo), nil
}

func (c *Client) header(ctx context.Context, number *big.Int) (*types.Header, error) {
	h, err := c.client.HeaderByNumber(ctx, number)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrTransient, "header query: %v", err)
	}
	return h, nil
}
