// Package ethsettle implements the settlement collaborator on top of an
// Ethereum JSON-RPC endpoint. The action payload is expected to be a signed
// transaction in its canonical binary encoding; the receipt reference is the
// transaction hash.
package ethsettle

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/accord-one/accord"
	"github.com/accord-one/accord/errors"
	"github.com/accord-one/accord/settle"
)

// Client is a settle.Settlement backed by an Ethereum node.
type Client struct {
	client  *ethclient.Client
	chainID uint64
	now     func() time.Time
}

var _ settle.Settlement = (*Client)(nil)

// Dial connects to the given RPC endpoint and verifies the chain id. Passing
// a zero chainID accepts whatever chain the endpoint serves.
func Dial(ctx context.Context, rpcURL string, chainID uint64) (*Client, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(errors.ErrTransient, err.Error())
	}

	networkChainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrTransient, "cannot get chain id: %v", err)
	}
	if chainID == 0 {
		chainID = networkChainID.Uint64()
	} else if networkChainID.Uint64() != chainID {
		return nil, errors.Wrapf(errors.ErrInput, "chain id mismatch: expected %d, got %d", chainID, networkChainID.Uint64())
	}

	return &Client{client: client, chainID: chainID, now: time.Now}, nil
}

// NewClient wraps an already connected ethclient.
func NewClient(client *ethclient.Client, chainID uint64) *Client {
	return &Client{client: client, chainID: chainID, now: time.Now}
}

// ChainID returns the chain this client settles on.
func (c *Client) ChainID() uint64 {
	return c.chainID
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.client.Close()
}

// Submit broadcasts the signed transaction carried in the action payload.
// Broadcasting is idempotent on the node side: resubmitting an already known
// transaction settles at most once.
func (c *Client) Submit(ctx context.Context, act settle.Action) (*settle.Receipt, error) {
	if err := act.Validate(); err != nil {
		return nil, err
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(act.Payload); err != nil {
		return nil, errors.Wrapf(errors.ErrInput, "payload is not a signed transaction: %v", err)
	}

	if err := c.client.SendTransaction(ctx, tx); err != nil {
		// A node that already knows the transaction settles it anyway,
		// so this submission still counts.
		if !isAlreadyKnown(err) {
			return nil, classify(err, "send transaction")
		}
	}

	return &settle.Receipt{
		Ref:         tx.Hash().Hex(),
		SubmittedAt: accord.AsUnixTime(c.now()),
	}, nil
}

// Status reports whether the transaction behind the receipt landed.
func (c *Client) Status(ctx context.Context, rcpt *settle.Receipt) (settle.Confirmation, error) {
	if rcpt == nil || rcpt.Ref == "" {
		return settle.ConfirmationInvalid, errors.Wrap(errors.ErrEmpty, "receipt")
	}

	hash := common.HexToHash(rcpt.Ref)
	receipt, err := c.client.TransactionReceipt(ctx, hash)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			// Not mined yet, or dropped from the pool. Either way the
			// outcome is not observable.
			return settle.ConfirmationPending, nil
		}
		return settle.ConfirmationInvalid, classify(err, "transaction receipt")
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		return settle.ConfirmationConfirmed, nil
	}
	return settle.ConfirmationFailed, nil
}

func isAlreadyKnown(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "known transaction")
}

// classify maps RPC failures onto the engine error taxonomy. Rejections that
// name the transaction content are permanent, everything else is assumed to
// be a connectivity problem and retryable.
func classify(err error, description string) error {
	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{
		"invalid sender",
		"nonce too low",
		"insufficient funds",
		"underpriced",
		"exceeds block gas limit",
		"intrinsic gas too low",
	} {
		if strings.Contains(msg, permanent) {
			return errors.Wrapf(errors.ErrInput, "%s: %v", description, err)
		}
	}
	return errors.Wrapf(errors.ErrTransient, "%s: %v", description, err)
}
