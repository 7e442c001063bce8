// Package ledger provides access to an Ethereum JSON-RPC endpoint for the
// small set of chain operations the wallet needs: sequence numbers, the
// chain head, raw broadcast, and receipt lookups.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
)

// TranStatus describes what the chain currently knows about a transfer.
// A transfer that is not found may still be propagating, or may never
// have reached the chain at all; the two cases are indistinguishable.
type TranStatus struct {
	Found       bool
	Reverted    bool
	BlockNumber uint64
	Fee         decimal.Decimal // gas used * effective gas price, in wei.
}

// Client provides chain access over a single JSON-RPC connection.
type Client struct {
	rpc *rpc.Client
}

// Connect establishes a connection to the specified JSON-RPC endpoint.
func Connect(ctx context.Context, url string) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dialing ledger endpoint: %w", err)
	}

	return &Client{rpc: c}, nil
}

// Close terminates the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// SequenceNumber returns the next nonce for the specified address.
func (c *Client) SequenceNumber(ctx context.Context, address common.Address) (uint64, error) {
	var nonce hexutil.Uint64
	if err := c.rpc.CallContext(ctx, &nonce, "eth_getTransactionCount", address, "latest"); err != nil {
		return 0, fmt.Errorf("sequence number for %s: %w", address, err)
	}

	return uint64(nonce), nil
}

// ChainHead returns the number of the latest block the node knows about.
func (c *Client) ChainHead(ctx context.Context) (uint64, error) {
	var head hexutil.Uint64
	if err := c.rpc.CallContext(ctx, &head, "eth_blockNumber"); err != nil {
		return 0, fmt.Errorf("chain head: %w", err)
	}

	return uint64(head), nil
}

// Broadcast submits a raw signed transfer to the chain and returns the
// hash the node computed for it. The caller compares this against the
// hash predicted from the signed payload.
func (c *Client) Broadcast(ctx context.Context, rawTx []byte) (common.Hash, error) {
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(rawTx)); err != nil {
		return common.Hash{}, fmt.Errorf("broadcasting transfer: %w", err)
	}

	return hash, nil
}

// receipt is the subset of the transaction receipt the wallet cares about.
type receipt struct {
	Status            hexutil.Uint64 `json:"status"`
	BlockNumber       *hexutil.Big   `json:"blockNumber"`
	GasUsed           hexutil.Uint64 `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big   `json:"effectiveGasPrice"`
}

// TransferStatus looks up the receipt for the specified hash. A missing
// receipt is not an error.
func (c *Client) TransferStatus(ctx context.Context, hash common.Hash) (TranStatus, error) {
	var rcpt *receipt
	if err := c.rpc.CallContext(ctx, &rcpt, "eth_getTransactionReceipt", hash); err != nil {
		return TranStatus{}, fmt.Errorf("receipt for %s: %w", hash, err)
	}

	if rcpt == nil || rcpt.BlockNumber == nil {
		return TranStatus{}, nil
	}

	status := TranStatus{
		Found:       true,
		BlockNumber: rcpt.BlockNumber.ToInt().Uint64(),
	}

	if rcpt.Status == 0 {
		status.Reverted = true
		return status, nil
	}

	gasUsed := new(big.Int).SetUint64(uint64(rcpt.GasUsed))
	status.Fee = decimal.NewFromBigInt(new(big.Int).Mul(gasUsed, rcpt.EffectiveGasPrice.ToInt()), 0)

	return status, nil
}
