// Package transfer provides the core business API for submitting value
// transfers to the chain and reading them back.
package transfer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Set of error variables for the submission and query operations.
var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrNotFound          = errors.New("transfer not found")
	ErrLocked            = errors.New("account has a submission in flight")
	ErrInsufficientFunds = errors.New("insufficient available balance")
	ErrHashMismatch      = errors.New("broadcast hash does not match predicted hash")
)

// Set of cache read results. A tombstone is an authoritative miss and is
// distinct from a plain miss that must fall through to the store.
var (
	ErrCacheMiss      = errors.New("transfer not in cache")
	ErrCacheTombstone = errors.New("transfer marked absent in cache")
)

// Storer declares the behavior this package needs to persist and retrieve
// accounts and transfers.
type Storer interface {
	QueryAccountByID(ctx context.Context, accountID uuid.UUID) (Account, error)
	Create(ctx context.Context, tran Transfer) error
	QueryByID(ctx context.Context, tranID uuid.UUID) (Transfer, error)
	Finalize(ctx context.Context, tran Transfer) error
}

// Cacher declares the behavior required to mirror transfers in the result
// cache.
type Cacher interface {
	Read(ctx context.Context, tranID uuid.UUID) (Transfer, error)
	Write(ctx context.Context, tran Transfer) error
	Tombstone(ctx context.Context, tranID uuid.UUID) error
}

// Locker declares the per account mutual exclusion used to serialize
// submissions.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (bool, error)
}

// Ledger declares the chain operations needed at submission time.
type Ledger interface {
	SequenceNumber(ctx context.Context, address common.Address) (uint64, error)
	Broadcast(ctx context.Context, rawTx []byte) (common.Hash, error)
}

// Scheduler declares how reconciliation work is enqueued for a new transfer.
type Scheduler interface {
	Enqueue(tranID uuid.UUID)
}

// Config holds the chain parameters used to construct transfers. All
// transfers are paid for by the single system account that owns the
// private key.
type Config struct {
	PrivateKey *ecdsa.PrivateKey
	ChainID    *big.Int
	GasLimit   uint64
	GasFeeCap  *big.Int
	GasTipCap  *big.Int
	Fee        decimal.Decimal
}

// Core manages the set of APIs for transfer access.
type Core struct {
	log       *zap.SugaredLogger
	storer    Storer
	cacher    Cacher
	locker    Locker
	ledger    Ledger
	scheduler Scheduler
	cfg       Config
	from      common.Address
}

// NewCore constructs a core for transfer api access.
func NewCore(log *zap.SugaredLogger, storer Storer, cacher Cacher, locker Locker, ledger Ledger, scheduler Scheduler, cfg Config) *Core {
	return &Core{
		log:       log,
		storer:    storer,
		cacher:    cacher,
		locker:    locker,
		ledger:    ledger,
		scheduler: scheduler,
		cfg:       cfg,
		from:      crypto.PubkeyToAddress(cfg.PrivateKey.PublicKey),
	}
}

// Submit debits the account's available balance, signs and broadcasts a
// transfer to the chain, and enqueues the reconciliation that will settle
// it. The record and the balance debit are made durable before the chain
// ever sees the transfer so a crash cannot produce an untracked transfer.
func (c *Core) Submit(ctx context.Context, nt NewTransfer) (Transfer, error) {

	// Serialize submissions per account. The lock is never released here;
	// its TTL outlives the critical section and expires on its own.
	acquired, err := c.locker.TryAcquire(ctx, nt.AccountID.String())
	if err != nil {
		return Transfer{}, fmt.Errorf("acquiring account lock: %w", err)
	}
	if !acquired {
		return Transfer{}, ErrLocked
	}

	account, err := c.storer.QueryAccountByID(ctx, nt.AccountID)
	if err != nil {
		return Transfer{}, fmt.Errorf("query account[%s]: %w", nt.AccountID, err)
	}

	// The account pays the transfer amount plus the flat service fee. The
	// check must reject, not clamp.
	hold := nt.Amount.Add(c.cfg.Fee)
	if account.AvailableBalance.LessThan(hold) {
		return Transfer{}, ErrInsufficientFunds
	}

	nonce, err := c.ledger.SequenceNumber(ctx, c.from)
	if err != nil {
		return Transfer{}, fmt.Errorf("sequence number: %w", err)
	}

	to := common.HexToAddress(nt.ToAddress)
	signedTx, err := types.SignNewTx(c.cfg.PrivateKey, types.LatestSignerForChainID(c.cfg.ChainID), &types.DynamicFeeTx{
		ChainID:   c.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: c.cfg.GasTipCap,
		GasFeeCap: c.cfg.GasFeeCap,
		Gas:       c.cfg.GasLimit,
		To:        &to,
		Value:     nt.Amount.BigInt(),
	})
	if err != nil {
		return Transfer{}, fmt.Errorf("signing transfer: %w", err)
	}

	// The hash is fully determined by the signed payload before the chain
	// ever sees it.
	predicted := signedTx.Hash()

	rawTx, err := signedTx.MarshalBinary()
	if err != nil {
		return Transfer{}, fmt.Errorf("encoding transfer: %w", err)
	}

	tran := Transfer{
		ID:          uuid.New(),
		AccountID:   nt.AccountID,
		Hash:        predicted.Hex(),
		FromAddress: c.from.Hex(),
		ToAddress:   to.Hex(),
		Amount:      nt.Amount,
		FeeTotal:    c.cfg.Fee,
		FeeLedger:   decimal.Zero,
		Status:      StatusPending,
	}

	if err := c.storer.Create(ctx, tran); err != nil {
		return Transfer{}, fmt.Errorf("create transfer: %w", err)
	}

	actual, err := c.ledger.Broadcast(ctx, rawTx)
	if err != nil {

		// The record is already durable and the node may have accepted the
		// transfer before the transport failed, so reconcile it anyway.
		c.scheduler.Enqueue(tran.ID)
		return Transfer{}, fmt.Errorf("broadcast transfer[%s]: %w", tran.ID, err)
	}

	// A different hash means the payload the node accepted is not the one
	// recorded, typically a stale nonce from concurrent signing. Retrying
	// could double-submit, so no reconciliation is scheduled.
	if actual != predicted {
		c.log.Errorw("hash mismatch", "transfer", tran.ID, "predicted", predicted.Hex(), "actual", actual.Hex())
		return Transfer{}, ErrHashMismatch
	}

	if err := c.cacher.Write(ctx, tran); err != nil {
		c.log.Errorw("unable to cache transfer", "transfer", tran.ID, "ERROR", err)
	}

	c.scheduler.Enqueue(tran.ID)

	return tran, nil
}

// QueryByID finds the transfer by the specified ID. Reads are served from
// the cache when possible, and confirmed absence is recorded there so
// repeated lookups for an unknown id stop reaching the store.
func (c *Core) QueryByID(ctx context.Context, tranID uuid.UUID) (Transfer, error) {
	tran, err := c.cacher.Read(ctx, tranID)
	switch {
	case err == nil:
		return tran, nil

	case errors.Is(err, ErrCacheTombstone):
		return Transfer{}, ErrNotFound

	case errors.Is(err, ErrCacheMiss):

	default:

		// The cache is a best-effort copy; fall through to the store.
		c.log.Errorw("cache read", "transfer", tranID, "ERROR", err)
	}

	tran, err = c.storer.QueryByID(ctx, tranID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if err := c.cacher.Tombstone(ctx, tranID); err != nil {
				c.log.Errorw("cache tombstone", "transfer", tranID, "ERROR", err)
			}
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, fmt.Errorf("query transfer[%s]: %w", tranID, err)
	}

	if err := c.cacher.Write(ctx, tran); err != nil {
		c.log.Errorw("cache write", "transfer", tranID, "ERROR", err)
	}

	return tran, nil
}
