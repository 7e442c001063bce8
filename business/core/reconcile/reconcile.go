// Package reconcile settles pending transfers against chain finality. Each
// pending transfer is checked against the chain until its block is deep
// enough, then finalized exactly once in the database and mirrored to the
// cache and the settlement topic.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/walletd/walletd/business/core/transfer"
	"github.com/walletd/walletd/foundation/ledger"
)

// Outcome is the result of a single reconciliation attempt.
type Outcome int

// Set of outcomes an attempt can produce.
const (
	OutcomeRetry Outcome = iota
	OutcomeFinalized
	OutcomeAlreadyFinal
)

// Set of settlement event names published to the broker.
const (
	EventSettled   = "transfer.settled"
	EventAbandoned = "transfer.abandoned"
)

// Event is the settlement notification written to the broker.
type Event struct {
	Name       string          `json:"name"`
	TransferID uuid.UUID       `json:"transfer_id"`
	Status     transfer.Status `json:"status"`
	FeeLedger  decimal.Decimal `json:"fee_ledger"`
	Attempts   int             `json:"attempts"`
}

// Storer declares the behavior this package needs to load and finalize
// transfers.
type Storer interface {
	QueryByID(ctx context.Context, tranID uuid.UUID) (transfer.Transfer, error)
	Finalize(ctx context.Context, tran transfer.Transfer) error
	QueryPending(ctx context.Context) ([]uuid.UUID, error)
}

// Ledger declares the chain operations needed at settlement time.
type Ledger interface {
	TransferStatus(ctx context.Context, hash common.Hash) (ledger.TranStatus, error)
	ChainHead(ctx context.Context) (uint64, error)
}

// Publisher declares how settlement events leave the process.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Core manages the settlement of pending transfers.
type Core struct {
	log    *zap.SugaredLogger
	storer Storer
	cacher transfer.Cacher
	ledger Ledger
	pub    Publisher
	depth  uint64
}

// NewCore constructs a core for settlement access. Depth is the number of
// blocks that must sit on top of a transfer's block before it counts as
// final.
func NewCore(log *zap.SugaredLogger, storer Storer, cacher transfer.Cacher, ledger Ledger, pub Publisher, depth uint64) *Core {
	return &Core{
		log:    log,
		storer: storer,
		cacher: cacher,
		ledger: ledger,
		pub:    pub,
		depth:  depth,
	}
}

// Reconcile performs one settlement attempt for the specified transfer. It
// reloads the record first so a transfer finalized elsewhere is never
// settled twice.
func (c *Core) Reconcile(ctx context.Context, tranID uuid.UUID) (Outcome, error) {
	tran, err := c.storer.QueryByID(ctx, tranID)
	if err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			return OutcomeAlreadyFinal, fmt.Errorf("transfer[%s] missing: %w", tranID, err)
		}
		return OutcomeRetry, fmt.Errorf("query transfer[%s]: %w", tranID, err)
	}

	if tran.Status.Terminal() {
		return OutcomeAlreadyFinal, nil
	}

	status, err := c.ledger.TransferStatus(ctx, common.HexToHash(tran.Hash))
	if err != nil {
		return OutcomeRetry, fmt.Errorf("transfer status[%s]: %w", tranID, err)
	}

	if !status.Found {
		return OutcomeRetry, nil
	}

	switch {
	case status.Reverted:

		// The chain charged gas for the reverted transfer but the wallet's
		// flat fee was already held, so the hold is forfeited as-is.
		tran.Status = transfer.StatusFailed

	default:
		head, err := c.ledger.ChainHead(ctx)
		if err != nil {
			return OutcomeRetry, fmt.Errorf("chain head: %w", err)
		}
		if status.BlockNumber+c.depth > head {
			return OutcomeRetry, nil
		}

		tran.Status = transfer.StatusSuccessful
		tran.FeeLedger = status.Fee
	}

	if err := c.storer.Finalize(ctx, tran); err != nil {
		return OutcomeRetry, fmt.Errorf("finalize transfer[%s]: %w", tranID, err)
	}

	if err := c.cacher.Write(ctx, tran); err != nil {
		c.log.Errorw("cache write", "transfer", tranID, "ERROR", err)
	}

	c.publish(ctx, Event{
		Name:       EventSettled,
		TransferID: tran.ID,
		Status:     tran.Status,
		FeeLedger:  tran.FeeLedger,
	})

	return OutcomeFinalized, nil
}

// PendingTransfers returns the ids of all transfers that still need
// settlement.
func (c *Core) PendingTransfers(ctx context.Context) ([]uuid.UUID, error) {
	return c.storer.QueryPending(ctx)
}

// Abandon reports a transfer whose settlement attempts are exhausted. The
// record stays PENDING; an operator has to look at it.
func (c *Core) Abandon(ctx context.Context, tranID uuid.UUID, attempts int) {
	c.log.Errorw("reconciliation exhausted", "transfer", tranID, "attempts", attempts)

	c.publish(ctx, Event{
		Name:       EventAbandoned,
		TransferID: tranID,
		Status:     transfer.StatusPending,
		Attempts:   attempts,
	})
}

func (c *Core) publish(ctx context.Context, event Event) {
	if err := c.pub.Publish(ctx, event.TransferID.String(), event); err != nil {
		c.log.Errorw("publish settlement event", "transfer", event.TransferID, "event", event.Name, "ERROR", err)
	}
}
