// Package transfercache mirrors finalized and in-flight transfers in redis
// so reads stop reaching postgres. A confirmed-absent id is recorded as a
// tombstone hash carrying only the id field, on a shorter TTL than a real
// mirror entry.
package transfercache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/walletd/walletd/business/core/transfer"
)

// Store manages the transfer mirror inside redis.
type Store struct {
	client       *redis.Client
	mirrorTTL    time.Duration
	tombstoneTTL time.Duration
}

// NewStore constructs a cache store. The tombstone TTL must be shorter than
// the mirror TTL so a created transfer outlives any stale absence marker.
func NewStore(client *redis.Client, mirrorTTL time.Duration, tombstoneTTL time.Duration) (*Store, error) {
	if tombstoneTTL >= mirrorTTL {
		return nil, fmt.Errorf("tombstone ttl [%s] must be shorter than mirror ttl [%s]", tombstoneTTL, mirrorTTL)
	}

	return &Store{
		client:       client,
		mirrorTTL:    mirrorTTL,
		tombstoneTTL: tombstoneTTL,
	}, nil
}

// Read returns the cached transfer for the id. A missing key reports
// transfer.ErrCacheMiss and a tombstone reports transfer.ErrCacheTombstone.
func (s *Store) Read(ctx context.Context, tranID uuid.UUID) (transfer.Transfer, error) {
	fields, err := s.client.HGetAll(ctx, cacheKey(tranID)).Result()
	if err != nil {
		return transfer.Transfer{}, fmt.Errorf("reading cache: %w", err)
	}

	switch len(fields) {
	case 0:
		return transfer.Transfer{}, transfer.ErrCacheMiss
	case 1:
		return transfer.Transfer{}, transfer.ErrCacheTombstone
	}

	tran, err := parseFields(fields)
	if err != nil {
		return transfer.Transfer{}, fmt.Errorf("parsing cache entry: %w", err)
	}

	return tran, nil
}

// Write mirrors the transfer under the mirror TTL, replacing any tombstone
// for the same id.
func (s *Store) Write(ctx context.Context, tran transfer.Transfer) error {
	key := cacheKey(tran.ID)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, toFields(tran))
	pipe.Expire(ctx, key, s.mirrorTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}

	return nil
}

// Tombstone records that the id does not exist so repeated lookups for it
// can be answered without the database.
func (s *Store) Tombstone(ctx context.Context, tranID uuid.UUID) error {
	key := cacheKey(tranID)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, "id", tranID.String())
	pipe.Expire(ctx, key, s.tombstoneTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing tombstone: %w", err)
	}

	return nil
}

// =============================================================================

func cacheKey(tranID uuid.UUID) string {
	return "transfer:" + tranID.String()
}

func toFields(tran transfer.Transfer) map[string]string {
	return map[string]string{
		"id":           tran.ID.String(),
		"account_id":   tran.AccountID.String(),
		"hash":         tran.Hash,
		"from_address": tran.FromAddress,
		"to_address":   tran.ToAddress,
		"amount":       tran.Amount.String(),
		"fee_total":    tran.FeeTotal.String(),
		"fee_ledger":   tran.FeeLedger.String(),
		"status":       string(tran.Status),
	}
}

func parseFields(fields map[string]string) (transfer.Transfer, error) {
	id, err := uuid.Parse(fields["id"])
	if err != nil {
		return transfer.Transfer{}, errors.New("missing or invalid id field")
	}

	accountID, err := uuid.Parse(fields["account_id"])
	if err != nil {
		return transfer.Transfer{}, errors.New("missing or invalid account_id field")
	}

	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return transfer.Transfer{}, errors.New("missing or invalid amount field")
	}

	feeTotal, err := decimal.NewFromString(fields["fee_total"])
	if err != nil {
		return transfer.Transfer{}, errors.New("missing or invalid fee_total field")
	}

	feeLedger, err := decimal.NewFromString(fields["fee_ledger"])
	if err != nil {
		return transfer.Transfer{}, errors.New("missing or invalid fee_ledger field")
	}

	status, err := transfer.ParseStatus(fields["status"])
	if err != nil {
		return transfer.Transfer{}, err
	}

	return transfer.Transfer{
		ID:          id,
		AccountID:   accountID,
		Hash:        fields["hash"],
		FromAddress: fields["from_address"],
		ToAddress:   fields["to_address"],
		Amount:      amount,
		FeeTotal:    feeTotal,
		FeeLedger:   feeLedger,
		Status:      status,
	}, nil
}
