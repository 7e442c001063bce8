// Package transferdb contains account and transfer storage backed by
// postgres. Balance mutations always happen inside the same database
// transaction as the transfer record they belong to.
package transferdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/walletd/walletd/business/core/transfer"
	"github.com/walletd/walletd/business/sys/database"
)

// Store manages the set of APIs for transfer database access.
type Store struct {
	log *zap.SugaredLogger
	db  *sql.DB
}

// NewStore constructs a data store for api access.
func NewStore(log *zap.SugaredLogger, db *sql.DB) *Store {
	return &Store{
		log: log,
		db:  db,
	}
}

// QueryAccountByID retrieves the account with the specified id.
func (s *Store) QueryAccountByID(ctx context.Context, accountID uuid.UUID) (transfer.Account, error) {
	const q = `
	SELECT
		account_id, available_balance, current_balance
	FROM
		accounts
	WHERE
		account_id = $1`

	var account transfer.Account
	err := s.db.QueryRowContext(ctx, q, accountID).Scan(&account.ID, &account.AvailableBalance, &account.CurrentBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transfer.Account{}, transfer.ErrAccountNotFound
		}
		return transfer.Account{}, fmt.Errorf("selecting account: %w", err)
	}

	return account, nil
}

// Create inserts the pending transfer and debits the account's available
// balance by amount plus fee inside one database transaction. The commit
// must happen before the transfer is broadcast.
func (s *Store) Create(ctx context.Context, tran transfer.Transfer) error {
	f := func(tx *sql.Tx) error {
		const insert = `
		INSERT INTO transfers
			(transfer_id, account_id, hash, from_address, to_address, amount, fee_total, fee_ledger, status)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9)`

		if _, err := tx.ExecContext(ctx, insert, tran.ID, tran.AccountID, tran.Hash, tran.FromAddress, tran.ToAddress, tran.Amount, tran.FeeTotal, tran.FeeLedger, tran.Status); err != nil {
			return fmt.Errorf("inserting transfer: %w", err)
		}

		const debit = `
		UPDATE accounts SET
			available_balance = available_balance - $2
		WHERE
			account_id = $1 AND available_balance >= $2`

		hold := tran.Amount.Add(tran.FeeTotal)
		result, err := tx.ExecContext(ctx, debit, tran.AccountID, hold)
		if err != nil {
			return fmt.Errorf("debiting available balance: %w", err)
		}

		// The core pre-checks the balance, but the guard in the WHERE clause
		// is what actually keeps the available balance from going negative.
		count, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if count != 1 {
			return transfer.ErrInsufficientFunds
		}

		return nil
	}

	return database.WithinTran(ctx, s.log, s.db, f)
}

// QueryByID retrieves the transfer with the specified id.
func (s *Store) QueryByID(ctx context.Context, tranID uuid.UUID) (transfer.Transfer, error) {
	const q = `
	SELECT
		transfer_id, account_id, hash, from_address, to_address, amount, fee_total, fee_ledger, status
	FROM
		transfers
	WHERE
		transfer_id = $1`

	var tran transfer.Transfer
	var status string
	err := s.db.QueryRowContext(ctx, q, tranID).Scan(&tran.ID, &tran.AccountID, &tran.Hash, &tran.FromAddress, &tran.ToAddress, &tran.Amount, &tran.FeeTotal, &tran.FeeLedger, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transfer.Transfer{}, transfer.ErrNotFound
		}
		return transfer.Transfer{}, fmt.Errorf("selecting transfer: %w", err)
	}

	tran.Status, err = transfer.ParseStatus(status)
	if err != nil {
		return transfer.Transfer{}, fmt.Errorf("selecting transfer: %w", err)
	}

	return tran, nil
}

// Finalize applies the single terminal status transition for a transfer.
// On success the settled funds leave the current balance in the same
// database transaction as the status change. The status guard makes a
// duplicate finalize a no-op failure instead of a double settlement.
func (s *Store) Finalize(ctx context.Context, tran transfer.Transfer) error {
	f := func(tx *sql.Tx) error {
		const update = `
		UPDATE transfers SET
			status = $2,
			fee_ledger = $3
		WHERE
			transfer_id = $1 AND status = 'PENDING'`

		result, err := tx.ExecContext(ctx, update, tran.ID, tran.Status, tran.FeeLedger)
		if err != nil {
			return fmt.Errorf("updating transfer status: %w", err)
		}

		count, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if count != 1 {
			return fmt.Errorf("transfer[%s] already finalized", tran.ID)
		}

		if tran.Status == transfer.StatusSuccessful {
			const settle = `
			UPDATE accounts SET
				current_balance = current_balance - $2
			WHERE
				account_id = $1`

			settled := tran.Amount.Add(tran.FeeTotal)
			if _, err := tx.ExecContext(ctx, settle, tran.AccountID, settled); err != nil {
				return fmt.Errorf("settling current balance: %w", err)
			}
		}

		return nil
	}

	return database.WithinTran(ctx, s.log, s.db, f)
}

// QueryPending returns the ids of all transfers still awaiting
// reconciliation. Used at startup to rebuild the in-process schedule.
func (s *Store) QueryPending(ctx context.Context) ([]uuid.UUID, error) {
	const q = `
	SELECT
		transfer_id
	FROM
		transfers
	WHERE
		status = 'PENDING'`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("selecting pending transfers: %w", err)
	}
	defer rows.Close()

	var tranIDs []uuid.UUID
	for rows.Next() {
		var tranID uuid.UUID
		if err := rows.Scan(&tranID); err != nil {
			return nil, fmt.Errorf("scanning pending transfer: %w", err)
		}
		tranIDs = append(tranIDs, tranID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tranIDs, nil
}
