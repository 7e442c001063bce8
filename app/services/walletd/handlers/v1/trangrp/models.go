package trangrp

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/walletd/walletd/business/core/transfer"
	"github.com/walletd/walletd/business/sys/validate"
)

// AppNewTransfer is what a client provides to submit a transfer.
type AppNewTransfer struct {
	AccountID string `json:"account_id" validate:"required,uuid"`
	ToAddress string `json:"to_address" validate:"required,eth_addr"`
	Amount    string `json:"amount" validate:"required"`
}

// Validate checks the data in the model is considered clean.
func (app AppNewTransfer) Validate() error {
	if err := validate.Check(app); err != nil {
		return err
	}
	return nil
}

func toCoreNewTransfer(app AppNewTransfer) (transfer.NewTransfer, error) {
	accountID, err := uuid.Parse(app.AccountID)
	if err != nil {
		return transfer.NewTransfer{}, fmt.Errorf("parsing account id: %w", err)
	}

	amount, err := decimal.NewFromString(app.Amount)
	if err != nil {
		return transfer.NewTransfer{}, fmt.Errorf("parsing amount: %w", err)
	}

	// Amounts are whole wei.
	if !amount.IsPositive() || !amount.IsInteger() {
		return transfer.NewTransfer{}, fmt.Errorf("amount [%s] must be a positive integer", app.Amount)
	}

	nt := transfer.NewTransfer{
		AccountID: accountID,
		ToAddress: app.ToAddress,
		Amount:    amount,
	}

	return nt, nil
}

// AppTransfer is what is returned to a client for a transfer.
type AppTransfer struct {
	ID          string `json:"id"`
	AccountID   string `json:"account_id"`
	Hash        string `json:"hash"`
	FromAddress string `json:"from_address"`
	ToAddress   string `json:"to_address"`
	Amount      string `json:"amount"`
	FeeTotal    string `json:"fee_total"`
	FeeLedger   string `json:"fee_ledger"`
	Status      string `json:"status"`
}

func toAppTransfer(tran transfer.Transfer) AppTransfer {
	return AppTransfer{
		ID:          tran.ID.String(),
		AccountID:   tran.AccountID.String(),
		Hash:        tran.Hash,
		FromAddress: tran.FromAddress,
		ToAddress:   tran.ToAddress,
		Amount:      tran.Amount.String(),
		FeeTotal:    tran.FeeTotal.String(),
		FeeLedger:   tran.FeeLedger.String(),
		Status:      string(tran.Status),
	}
}
