// Package trangrp maintains the group of handlers for transfer access.
package trangrp

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/walletd/walletd/business/core/transfer"
	"github.com/walletd/walletd/business/web/errs"
	"github.com/walletd/walletd/foundation/web"
)

// Handlers manages the set of transfer endpoints.
type Handlers struct {
	Log      *zap.SugaredLogger
	Transfer *transfer.Core
}

// Submit debits the account and broadcasts a new transfer to the chain.
func (h Handlers) Submit(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var app AppNewTransfer
	if err := web.Decode(r, &app); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	nt, err := toCoreNewTransfer(app)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("submit transfer", "traceid", v.TraceID, "account", nt.AccountID, "to", nt.ToAddress, "amount", nt.Amount)

	tran, err := h.Transfer.Submit(ctx, nt)
	if err != nil {
		switch {
		case errors.Is(err, transfer.ErrLocked):
			return errs.NewTrusted(err, http.StatusConflict)
		case errors.Is(err, transfer.ErrAccountNotFound):
			return errs.NewTrusted(err, http.StatusNotFound)
		case errors.Is(err, transfer.ErrInsufficientFunds):
			return errs.NewTrusted(err, http.StatusBadRequest)
		default:
			return err
		}
	}

	return web.Respond(ctx, w, toAppTransfer(tran), http.StatusOK)
}

// Query returns a transfer by its id.
func (h Handlers) Query(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	tranID, err := uuid.Parse(web.Param(r, "id"))
	if err != nil {
		return errs.NewTrusted(errors.New("invalid transfer id"), http.StatusBadRequest)
	}

	tran, err := h.Transfer.QueryByID(ctx, tranID)
	if err != nil {
		if errors.Is(err, transfer.ErrNotFound) {
			return errs.NewTrusted(err, http.StatusNotFound)
		}
		return err
	}

	return web.Respond(ctx, w, toAppTransfer(tran), http.StatusOK)
}
