// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/walletd/walletd/app/services/walletd/handlers/v1/evtgrp"
	"github.com/walletd/walletd/app/services/walletd/handlers/v1/trangrp"
	"github.com/walletd/walletd/business/core/transfer"
	"github.com/walletd/walletd/foundation/events"
	"github.com/walletd/walletd/foundation/web"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log      *zap.SugaredLogger
	Transfer *transfer.Core
	Evts     *events.Events
}

// Routes binds all the version 1 routes.
func Routes(app *web.App, cfg Config) {
	const version = "v1"

	tgh := trangrp.Handlers{
		Log:      cfg.Log,
		Transfer: cfg.Transfer,
	}
	app.Handle(http.MethodPost, version, "/transactions", tgh.Submit)
	app.Handle(http.MethodGet, version, "/transactions/:id", tgh.Query)

	egh := evtgrp.Handlers{
		Log:  cfg.Log,
		Evts: cfg.Evts,
	}
	app.Handle(http.MethodGet, version, "/events", egh.Events)
}
