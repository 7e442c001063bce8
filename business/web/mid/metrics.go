package mid

import (
	"context"
	"expvar"
	"net/http"
	"runtime"

	"github.com/walletd/walletd/foundation/web"
)

// m contains the single instance of the metrics counters published to
// expvar. Only one instance can be created for the lifetime of the process.
var m = struct {
	goroutines *expvar.Int
	requests   *expvar.Int
	errors     *expvar.Int
	panics     *expvar.Int
}{
	goroutines: expvar.NewInt("goroutines"),
	requests:   expvar.NewInt("requests"),
	errors:     expvar.NewInt("errors"),
	panics:     expvar.NewInt("panics"),
}

// Metrics updates program counters.
func Metrics() web.Middleware {

	// This is the actual middleware function to be executed.
	mw := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

			// Call the next handler.
			err := handler(ctx, w, r)

			// Increment the request counter.
			m.requests.Add(1)

			// Update the count for the number of active goroutines every
			// 100 requests.
			if m.requests.Value()%100 == 0 {
				m.goroutines.Set(int64(runtime.NumGoroutine()))
			}

			// Return the error so it can be handled further up the chain.
			return err
		}

		return h
	}

	return mw
}

// AddErrors increments the errors metric by the specified delta.
func AddErrors(ctx context.Context, delta int) {
	m.errors.Add(int64(delta))
}

// AddPanics increments the panics metric by the specified delta.
func AddPanics(ctx context.Context, delta int) {
	m.panics.Add(int64(delta))
}
