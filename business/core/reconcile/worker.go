package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventHandler defines a function that is called when interesting
// settlement events occur, so they can be fanned out to listeners.
type EventHandler func(v string, args ...any)

// Backoff controls the retry schedule for settlement attempts. The delay
// doubles from Base on every retry and saturates at Cap.
type Backoff struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// Delay returns the wait before the specified retry. Retry 1 waits Base,
// retry 2 waits double that, and so on up to Cap.
func (b Backoff) Delay(retry int) time.Duration {
	delay := b.Base
	for i := 1; i < retry; i++ {
		delay *= 2
		if delay >= b.Cap {
			return b.Cap
		}
	}

	if delay > b.Cap {
		return b.Cap
	}

	return delay
}

// Worker schedules settlement attempts for pending transfers. Each transfer
// gets its own timer-driven goroutine so a slow chain lookup for one never
// delays another.
type Worker struct {
	log     *zap.SugaredLogger
	core    *Core
	backoff Backoff
	ev      EventHandler
	wg      sync.WaitGroup
	shut    chan struct{}
}

// NewWorker constructs a settlement worker around the specified core.
func NewWorker(log *zap.SugaredLogger, core *Core, backoff Backoff, ev EventHandler) *Worker {
	return &Worker{
		log:     log,
		core:    core,
		backoff: backoff,
		ev:      ev,
		shut:    make(chan struct{}),
	}
}

// Resume re-enqueues every transfer that was still pending when the process
// last stopped. Called once at startup.
func (w *Worker) Resume(ctx context.Context) error {
	tranIDs, err := w.core.PendingTransfers(ctx)
	if err != nil {
		return err
	}

	for _, tranID := range tranIDs {
		w.log.Infow("resuming reconciliation", "transfer", tranID)
		w.Enqueue(tranID)
	}

	return nil
}

// Enqueue schedules the first settlement attempt for a transfer. The first
// attempt runs immediately; only retries wait.
func (w *Worker) Enqueue(tranID uuid.UUID) {
	w.schedule(tranID, 1, 0)
}

// Shutdown stops scheduling and waits for in-flight attempts to drain.
func (w *Worker) Shutdown() {
	close(w.shut)
	w.wg.Wait()
}

func (w *Worker) schedule(tranID uuid.UUID, attempt int, delay time.Duration) {
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-w.shut:
			return
		case <-timer.C:
		}

		w.run(tranID, attempt)
	}()
}

func (w *Worker) run(tranID uuid.UUID, attempt int) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	outcome, err := w.core.Reconcile(ctx, tranID)
	if err != nil {
		w.log.Errorw("reconcile attempt", "transfer", tranID, "attempt", attempt, "ERROR", err)
	}

	switch outcome {
	case OutcomeFinalized:
		w.ev("reconcile: transfer %s finalized after %d attempt(s)", tranID, attempt)

	case OutcomeAlreadyFinal:

	case OutcomeRetry:
		if attempt > w.backoff.MaxRetries {
			w.core.Abandon(ctx, tranID, attempt)
			w.ev("reconcile: transfer %s abandoned after %d attempt(s)", tranID, attempt)
			return
		}

		w.schedule(tranID, attempt+1, w.backoff.Delay(attempt))
	}
}
