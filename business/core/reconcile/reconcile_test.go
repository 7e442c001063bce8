package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/walletd/walletd/business/core/reconcile"
	"github.com/walletd/walletd/business/core/transfer"
	"github.com/walletd/walletd/foundation/ledger"
)

const (
	success = "✓"
	failed  = "✗"
)

const confirmationDepth = 10

func TestReconcile(t *testing.T) {
	t.Log("Given the need to settle pending transfers against chain finality.")
	{
		t.Logf("\tTest 0:\tWhen the transfer's block is deep enough.")
		{
			store, tran := newFakeStore(decimal.NewFromInt(10))
			chain := &fakeLedger{
				status: ledger.TranStatus{Found: true, BlockNumber: 100, Fee: decimal.NewFromInt(42)},
				head:   110,
			}
			pub := newFakePublisher()
			core := newTestCore(store, newFakeCacher(), chain, pub)

			outcome, err := core.Reconcile(context.Background(), tran.ID)
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould reconcile without error: %v", failed, err)
			}
			if outcome != reconcile.OutcomeFinalized {
				t.Fatalf("\t%s\tTest 0:\tShould report OutcomeFinalized. got %v", failed, outcome)
			}
			t.Logf("\t%s\tTest 0:\tShould finalize the transfer.", success)

			got := store.transfer(tran.ID)
			if got.Status != transfer.StatusSuccessful {
				t.Fatalf("\t%s\tTest 0:\tShould mark the transfer SUCCESSFUL. got %q", failed, got.Status)
			}
			t.Logf("\t%s\tTest 0:\tShould mark the transfer SUCCESSFUL.", success)

			if !got.FeeLedger.Equal(decimal.NewFromInt(42)) {
				t.Fatalf("\t%s\tTest 0:\tShould record the chain fee. got %s", failed, got.FeeLedger)
			}
			t.Logf("\t%s\tTest 0:\tShould record the chain fee.", success)

			account := store.account(tran.AccountID)
			if !account.CurrentBalance.Equal(decimal.NewFromInt(6)) {
				t.Fatalf("\t%s\tTest 0:\tShould settle the current balance. got %s", failed, account.CurrentBalance)
			}
			t.Logf("\t%s\tTest 0:\tShould settle the current balance.", success)

			event := pub.wait(t)
			if event.Name != reconcile.EventSettled || event.Status != transfer.StatusSuccessful {
				t.Fatalf("\t%s\tTest 0:\tShould publish a settled event. got %+v", failed, event)
			}
			t.Logf("\t%s\tTest 0:\tShould publish a settled event.", success)
		}

		t.Logf("\tTest 1:\tWhen the chain has not seen the transfer.")
		{
			store, tran := newFakeStore(decimal.NewFromInt(10))
			core := newTestCore(store, newFakeCacher(), &fakeLedger{head: 110}, newFakePublisher())

			outcome, err := core.Reconcile(context.Background(), tran.ID)
			if err != nil {
				t.Fatalf("\t%s\tTest 1:\tShould not report an error: %v", failed, err)
			}
			if outcome != reconcile.OutcomeRetry {
				t.Fatalf("\t%s\tTest 1:\tShould report OutcomeRetry. got %v", failed, outcome)
			}
			t.Logf("\t%s\tTest 1:\tShould report OutcomeRetry.", success)

			if store.transfer(tran.ID).Status != transfer.StatusPending {
				t.Fatalf("\t%s\tTest 1:\tShould leave the transfer PENDING.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould leave the transfer PENDING.", success)
		}

		t.Logf("\tTest 2:\tWhen the transfer's block is too shallow.")
		{
			store, tran := newFakeStore(decimal.NewFromInt(10))
			chain := &fakeLedger{
				status: ledger.TranStatus{Found: true, BlockNumber: 105, Fee: decimal.NewFromInt(42)},
				head:   110,
			}
			core := newTestCore(store, newFakeCacher(), chain, newFakePublisher())

			outcome, err := core.Reconcile(context.Background(), tran.ID)
			if err != nil {
				t.Fatalf("\t%s\tTest 2:\tShould not report an error: %v", failed, err)
			}
			if outcome != reconcile.OutcomeRetry {
				t.Fatalf("\t%s\tTest 2:\tShould report OutcomeRetry. got %v", failed, outcome)
			}
			t.Logf("\t%s\tTest 2:\tShould report OutcomeRetry.", success)
		}

		t.Logf("\tTest 3:\tWhen the chain reverted the transfer.")
		{
			store, tran := newFakeStore(decimal.NewFromInt(10))
			chain := &fakeLedger{
				status: ledger.TranStatus{Found: true, Reverted: true, BlockNumber: 100},
				head:   110,
			}
			pub := newFakePublisher()
			core := newTestCore(store, newFakeCacher(), chain, pub)

			outcome, err := core.Reconcile(context.Background(), tran.ID)
			if err != nil {
				t.Fatalf("\t%s\tTest 3:\tShould reconcile without error: %v", failed, err)
			}
			if outcome != reconcile.OutcomeFinalized {
				t.Fatalf("\t%s\tTest 3:\tShould report OutcomeFinalized. got %v", failed, outcome)
			}
			t.Logf("\t%s\tTest 3:\tShould finalize the transfer.", success)

			if store.transfer(tran.ID).Status != transfer.StatusFailed {
				t.Fatalf("\t%s\tTest 3:\tShould mark the transfer FAILED.", failed)
			}
			t.Logf("\t%s\tTest 3:\tShould mark the transfer FAILED.", success)

			account := store.account(tran.AccountID)
			if !account.CurrentBalance.Equal(decimal.NewFromInt(10)) {
				t.Fatalf("\t%s\tTest 3:\tShould not settle the current balance. got %s", failed, account.CurrentBalance)
			}
			t.Logf("\t%s\tTest 3:\tShould not settle the current balance.", success)

			event := pub.wait(t)
			if event.Status != transfer.StatusFailed {
				t.Fatalf("\t%s\tTest 3:\tShould publish the FAILED settlement. got %+v", failed, event)
			}
			t.Logf("\t%s\tTest 3:\tShould publish the FAILED settlement.", success)
		}

		t.Logf("\tTest 4:\tWhen the chain lookup fails.")
		{
			store, tran := newFakeStore(decimal.NewFromInt(10))
			core := newTestCore(store, newFakeCacher(), &fakeLedger{statusErr: errors.New("timeout")}, newFakePublisher())

			outcome, err := core.Reconcile(context.Background(), tran.ID)
			if err == nil {
				t.Fatalf("\t%s\tTest 4:\tShould surface the lookup error.", failed)
			}
			if outcome != reconcile.OutcomeRetry {
				t.Fatalf("\t%s\tTest 4:\tShould report OutcomeRetry. got %v", failed, outcome)
			}
			t.Logf("\t%s\tTest 4:\tShould report OutcomeRetry with the error.", success)
		}

		t.Logf("\tTest 5:\tWhen the transfer was already finalized.")
		{
			store, tran := newFakeStore(decimal.NewFromInt(10))
			chain := &fakeLedger{
				status: ledger.TranStatus{Found: true, BlockNumber: 100, Fee: decimal.NewFromInt(42)},
				head:   110,
			}
			core := newTestCore(store, newFakeCacher(), chain, newFakePublisher())

			if _, err := core.Reconcile(context.Background(), tran.ID); err != nil {
				t.Fatalf("\t%s\tTest 5:\tShould reconcile without error: %v", failed, err)
			}

			outcome, err := core.Reconcile(context.Background(), tran.ID)
			if err != nil {
				t.Fatalf("\t%s\tTest 5:\tShould not report an error: %v", failed, err)
			}
			if outcome != reconcile.OutcomeAlreadyFinal {
				t.Fatalf("\t%s\tTest 5:\tShould report OutcomeAlreadyFinal. got %v", failed, outcome)
			}
			t.Logf("\t%s\tTest 5:\tShould report OutcomeAlreadyFinal on the second attempt.", success)

			account := store.account(tran.AccountID)
			if !account.CurrentBalance.Equal(decimal.NewFromInt(6)) {
				t.Fatalf("\t%s\tTest 5:\tShould settle the balance exactly once. got %s", failed, account.CurrentBalance)
			}
			t.Logf("\t%s\tTest 5:\tShould settle the balance exactly once.", success)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Log("Given the need to compute retry delays.")
	{
		t.Logf("\tTest 0:\tWhen doubling from the base up to the cap.")
		{
			backoff := reconcile.Backoff{Base: 100 * time.Second, Cap: 1600 * time.Second, MaxRetries: 20}

			want := []time.Duration{
				100 * time.Second,
				200 * time.Second,
				400 * time.Second,
				800 * time.Second,
				1600 * time.Second,
				1600 * time.Second,
			}

			for i, expected := range want {
				if got := backoff.Delay(i + 1); got != expected {
					t.Fatalf("\t%s\tTest 0:\tShould compute delay for retry %d. got %s want %s", failed, i+1, got, expected)
				}
			}
			t.Logf("\t%s\tTest 0:\tShould double from the base and saturate at the cap.", success)
		}
	}
}

func TestWorker(t *testing.T) {
	t.Log("Given the need to drive settlement attempts on a schedule.")
	{
		t.Logf("\tTest 0:\tWhen a transfer finalizes on a retry.")
		{
			store, tran := newFakeStore(decimal.NewFromInt(10))
			chain := &fakeLedger{
				status: ledger.TranStatus{Found: true, BlockNumber: 100, Fee: decimal.NewFromInt(42)},
				head:   110,
				misses: 2,
			}
			pub := newFakePublisher()
			core := newTestCore(store, newFakeCacher(), chain, pub)

			worker := reconcile.NewWorker(zap.NewNop().Sugar(), core, reconcile.Backoff{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxRetries: 5}, func(string, ...any) {})
			worker.Enqueue(tran.ID)

			event := pub.wait(t)
			worker.Shutdown()

			if event.Name != reconcile.EventSettled {
				t.Fatalf("\t%s\tTest 0:\tShould publish the settled event. got %+v", failed, event)
			}
			t.Logf("\t%s\tTest 0:\tShould settle after retries.", success)

			if store.transfer(tran.ID).Status != transfer.StatusSuccessful {
				t.Fatalf("\t%s\tTest 0:\tShould mark the transfer SUCCESSFUL.", failed)
			}
			t.Logf("\t%s\tTest 0:\tShould mark the transfer SUCCESSFUL.", success)
		}

		t.Logf("\tTest 1:\tWhen every attempt comes back unsettled.")
		{
			store, tran := newFakeStore(decimal.NewFromInt(10))
			pub := newFakePublisher()
			core := newTestCore(store, newFakeCacher(), &fakeLedger{head: 110}, pub)

			worker := reconcile.NewWorker(zap.NewNop().Sugar(), core, reconcile.Backoff{Base: time.Millisecond, Cap: 2 * time.Millisecond, MaxRetries: 3}, func(string, ...any) {})
			worker.Enqueue(tran.ID)

			event := pub.wait(t)
			worker.Shutdown()

			if event.Name != reconcile.EventAbandoned {
				t.Fatalf("\t%s\tTest 1:\tShould publish the abandoned event. got %+v", failed, event)
			}
			t.Logf("\t%s\tTest 1:\tShould abandon after the retries run out.", success)

			if store.transfer(tran.ID).Status != transfer.StatusPending {
				t.Fatalf("\t%s\tTest 1:\tShould leave the transfer PENDING for an operator.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould leave the transfer PENDING for an operator.", success)
		}
	}
}

// =============================================================================

func newTestCore(store *fakeStore, cache *fakeCacher, chain *fakeLedger, pub *fakePublisher) *reconcile.Core {
	return reconcile.NewCore(zap.NewNop().Sugar(), store, cache, chain, pub, confirmationDepth)
}

type fakeStore struct {
	mu        sync.Mutex
	accounts  map[uuid.UUID]transfer.Account
	transfers map[uuid.UUID]transfer.Transfer
}

// newFakeStore seeds one account with the specified balance and one pending
// transfer of amount 3 with fee 1 against it.
func newFakeStore(balance decimal.Decimal) (*fakeStore, transfer.Transfer) {
	accountID := uuid.New()
	tran := transfer.Transfer{
		ID:          uuid.New(),
		AccountID:   accountID,
		Hash:        common.HexToHash("0x01").Hex(),
		FromAddress: "0xfrom",
		ToAddress:   "0xto",
		Amount:      decimal.NewFromInt(3),
		FeeTotal:    decimal.NewFromInt(1),
		FeeLedger:   decimal.Zero,
		Status:      transfer.StatusPending,
	}

	s := fakeStore{
		accounts: map[uuid.UUID]transfer.Account{
			accountID: {ID: accountID, AvailableBalance: balance.Sub(decimal.NewFromInt(4)), CurrentBalance: balance},
		},
		transfers: map[uuid.UUID]transfer.Transfer{
			tran.ID: tran,
		},
	}

	return &s, tran
}

func (s *fakeStore) account(id uuid.UUID) transfer.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[id]
}

func (s *fakeStore) transfer(id uuid.UUID) transfer.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transfers[id]
}

func (s *fakeStore) QueryByID(_ context.Context, tranID uuid.UUID) (transfer.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tran, exists := s.transfers[tranID]
	if !exists {
		return transfer.Transfer{}, transfer.ErrNotFound
	}
	return tran, nil
}

func (s *fakeStore) Finalize(_ context.Context, tran transfer.Transfer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.transfers[tran.ID]
	if !exists || current.Status != transfer.StatusPending {
		return errors.New("already finalized")
	}

	s.transfers[tran.ID] = tran
	if tran.Status == transfer.StatusSuccessful {
		account := s.accounts[tran.AccountID]
		account.CurrentBalance = account.CurrentBalance.Sub(tran.Amount.Add(tran.FeeTotal))
		s.accounts[tran.AccountID] = account
	}
	return nil
}

func (s *fakeStore) QueryPending(_ context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uuid.UUID
	for id, tran := range s.transfers {
		if tran.Status == transfer.StatusPending {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type fakeCacher struct {
	mu      sync.Mutex
	entries map[uuid.UUID]transfer.Transfer
}

func newFakeCacher() *fakeCacher {
	return &fakeCacher{entries: make(map[uuid.UUID]transfer.Transfer)}
}

func (c *fakeCacher) Read(_ context.Context, tranID uuid.UUID) (transfer.Transfer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tran, exists := c.entries[tranID]
	if !exists {
		return transfer.Transfer{}, transfer.ErrCacheMiss
	}
	return tran, nil
}

func (c *fakeCacher) Write(_ context.Context, tran transfer.Transfer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[tran.ID] = tran
	return nil
}

func (c *fakeCacher) Tombstone(_ context.Context, tranID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, tranID)
	return nil
}

// fakeLedger reports the configured status after misses not-found answers.
type fakeLedger struct {
	mu        sync.Mutex
	status    ledger.TranStatus
	statusErr error
	head      uint64
	misses    int
}

func (l *fakeLedger) TransferStatus(_ context.Context, _ common.Hash) (ledger.TranStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.statusErr != nil {
		return ledger.TranStatus{}, l.statusErr
	}
	if l.misses > 0 {
		l.misses--
		return ledger.TranStatus{}, nil
	}
	return l.status, nil
}

func (l *fakeLedger) ChainHead(_ context.Context) (uint64, error) {
	return l.head, nil
}

type fakePublisher struct {
	events chan reconcile.Event
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{events: make(chan reconcile.Event, 10)}
}

func (p *fakePublisher) Publish(_ context.Context, _ string, event any) error {
	p.events <- event.(reconcile.Event)
	return nil
}

func (p *fakePublisher) wait(t *testing.T) reconcile.Event {
	t.Helper()

	select {
	case event := <-p.events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("\t%s\ttimed out waiting for a settlement event", failed)
		return reconcile.Event{}
	}
}
