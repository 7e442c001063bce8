package transfercache

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/walletd/walletd/business/core/transfer"
)

const (
	success = "✓"
	failed  = "✗"
)

func TestNewStoreTTLOrdering(t *testing.T) {
	t.Log("Given the need to validate the cache TTL configuration.")
	{
		t.Logf("\tTest 0:\tWhen the tombstone TTL is shorter than the mirror TTL.")
		{
			if _, err := NewStore(nil, 10*time.Minute, time.Minute); err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould construct the store: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould construct the store.", success)
		}

		t.Logf("\tTest 1:\tWhen the tombstone TTL is not shorter than the mirror TTL.")
		{
			if _, err := NewStore(nil, time.Minute, time.Minute); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould reject an equal tombstone TTL.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould reject an equal tombstone TTL.", success)

			if _, err := NewStore(nil, time.Minute, 10*time.Minute); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould reject a longer tombstone TTL.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould reject a longer tombstone TTL.", success)
		}
	}
}

func TestFieldRoundTrip(t *testing.T) {
	t.Log("Given the need to encode and decode transfer cache entries.")
	{
		t.Logf("\tTest 0:\tWhen handling a pending transfer.")
		{
			tran := transfer.Transfer{
				ID:          uuid.New(),
				AccountID:   uuid.New(),
				Hash:        "0xabc",
				FromAddress: "0xfrom",
				ToAddress:   "0xto",
				Amount:      decimal.NewFromInt(3),
				FeeTotal:    decimal.NewFromInt(1),
				FeeLedger:   decimal.Zero,
				Status:      transfer.StatusPending,
			}

			got, err := parseFields(toFields(tran))
			if err != nil {
				t.Fatalf("\t%s\tTest 0:\tShould decode the encoded entry: %v", failed, err)
			}
			t.Logf("\t%s\tTest 0:\tShould decode the encoded entry.", success)

			if got.ID != tran.ID || got.Status != tran.Status || !got.Amount.Equal(tran.Amount) {
				t.Fatalf("\t%s\tTest 0:\tShould get back the same transfer. got %+v", failed, got)
			}
			t.Logf("\t%s\tTest 0:\tShould get back the same transfer.", success)
		}

		t.Logf("\tTest 1:\tWhen decoding an entry with a bad status.")
		{
			fields := toFields(transfer.Transfer{ID: uuid.New(), AccountID: uuid.New(), Amount: decimal.Zero, FeeTotal: decimal.Zero, FeeLedger: decimal.Zero, Status: transfer.StatusPending})
			fields["status"] = "UNKNOWN"

			if _, err := parseFields(fields); err == nil {
				t.Fatalf("\t%s\tTest 1:\tShould reject an unknown status.", failed)
			}
			t.Logf("\t%s\tTest 1:\tShould reject an unknown status.", success)
		}
	}
}
