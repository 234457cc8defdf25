package facilitator

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	l := NewLedger(time.Minute, time.Minute, nil)
	t.Cleanup(l.Close)
	return l
}

func TestLedgerAcquireOnce(t *testing.T) {
	l := testLedger(t)

	var created int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := l.Acquire("fp-1", "solana", "payer", 10000, time.Minute)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one creation, got %d", created)
	}
}

func TestLedgerCompleteIsTerminal(t *testing.T) {
	l := testLedger(t)
	l.Acquire("fp-1", "solana", "payer", 10000, time.Minute)

	rec, changed := l.Complete("fp-1", StatusExpired, KindSettlementExpired, "deadline")
	if !changed || rec.Status != StatusExpired {
		t.Fatalf("expected transition to Expired, got changed=%v status=%s", changed, rec.Status)
	}

	// A late confirmation must not overwrite the terminal outcome.
	rec, changed = l.Complete("fp-1", StatusConfirmed, "", "")
	if changed {
		t.Fatal("terminal record was overwritten")
	}
	if rec.Status != StatusExpired {
		t.Fatalf("expected Expired to stick, got %s", rec.Status)
	}
}

func TestLedgerWait(t *testing.T) {
	l := testLedger(t)
	l.Acquire("fp-1", "solana", "payer", 10000, time.Minute)

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.MarkSubmitted("fp-1", "sig")
		l.Complete("fp-1", StatusConfirmed, "", "")
	}()

	rec, err := l.Wait(context.Background(), "fp-1")
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if rec.Status != StatusConfirmed || rec.TxSignature != "sig" {
		t.Fatalf("unexpected record: status=%s sig=%s", rec.Status, rec.TxSignature)
	}
}

func TestLedgerWaitHonorsContext(t *testing.T) {
	l := testLedger(t)
	l.Acquire("fp-1", "solana", "payer", 10000, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := l.Wait(ctx, "fp-1"); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestLedgerEviction(t *testing.T) {
	l := NewLedger(time.Millisecond, time.Hour, nil)
	defer l.Close()

	l.Acquire("terminal", "solana", "payer", 1, time.Millisecond)
	l.Complete("terminal", StatusConfirmed, "", "")
	l.Acquire("inflight", "solana", "payer", 1, time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	l.evictExpired()

	if _, ok := l.Get("terminal"); ok {
		t.Error("terminal record past grace period was not evicted")
	}
	if _, ok := l.Get("inflight"); !ok {
		t.Error("non-terminal record must never be evicted")
	}
}

func TestLedgerAttempts(t *testing.T) {
	l := testLedger(t)
	l.Acquire("fp-1", "solana", "payer", 1, time.Minute)
	l.IncrementAttempts("fp-1")
	l.IncrementAttempts("fp-1")

	rec, _ := l.Get("fp-1")
	if rec.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", rec.Attempts)
	}

	l.Complete("fp-1", StatusFailed, KindNetworkTransient, "")
	l.IncrementAttempts("fp-1")
	rec, _ = l.Get("fp-1")
	if rec.Attempts != 2 {
		t.Fatal("attempts changed after terminal status")
	}
}
