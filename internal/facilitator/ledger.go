package facilitator

import (
	"context"
	"sync"
	"time"

	"github.com/Acceso-dev/Acceso-x402/internal/utils"
)

// Ledger is the in-process idempotency cache mapping proof fingerprints to
// settlement records. Get-then-create for a fingerprint is a single critical
// section so two callers can never both observe "not present" and
// double-submit. Terminal records are evicted after their deadline plus a
// grace period to bound memory.
type Ledger struct {
	mutex   sync.Mutex
	records map[string]*SettlementRecord

	grace         time.Duration
	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
	lm            *utils.LogsManager
}

// NewLedger creates the ledger and starts its eviction sweeper.
func NewLedger(grace, sweepInterval time.Duration, lm *utils.LogsManager) *Ledger {
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	l := &Ledger{
		records:       make(map[string]*SettlementRecord),
		grace:         grace,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
		lm:            lm,
	}
	go l.sweep()
	return l
}

// Acquire returns the record for a fingerprint, creating a Pending one when
// none exists. created reports whether this caller owns the settlement run
// for the fingerprint.
func (l *Ledger) Acquire(fingerprint, network, payer string, amount uint64, timeout time.Duration) (rec *SettlementRecord, created bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if existing, ok := l.records[fingerprint]; ok {
		return existing, false
	}

	now := time.Now()
	rec = &SettlementRecord{
		Fingerprint: fingerprint,
		Status:      StatusPending,
		Network:     network,
		Payer:       payer,
		Amount:      amount,
		FirstSeenAt: now,
		DeadlineAt:  now.Add(timeout),
		UpdatedAt:   now,
		done:        make(chan struct{}),
	}
	l.records[fingerprint] = rec
	return rec, true
}

// Get returns a snapshot of the record for a fingerprint.
func (l *Ledger) Get(fingerprint string) (*SettlementRecord, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	rec, ok := l.records[fingerprint]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// MarkSubmitted transitions a record to Submitted and stores the ledger
// assigned transaction identifier. No-op once the record is terminal.
func (l *Ledger) MarkSubmitted(fingerprint, txSignature string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	rec, ok := l.records[fingerprint]
	if !ok || rec.Status.Terminal() {
		return
	}
	rec.Status = StatusSubmitted
	rec.TxSignature = txSignature
	rec.UpdatedAt = time.Now()
}

// IncrementAttempts bumps the retry counter on a non-terminal record.
func (l *Ledger) IncrementAttempts(fingerprint string) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	rec, ok := l.records[fingerprint]
	if !ok || rec.Status.Terminal() {
		return
	}
	rec.Attempts++
	rec.UpdatedAt = time.Now()
}

// Complete moves a record to a terminal status and wakes all waiters. A
// record that is already terminal is left untouched, late confirmations must
// not overwrite an Expired outcome.
func (l *Ledger) Complete(fingerprint string, status SettlementStatus, kind ErrorKind, detail string) (*SettlementRecord, bool) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	rec, ok := l.records[fingerprint]
	if !ok {
		return nil, false
	}
	if rec.Status.Terminal() {
		if l.lm != nil && status != rec.Status {
			l.lm.Log("debug", "discarding late transition of "+fingerprint+" to "+string(status), "ledger")
		}
		return rec.Clone(), false
	}

	rec.Status = status
	rec.ErrorKind = kind
	rec.Detail = detail
	rec.UpdatedAt = time.Now()
	close(rec.done)
	return rec.Clone(), true
}

// Wait blocks until the record reaches a terminal status or the context is
// cancelled, then returns a snapshot.
func (l *Ledger) Wait(ctx context.Context, fingerprint string) (*SettlementRecord, error) {
	l.mutex.Lock()
	rec, ok := l.records[fingerprint]
	if !ok {
		l.mutex.Unlock()
		return nil, ErrRecordNotFound
	}
	done := rec.done
	l.mutex.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	snapshot, _ := l.Get(fingerprint)
	if snapshot == nil {
		return nil, ErrRecordNotFound
	}
	return snapshot, nil
}

// Snapshot returns copies of all live records, newest first not guaranteed.
func (l *Ledger) Snapshot() []*SettlementRecord {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	out := make([]*SettlementRecord, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec.Clone())
	}
	return out
}

// Close stops the eviction sweeper.
func (l *Ledger) Close() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

func (l *Ledger) sweep() {
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictExpired()
		case <-l.stop:
			return
		}
	}
}

func (l *Ledger) evictExpired() {
	now := time.Now()
	l.mutex.Lock()
	defer l.mutex.Unlock()
	for fp, rec := range l.records {
		if rec.Status.Terminal() && now.After(rec.DeadlineAt.Add(l.grace)) {
			delete(l.records, fp)
		}
	}
}
