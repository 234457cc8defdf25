package facilitator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Acceso-dev/Acceso-x402/internal/utils"
	"github.com/Acceso-dev/Acceso-x402/internal/workers"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// Settler drives verified proofs through signing, submission, and
// confirmation. Settlement runs execute on a shared worker pool so many
// independent payments settle concurrently, while concurrent settle calls
// for the same fingerprint collapse onto one run through the ledger.
type Settler struct {
	ledger *Ledger
	signer *FeePayerSigner
	rpc    RPCClient
	pool   *workers.WorkerPool
	lm     *utils.LogsManager

	maxAttempts    int
	initialBackoff time.Duration
	pollInterval   time.Duration

	// onUpdate is invoked with a snapshot after every status transition.
	// Used for persistence and event streaming, never for control flow.
	onUpdate func(*SettlementRecord)
}

// SettlerOptions carries the tunables read from configuration.
type SettlerOptions struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	PollInterval   time.Duration
}

// NewSettler wires the settlement executor.
func NewSettler(ledger *Ledger, signer *FeePayerSigner, rpcClient RPCClient, pool *workers.WorkerPool, lm *utils.LogsManager, opts SettlerOptions) *Settler {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Settler{
		ledger:         ledger,
		signer:         signer,
		rpc:            rpcClient,
		pool:           pool,
		lm:             lm,
		maxAttempts:    opts.MaxAttempts,
		initialBackoff: opts.InitialBackoff,
		pollInterval:   opts.PollInterval,
	}
}

// OnUpdate registers the status transition hook.
func (s *Settler) OnUpdate(fn func(*SettlementRecord)) {
	s.onUpdate = fn
}

// Ledger exposes the idempotency ledger for read-only inspection.
func (s *Settler) Ledger() *Ledger {
	return s.ledger
}

// Settle resolves a verified proof to a terminal settlement record. Repeat
// calls for the same fingerprint return the cached outcome without touching
// the network, concurrent calls wait for the single in-flight run.
func (s *Settler) Settle(ctx context.Context, proof *PaymentProof, req *PaymentRequirements, vres *VerificationResult) (*SettlementRecord, error) {
	timeout := time.Duration(req.MaxTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}

	rec, created := s.ledger.Acquire(proof.Fingerprint, req.Network, vres.Payer.String(), vres.Amount, timeout)
	if !created {
		if rec.Status.Terminal() {
			return rec.Clone(), nil
		}
		return s.await(ctx, proof.Fingerprint, rec.DeadlineAt)
	}

	s.notify(rec.Clone())
	if err := s.pool.Submit(func() {
		s.run(proof, rec.Fingerprint, rec.DeadlineAt)
	}); err != nil {
		done, _ := s.ledger.Complete(proof.Fingerprint, StatusFailed, KindInternalFault, "settlement executor unavailable")
		s.notify(done)
		return done, ErrSettlementShutdown
	}

	return s.await(ctx, proof.Fingerprint, rec.DeadlineAt)
}

// await blocks until the record turns terminal. The extra slack past the
// deadline covers the run's own expiry bookkeeping.
func (s *Settler) await(ctx context.Context, fingerprint string, deadline time.Time) (*SettlementRecord, error) {
	waitCtx, cancel := context.WithDeadline(ctx, deadline.Add(5*time.Second))
	defer cancel()

	rec, err := s.ledger.Wait(waitCtx, fingerprint)
	if err == nil {
		return rec, nil
	}

	// The caller went away. The in-flight run still owns the record and will
	// drive it to a terminal status under its own deadline, so it must not be
	// completed here, a submitted transfer may yet confirm.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		// Slack past the run's deadline elapsed without a terminal
		// transition, the run was never scheduled or is stuck.
		done, _ := s.ledger.Complete(fingerprint, StatusExpired, KindSettlementExpired, "settlement not confirmed before deadline")
		s.notify(done)
		return done, nil
	}
	return nil, err
}

// run executes one settlement on a worker. It owns all record transitions
// for its fingerprint until the record is terminal.
func (s *Settler) run(proof *PaymentProof, fingerprint string, deadline time.Time) {
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	defer cancel()

	if err := s.signer.SignTransaction(proof.Tx); err != nil {
		s.lm.Error(fmt.Sprintf("Fee payer signing failed for %s: %v", fingerprint, err), "settler")
		s.complete(fingerprint, StatusFailed, KindInternalFault, "fee payer signing failed")
		return
	}

	sig, kind, detail := s.submit(ctx, proof, fingerprint, deadline)
	if kind != "" {
		status := StatusFailed
		if kind == KindSettlementExpired {
			status = StatusExpired
		}
		s.complete(fingerprint, status, kind, detail)
		return
	}

	s.ledger.MarkSubmitted(fingerprint, sig.String())
	if snapshot, ok := s.ledger.Get(fingerprint); ok {
		s.notify(snapshot)
	}
	s.lm.Info(fmt.Sprintf("Submitted settlement %s as %s", fingerprint, sig), "settler")

	s.pollConfirmation(ctx, sig, fingerprint, deadline)
}

// submit pushes the fully signed transaction to the network with bounded
// retry on transport failures. Node-level rejections are fatal, identical
// bytes would fail identically on resubmission.
func (s *Settler) submit(ctx context.Context, proof *PaymentProof, fingerprint string, deadline time.Time) (sig solana.Signature, kind ErrorKind, detail string) {
	backoff := s.initialBackoff
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if time.Now().After(deadline) {
			return sig, KindSettlementExpired, "deadline reached before submission"
		}

		txSig, err := s.rpc.SendTransaction(ctx, proof.Tx)
		if err == nil {
			return txSig, "", ""
		}

		var rpcErr *jsonrpc.RPCError
		if errors.As(err, &rpcErr) {
			s.lm.Warn(fmt.Sprintf("Ledger rejected settlement %s: %s", fingerprint, rpcErr.Message), "settler")
			return sig, KindLedgerRejected, rpcErr.Message
		}

		s.ledger.IncrementAttempts(fingerprint)
		s.lm.Warn(fmt.Sprintf("Transient submit failure for %s (attempt %d): %v", fingerprint, attempt+1, err), "settler")

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return sig, KindSettlementExpired, "deadline reached during submission retries"
		}
	}
	return sig, KindNetworkTransient, "submission retries exhausted"
}

// pollConfirmation watches the submitted transaction until it confirms,
// the ledger rejects it, or the deadline passes.
func (s *Settler) pollConfirmation(ctx context.Context, txSig solana.Signature, fingerprint string, deadline time.Time) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	pollFailures := 0

	for {
		select {
		case <-ctx.Done():
			s.complete(fingerprint, StatusExpired, KindSettlementExpired, "confirmation not observed before deadline")
			return
		case <-ticker.C:
		}

		if time.Now().After(deadline) {
			s.complete(fingerprint, StatusExpired, KindSettlementExpired, "confirmation not observed before deadline")
			return
		}

		status, err := s.rpc.SignatureStatus(ctx, txSig)
		if err != nil {
			pollFailures++
			s.ledger.IncrementAttempts(fingerprint)
			if pollFailures >= s.maxAttempts {
				s.complete(fingerprint, StatusFailed, KindNetworkTransient, "confirmation polling retries exhausted")
				return
			}
			continue
		}
		pollFailures = 0

		if status == nil {
			// Not yet observed by the node, keep polling.
			continue
		}
		if status.Err != nil {
			s.complete(fingerprint, StatusFailed, KindLedgerRejected, fmt.Sprintf("transaction failed on ledger: %v", status.Err))
			return
		}
		if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			s.complete(fingerprint, StatusConfirmed, "", "")
			return
		}
	}
}

func (s *Settler) complete(fingerprint string, status SettlementStatus, kind ErrorKind, detail string) {
	rec, changed := s.ledger.Complete(fingerprint, status, kind, detail)
	if rec == nil {
		return
	}
	if changed {
		s.notify(rec)
		s.lm.Info(fmt.Sprintf("Settlement %s finished %s", fingerprint, status), "settler")
	}
}

func (s *Settler) notify(rec *SettlementRecord) {
	if rec != nil && s.onUpdate != nil {
		s.onUpdate(rec)
	}
}
