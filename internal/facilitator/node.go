package facilitator

import (
	"context"
	"fmt"
	"time"

	"github.com/Acceso-dev/Acceso-x402/internal/utils"
	"github.com/Acceso-dev/Acceso-x402/internal/workers"
)

// Node wires the facilitator core from configuration: network registry, RPC
// transport, verifier, idempotency ledger, worker pool, and settler.
type Node struct {
	Registry *Registry
	Builder  *RequirementsBuilder
	Verifier *Verifier
	Settler  *Settler
	Signer   *FeePayerSigner

	ledger *Ledger
	pool   *workers.WorkerPool
	cm     *utils.ConfigManager
	lm     *utils.LogsManager
}

// NewNode assembles the facilitator core. The signer must already hold the
// fee payer key.
func NewNode(ctx context.Context, cm *utils.ConfigManager, lm *utils.LogsManager, signer *FeePayerSigner) (*Node, error) {
	registry, err := NewRegistry(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load network registry: %v", err)
	}

	network := cm.GetConfigWithDefault("solana_network", "solana")
	info, err := registry.Network(network)
	if err != nil {
		return nil, err
	}

	rpcURL := cm.GetConfigWithDefault("solana_rpc_url", "")
	if rpcURL == "" {
		rpcURL = info.RPCURL
	}
	rpcClient := NewSolanaRPC(rpcURL)
	lm.Info(fmt.Sprintf("Facilitator using %s via %s", network, rpcURL), "facilitator")

	feePayer := signer.PublicKey().String()
	payTo := cm.GetConfigWithDefault("pay_to", "")
	if payTo == "" {
		payTo = feePayer
	}

	builder, err := NewRequirementsBuilder(registry, network, feePayer, payTo,
		cm.GetConfigInt("default_timeout_seconds", 60, 1, 3600))
	if err != nil {
		return nil, err
	}

	verifier := NewVerifier(registry, rpcClient,
		cm.GetConfigUint64("max_compute_unit_price", 5, 0, 1_000_000),
		cm.GetConfigDuration("blockhash_cache_ttl", 2*time.Second))

	ledger := NewLedger(
		cm.GetConfigDuration("ledger_grace_period", 10*time.Minute),
		cm.GetConfigDuration("ledger_sweep_interval", 5*time.Minute),
		lm)

	pool := workers.NewWorkerPool(ctx, cm.GetConfigInt("settlement_workers", 16, 1, 256), cm)

	settler := NewSettler(ledger, signer, rpcClient, pool, lm, SettlerOptions{
		MaxAttempts:    cm.GetConfigInt("settle_max_attempts", 5, 1, 100),
		InitialBackoff: time.Duration(cm.GetConfigInt("settle_initial_backoff_ms", 500, 1, 60000)) * time.Millisecond,
		PollInterval:   time.Duration(cm.GetConfigInt("settle_poll_interval_ms", 1000, 1, 60000)) * time.Millisecond,
	})

	return &Node{
		Registry: registry,
		Builder:  builder,
		Verifier: verifier,
		Settler:  settler,
		Signer:   signer,
		ledger:   ledger,
		pool:     pool,
		cm:       cm,
		lm:       lm,
	}, nil
}

// Start launches the settlement worker pool.
func (n *Node) Start() {
	n.pool.Start()
}

// Stop drains workers and stops the ledger sweeper.
func (n *Node) Stop() {
	n.pool.Stop()
	n.ledger.Close()
	n.lm.Info("Facilitator node stopped", "facilitator")
}
