package facilitator

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// RPCClient is the ledger transport used by the verifier and the settlement
// executor. Kept narrow so tests can substitute a mock.
type RPCClient interface {
	IsBlockhashValid(ctx context.Context, hash solana.Hash) (bool, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error)
}

// solanaRPC wraps the JSON-RPC client of a single network endpoint.
type solanaRPC struct {
	client *rpc.Client
}

// NewSolanaRPC connects to a Solana JSON-RPC endpoint.
func NewSolanaRPC(endpoint string) RPCClient {
	return &solanaRPC{client: rpc.New(endpoint)}
}

func (c *solanaRPC) IsBlockhashValid(ctx context.Context, hash solana.Hash) (bool, error) {
	out, err := c.client.IsBlockhashValid(ctx, hash, rpc.CommitmentConfirmed)
	if err != nil {
		return false, fmt.Errorf("isBlockhashValid query failed: %v", err)
	}
	return out.Value, nil
}

func (c *solanaRPC) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

func (c *solanaRPC) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	out, err := c.client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, err
	}
	if out == nil || len(out.Value) == 0 {
		return nil, nil
	}
	return out.Value[0], nil
}
