package facilitator

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// testMint is the devnet USDC mint from the embedded registry.
const testMint = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"

// paymentTxParams describes one client-built payment transaction.
type paymentTxParams struct {
	payer        *solana.Wallet
	feePayer     solana.PublicKey
	mint         solana.PublicKey
	payTo        solana.PublicKey
	amount       uint64
	decimals     uint8
	computePrice uint64
	blockhash    solana.Hash

	skipClientSig  bool
	forgeClientSig bool
	extraIx        bool
	dropPriceIx    bool
	swapOrder      bool
	destOverride   *solana.PublicKey
}

func computePriceIx(price uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = computeUnitPriceDiscriminator
	binary.LittleEndian.PutUint64(data[1:], price)
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

func computeLimitIx(limit uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = computeUnitLimitDiscriminator
	binary.LittleEndian.PutUint32(data[1:], limit)
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

func transferCheckedIx(source, mint, dest, authority solana.PublicKey, amount uint64, decimals uint8) solana.Instruction {
	data := make([]byte, 10)
	data[0] = transferCheckedDiscriminator
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(source, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(dest, true, false),
		solana.NewAccountMeta(authority, false, true),
	}
	return solana.NewInstruction(tokenProgramID, accounts, data)
}

// buildPaymentTx assembles and client-signs a payment transaction the way a
// wallet would, leaving the fee payer slot unsigned.
func buildPaymentTx(t *testing.T, p paymentTxParams) *solana.Transaction {
	t.Helper()

	source, err := AssociatedTokenAddress(p.payer.PublicKey(), p.mint, tokenProgramID)
	if err != nil {
		t.Fatalf("source ATA derivation failed: %v", err)
	}
	dest, err := AssociatedTokenAddress(p.payTo, p.mint, tokenProgramID)
	if err != nil {
		t.Fatalf("destination ATA derivation failed: %v", err)
	}
	if p.destOverride != nil {
		dest = *p.destOverride
	}

	instrs := []solana.Instruction{
		computePriceIx(p.computePrice),
		computeLimitIx(200000),
		transferCheckedIx(source, p.mint, dest, p.payer.PublicKey(), p.amount, p.decimals),
	}
	if p.dropPriceIx {
		instrs = instrs[1:]
	}
	if p.swapOrder {
		instrs[0], instrs[1] = instrs[1], instrs[0]
	}
	if p.extraIx {
		instrs = append(instrs, computeLimitIx(100000))
	}

	tx, err := solana.NewTransaction(instrs, p.blockhash, solana.TransactionPayer(p.feePayer))
	if err != nil {
		t.Fatalf("transaction build failed: %v", err)
	}

	if !p.skipClientSig {
		key := p.payer.PrivateKey
		if p.forgeClientSig {
			key = solana.NewWallet().PrivateKey
		}
		_, err = tx.PartialSign(func(pub solana.PublicKey) *solana.PrivateKey {
			if pub.Equals(p.payer.PublicKey()) {
				return &key
			}
			return nil
		})
		if err != nil {
			t.Fatalf("client signing failed: %v", err)
		}
	}

	return tx
}

// encodeTx serializes a transaction to the wire form clients submit.
func encodeTx(t *testing.T, tx *solana.Transaction) string {
	t.Helper()
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("transaction marshal failed: %v", err)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// decodeTestProof runs the production decoder on a built transaction.
func decodeTestProof(t *testing.T, tx *solana.Transaction) *PaymentProof {
	t.Helper()
	proof, err := DecodeProof(encodeTx(t, tx))
	if err != nil {
		t.Fatalf("proof decode failed: %v", err)
	}
	return proof
}

// stubValidator answers freshness checks without a network.
type stubValidator struct {
	valid bool
	err   error
	calls int
}

func (s *stubValidator) IsBlockhashValid(ctx context.Context, hash solana.Hash) (bool, error) {
	s.calls++
	return s.valid, s.err
}

func testRequirements(t *testing.T, feePayer, payTo solana.PublicKey, amount string) *PaymentRequirements {
	t.Helper()
	return &PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           "solana-devnet",
		Asset:             testMint,
		PayTo:             payTo.String(),
		MaxAmountRequired: amount,
		Resource:          "http://localhost/demo/protected",
		MaxTimeoutSeconds: 5,
		Extra:             map[string]string{"feePayer": feePayer.String()},
	}
}

func testVerifier(t *testing.T, bv BlockhashValidator) *Verifier {
	t.Helper()
	registry, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("registry load failed: %v", err)
	}
	return NewVerifier(registry, bv, 5, 0)
}

// stubRPC implements RPCClient for settlement tests. sendErr and statusErr
// fail every call unless sendFailures/statusFailures bounds them to the
// first N calls, after which the stub recovers.
type stubRPC struct {
	blockhashValid bool
	sendErr        error
	sendFailures   int
	sendCalls      int
	lastSent       *solana.Transaction
	statusErr      error
	statusFailures int
	statuses       []*rpc.SignatureStatusesResult
	statusCalls    int
}

func (s *stubRPC) IsBlockhashValid(ctx context.Context, hash solana.Hash) (bool, error) {
	return s.blockhashValid, nil
}

func (s *stubRPC) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	s.sendCalls++
	s.lastSent = tx
	if s.sendErr != nil && (s.sendFailures == 0 || s.sendCalls <= s.sendFailures) {
		return solana.Signature{}, s.sendErr
	}
	return tx.Signatures[0], nil
}

func (s *stubRPC) SignatureStatus(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	s.statusCalls++
	if s.statusErr != nil && (s.statusFailures == 0 || s.statusCalls <= s.statusFailures) {
		return nil, s.statusErr
	}
	if len(s.statuses) == 0 {
		return nil, nil
	}
	st := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	return st, nil
}
