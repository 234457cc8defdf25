package facilitator

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func defaultParams(payer *solana.Wallet, feePayer, payTo solana.PublicKey) paymentTxParams {
	return paymentTxParams{
		payer:        payer,
		feePayer:     feePayer,
		mint:         solana.MustPublicKeyFromBase58(testMint),
		payTo:        payTo,
		amount:       10000,
		decimals:     6,
		computePrice: 5,
		blockhash:    solana.Hash(solana.NewWallet().PublicKey()),
	}
}

func TestVerifyValidProof(t *testing.T) {
	payer := solana.NewWallet()
	feePayer := solana.NewWallet()

	tx := buildPaymentTx(t, defaultParams(payer, feePayer.PublicKey(), payer.PublicKey()))
	proof := decodeTestProof(t, tx)
	req := testRequirements(t, feePayer.PublicKey(), payer.PublicKey(), "10000")

	v := testVerifier(t, &stubValidator{valid: true})
	res, err := v.Verify(context.Background(), proof, req)
	if err != nil {
		t.Fatalf("verify returned error: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid proof, got reason %s (%s)", res.Reason, res.Detail)
	}
	if res.Amount != 10000 {
		t.Errorf("expected amount 10000, got %d", res.Amount)
	}
	if !res.Payer.Equals(payer.PublicKey()) {
		t.Errorf("expected payer %s, got %s", payer.PublicKey(), res.Payer)
	}
}

func TestVerifyInstructionShape(t *testing.T) {
	payer := solana.NewWallet()
	feePayer := solana.NewWallet()
	v := testVerifier(t, &stubValidator{valid: true})
	req := testRequirements(t, feePayer.PublicKey(), payer.PublicKey(), "10000")

	cases := []struct {
		name   string
		mutate func(*paymentTxParams)
	}{
		{"missing instruction", func(p *paymentTxParams) { p.dropPriceIx = true }},
		{"extra instruction", func(p *paymentTxParams) { p.extraIx = true }},
		{"reordered compute directives", func(p *paymentTxParams) { p.swapOrder = true }},
		{"compute price above cap", func(p *paymentTxParams) { p.computePrice = 6 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := defaultParams(payer, feePayer.PublicKey(), payer.PublicKey())
			tc.mutate(&params)
			proof := decodeTestProof(t, buildPaymentTx(t, params))

			res, err := v.Verify(context.Background(), proof, req)
			if err != nil {
				t.Fatalf("verify returned error: %v", err)
			}
			if res.Valid || res.Reason != KindInvalidStructure {
				t.Fatalf("expected InvalidStructure, got valid=%v reason=%s", res.Valid, res.Reason)
			}
		})
	}
}

func TestVerifyAmountExactness(t *testing.T) {
	payer := solana.NewWallet()
	feePayer := solana.NewWallet()
	v := testVerifier(t, &stubValidator{valid: true})
	req := testRequirements(t, feePayer.PublicKey(), payer.PublicKey(), "10000")

	cases := []struct {
		amount uint64
		valid  bool
		reason ErrorKind
	}{
		{9999, false, KindInsufficientAmount},
		{10001, false, KindOverpaymentRejected},
		{10000, true, ""},
	}
	for _, tc := range cases {
		params := defaultParams(payer, feePayer.PublicKey(), payer.PublicKey())
		params.amount = tc.amount
		proof := decodeTestProof(t, buildPaymentTx(t, params))

		res, err := v.Verify(context.Background(), proof, req)
		if err != nil {
			t.Fatalf("verify returned error: %v", err)
		}
		if res.Valid != tc.valid || res.Reason != tc.reason {
			t.Errorf("amount %d: expected valid=%v reason=%s, got valid=%v reason=%s",
				tc.amount, tc.valid, tc.reason, res.Valid, res.Reason)
		}
	}
}

func TestVerifyWrongAsset(t *testing.T) {
	payer := solana.NewWallet()
	feePayer := solana.NewWallet()

	params := defaultParams(payer, feePayer.PublicKey(), payer.PublicKey())
	params.mint = solana.NewWallet().PublicKey()
	proof := decodeTestProof(t, buildPaymentTx(t, params))
	req := testRequirements(t, feePayer.PublicKey(), payer.PublicKey(), "10000")

	v := testVerifier(t, &stubValidator{valid: true})
	res, err := v.Verify(context.Background(), proof, req)
	if err != nil {
		t.Fatalf("verify returned error: %v", err)
	}
	if res.Valid || res.Reason != KindWrongAsset {
		t.Fatalf("expected WrongAsset, got valid=%v reason=%s", res.Valid, res.Reason)
	}
}

func TestVerifyWrongDecimals(t *testing.T) {
	payer := solana.NewWallet()
	feePayer := solana.NewWallet()

	params := defaultParams(payer, feePayer.PublicKey(), payer.PublicKey())
	params.decimals = 9
	proof := decodeTestProof(t, buildPaymentTx(t, params))
	req := testRequirements(t, feePayer.PublicKey(), payer.PublicKey(), "10000")

	v := testVerifier(t, &stubValidator{valid: true})
	res, _ := v.Verify(context.Background(), proof, req)
	if res.Valid || res.Reason != KindWrongAsset {
		t.Fatalf("expected WrongAsset for decimal mismatch, got valid=%v reason=%s", res.Valid, res.Reason)
	}
}

func TestVerifyWrongRecipient(t *testing.T) {
	payer := solana.NewWallet()
	feePayer := solana.NewWallet()

	other := solana.NewWallet().PublicKey()
	params := defaultParams(payer, feePayer.PublicKey(), payer.PublicKey())
	params.destOverride = &other
	proof := decodeTestProof(t, buildPaymentTx(t, params))
	req := testRequirements(t, feePayer.PublicKey(), payer.PublicKey(), "10000")

	v := testVerifier(t, &stubValidator{valid: true})
	res, _ := v.Verify(context.Background(), proof, req)
	if res.Valid || res.Reason != KindWrongRecipient {
		t.Fatalf("expected WrongRecipient, got valid=%v reason=%s", res.Valid, res.Reason)
	}
}

func TestVerifyFeePayerMismatch(t *testing.T) {
	payer := solana.NewWallet()
	feePayer := solana.NewWallet()

	// Transaction names a different fee payer than the requirements.
	tx := buildPaymentTx(t, defaultParams(payer, solana.NewWallet().PublicKey(), payer.PublicKey()))
	proof := decodeTestProof(t, tx)
	req := testRequirements(t, feePayer.PublicKey(), payer.PublicKey(), "10000")

	v := testVerifier(t, &stubValidator{valid: true})
	res, _ := v.Verify(context.Background(), proof, req)
	if res.Valid || res.Reason != KindUnexpectedFeePayer {
		t.Fatalf("expected UnexpectedFeePayer, got valid=%v reason=%s", res.Valid, res.Reason)
	}
}

func TestVerifyFeePayerAlreadySigned(t *testing.T) {
	payer := solana.NewWallet()
	feePayer := solana.NewWallet()

	tx := buildPaymentTx(t, defaultParams(payer, feePayer.PublicKey(), payer.PublicKey()))
	_, err := tx.PartialSign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(feePayer.PublicKey()) {
			return &feePayer.PrivateKey
		}
		return nil
	})
	if err != nil {
		t.Fatalf("fee payer pre-signing failed: %v", err)
	}
	proof := decodeTestProof(t, tx)
	req := testRequirements(t, feePayer.PublicKey(), payer.PublicKey(), "10000")

	v := testVerifier(t, &stubValidator{valid: true})
	res, _ := v.Verify(context.Background(), proof, req)
	if res.Valid || res.Reason != KindUnexpectedFeePayer {
		t.Fatalf("expected UnexpectedFeePayer, got valid=%v reason=%s", res.Valid, res.Reason)
	}
}

func TestVerifyForgedClientSignature(t *testing.T) {
	payer := solana.NewWallet()
	feePayer := solana.NewWallet()

	params := defaultParams(payer, feePayer.PublicKey(), payer.PublicKey())
	params.forgeClientSig = true
	proof := decodeTestProof(t, buildPaymentTx(t, params))
	req := testRequirements(t, feePayer.PublicKey(), payer.PublicKey(), "10000")

	v := testVerifier(t, &stubValidator{valid: true})
	res, _ := v.Verify(context.Background(), proof, req)
	if res.Valid || res.Reason != KindInvalidSignature {
		t.Fatalf("expected InvalidSignature, got valid=%v reason=%s", res.Valid, res.Reason)
	}
}

func TestVerifyMissingClientSignature(t *testing.T) {
	payer := solana.NewWallet()
	feePayer := solana.NewWallet()

	params := defaultParams(payer, feePayer.PublicKey(), payer.PublicKey())
	params.skipClientSig = true
	proof := decodeTestProof(t, buildPaymentTx(t, params))
	req := testRequirements(t, feePayer.PublicKey(), payer.PublicKey(), "10000")

	v := testVerifier(t, &stubValidator{valid: true})
	res, _ := v.Verify(context.Background(), proof, req)
	if res.Valid || res.Reason != KindInvalidSignature {
		t.Fatalf("expected InvalidSignature, got valid=%v reason=%s", res.Valid, res.Reason)
	}
}

func TestVerifyStaleBlockhash(t *testing.T) {
	payer := solana.NewWallet()
	feePayer := solana.NewWallet()

	proof := decodeTestProof(t, buildPaymentTx(t, defaultParams(payer, feePayer.PublicKey(), payer.PublicKey())))
	req := testRequirements(t, feePayer.PublicKey(), payer.PublicKey(), "10000")

	v := testVerifier(t, &stubValidator{valid: false})
	res, err := v.Verify(context.Background(), proof, req)
	if err != nil {
		t.Fatalf("verify returned error: %v", err)
	}
	if res.Valid || res.Reason != KindStaleTransaction {
		t.Fatalf("expected StaleTransaction, got valid=%v reason=%s", res.Valid, res.Reason)
	}
}

func TestVerifyBlockhashCache(t *testing.T) {
	payer := solana.NewWallet()
	feePayer := solana.NewWallet()

	proof := decodeTestProof(t, buildPaymentTx(t, defaultParams(payer, feePayer.PublicKey(), payer.PublicKey())))
	req := testRequirements(t, feePayer.PublicKey(), payer.PublicKey(), "10000")

	stub := &stubValidator{valid: true}
	registry, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("registry load failed: %v", err)
	}
	v := NewVerifier(registry, stub, 5, 0)

	for i := 0; i < 3; i++ {
		if _, err := v.Verify(context.Background(), proof, req); err != nil {
			t.Fatalf("verify %d returned error: %v", i, err)
		}
	}
	if stub.calls != 1 {
		t.Errorf("expected a single freshness query, got %d", stub.calls)
	}
}
