package facilitator

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Solana program addresses referenced during structural checks.
var (
	computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	tokenProgramID         = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	token2022ProgramID     = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	ataProgramID           = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// Compute budget instruction discriminators.
const (
	computeUnitLimitDiscriminator = 2
	computeUnitPriceDiscriminator = 3
)

// SPL token TransferChecked instruction discriminator.
const transferCheckedDiscriminator = 12

// BlockhashValidator answers whether a blockhash is still usable on the
// ledger. Implementations may hit the network.
type BlockhashValidator interface {
	IsBlockhashValid(ctx context.Context, hash solana.Hash) (bool, error)
}

// Verifier checks decoded proofs against requirements descriptors. All
// checks are pure and local except freshness, which goes through the
// BlockhashValidator and is cached briefly.
type Verifier struct {
	registry        *Registry
	blockhash       BlockhashValidator
	maxComputePrice uint64

	cacheMutex sync.Mutex
	cache      map[solana.Hash]blockhashCacheEntry
	cacheTTL   time.Duration
}

type blockhashCacheEntry struct {
	valid     bool
	checkedAt time.Time
}

// NewVerifier creates a verifier. maxComputePrice caps the per-compute-unit
// priority fee a client may request, since the facilitator foots the bill.
func NewVerifier(registry *Registry, blockhash BlockhashValidator, maxComputePrice uint64, cacheTTL time.Duration) *Verifier {
	if cacheTTL <= 0 {
		cacheTTL = 2 * time.Second
	}
	return &Verifier{
		registry:        registry,
		blockhash:       blockhash,
		maxComputePrice: maxComputePrice,
		cache:           make(map[solana.Hash]blockhashCacheEntry),
		cacheTTL:        cacheTTL,
	}
}

func fail(reason ErrorKind, format string, args ...interface{}) *VerificationResult {
	return &VerificationResult{Valid: false, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Verify runs the full structural check sequence, short-circuiting on the
// first failure. The returned error is non-nil only for infrastructure
// failures (RPC outage during the freshness check), never for proofs that
// are merely invalid.
func (v *Verifier) Verify(ctx context.Context, proof *PaymentProof, req *PaymentRequirements) (*VerificationResult, error) {
	if req.Scheme != SchemeExact {
		return fail(KindInvalidStructure, "unsupported scheme %q", req.Scheme), nil
	}

	info, err := v.registry.Network(req.Network)
	if err != nil {
		return fail(KindInvalidStructure, "unsupported network %q", req.Network), nil
	}

	msg := &proof.Tx.Message

	// 1. Shape: exactly three instructions in fixed order, compute price
	// directive, compute limit directive, token transfer.
	if len(msg.Instructions) != 3 {
		return fail(KindInvalidStructure, "expected 3 instructions, got %d", len(msg.Instructions)), nil
	}

	price, res := v.checkComputePrice(msg, msg.Instructions[0])
	if res != nil {
		return res, nil
	}
	if price > v.maxComputePrice {
		return fail(KindInvalidStructure, "compute unit price %d exceeds maximum %d", price, v.maxComputePrice), nil
	}
	if res := v.checkComputeLimit(msg, msg.Instructions[1]); res != nil {
		return res, nil
	}

	transfer, res := v.parseTransferChecked(msg, msg.Instructions[2])
	if res != nil {
		return res, nil
	}

	// 2. Asset: transferred mint must be the required token, at its
	// known decimal precision.
	requiredMint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return fail(KindInvalidStructure, "requirements carry invalid asset address"), nil
	}
	if !transfer.mint.Equals(requiredMint) {
		return fail(KindWrongAsset, "transfer mint %s does not match required asset", transfer.mint), nil
	}
	if transfer.decimals != info.Decimals {
		return fail(KindWrongAsset, "transfer declares %d decimals, asset uses %d", transfer.decimals, info.Decimals), nil
	}

	// 3. Amount: exact equality, no underpayment and no silent overpayment.
	required, perr := parseAtomicAmount(req.MaxAmountRequired)
	if perr != nil {
		return fail(KindInvalidStructure, "requirements carry invalid amount %q", req.MaxAmountRequired), nil
	}
	if transfer.amount < required {
		return fail(KindInsufficientAmount, "transfer of %d below required %d", transfer.amount, required), nil
	}
	if transfer.amount > required {
		return fail(KindOverpaymentRejected, "transfer of %d above required %d", transfer.amount, required), nil
	}

	// 4. Recipient: destination must be payTo's associated token account
	// for the asset under the transferring token program.
	payTo, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return fail(KindInvalidStructure, "requirements carry invalid payTo address"), nil
	}
	expectedDest, err := AssociatedTokenAddress(payTo, transfer.mint, transfer.program)
	if err != nil {
		return fail(KindWrongRecipient, "cannot derive recipient token account"), nil
	}
	if !transfer.destination.Equals(expectedDest) {
		return fail(KindWrongRecipient, "transfer destination %s is not the recipient's token account", transfer.destination), nil
	}

	// 5. Fee payer: message payer must match requirements, must not yet be
	// signed, and must not appear inside any instruction. The facilitator
	// only ever pays network fees, never participates in the transfer.
	if res := v.checkFeePayer(proof, req); res != nil {
		return res, nil
	}

	// 6. Client signature: the debited authority must have signed the
	// message.
	if res := v.checkClientSignature(proof, transfer.authority); res != nil {
		return res, nil
	}

	// 7. Freshness.
	fresh, err := v.blockhashValid(ctx, msg.RecentBlockhash)
	if err != nil {
		return nil, fmt.Errorf("%w: freshness check failed: %v", ErrLedgerUnavailable, err)
	}
	if !fresh {
		return fail(KindStaleTransaction, "transaction blockhash is no longer valid"), nil
	}

	return &VerificationResult{
		Valid:  true,
		Amount: transfer.amount,
		Payer:  transfer.authority,
		Payee:  payTo,
	}, nil
}

type transferChecked struct {
	program     solana.PublicKey
	source      solana.PublicKey
	mint        solana.PublicKey
	destination solana.PublicKey
	authority   solana.PublicKey
	amount      uint64
	decimals    uint8
}

func (v *Verifier) checkComputePrice(msg *solana.Message, ix solana.CompiledInstruction) (uint64, *VerificationResult) {
	program, err := resolveProgram(msg, ix)
	if err != nil {
		return 0, fail(KindInvalidStructure, "instruction 0: %v", err)
	}
	if !program.Equals(computeBudgetProgramID) {
		return 0, fail(KindInvalidStructure, "instruction 0 must be a compute unit price directive")
	}
	if len(ix.Data) != 9 || ix.Data[0] != computeUnitPriceDiscriminator {
		return 0, fail(KindInvalidStructure, "instruction 0 is not a compute unit price directive")
	}
	return binary.LittleEndian.Uint64(ix.Data[1:9]), nil
}

func (v *Verifier) checkComputeLimit(msg *solana.Message, ix solana.CompiledInstruction) *VerificationResult {
	program, err := resolveProgram(msg, ix)
	if err != nil {
		return fail(KindInvalidStructure, "instruction 1: %v", err)
	}
	if !program.Equals(computeBudgetProgramID) {
		return fail(KindInvalidStructure, "instruction 1 must be a compute unit limit directive")
	}
	if len(ix.Data) != 5 || ix.Data[0] != computeUnitLimitDiscriminator {
		return fail(KindInvalidStructure, "instruction 1 is not a compute unit limit directive")
	}
	return nil
}

func (v *Verifier) parseTransferChecked(msg *solana.Message, ix solana.CompiledInstruction) (*transferChecked, *VerificationResult) {
	program, err := resolveProgram(msg, ix)
	if err != nil {
		return nil, fail(KindInvalidStructure, "instruction 2: %v", err)
	}
	if !program.Equals(tokenProgramID) && !program.Equals(token2022ProgramID) {
		return nil, fail(KindInvalidStructure, "instruction 2 must be a token transfer")
	}
	if len(ix.Data) != 10 || ix.Data[0] != transferCheckedDiscriminator {
		return nil, fail(KindInvalidStructure, "instruction 2 is not a checked token transfer")
	}
	if len(ix.Accounts) < 4 {
		return nil, fail(KindInvalidStructure, "token transfer references %d accounts, need 4", len(ix.Accounts))
	}

	accounts := make([]solana.PublicKey, 4)
	for i := 0; i < 4; i++ {
		idx := ix.Accounts[i]
		if int(idx) >= len(msg.AccountKeys) {
			return nil, fail(KindInvalidStructure, "token transfer account index out of range")
		}
		accounts[i] = msg.AccountKeys[idx]
	}

	return &transferChecked{
		program:     program,
		source:      accounts[0],
		mint:        accounts[1],
		destination: accounts[2],
		authority:   accounts[3],
		amount:      binary.LittleEndian.Uint64(ix.Data[1:9]),
		decimals:    ix.Data[9],
	}, nil
}

func (v *Verifier) checkFeePayer(proof *PaymentProof, req *PaymentRequirements) *VerificationResult {
	msg := &proof.Tx.Message
	if len(msg.AccountKeys) == 0 || msg.Header.NumRequiredSignatures == 0 {
		return fail(KindInvalidStructure, "transaction has no fee payer slot")
	}

	expected, err := solana.PublicKeyFromBase58(req.FeePayer())
	if err != nil {
		return fail(KindUnexpectedFeePayer, "requirements carry invalid fee payer address")
	}

	feePayer := msg.AccountKeys[0]
	if !feePayer.Equals(expected) {
		return fail(KindUnexpectedFeePayer, "transaction fee payer %s does not match facilitator", feePayer)
	}

	// The facilitator signs during settlement, a pre-filled slot means the
	// client is spoofing the facilitator signature.
	if len(proof.Tx.Signatures) > 0 && proof.Tx.Signatures[0] != (solana.Signature{}) {
		return fail(KindUnexpectedFeePayer, "fee payer signature slot is already filled")
	}

	for i, ix := range msg.Instructions {
		for _, acc := range ix.Accounts {
			if int(acc) < len(msg.AccountKeys) && msg.AccountKeys[acc].Equals(feePayer) {
				return fail(KindUnexpectedFeePayer, "fee payer appears in instruction %d accounts", i)
			}
		}
	}
	return nil
}

func (v *Verifier) checkClientSignature(proof *PaymentProof, authority solana.PublicKey) *VerificationResult {
	msg := &proof.Tx.Message

	sigIndex := -1
	for i, key := range msg.AccountKeys {
		if key.Equals(authority) {
			sigIndex = i
			break
		}
	}
	if sigIndex < 0 || sigIndex >= int(msg.Header.NumRequiredSignatures) {
		return fail(KindInvalidSignature, "transfer authority is not a transaction signer")
	}
	if sigIndex >= len(proof.Tx.Signatures) {
		return fail(KindInvalidSignature, "transaction carries no signature for the transfer authority")
	}

	sig := proof.Tx.Signatures[sigIndex]
	if sig == (solana.Signature{}) {
		return fail(KindInvalidSignature, "transfer authority signature is empty")
	}
	if !ed25519.Verify(ed25519.PublicKey(authority.Bytes()), proof.MessageBytes, sig[:]) {
		return fail(KindInvalidSignature, "transfer authority signature does not verify")
	}
	return nil
}

func (v *Verifier) blockhashValid(ctx context.Context, hash solana.Hash) (bool, error) {
	v.cacheMutex.Lock()
	if entry, ok := v.cache[hash]; ok && time.Since(entry.checkedAt) < v.cacheTTL {
		v.cacheMutex.Unlock()
		return entry.valid, nil
	}
	v.cacheMutex.Unlock()

	valid, err := v.blockhash.IsBlockhashValid(ctx, hash)
	if err != nil {
		return false, err
	}

	v.cacheMutex.Lock()
	v.cache[hash] = blockhashCacheEntry{valid: valid, checkedAt: time.Now()}
	// Stale entries accumulate slowly, drop them once the map grows.
	if len(v.cache) > 1024 {
		for h, entry := range v.cache {
			if time.Since(entry.checkedAt) >= v.cacheTTL {
				delete(v.cache, h)
			}
		}
	}
	v.cacheMutex.Unlock()

	return valid, nil
}

func resolveProgram(msg *solana.Message, ix solana.CompiledInstruction) (solana.PublicKey, error) {
	if int(ix.ProgramIDIndex) >= len(msg.AccountKeys) {
		return solana.PublicKey{}, fmt.Errorf("program index out of range")
	}
	return msg.AccountKeys[ix.ProgramIDIndex], nil
}

// AssociatedTokenAddress derives the canonical token account for an owner
// and mint under the given token program.
func AssociatedTokenAddress(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner.Bytes(), tokenProgram.Bytes(), mint.Bytes()},
		ataProgramID,
	)
	return addr, err
}

func parseAtomicAmount(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}
