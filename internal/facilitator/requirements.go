package facilitator

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// RequirementsBuilder turns a monetization request into a canonical
// PaymentRequirements descriptor.
type RequirementsBuilder struct {
	registry       *Registry
	network        string
	feePayer       string
	defaultPayTo   string
	defaultTimeout int
}

// NewRequirementsBuilder constructs a builder bound to one network. The fee
// payer address is embedded in every descriptor's extra map. defaultPayTo is
// used when a monetization request does not name a recipient.
func NewRequirementsBuilder(registry *Registry, network, feePayer, defaultPayTo string, defaultTimeout int) (*RequirementsBuilder, error) {
	if _, err := registry.Network(network); err != nil {
		return nil, err
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 60
	}
	return &RequirementsBuilder{
		registry:       registry,
		network:        network,
		feePayer:       feePayer,
		defaultPayTo:   defaultPayTo,
		defaultTimeout: defaultTimeout,
	}, nil
}

// Build returns a fresh PaymentRequirements for one monetized resource.
// price is a decimal currency amount ("0.01" or "$0.01") converted to atomic
// units at the asset's decimal precision.
func (b *RequirementsBuilder) Build(resource, price, payTo, description string) (*PaymentRequirements, error) {
	info, err := b.registry.Network(b.network)
	if err != nil {
		return nil, err
	}

	atomic, err := AmountToAtomic(price, info.Decimals)
	if err != nil {
		return nil, err
	}

	if payTo == "" {
		payTo = b.defaultPayTo
	}
	if payTo == "" {
		return nil, fmt.Errorf("no payment recipient configured")
	}

	return &PaymentRequirements{
		Scheme:            SchemeExact,
		Network:           b.network,
		Asset:             info.Asset,
		PayTo:             payTo,
		MaxAmountRequired: strconv.FormatUint(atomic, 10),
		Resource:          resource,
		Description:       description,
		MimeType:          "application/json",
		MaxTimeoutSeconds: b.defaultTimeout,
		Extra: map[string]string{
			"feePayer": b.feePayer,
			"name":     info.AssetSymbol,
			"decimals": strconv.Itoa(int(info.Decimals)),
		},
	}, nil
}

// Challenge wraps a descriptor in the 402 envelope returned to clients.
func (b *RequirementsBuilder) Challenge(req *PaymentRequirements, errMsg string) *PaymentRequiredResponse {
	return &PaymentRequiredResponse{
		X402Version: X402Version,
		Accepts:     []PaymentRequirements{*req},
		Error:       errMsg,
	}
}

// AmountToAtomic converts a decimal currency amount to atomic units at the
// given precision. A leading "$" is tolerated. Fails with ErrInvalidAmount on
// non-positive amounts, precision overflow, and amounts that do not terminate
// at the asset's decimal precision.
func AmountToAtomic(amount string, decimals uint8) (uint64, error) {
	amount = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(amount), "$"))
	if amount == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}

	rat, ok := new(big.Rat).SetString(amount)
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a decimal number", ErrInvalidAmount, amount)
	}
	if rat.Sign() <= 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	if !rat.IsInt() {
		return 0, fmt.Errorf("%w: %q exceeds %d decimal places", ErrInvalidAmount, amount, decimals)
	}

	atomic := rat.Num()
	if !atomic.IsUint64() {
		return 0, fmt.Errorf("%w: %q overflows atomic unit range", ErrInvalidAmount, amount)
	}
	return atomic.Uint64(), nil
}
