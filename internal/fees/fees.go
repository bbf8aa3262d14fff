// Package fees holds the pure basis-point arithmetic for splitting escrowed
// funds among provider, platform, and inviter. All functions are stateless;
// rate ceilings are enforced by rejecting, never by clamping.
package fees

import (
	"errors"
	"math/big"
)

const (
	// BasisPoints is the rate denominator: 10000 = 100%.
	BasisPoints = 10000

	// MaxPlatformFeeRate caps the platform fee at 20%.
	MaxPlatformFeeRate = 2000
	// MaxInviterFeeRate caps the inviter fee at 10%.
	MaxInviterFeeRate = 1000
	// MaxTotalFeeRate caps platform + inviter at 30%.
	MaxTotalFeeRate = 3000
	// MaxCancellationFeeRate caps platform + inviter shares of a
	// cancellation split at 20% of the escrowed amount.
	MaxCancellationFeeRate = 2000
)

var (
	ErrFeeRateExceedsLimit         = errors.New("fee rate exceeds limit")
	ErrInvalidDistribution         = errors.New("invalid distribution")
	ErrCancellationFeeExceedsLimit = errors.New("cancellation fee exceeds limit")
)

// ProviderPayout computes the provider's share of a completed booking:
// originalAmount * (10000 - platformRate - inviterRate) / 10000, floored.
// The basis is always the full service price, so a discount on the escrowed
// amount never reduces what the provider earns.
func ProviderPayout(originalAmount *big.Int, platformRate, inviterRate uint64) *big.Int {
	keep := new(big.Int).SetUint64(BasisPoints - platformRate - inviterRate)
	out := new(big.Int).Mul(originalAmount, keep)
	return out.Div(out, big.NewInt(BasisPoints))
}

// InviterPayout computes the inviter's share, zero when there is no inviter.
func InviterPayout(originalAmount *big.Int, inviterRate uint64, hasInviter bool) *big.Int {
	if !hasInviter {
		return new(big.Int)
	}
	out := new(big.Int).Mul(originalAmount, new(big.Int).SetUint64(inviterRate))
	return out.Div(out, big.NewInt(BasisPoints))
}

// PlatformPayout is always the remainder, never computed independently:
// rounding dust and any discount shortfall land entirely on the platform,
// which is what makes provider + inviter + platform == amount hold exactly.
func PlatformPayout(amount, providerPayout, inviterPayout *big.Int) *big.Int {
	out := new(big.Int).Sub(amount, providerPayout)
	return out.Sub(out, inviterPayout)
}

// ValidateRates rejects out-of-range creation fee rates.
func ValidateRates(platformRate, inviterRate uint64) error {
	if platformRate > MaxPlatformFeeRate || inviterRate > MaxInviterFeeRate ||
		platformRate+inviterRate > MaxTotalFeeRate {
		return ErrFeeRateExceedsLimit
	}
	return nil
}

// ValidateCancellationSplit checks a four-way cancellation distribution
// against the escrowed amount: the parts must sum to amount exactly, and the
// platform + inviter fee portion may not exceed 20% of amount.
func ValidateCancellationSplit(amount, customerAmt, providerAmt, platformAmt, inviterAmt *big.Int) error {
	for _, v := range []*big.Int{customerAmt, providerAmt, platformAmt, inviterAmt} {
		if v == nil || v.Sign() < 0 {
			return ErrInvalidDistribution
		}
	}

	sum := new(big.Int).Add(customerAmt, providerAmt)
	sum.Add(sum, platformAmt)
	sum.Add(sum, inviterAmt)
	if sum.Cmp(amount) != 0 {
		return ErrInvalidDistribution
	}

	// fee * 10000 <= amount * 2000, avoiding intermediate division
	fee := new(big.Int).Add(platformAmt, inviterAmt)
	fee.Mul(fee, big.NewInt(BasisPoints))
	limit := new(big.Int).Mul(amount, big.NewInt(MaxCancellationFeeRate))
	if fee.Cmp(limit) > 0 {
		return ErrCancellationFeeExceedsLimit
	}
	return nil
}
