package lending

import "math/big"

var basisPoints = big.NewInt(10_000)

// FlatInterest computes the interest owed on a principal at a flat basis-point
// rate, truncated toward zero. The computation is a pure function of its
// inputs: identical principal and rate always yield the identical interest,
// regardless of elapsed time.
//
// The intermediate product is taken over big integers so the multiplication
// itself cannot wrap; the result must still fit an unsigned 64-bit lamport
// quantity or the instruction fails with ErrAmountOverflow.
func FlatInterest(principal uint64, rateBps uint64) (uint64, error) {
	interest := new(big.Int).SetUint64(principal)
	interest.Mul(interest, new(big.Int).SetUint64(rateBps))
	interest.Quo(interest, basisPoints)
	if !interest.IsUint64() {
		return 0, ErrAmountOverflow
	}
	return interest.Uint64(), nil
}

// RepaymentTotal returns principal + interest with a checked addition.
// Overflow aborts the instruction rather than wrapping.
func RepaymentTotal(principal uint64, interest uint64) (uint64, error) {
	total := principal + interest
	if total < principal {
		return 0, ErrAmountOverflow
	}
	return total, nil
}
