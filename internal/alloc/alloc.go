// Package alloc implements the exact-cent distribution of a redistribution
// pool: the ratio split between the two recipient sides and the
// largest-remainder allocation within a side.
//
// All amounts are int64 cents. The two guarantees callers rely on:
//
//   - SplitPool: tier + winner == total, always. The winner side is
//     derived by subtraction, never computed independently, so no cent can
//     leak through rounding.
//   - LargestRemainder: sum(shares) == pool exactly, and no two shares
//     differ by more than one cent. The "+1" cents go to the first
//     recipients in ascending identifier order, which makes the
//     allocation reproducible for any input order.
package alloc

import (
	"errors"
	"sort"
)

var (
	// ErrNegativePool is returned when a pool amount is negative.
	ErrNegativePool = errors.New("alloc: pool amount must not be negative")

	// ErrNoRecipients is returned when an allocation is requested for an
	// empty recipient set. Callers must decide what happens to the
	// sub-pool in that case; silently dropping it is not allowed.
	ErrNoRecipients = errors.New("alloc: no recipients")
)

// Share is one recipient's allocated amount.
type Share struct {
	RecipientID string
	Cents       int64
}

// SplitPool divides totalCents between the tier side and the winner side.
// tierBps is the tier side's ratio in basis points. The tier amount is
// rounded half up; the winner amount is the remainder.
func SplitPool(totalCents, tierBps int64) (tierCents, winnerCents int64, err error) {
	if totalCents < 0 {
		return 0, 0, ErrNegativePool
	}
	tierCents = (totalCents*tierBps + 5000) / 10000
	return tierCents, totalCents - tierCents, nil
}

// LargestRemainder distributes poolCents among the given recipients.
// Each share is floor(pool/n) or floor(pool/n)+1; the extra cents are
// assigned to the first recipients in ascending identifier order until the
// total matches the pool exactly.
func LargestRemainder(poolCents int64, recipients []string) ([]Share, error) {
	if poolCents < 0 {
		return nil, ErrNegativePool
	}
	n := int64(len(recipients))
	if n == 0 {
		return nil, ErrNoRecipients
	}

	sorted := make([]string, len(recipients))
	copy(sorted, recipients)
	sort.Strings(sorted)

	base := poolCents / n
	remainder := poolCents - base*n

	shares := make([]Share, len(sorted))
	for i, id := range sorted {
		cents := base
		if int64(i) < remainder {
			cents++
		}
		shares[i] = Share{RecipientID: id, Cents: cents}
	}
	return shares, nil
}

// Sum returns the total of a share list.
func Sum(shares []Share) int64 {
	var total int64
	for _, s := range shares {
		total += s.Cents
	}
	return total
}
