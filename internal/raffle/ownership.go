package raffle

import (
	"github.com/ethereum/go-ethereum/common"
)

// ResolveOwnership derives the slot indices owned by the account from the
// full slot-owner roster. Indices come back in ascending order, which fixes
// the FIFO tie-break used by refund selection. The contract does not expose
// "my owned indices" directly, so ownership is always recomputed here.
func ResolveOwnership(roster []common.Address, account common.Address) []uint64 {
	var owned []uint64
	for i, owner := range roster {
		if owner == account {
			owned = append(owned, uint64(i))
		}
	}
	return owned
}

// SelectForRefund returns the first count owned indices in ascending order.
// When count exceeds the owned count it returns all owned indices together
// with ErrInsufficientOwnedSlots rather than silently truncating; the
// caller decides whether to proceed with fewer.
func SelectForRefund(owned []uint64, count uint64) ([]uint64, error) {
	if count > uint64(len(owned)) {
		return owned, ErrInsufficientOwnedSlots
	}
	return owned[:count], nil
}
