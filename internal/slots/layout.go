package slots

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Layout is the rule combining a mapping base slot and a holder address into
// the storage key of the holder's balance.
type Layout uint8

const (
	// LayoutSolidity: key = keccak256(pad32(holder) ++ pad32(base))
	LayoutSolidity Layout = 0
	// LayoutVyper: key = keccak256(pad32(base) ++ pad32(holder))
	LayoutVyper Layout = 1
)

func (l Layout) String() string {
	switch l {
	case LayoutSolidity:
		return "solidity"
	case LayoutVyper:
		return "vyper"
	default:
		return fmt.Sprintf("layout(%d)", uint8(l))
	}
}

func (l Layout) valid() bool {
	return l == LayoutSolidity || l == LayoutVyper
}

// Record is one verified discovery result, cached per (chain, token).
type Record struct {
	Token    common.Address
	Layout   Layout
	BaseSlot common.Hash
	Block    uint64
}

// StorageKey derives the storage key of holder's balance under the record's
// layout.
func (r Record) StorageKey(holder common.Address) common.Hash {
	return StorageKey(r.Layout, holder, r.BaseSlot)
}

func StorageKey(layout Layout, holder common.Address, base common.Hash) common.Hash {
	padded := common.LeftPadBytes(holder.Bytes(), 32)
	if layout == LayoutVyper {
		return crypto.Keccak256Hash(base.Bytes(), padded)
	}
	return crypto.Keccak256Hash(padded, base.Bytes())
}

// maxBaseSlot bounds the hypothesis scan. Balance mappings of real tokens sit
// in single- or low-double-digit slots; anything past this cannot be matched
// and the candidate is skipped.
const maxBaseSlot = 255

// RecoverBaseSlot searches for the (layout, base) pair whose derived key for
// holder equals the observed SLOAD key. Keccak preimages cannot be inverted,
// so the base slot is scanned over 0..maxBaseSlot for both layouts.
func RecoverBaseSlot(holder common.Address, key common.Hash) (Layout, common.Hash, bool) {
	for base := uint64(0); base <= maxBaseSlot; base++ {
		baseSlot := common.BigToHash(new(big.Int).SetUint64(base))
		if StorageKey(LayoutSolidity, holder, baseSlot) == key {
			return LayoutSolidity, baseSlot, true
		}
		if StorageKey(LayoutVyper, holder, baseSlot) == key {
			return LayoutVyper, baseSlot, true
		}
	}
	return 0, common.Hash{}, false
}
