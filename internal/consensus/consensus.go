// Package consensus computes Bitcoin's per-epoch difficulty retarget and
// validates headers against it, grounded on the retarget/validate logic of
// original_source/lib/blockchain.py's BlockchainVerifier (get_target,
// verify_header, verify_chunk), translated to Go's explicit-error style.
package consensus

import (
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rootSig/electrum-atom-t/internal/header"
	"github.com/rootSig/electrum-atom-t/internal/store"
)

// Epoch-boundary constants, per spec.md §3-§4.C.
const (
	EpochLength    = 2016
	TargetTimespan = 14 * 24 * 3600 // 1209600 seconds
	minActualSpan  = TargetTimespan / 4
	maxActualSpan  = TargetTimespan * 4
)

// Validation failure reasons, per spec.md §7's error table. These are
// recoverable: the caller flags the offending peer and discards the
// candidate chain, it never stops the engine.
var (
	ErrLinkMismatch     = errors.New("consensus: prev_block_hash does not match predecessor hash")
	ErrBadBits          = errors.New("consensus: bits does not match the expected retarget value")
	ErrInsufficientWork = errors.New("consensus: header hash is not below target")
)

// Rules reads epoch boundary headers from a Store to compute retargets.
type Rules struct {
	Store *store.Store
}

// New returns a Rules backed by s.
func New(s *store.Store) *Rules {
	return &Rules{Store: s}
}

// ExpectedTarget returns the (bits, target) pair that every header in the
// given epoch must carry, per spec.md §4.C.
func (r *Rules) ExpectedTarget(epoch int64) (uint32, *big.Int, error) {
	if epoch == 0 {
		return header.GenesisBits, header.MaxTarget, nil
	}
	first, err := r.Store.Read(EpochLength * (epoch - 1))
	if err != nil {
		return 0, nil, err
	}
	last, err := r.Store.Read(EpochLength*epoch - 1)
	if err != nil {
		return 0, nil, err
	}
	if first == nil || last == nil {
		return 0, nil, errors.New("consensus: epoch boundary headers are not yet stored")
	}
	return retarget(first, last)
}

// retarget implements the exact arithmetic of the original's get_target:
// clamp the actual timespan to [span/4, span*4], scale the previous
// target by actual/TargetTimespan using integer truncating division, cap
// at MaxTarget, then re-encode as compact bits.
func retarget(first, last *header.Header) (uint32, *big.Int, error) {
	actual := int64(last.Timestamp) - int64(first.Timestamp)
	if actual < minActualSpan {
		actual = minActualSpan
	}
	if actual > maxActualSpan {
		actual = maxActualSpan
	}
	prevTarget := header.BitsToTarget(last.Bits)
	newTarget := new(big.Int).Mul(prevTarget, big.NewInt(actual))
	newTarget.Quo(newTarget, big.NewInt(TargetTimespan))
	if newTarget.Cmp(header.MaxTarget) > 0 {
		newTarget = new(big.Int).Set(header.MaxTarget)
	}
	return header.TargetToBits(newTarget), newTarget, nil
}

// ValidateHeader checks h against its (already-validated) predecessor
// prev and the epoch's expected bits/target, per spec.md §4.C's three
// numbered conditions.
func (r *Rules) ValidateHeader(h, prev *header.Header) error {
	if header.Hash(prev) != h.PrevBlockHash {
		return ErrLinkMismatch
	}
	epoch := h.BlockHeight / EpochLength
	expectedBits, target, err := r.ExpectedTarget(epoch)
	if err != nil {
		return err
	}
	if h.Bits != expectedBits {
		return ErrBadBits
	}
	if !header.BelowTarget(h, target) {
		return ErrInsufficientWork
	}
	return nil
}

// ValidateChunk decodes and validates an entire 2016-header epoch as a
// single unit, applying one bits/target pair to every member header and
// rejecting the whole chunk on the first failure — spec.md §4.C's
// validate_chunk. For epoch 0 the predecessor hash is the all-zero hash.
func ValidateChunk(epoch int64, data []byte, prevHash chainhash.Hash, expectedBits uint32, target *big.Int) error {
	if len(data) != EpochLength*header.Size {
		return errors.New("consensus: chunk must be exactly 2016 headers")
	}
	previousHash := prevHash
	for i := 0; i < EpochLength; i++ {
		raw := data[i*header.Size : (i+1)*header.Size]
		h, err := header.Decode(raw)
		if err != nil {
			return err
		}
		h.BlockHeight = epoch*EpochLength + int64(i)
		if previousHash != h.PrevBlockHash {
			return ErrLinkMismatch
		}
		if h.Bits != expectedBits {
			return ErrBadBits
		}
		if !header.BelowTarget(h, target) {
			return ErrInsufficientWork
		}
		previousHash = header.Hash(h)
	}
	return nil
}
