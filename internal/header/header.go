// Copyright (c) 2019-2020 The Zcash developers
// Distributed under the MIT software license, see the accompanying
// file COPYING or https://www.opensource.org/licenses/mit-license.php .

// Package header implements the byte-exact 80-byte Bitcoin block header
// codec: encoding, decoding, double-SHA-256 hashing, and the nBits/target
// conversions used by the consensus rules.
package header

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Size is the fixed on-disk and on-wire size of a serialized header.
const Size = 80

// ErrMalformed is returned when a byte slice cannot be decoded as an
// 80-byte header.
var ErrMalformed = errors.New("header: malformed, expected 80 bytes")

// Header is the in-memory form of a Bitcoin block header, plus the
// block_height derived from its position in the store.
type Header struct {
	Version       uint32
	PrevBlockHash chainhash.Hash // internal byte order
	MerkleRoot    chainhash.Hash // internal byte order
	Timestamp     uint32
	Bits          uint32
	Nonce         uint32
	BlockHeight   int64
}

// MaxTarget is the genesis (epoch 0) difficulty target:
// 0x00000000FFFF0000000000000000000000000000000000000000000000000000
// expressed as the 256-bit value with 52 trailing zero nibbles after the
// leading 0xFFFF (0xFFFF << 208).
var MaxTarget = func() *big.Int {
	t, ok := new(big.Int).SetString("00000000FFFF0000000000000000000000000000000000000000000000000000", 16)
	if !ok {
		panic("header: invalid MaxTarget literal")
	}
	return t
}()

// GenesisBits is the compact nBits encoding of MaxTarget, used for epoch 0.
const GenesisBits uint32 = 0x1d00ffff

// Encode serializes h into its 80-byte Bitcoin little-endian wire form.
// version, timestamp, bits and nonce are little-endian 4-byte fields;
// PrevBlockHash and MerkleRoot are written in internal (already
// little-endian relative to display) byte order, unchanged.
func Encode(h *Header) [Size]byte {
	var b [Size]byte
	binary.LittleEndian.PutUint32(b[0:4], h.Version)
	copy(b[4:36], h.PrevBlockHash[:])
	copy(b[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(b[68:72], h.Timestamp)
	binary.LittleEndian.PutUint32(b[72:76], h.Bits)
	binary.LittleEndian.PutUint32(b[76:80], h.Nonce)
	return b
}

// Decode is the inverse of Encode. It does not populate BlockHeight; the
// caller assigns that from the record's position in the store.
func Decode(b []byte) (*Header, error) {
	if len(b) != Size {
		return nil, ErrMalformed
	}
	h := &Header{
		Version:   binary.LittleEndian.Uint32(b[0:4]),
		Timestamp: binary.LittleEndian.Uint32(b[68:72]),
		Bits:      binary.LittleEndian.Uint32(b[72:76]),
		Nonce:     binary.LittleEndian.Uint32(b[76:80]),
	}
	copy(h.PrevBlockHash[:], b[4:36])
	copy(h.MerkleRoot[:], b[36:68])
	return h, nil
}

// Hash returns the double-SHA-256 of the 80-byte serialization of h in
// internal byte order, the same order PrevBlockHash uses, so it can be
// compared against a successor's PrevBlockHash directly. Its String()
// method reports the display (big-endian / reversed) form.
func Hash(h *Header) chainhash.Hash {
	ser := Encode(h)
	digest := sha256.Sum256(ser[:])
	digest = sha256.Sum256(digest[:])
	return chainhash.Hash(digest)
}

func reversed(in [32]byte) [32]byte {
	var out [32]byte
	for i := range in {
		out[i] = in[32-1-i]
	}
	return out
}

// hashNumeric reverses an internal-order hash into display order and
// interprets that as a big-endian 256-bit unsigned integer, for
// comparison against a target.
func hashNumeric(h chainhash.Hash) *big.Int {
	display := reversed(h)
	return new(big.Int).SetBytes(display[:])
}

// BelowTarget reports whether hash(h), read as a big-endian integer, is
// strictly less than target — invariant 4 of spec.md §3.
func BelowTarget(h *Header, target *big.Int) bool {
	return hashNumeric(Hash(h)).Cmp(target) < 0
}

// BitsToTarget reproduces the source's legacy quirk formulation exactly,
// rather than Bitcoin Core's canonical CompactToBig decoding:
//
//	a := bits mod 2^24
//	if a < 0x8000 { a *= 256 }
//	target := a * 2^(8*(bits/2^24 - 3))
//
// Note "mod 2^24" takes the full low 24 bits of bits, unlike the
// canonical encoding's 23-bit mantissa with an explicit sign-bit/negative
// check; the two formulations agree for every bits value that appears on
// Bitcoin mainnet but can diverge on crafted adversarial input (spec.md
// §9, Open Question 1 — reproducing the source exactly was the chosen
// resolution, see DESIGN.md).
func BitsToTarget(bits uint32) *big.Int {
	exponent := int(bits >> 24)
	a := new(big.Int).SetUint64(uint64(bits & 0x00ffffff))
	if a.Cmp(big.NewInt(0x8000)) < 0 {
		a.Lsh(a, 8)
	}
	shift := 8 * (exponent - 3)
	target := new(big.Int)
	if shift >= 0 {
		target.Lsh(a, uint(shift))
	} else {
		target.Rsh(a, uint(-shift))
	}
	if target.Sign() < 0 {
		target.SetInt64(0)
	}
	if target.Cmp(maxUint256) > 0 {
		target.Set(maxUint256)
	}
	return target
}

var maxUint256 = func() *big.Int {
	max := new(big.Int).Lsh(big.NewInt(1), 256)
	return max.Sub(max, big.NewInt(1))
}()

// TargetToBits produces the canonical compact ("bits") encoding of target,
// applying the high-byte-no-sign-bit normalization: if the target's
// leading three significant bytes would be read as negative (top bit of
// the first mantissa byte set), the mantissa is shifted right by one byte
// and the exponent incremented, matching the source's
//
//	c := hex(new_target)[2:] stripped of leading "00" byte pairs
//	if int(c[0:6], 16) >= 0x800000 { c >>= 8; exponent++ }
func TargetToBits(target *big.Int) uint32 {
	if target.Sign() <= 0 {
		return 0
	}
	bz := target.Bytes() // big-endian, no leading zero bytes
	exponent := len(bz)
	var mantissa uint32
	switch {
	case exponent <= 3:
		var padded [3]byte
		copy(padded[3-exponent:], bz)
		mantissa = uint32(padded[0])<<16 | uint32(padded[1])<<8 | uint32(padded[2])
	default:
		mantissa = uint32(bz[0])<<16 | uint32(bz[1])<<8 | uint32(bz[2])
	}
	if mantissa > 0x7fffff {
		mantissa >>= 8
		exponent++
	}
	return uint32(exponent)<<24 | mantissa
}
