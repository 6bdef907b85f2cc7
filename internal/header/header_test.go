package header

import (
	"encoding/hex"
	"math/big"
	"testing"
)

// genesisHex is the 80-byte mainnet genesis block header, wire-serialized.
const genesisHex = "01000000" +
	"0000000000000000000000000000000000000000000000000000000000000000" +
	"3ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a" +
	"29ab5f49ffff001d1dac2b7c"

func mustDecodeGenesis(t *testing.T) *Header {
	t.Helper()
	b, err := hex.DecodeString(genesisHex)
	if err != nil {
		t.Fatalf("bad test fixture: %v", err)
	}
	h, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode genesis: %v", err)
	}
	return h
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	h := mustDecodeGenesis(t)
	ser := Encode(h)
	want, _ := hex.DecodeString(genesisHex)
	if hex.EncodeToString(ser[:]) != hex.EncodeToString(want) {
		t.Fatalf("round trip mismatch:\n got %x\nwant %x", ser, want)
	}
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	if _, err := Decode(make([]byte, 79)); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	if _, err := Decode(make([]byte, 81)); err != ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestGenesisHash(t *testing.T) {
	h := mustDecodeGenesis(t)
	got := Hash(h).String()
	want := "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"
	if got != want {
		t.Fatalf("genesis hash mismatch: got %s want %s", got, want)
	}
}

func TestBitsToTargetGenesis(t *testing.T) {
	target := BitsToTarget(GenesisBits)
	if target.Cmp(MaxTarget) != 0 {
		t.Fatalf("BitsToTarget(genesis) = %x, want %x", target, MaxTarget)
	}
}

func TestBitsToTargetLowMantissaQuirk(t *testing.T) {
	// 0x1b0404cb: mantissa 0x0404cb is already >= 0x8000, so it is not
	// multiplied by 256.
	target := BitsToTarget(0x1b0404cb)
	want := new(big.Int).Lsh(big.NewInt(0x0404cb), 8*(0x1b-3))
	if target.Cmp(want) != 0 {
		t.Fatalf("BitsToTarget(0x1b0404cb) = %s, want %s", target, want)
	}
}

func TestTargetToBitsRoundTrip(t *testing.T) {
	for _, bits := range []uint32{0x1d00ffff, 0x1b0404cb, 0x207fffff} {
		target := BitsToTarget(bits)
		got := TargetToBits(target)
		back := BitsToTarget(got)
		if back.Cmp(target) != 0 {
			t.Fatalf("bits 0x%x: round trip target mismatch: %s vs %s", bits, back, target)
		}
	}
}

func TestBelowTarget(t *testing.T) {
	h := mustDecodeGenesis(t)
	if !BelowTarget(h, MaxTarget) {
		t.Fatal("genesis header hash should be below its own target")
	}
	tiny := big.NewInt(1)
	if BelowTarget(h, tiny) {
		t.Fatal("genesis header hash should not be below an impossibly small target")
	}
}
