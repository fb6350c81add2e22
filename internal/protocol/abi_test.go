package protocol

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

// encWords concatenates values left-padded to 32-byte ABI words.
func encWords(vals ...[]byte) []byte {
	out := make([]byte, 0, len(vals)*wordSize)
	for _, v := range vals {
		w := make([]byte, wordSize)
		copy(w[wordSize-len(v):], v)
		out = append(out, w...)
	}
	return out
}

func uintWord(v uint64) []byte   { return new(big.Int).SetUint64(v).Bytes() }
func bigWord(v *big.Int) []byte  { return v.Bytes() }
func addrWord(hex string) []byte { return common.HexToAddress(hex).Bytes() }
func hashWord(hex string) []byte { return common.HexToHash(hex).Bytes() }

func TestWordBounds(t *testing.T) {
	data := encWords(uintWord(1), uintWord(2))

	if _, err := word(data, 1); err != nil {
		t.Fatalf("in-bounds word: %v", err)
	}
	if _, err := word(data, 2); err == nil {
		t.Fatal("expected error reading past the end")
	}
	if _, err := word(nil, 0); err == nil {
		t.Fatal("expected error on empty data")
	}
}

func TestAddressAt(t *testing.T) {
	want := common.HexToAddress("0x00000000006c3852cbEf3e08E8dF289169EdE581")
	data := encWords(want.Bytes())

	got, err := addressAt(data, 0)
	if err != nil {
		t.Fatalf("addressAt: %v", err)
	}
	if got != want {
		t.Fatalf("addressAt = %s, want %s", got, want)
	}
}

func TestUint64AtOverflow(t *testing.T) {
	big256 := new(big.Int).Lsh(big.NewInt(1), 200)
	data := encWords(bigWord(big256))

	if _, err := uint64At(data, 0); err == nil {
		t.Fatal("expected overflow error")
	}
}

func TestOffsetAt(t *testing.T) {
	data := encWords(uintWord(32), uintWord(7))

	off, err := offsetAt(data, 0)
	if err != nil {
		t.Fatalf("offsetAt: %v", err)
	}
	if off != 32 {
		t.Fatalf("offsetAt = %d, want 32", off)
	}

	// Offsets beyond the data are rejected before slicing.
	bad := encWords(uintWord(1 << 20))
	if _, err := offsetAt(bad, 0); err == nil {
		t.Fatal("expected out-of-range offset error")
	}
}
