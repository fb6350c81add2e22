package protocol

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const wordSize = 32

// word returns the i-th 32-byte word of ABI-encoded data.
func word(data []byte, i int) ([]byte, error) {
	start := i * wordSize
	if start+wordSize > len(data) {
		return nil, fmt.Errorf("abi data too short: want word %d, have %d bytes", i, len(data))
	}
	return data[start : start+wordSize], nil
}

func hashAt(data []byte, i int) (common.Hash, error) {
	w, err := word(data, i)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(w), nil
}

func addressAt(data []byte, i int) (common.Address, error) {
	w, err := word(data, i)
	if err != nil {
		return common.Address{}, err
	}
	return common.BytesToAddress(w[12:]), nil
}

func bigAt(data []byte, i int) (*big.Int, error) {
	w, err := word(data, i)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

func uint64At(data []byte, i int) (uint64, error) {
	v, err := bigAt(data, i)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("abi word %d overflows uint64", i)
	}
	return v.Uint64(), nil
}

// offsetAt resolves a dynamic-type head word into a byte offset.
func offsetAt(data []byte, i int) (int, error) {
	v, err := bigAt(data, i)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() || v.Int64() < 0 || v.Int64() > int64(len(data)) {
		return 0, fmt.Errorf("abi offset at word %d out of range", i)
	}
	return int(v.Int64()), nil
}
