package primitives

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/iden3/go-iden3-crypto/poseidon"
)

var ErrAddressMismatch = errors.New("address does not match its derivation seeds")

// DeriveAddress deterministically derives the address of a record from its
// seeds. The bump is walked down from 255 until a non-zero address is found.
func DeriveAddress(seeds ...[]byte) (Address, Bump, error) {
	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateAddress(Bump(bump), seeds...)
		if err != nil {
			return Address{}, 0, err
		}
		if !addr.IsZero() {
			return addr, Bump(bump), nil
		}
	}
	return Address{}, 0, fmt.Errorf("no viable bump for seeds")
}

// CreateAddress hashes the length-prefixed seeds followed by the bump.
func CreateAddress(bump Bump, seeds ...[]byte) (Address, error) {
	var buf []byte
	for _, seed := range seeds {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(seed)))
		buf = append(buf, seed...)
	}
	buf = append(buf, byte(bump))
	digest, err := poseidon.HashBytes(buf)
	if err != nil {
		return Address{}, fmt.Errorf("derive address: %w", err)
	}
	var addr Address
	digest.FillBytes(addr[:])
	return addr, nil
}

// VerifyAddress checks that addr was derived from seeds with bump.
func VerifyAddress(addr Address, bump Bump, seeds ...[]byte) error {
	expected, err := CreateAddress(bump, seeds...)
	if err != nil {
		return err
	}
	if expected != addr {
		return fmt.Errorf("%w: got %s, expected %s", ErrAddressMismatch, addr, expected)
	}
	return nil
}

func Uint16Seed(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

func Uint64Seed(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}
