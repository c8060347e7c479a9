package primitives

import (
	"encoding/binary"
	"errors"
	"math/bits"
)

// MaxBasisPoints is 100%.
const MaxBasisPoints BasisPoints = 10_000

var (
	ErrAmountOverflow  = errors.New("amount overflow")
	ErrAmountUnderflow = errors.New("amount underflow")
)

// Amount is a token quantity in base units.
type Amount uint64

// BasisPoints is a rate in 1/10000ths.
type BasisPoints uint16

// Version is the layout version stored at the head of every record.
type Version uint16

// Bump is the derivation bump stored next to the version.
type Bump uint8

// ComputationOffset is the caller-chosen identifier of one in-flight
// confidential computation.
type ComputationOffset uint64

// InstructionSeed identifies the instruction an access-control list guards.
type InstructionSeed uint16

// GrantNonce distinguishes several compliance grants between the same parties.
type GrantNonce uint64

// TreeIndex selects one of several commitment trees of the same mint.
type TreeIndex uint64

// PoolOffset selects one of several fee pools of the same kind and owner.
type PoolOffset uint16

func (a Amount) Add(b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, ErrAmountOverflow
	}
	return Amount(sum), nil
}

func (a Amount) Sub(b Amount) (Amount, error) {
	if b > a {
		return 0, ErrAmountUnderflow
	}
	return a - b, nil
}

func (b BasisPoints) Valid() bool {
	return b <= MaxBasisPoints
}

func (o ComputationOffset) Bytes() [8]byte {
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], uint64(o))
	return out
}

// Uint128 returns n as (lo, hi) little-endian halves.
func (n Nonce) Uint128() (uint64, uint64) {
	return binary.LittleEndian.Uint64(n[:8]), binary.LittleEndian.Uint64(n[8:])
}

func NonceFromUint64(v uint64) Nonce {
	var n Nonce
	binary.LittleEndian.PutUint64(n[:8], v)
	return n
}

// Next returns the nonce incremented by one, wrapping at 2^128.
func (n Nonce) Next() Nonce {
	lo, hi := n.Uint128()
	lo, carry := bits.Add64(lo, 1, 0)
	hi += carry
	var out Nonce
	binary.LittleEndian.PutUint64(out[:8], lo)
	binary.LittleEndian.PutUint64(out[8:], hi)
	return out
}
