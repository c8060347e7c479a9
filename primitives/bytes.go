package primitives

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const (
	HashSize          = 32
	CiphertextSize    = 32
	NonceSize         = 16
	X25519KeySize     = 32
	AddressSize       = 32
	Ed25519KeySize    = 32
	SignatureSize     = 64
	ProofASize        = 64
	ProofBSize        = 128
	ProofCSize        = 64
	DiscriminatorSize = 8
)

var (
	ErrInvalidLength = errors.New("invalid length")
	ErrNotCanonical  = errors.New("value is not a canonical bn254 field element")
)

// Hash is a 32-byte digest. Hashes that enter a circuit are big-endian
// encodings of BN254 scalar field elements.
type Hash [HashSize]byte

// Ciphertext is one encrypted 32-byte field.
type Ciphertext [CiphertextSize]byte

// Nonce is the 128-bit nonce attached to encrypted values, little-endian.
type Nonce [NonceSize]byte

type X25519PublicKey [X25519KeySize]byte

type Address [AddressSize]byte

type Ed25519PublicKey [Ed25519KeySize]byte

type Signature [SignatureSize]byte

// ProofA, ProofB and ProofC are uncompressed BN254 point encodings
// (G1, G2, G1) of a Groth16 proof.
type (
	ProofA [ProofASize]byte
	ProofB [ProofBSize]byte
	ProofC [ProofCSize]byte
)

type Discriminator [DiscriminatorSize]byte

func HashFromBig(i *big.Int) (Hash, error) {
	var h Hash
	if i.Sign() < 0 || i.Cmp(fr.Modulus()) >= 0 {
		return h, ErrNotCanonical
	}
	i.FillBytes(h[:])
	return h, nil
}

func HashFromElement(e *fr.Element) Hash {
	return Hash(e.Bytes())
}

// Element returns the field element encoded by h, failing for values at or
// above the modulus.
func (h Hash) Element() (fr.Element, error) {
	var e fr.Element
	if err := e.SetBytesCanonical(h[:]); err != nil {
		return e, fmt.Errorf("%w: %s", ErrNotCanonical, h)
	}
	return e, nil
}

func (h Hash) Big() *big.Int {
	return new(big.Int).SetBytes(h[:])
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) String() string { return toHex(h[:]) }

func (h Hash) MarshalText() ([]byte, error) { return []byte(toHex(h[:])), nil }

func (h *Hash) UnmarshalText(text []byte) error { return fromHex(text, h[:]) }

func (c Ciphertext) String() string { return toHex(c[:]) }

func (c Ciphertext) MarshalText() ([]byte, error) { return []byte(toHex(c[:])), nil }

func (c *Ciphertext) UnmarshalText(text []byte) error { return fromHex(text, c[:]) }

func (n Nonce) MarshalText() ([]byte, error) { return []byte(toHex(n[:])), nil }

func (n *Nonce) UnmarshalText(text []byte) error { return fromHex(text, n[:]) }

func (k X25519PublicKey) String() string { return toHex(k[:]) }

func (k X25519PublicKey) MarshalText() ([]byte, error) { return []byte(toHex(k[:])), nil }

func (k *X25519PublicKey) UnmarshalText(text []byte) error { return fromHex(text, k[:]) }

func (a Address) String() string { return toHex(a[:]) }

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) MarshalText() ([]byte, error) { return []byte(toHex(a[:])), nil }

func (a *Address) UnmarshalText(text []byte) error { return fromHex(text, a[:]) }

// Element reduces the address into the scalar field. Addresses produced by
// DeriveAddress are already canonical.
func (a Address) Element() fr.Element {
	var e fr.Element
	e.SetBytes(a[:])
	return e
}

func (k Ed25519PublicKey) String() string { return toHex(k[:]) }

func (k Ed25519PublicKey) MarshalText() ([]byte, error) { return []byte(toHex(k[:])), nil }

func (k *Ed25519PublicKey) UnmarshalText(text []byte) error { return fromHex(text, k[:]) }

func (s Signature) MarshalText() ([]byte, error) { return []byte(toHex(s[:])), nil }

func (s *Signature) UnmarshalText(text []byte) error { return fromHex(text, s[:]) }

func (p ProofA) MarshalText() ([]byte, error) { return []byte(toHex(p[:])), nil }

func (p *ProofA) UnmarshalText(text []byte) error { return fromHex(text, p[:]) }

func (p ProofB) MarshalText() ([]byte, error) { return []byte(toHex(p[:])), nil }

func (p *ProofB) UnmarshalText(text []byte) error { return fromHex(text, p[:]) }

func (p ProofC) MarshalText() ([]byte, error) { return []byte(toHex(p[:])), nil }

func (p *ProofC) UnmarshalText(text []byte) error { return fromHex(text, p[:]) }

func (d Discriminator) String() string { return toHex(d[:]) }

func (d Discriminator) MarshalText() ([]byte, error) { return []byte(toHex(d[:])), nil }

func (d *Discriminator) UnmarshalText(text []byte) error { return fromHex(text, d[:]) }

func toHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

func fromHex(text []byte, dst []byte) error {
	s := strings.TrimPrefix(string(text), "0x")
	if len(s) != 2*len(dst) {
		return fmt.Errorf("%w: expected %d bytes, got %d hex characters", ErrInvalidLength, len(dst), len(s))
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}

// ParseHash accepts a 0x-prefixed or bare hex string.
func ParseHash(s string) (Hash, error) {
	var h Hash
	err := h.UnmarshalText([]byte(s))
	return h, err
}

func ParseAddress(s string) (Address, error) {
	var a Address
	err := a.UnmarshalText([]byte(s))
	return a, err
}

func ParseEd25519PublicKey(s string) (Ed25519PublicKey, error) {
	var k Ed25519PublicKey
	err := k.UnmarshalText([]byte(s))
	return k, err
}
