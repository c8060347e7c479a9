package primitives

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"math"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashText(t *testing.T) {
	h := Hash{1, 2, 3}
	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.Equal(t, `"0x0102030000000000000000000000000000000000000000000000000000000000"`, string(data))

	var decoded Hash
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, h, decoded)

	_, err = ParseHash("0x0102")
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestHashElement(t *testing.T) {
	e := fr.NewElement(42)
	h := HashFromElement(&e)
	back, err := h.Element()
	require.NoError(t, err)
	assert.True(t, back.Equal(&e))
	assert.Equal(t, big.NewInt(42), h.Big())

	var tooBig Hash
	fr.Modulus().FillBytes(tooBig[:])
	_, err = tooBig.Element()
	assert.ErrorIs(t, err, ErrNotCanonical)

	_, err = HashFromBig(fr.Modulus())
	assert.ErrorIs(t, err, ErrNotCanonical)
}

func TestAmountArithmetic(t *testing.T) {
	sum, err := Amount(5).Add(7)
	require.NoError(t, err)
	assert.Equal(t, Amount(12), sum)

	_, err = Amount(math.MaxUint64).Add(1)
	assert.ErrorIs(t, err, ErrAmountOverflow)

	_, err = Amount(1).Sub(2)
	assert.ErrorIs(t, err, ErrAmountUnderflow)

	assert.True(t, BasisPoints(10_000).Valid())
	assert.False(t, BasisPoints(10_001).Valid())
}

func TestNonceNext(t *testing.T) {
	n := NonceFromUint64(math.MaxUint64)
	next := n.Next()
	lo, hi := next.Uint128()
	assert.Equal(t, uint64(0), lo)
	assert.Equal(t, uint64(1), hi)
}

func TestDeriveAddress(t *testing.T) {
	owner := Address{9}
	a1, bump, err := DeriveAddress([]byte("encrypted_account"), owner[:])
	require.NoError(t, err)
	assert.Equal(t, Bump(255), bump)
	assert.False(t, a1.IsZero())

	a2, _, err := DeriveAddress([]byte("encrypted_account"), owner[:])
	require.NoError(t, err)
	assert.Equal(t, a1, a2)

	other := Address{10}
	a3, _, err := DeriveAddress([]byte("encrypted_account"), other[:])
	require.NoError(t, err)
	assert.NotEqual(t, a1, a3)

	require.NoError(t, VerifyAddress(a1, bump, []byte("encrypted_account"), owner[:]))
	assert.ErrorIs(t, VerifyAddress(a3, bump, []byte("encrypted_account"), owner[:]), ErrAddressMismatch)

	// seeds are length prefixed, so regrouping bytes changes the address
	b1, _, err := DeriveAddress([]byte("ab"), []byte("c"))
	require.NoError(t, err)
	b2, _, err := DeriveAddress([]byte("a"), []byte("bc"))
	require.NoError(t, err)
	assert.NotEqual(t, b1, b2)

	var e fr.Element
	assert.NoError(t, e.SetBytesCanonical(a1[:]))
}

func TestSignerSignatures(t *testing.T) {
	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{3}, 32))
	other := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{4}, 32))
	signer := SignerAddress(key)
	msg := []byte("freeze 0xa1")

	sig := Sign(key, msg)
	require.NoError(t, VerifySignature(signer, msg, sig))
	assert.ErrorIs(t, VerifySignature(SignerAddress(other), msg, sig), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature(signer, []byte("freeze 0xa2"), sig), ErrBadSignature)

	sig[0] ^= 1
	assert.ErrorIs(t, VerifySignature(signer, msg, sig), ErrBadSignature)
}
