package encryption

import (
	"bytes"
	"testing"

	"light/shielded-pool/primitives"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyPair(t *testing.T, b byte) (PrivateKey, primitives.X25519PublicKey) {
	t.Helper()
	priv, err := GenerateKey(bytes.NewReader(bytes.Repeat([]byte{b}, 32)))
	require.NoError(t, err)
	pub, err := priv.PublicKey()
	require.NoError(t, err)
	return priv, pub
}

func TestSharedKeyAgreement(t *testing.T) {
	alice, alicePub := keyPair(t, 1)
	bob, bobPub := keyPair(t, 2)

	k1, err := SharedKey(alice, bobPub)
	require.NoError(t, err)
	k2, err := SharedKey(bob, alicePub)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	_, carolPub := keyPair(t, 3)
	k3, err := SharedKey(alice, carolPub)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestSharedKeyRejectsLowOrderPoint(t *testing.T) {
	alice, _ := keyPair(t, 1)
	_, err := SharedKey(alice, primitives.X25519PublicKey{})
	assert.ErrorIs(t, err, ErrLowOrderPoint)
}

func TestEncryptValue(t *testing.T) {
	key := MXEKey([]byte("engine secret"))
	nonce := primitives.NonceFromUint64(7)

	c := key.EncryptValue(1_000_000, nonce, 0)
	v, err := key.DecryptValue(c, nonce, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), v)

	// Distinct fields and nonces use distinct keystreams.
	assert.NotEqual(t, c, key.EncryptValue(1_000_000, nonce, 1))
	assert.NotEqual(t, c, key.EncryptValue(1_000_000, nonce.Next(), 0))

	_, err = MXEKey([]byte("other")).DecryptValue(c, nonce, 0)
	assert.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestEncryptElement(t *testing.T) {
	key := MXEKey([]byte("engine secret"))
	nonce := primitives.NonceFromUint64(1)
	e := fr.NewElement(123456789)
	e.Neg(&e)

	c := key.EncryptElement(&e, nonce, 2)
	got, err := key.DecryptElement(c, nonce, 2)
	require.NoError(t, err)
	assert.True(t, got.Equal(&e))
}

func TestPrivateKeyFromSecretIsStable(t *testing.T) {
	a := PrivateKeyFromSecret([]byte("mxe"))
	b := PrivateKeyFromSecret([]byte("mxe"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, Key(a), MXEKey([]byte("mxe")))
}
