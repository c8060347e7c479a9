// Package encryption implements the field cipher used for encrypted
// balances: X25519 key agreement, a blake2b key derivation and an XChaCha20
// keystream addressed by (nonce, field index).
package encryption

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"light/shielded-pool/primitives"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/curve25519"
)

const KeySize = 32

var (
	ErrValueOutOfRange = errors.New("decrypted field does not hold a 64-bit value")
	ErrLowOrderPoint   = errors.New("key agreement produced a low-order point")
)

// Key is a symmetric field-encryption key.
type Key [KeySize]byte

// PrivateKey is an X25519 scalar.
type PrivateKey [curve25519.ScalarSize]byte

func GenerateKey(r io.Reader) (PrivateKey, error) {
	if r == nil {
		r = rand.Reader
	}
	var k PrivateKey
	_, err := io.ReadFull(r, k[:])
	return k, err
}

func (k PrivateKey) PublicKey() (primitives.X25519PublicKey, error) {
	var pub primitives.X25519PublicKey
	out, err := curve25519.X25519(k[:], curve25519.Basepoint)
	if err != nil {
		return pub, err
	}
	copy(pub[:], out)
	return pub, nil
}

// SharedKey derives the key both holders of an X25519 pair agree on.
func SharedKey(priv PrivateKey, peer primitives.X25519PublicKey) (Key, error) {
	secret, err := curve25519.X25519(priv[:], peer[:])
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrLowOrderPoint, err)
	}
	return derive(secret, "shared"), nil
}

// PrivateKeyFromSecret derives a stable X25519 identity from secret.
func PrivateKeyFromSecret(secret []byte) PrivateKey {
	return PrivateKey(derive(secret, "x25519"))
}

// MXEKey derives the engine-only key from the engine's secret.
func MXEKey(secret []byte) Key {
	return derive(secret, "mxe")
}

func derive(secret []byte, label string) Key {
	h, _ := blake2b.New256(nil)
	h.Write(secret)
	h.Write([]byte(label))
	var k Key
	copy(k[:], h.Sum(nil))
	return k
}

func (k Key) keystream(nonce primitives.Nonce, field uint64) [primitives.CiphertextSize]byte {
	var xnonce [chacha20.NonceSizeX]byte
	copy(xnonce[:], nonce[:])
	binary.LittleEndian.PutUint64(xnonce[primitives.NonceSize:], field)
	// Only fails on wrong key or nonce sizes, both fixed here.
	c, err := chacha20.NewUnauthenticatedCipher(k[:], xnonce[:])
	if err != nil {
		panic(err)
	}
	var ks [primitives.CiphertextSize]byte
	c.XORKeyStream(ks[:], ks[:])
	return ks
}

// EncryptField encrypts one 32-byte plaintext field.
func (k Key) EncryptField(plaintext [32]byte, nonce primitives.Nonce, field uint64) primitives.Ciphertext {
	ks := k.keystream(nonce, field)
	var out primitives.Ciphertext
	for i := range out {
		out[i] = plaintext[i] ^ ks[i]
	}
	return out
}

func (k Key) DecryptField(c primitives.Ciphertext, nonce primitives.Nonce, field uint64) [32]byte {
	ks := k.keystream(nonce, field)
	var out [32]byte
	for i := range out {
		out[i] = c[i] ^ ks[i]
	}
	return out
}

// EncryptValue encrypts v as a little-endian 32-byte field.
func (k Key) EncryptValue(v uint64, nonce primitives.Nonce, field uint64) primitives.Ciphertext {
	var pt [32]byte
	binary.LittleEndian.PutUint64(pt[:8], v)
	return k.EncryptField(pt, nonce, field)
}

// DecryptValue reverses EncryptValue. A plaintext with any of the upper 24
// bytes set was not produced by EncryptValue under this key.
func (k Key) DecryptValue(c primitives.Ciphertext, nonce primitives.Nonce, field uint64) (uint64, error) {
	pt := k.DecryptField(c, nonce, field)
	for _, b := range pt[8:] {
		if b != 0 {
			return 0, ErrValueOutOfRange
		}
	}
	return binary.LittleEndian.Uint64(pt[:8]), nil
}

// EncryptElement encrypts a BN254 scalar in its canonical big-endian form.
func (k Key) EncryptElement(e *fr.Element, nonce primitives.Nonce, field uint64) primitives.Ciphertext {
	return k.EncryptField(e.Bytes(), nonce, field)
}

func (k Key) DecryptElement(c primitives.Ciphertext, nonce primitives.Nonce, field uint64) (fr.Element, error) {
	pt := k.DecryptField(c, nonce, field)
	var e fr.Element
	if err := e.SetBytesCanonical(pt[:]); err != nil {
		return e, fmt.Errorf("%w: %v", primitives.ErrNotCanonical, err)
	}
	return e, nil
}
