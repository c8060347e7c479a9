package primitives

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/hdevalence/ed25519consensus"
)

var ErrBadSignature = errors.New("signature does not verify under the signer address")

// Signer addresses are ed25519 public keys. An instruction names its signer
// by address and is accepted only with a signature that verifies under it.

// SignerAddress returns the address controlled by key.
func SignerAddress(key ed25519.PrivateKey) Address {
	var a Address
	copy(a[:], key.Public().(ed25519.PublicKey))
	return a
}

func Sign(key ed25519.PrivateKey, msg []byte) Signature {
	var s Signature
	copy(s[:], ed25519.Sign(key, msg))
	return s
}

// VerifySignature checks sig over msg under signer with the ZIP-215 rules
// callback attestations are held to.
func VerifySignature(signer Address, msg []byte, sig Signature) error {
	if !ed25519consensus.Verify(signer[:], msg, sig[:]) {
		return fmt.Errorf("%w: %s", ErrBadSignature, signer)
	}
	return nil
}
