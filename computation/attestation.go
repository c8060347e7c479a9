package computation

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"

	"light/shielded-pool/primitives"

	"github.com/hdevalence/ed25519consensus"
)

var ErrUnauthorizedCallback = errors.New("callback is not signed by the compute authority")

const attestationDomain = "shielded-pool/callback/v1"

// SignatureCheck is a signature-verification instruction carried in the same
// transaction as a callback.
type SignatureCheck struct {
	PublicKey primitives.Ed25519PublicKey `json:"publicKey"`
	Message   []byte                      `json:"message"`
	Signature primitives.Signature        `json:"signature"`
}

// CallbackTransaction delivers the outputs of the computation at Offset.
// Outputs are kept as received since the signature covers their bytes.
type CallbackTransaction struct {
	Offset        primitives.ComputationOffset `json:"offset"`
	Discriminator primitives.Discriminator     `json:"discriminator"`
	Outputs       json.RawMessage              `json:"outputs"`
	Instructions  []SignatureCheck             `json:"instructions"`
}

// AttestationMessage is the message the compute authority signs for a
// callback.
func AttestationMessage(offset primitives.ComputationOffset, disc primitives.Discriminator, inputDigest primitives.Hash, outputs []byte) []byte {
	outputsHash := sha256.Sum256(outputs)
	ob := offset.Bytes()
	h := sha256.New()
	h.Write([]byte(attestationDomain))
	h.Write(ob[:])
	h.Write(disc[:])
	h.Write(inputDigest[:])
	h.Write(outputsHash[:])
	return h.Sum(nil)
}

// Attest builds the callback transaction for job, signed with key.
func Attest(key ed25519.PrivateKey, job *Job, outputs []byte) CallbackTransaction {
	msg := AttestationMessage(job.Offset, job.Discriminator, job.InputDigest, outputs)
	var check SignatureCheck
	copy(check.PublicKey[:], key.Public().(ed25519.PublicKey))
	copy(check.Signature[:], ed25519.Sign(key, msg))
	check.Message = msg
	return CallbackTransaction{
		Offset:        job.Offset,
		Discriminator: job.Discriminator,
		Outputs:       outputs,
		Instructions:  []SignatureCheck{check},
	}
}

// authenticated reports whether one of the transaction's signature checks
// is by authority over the expected message and verifies.
func (t *CallbackTransaction) authenticated(authority primitives.Ed25519PublicKey, inputDigest primitives.Hash) bool {
	expected := AttestationMessage(t.Offset, t.Discriminator, inputDigest, t.Outputs)
	for _, check := range t.Instructions {
		if check.PublicKey != authority || !bytes.Equal(check.Message, expected) {
			continue
		}
		if ed25519consensus.Verify(authority[:], expected, check.Signature[:]) {
			return true
		}
	}
	return false
}
