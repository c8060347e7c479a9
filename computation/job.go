package computation

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"light/shielded-pool/fees"
	"light/shielded-pool/ledger"
	"light/shielded-pool/primitives"
)

// CallbackDiscriminator identifies the callback instruction that completes
// a computation of kind.
func CallbackDiscriminator(kind ledger.ComputationKind) primitives.Discriminator {
	sum := sha256.Sum256([]byte("global:" + kind.String() + "_callback"))
	var d primitives.Discriminator
	copy(d[:], sum[:primitives.DiscriminatorSize])
	return d
}

// AccountInput is a bound token account as the engine sees it.
type AccountInput struct {
	Address  primitives.Address         `json:"address"`
	Domain   ledger.Domain              `json:"domain"`
	OwnerKey primitives.X25519PublicKey `json:"ownerKey"`
	Balance  ledger.EncryptedValue      `json:"balance"`
}

// JobInputs are the encrypted inputs and public context of a computation.
type JobInputs struct {
	Mint                  primitives.Address          `json:"mint"`
	Fees                  *fees.Configuration         `json:"fees,omitempty"`
	RelayerPoolPrivate    bool                        `json:"relayerPoolPrivate,omitempty"`
	CommissionPoolPrivate bool                        `json:"commissionPoolPrivate,omitempty"`
	Accounts              []AccountInput              `json:"accounts,omitempty"`
	SenderKey             *primitives.X25519PublicKey `json:"senderKey,omitempty"`
	Payload               *EncryptedPayload           `json:"payload,omitempty"`
	AmountCommitment      *primitives.Hash            `json:"amountCommitment,omitempty"`
	PublicAmount          primitives.Amount           `json:"publicAmount,omitempty"`
	Destination           *primitives.X25519PublicKey `json:"destination,omitempty"`
	FeeEntries            []ledger.EncryptedValue     `json:"feeEntries,omitempty"`
}

// Job is what the dispatcher hands to the engine.
type Job struct {
	ID            string                       `json:"id"`
	Offset        primitives.ComputationOffset `json:"offset"`
	Kind          ledger.ComputationKind       `json:"kind"`
	Discriminator primitives.Discriminator     `json:"discriminator"`
	InputDigest   primitives.Hash              `json:"inputDigest"`
	Inputs        JobInputs                    `json:"inputs"`
}

// InputDigest binds a computation's inputs to its offset and kind. It is
// stored with the booking and signed over by the engine.
func InputDigest(offset primitives.ComputationOffset, kind ledger.ComputationKind, in *JobInputs) (primitives.Hash, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return primitives.Hash{}, fmt.Errorf("encode job inputs: %w", err)
	}
	h := sha256.New()
	ob := offset.Bytes()
	h.Write(ob[:])
	h.Write([]byte{byte(kind)})
	h.Write(data)
	var out primitives.Hash
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Verify recomputes the job's digest.
func (j *Job) Verify() error {
	digest, err := InputDigest(j.Offset, j.Kind, &j.Inputs)
	if err != nil {
		return err
	}
	if digest != j.InputDigest {
		return fmt.Errorf("job %s: input digest mismatch", j.ID)
	}
	if j.Discriminator != CallbackDiscriminator(j.Kind) {
		return fmt.Errorf("job %s: discriminator mismatch", j.ID)
	}
	return nil
}
