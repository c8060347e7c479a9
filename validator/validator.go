// Package validator checks proof-gated transitions before they are allowed
// to book a computation slot.
package validator

import (
	"errors"
	"fmt"

	"light/shielded-pool/logging"
	"light/shielded-pool/primitives"
	"light/shielded-pool/prover"

	"github.com/consensys/gnark/backend/groth16"
)

var (
	ErrStaleOrUnknownRoot = errors.New("merkle root is neither current nor in the root history")
	ErrLinkerMismatch     = errors.New("linker does not match the request parties")
	ErrInvalidProof       = errors.New("proof verification failed")
	ErrMissingInput       = errors.New("public input missing for circuit")
)

// Groth16Proof is the wire form of a proof: uncompressed BN254 points.
type Groth16Proof struct {
	A primitives.ProofA `json:"a"`
	B primitives.ProofB `json:"b"`
	C primitives.ProofC `json:"c"`
}

func FromProof(p *prover.Proof) (Groth16Proof, error) {
	a, b, c, err := p.Components()
	return Groth16Proof{A: a, B: b, C: c}, err
}

// PublicInputs is the statement a transition proof is checked against.
// Root and Nullifier are only present for spend proofs.
type PublicInputs struct {
	Circuit          prover.CircuitType `json:"circuit"`
	TreeDepth        uint32             `json:"treeDepth,omitempty"`
	Root             *primitives.Hash   `json:"root,omitempty"`
	Nullifier        *primitives.Hash   `json:"nullifier,omitempty"`
	Commitment       primitives.Hash    `json:"commitment"`
	Linker           primitives.Hash    `json:"linker"`
	AmountCommitment primitives.Hash    `json:"amountCommitment"`
}

func DepositInputs(in prover.DepositPublicInputs) PublicInputs {
	return PublicInputs{
		Circuit:          prover.DepositCircuitType,
		Commitment:       in.Commitment,
		Linker:           in.Linker,
		AmountCommitment: in.AmountCommitment,
	}
}

func SpendInputs(treeDepth uint32, in prover.SpendPublicInputs) PublicInputs {
	root, nullifier := in.Root, in.Nullifier
	return PublicInputs{
		Circuit:          prover.SpendCircuitType,
		TreeDepth:        treeDepth,
		Root:             &root,
		Nullifier:        &nullifier,
		Commitment:       in.Commitment,
		Linker:           in.Linker,
		AmountCommitment: in.AmountCommitment,
	}
}

// Parties are the addresses the request was made for; the linker must hash
// to exactly these.
type Parties struct {
	Sender   primitives.Address
	Receiver primitives.Address
	Relayer  primitives.Address
}

// RootChecker answers whether a root is current or in the bounded history.
type RootChecker interface {
	IsKnownRoot(root primitives.Hash) (bool, error)
}

type RootCheckerFunc func(root primitives.Hash) (bool, error)

func (f RootCheckerFunc) IsKnownRoot(root primitives.Hash) (bool, error) { return f(root) }

type VerifyingKeys interface {
	VerifyingKey(circuit prover.CircuitType, treeDepth uint32) (groth16.VerifyingKey, error)
}

type Validator struct {
	keys VerifyingKeys
}

func New(keys VerifyingKeys) *Validator {
	return &Validator{keys: keys}
}

// VerifyTransition accepts a proof only if its root is known, its linker
// matches parties and the pairing check passes, in that order. A false
// result always comes with the reason.
func (v *Validator) VerifyTransition(proof Groth16Proof, in PublicInputs, parties Parties, roots RootChecker) (bool, error) {
	if in.Circuit == prover.SpendCircuitType {
		if in.Root == nil || in.Nullifier == nil {
			return false, fmt.Errorf("%w: spend proofs need root and nullifier", ErrMissingInput)
		}
		known, err := roots.IsKnownRoot(*in.Root)
		if err != nil {
			return false, err
		}
		if !known {
			return false, fmt.Errorf("%w: %s", ErrStaleOrUnknownRoot, in.Root)
		}
	}

	expected := prover.ComputeLinker(parties.Sender, parties.Receiver, parties.Relayer)
	if expected != in.Linker {
		return false, fmt.Errorf("%w: got %s", ErrLinkerMismatch, in.Linker)
	}

	vk, err := v.keys.VerifyingKey(in.Circuit, in.TreeDepth)
	if err != nil {
		return false, err
	}
	decoded, err := prover.ProofFromComponents(proof.A, proof.B, proof.C)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}

	switch in.Circuit {
	case prover.DepositCircuitType:
		err = prover.VerifyDeposit(vk, prover.DepositPublicInputs{
			Commitment:       in.Commitment,
			Linker:           in.Linker,
			AmountCommitment: in.AmountCommitment,
		}, decoded)
	case prover.SpendCircuitType:
		err = prover.VerifySpend(vk, in.TreeDepth, prover.SpendPublicInputs{
			Root:             *in.Root,
			Nullifier:        *in.Nullifier,
			Commitment:       in.Commitment,
			Linker:           in.Linker,
			AmountCommitment: in.AmountCommitment,
		}, decoded)
	default:
		return false, fmt.Errorf("invalid circuit: %s", in.Circuit)
	}
	if err != nil {
		logging.Logger().Debug().Err(err).Str("circuit", string(in.Circuit)).Msg("proof rejected")
		return false, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return true, nil
}
