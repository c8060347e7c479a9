package prover

import (
	"math/big"

	merkle_tree "light/shielded-pool/merkle-tree"
	"light/shielded-pool/primitives"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Off-circuit counterparts of the circuit gadgets. Clients use them to
// build witnesses; the engine uses them to open amount commitments.

func element(i *big.Int) fr.Element {
	var e fr.Element
	e.SetBigInt(i)
	return e
}

func addressBig(a primitives.Address) *big.Int {
	e := a.Element()
	return e.BigInt(new(big.Int))
}

func hashOf(inputs ...fr.Element) primitives.Hash {
	out := merkle_tree.HashElements(inputs...)
	return primitives.HashFromElement(&out)
}

func ComputeNoteCommitment(secret, blinding *big.Int, amount uint64) primitives.Hash {
	return hashOf(element(secret), element(blinding), fr.NewElement(amount))
}

func ComputeNullifier(secret *big.Int, leafIndex uint64) primitives.Hash {
	return hashOf(element(secret), fr.NewElement(leafIndex))
}

func ComputeLinker(sender, receiver, relayer primitives.Address) primitives.Hash {
	return hashOf(sender.Element(), receiver.Element(), relayer.Element())
}

// ComputeAmountCommitment commits to the amount moved by a deposit.
func ComputeAmountCommitment(amount uint64, blinding *big.Int) primitives.Hash {
	return hashOf(fr.NewElement(amount), element(blinding))
}

// ComputeSpendAmountCommitment commits to the value leaving a spent note
// together with the change kept in the output note.
func ComputeSpendAmountCommitment(value, outAmount uint64, blinding *big.Int) primitives.Hash {
	return hashOf(fr.NewElement(value), fr.NewElement(outAmount), element(blinding))
}
