package merkle_tree

import (
	"fmt"

	"light/shielded-pool/primitives"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// HashElements is the MiMC-BN254 sponge over field elements. It matches
// gnark's std/hash/mimc for the same inputs.
func HashElements(inputs ...fr.Element) fr.Element {
	h := mimc.NewMiMC()
	for i := range inputs {
		b := inputs[i].Bytes()
		// canonical encodings never fail to absorb
		_, _ = h.Write(b[:])
	}
	var out fr.Element
	out.SetBytes(h.Sum(nil))
	return out
}

// HashPair is the two-to-one node hash of the commitment tree.
func HashPair(left, right primitives.Hash) (primitives.Hash, error) {
	l, err := left.Element()
	if err != nil {
		return primitives.Hash{}, fmt.Errorf("left child: %w", err)
	}
	r, err := right.Element()
	if err != nil {
		return primitives.Hash{}, fmt.Errorf("right child: %w", err)
	}
	out := HashElements(l, r)
	return primitives.HashFromElement(&out), nil
}

// ZeroHashes returns the roots of empty subtrees for every level 0..depth.
func ZeroHashes(depth int) []fr.Element {
	zeros := make([]fr.Element, depth+1)
	for i := 1; i <= depth; i++ {
		zeros[i] = HashElements(zeros[i-1], zeros[i-1])
	}
	return zeros
}
