package prover

import (
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"
	"github.com/reilabs/gnark-lean-extractor/v3/extractor"
)

// ExtractLean renders the deposit and spend circuits as Lean definitions.
func ExtractLean(treeDepth uint32) (string, error) {
	depositCircuit := DepositCircuit{}
	spendCircuit := SpendCircuit{
		Path:  make([]frontend.Variable, treeDepth),
		Depth: int(treeDepth),
	}
	return extractor.ExtractCircuits(
		"ShieldedPool",
		ecc.BN254,
		&depositCircuit,
		&spendCircuit,
	)
}
