package prover

import (
	"github.com/consensys/gnark/frontend"
	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"
)

// DepositCircuit proves that Commitment is a well-formed note for an amount
// that AmountCommitment also commits to, and that the proof was made for
// the parties hashed into Linker.
type DepositCircuit struct {
	// public inputs
	Commitment       frontend.Variable `gnark:",public"`
	Linker           frontend.Variable `gnark:",public"`
	AmountCommitment frontend.Variable `gnark:",public"`

	// private inputs
	Secret         frontend.Variable `gnark:"input"`
	Blinding       frontend.Variable `gnark:"input"`
	Amount         frontend.Variable `gnark:"input"`
	AmountBlinding frontend.Variable `gnark:"input"`
	Sender         frontend.Variable `gnark:"input"`
	Receiver       frontend.Variable `gnark:"input"`
	Relayer        frontend.Variable `gnark:"input"`
}

func (circuit *DepositCircuit) Define(api frontend.API) error {
	commitment := abstractor.Call(api, NoteCommitment{
		Secret:   circuit.Secret,
		Blinding: circuit.Blinding,
		Amount:   circuit.Amount,
	})
	api.AssertIsEqual(commitment, circuit.Commitment)

	amountCommitment := abstractor.Call(api, MiMC{In: []frontend.Variable{circuit.Amount, circuit.AmountBlinding}})
	api.AssertIsEqual(amountCommitment, circuit.AmountCommitment)

	linker := abstractor.Call(api, Linker{
		Sender:   circuit.Sender,
		Receiver: circuit.Receiver,
		Relayer:  circuit.Relayer,
	})
	api.AssertIsEqual(linker, circuit.Linker)
	return nil
}
