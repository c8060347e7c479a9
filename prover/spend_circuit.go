package prover

import (
	"github.com/consensys/gnark/frontend"
	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"
)

// SpendCircuit proves ownership of a note under Root, derives its
// nullifier, and splits its amount into Value, which leaves the note, and
// OutAmount, which stays in the output note Commitment.
type SpendCircuit struct {
	// public inputs
	Root             frontend.Variable `gnark:",public"`
	Nullifier        frontend.Variable `gnark:",public"`
	Commitment       frontend.Variable `gnark:",public"`
	Linker           frontend.Variable `gnark:",public"`
	AmountCommitment frontend.Variable `gnark:",public"`

	// private inputs
	Secret        frontend.Variable   `gnark:"input"`
	Blinding      frontend.Variable   `gnark:"input"`
	Amount        frontend.Variable   `gnark:"input"`
	LeafIndex     frontend.Variable   `gnark:"input"`
	Path          []frontend.Variable `gnark:"input"`
	OutSecret     frontend.Variable   `gnark:"input"`
	OutBlinding   frontend.Variable   `gnark:"input"`
	OutAmount     frontend.Variable   `gnark:"input"`
	Value         frontend.Variable   `gnark:"input"`
	ValueBlinding frontend.Variable   `gnark:"input"`
	Sender        frontend.Variable   `gnark:"input"`
	Receiver      frontend.Variable   `gnark:"input"`
	Relayer       frontend.Variable   `gnark:"input"`

	Depth int
}

func (circuit *SpendCircuit) Define(api frontend.API) error {
	leaf := abstractor.Call(api, NoteCommitment{
		Secret:   circuit.Secret,
		Blinding: circuit.Blinding,
		Amount:   circuit.Amount,
	})
	root := abstractor.Call(api, MerkleRootGadget{
		Hash:   leaf,
		Index:  api.ToBinary(circuit.LeafIndex, circuit.Depth),
		Path:   circuit.Path,
		Height: circuit.Depth,
	})
	api.AssertIsEqual(root, circuit.Root)

	nullifier := abstractor.Call(api, MiMC{In: []frontend.Variable{circuit.Secret, circuit.LeafIndex}})
	api.AssertIsEqual(nullifier, circuit.Nullifier)

	abstractor.CallVoid(api, RangeCheck{Value: circuit.Value, Bits: AmountBits})
	abstractor.CallVoid(api, RangeCheck{Value: circuit.OutAmount, Bits: AmountBits})
	api.AssertIsEqual(circuit.Amount, api.Add(circuit.OutAmount, circuit.Value))

	commitment := abstractor.Call(api, NoteCommitment{
		Secret:   circuit.OutSecret,
		Blinding: circuit.OutBlinding,
		Amount:   circuit.OutAmount,
	})
	api.AssertIsEqual(commitment, circuit.Commitment)

	amountCommitment := abstractor.Call(api, MiMC{In: []frontend.Variable{circuit.Value, circuit.OutAmount, circuit.ValueBlinding}})
	api.AssertIsEqual(amountCommitment, circuit.AmountCommitment)

	linker := abstractor.Call(api, Linker{
		Sender:   circuit.Sender,
		Receiver: circuit.Receiver,
		Relayer:  circuit.Relayer,
	})
	api.AssertIsEqual(linker, circuit.Linker)
	return nil
}
