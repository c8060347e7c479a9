package prover

import (
	"fmt"
	"math/big"
	"strconv"

	"light/shielded-pool/logging"
	merkle_tree "light/shielded-pool/merkle-tree"
	"light/shielded-pool/primitives"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

type SpendParameters struct {
	Secret        big.Int
	Blinding      big.Int
	Amount        uint64
	LeafIndex     uint64
	Path          []big.Int
	OutSecret     big.Int
	OutBlinding   big.Int
	OutAmount     uint64
	Value         uint64
	ValueBlinding big.Int
	Sender        primitives.Address
	Receiver      primitives.Address
	Relayer       primitives.Address
}

type SpendPublicInputs struct {
	Root             primitives.Hash `json:"root"`
	Nullifier        primitives.Hash `json:"nullifier"`
	Commitment       primitives.Hash `json:"commitment"`
	Linker           primitives.Hash `json:"linker"`
	AmountCommitment primitives.Hash `json:"amountCommitment"`
}

func (p *SpendParameters) TreeDepth() uint32 {
	return uint32(len(p.Path))
}

func (p *SpendParameters) ValidateShape(treeDepth uint32) error {
	if p.TreeDepth() != treeDepth {
		return fmt.Errorf("wrong size of merkle proof: %d, expected %d", p.TreeDepth(), treeDepth)
	}
	if p.OutAmount+p.Value != p.Amount || p.OutAmount > p.Amount {
		return fmt.Errorf("value %d and change %d do not add up to %d", p.Value, p.OutAmount, p.Amount)
	}
	return nil
}

// PublicInputs recomputes the statement the proof is made for. The root is
// the one reached by the note's path.
func (p *SpendParameters) PublicInputs() SpendPublicInputs {
	leaf := ComputeNoteCommitment(&p.Secret, &p.Blinding, p.Amount)
	leafElement, _ := leaf.Element()
	path := make([]fr.Element, len(p.Path))
	for i := range p.Path {
		path[i] = element(&p.Path[i])
	}
	root := merkle_tree.VerifyPath(leafElement, p.LeafIndex, path)
	return SpendPublicInputs{
		Root:             primitives.HashFromElement(&root),
		Nullifier:        ComputeNullifier(&p.Secret, p.LeafIndex),
		Commitment:       ComputeNoteCommitment(&p.OutSecret, &p.OutBlinding, p.OutAmount),
		Linker:           ComputeLinker(p.Sender, p.Receiver, p.Relayer),
		AmountCommitment: ComputeSpendAmountCommitment(p.Value, p.OutAmount, &p.ValueBlinding),
	}
}

func (p *SpendParameters) assignment() SpendCircuit {
	public := p.PublicInputs()
	path := make([]frontend.Variable, len(p.Path))
	for i := range path {
		path[i] = &p.Path[i]
	}
	return SpendCircuit{
		Root:             public.Root.Big(),
		Nullifier:        public.Nullifier.Big(),
		Commitment:       public.Commitment.Big(),
		Linker:           public.Linker.Big(),
		AmountCommitment: public.AmountCommitment.Big(),
		Secret:           &p.Secret,
		Blinding:         &p.Blinding,
		Amount:           p.Amount,
		LeafIndex:        p.LeafIndex,
		Path:             path,
		OutSecret:        &p.OutSecret,
		OutBlinding:      &p.OutBlinding,
		OutAmount:        p.OutAmount,
		Value:            p.Value,
		ValueBlinding:    &p.ValueBlinding,
		Sender:           addressBig(p.Sender),
		Receiver:         addressBig(p.Receiver),
		Relayer:          addressBig(p.Relayer),
		Depth:            len(p.Path),
	}
}

func R1CSSpend(treeDepth uint32) (constraint.ConstraintSystem, error) {
	circuit := SpendCircuit{
		Path:  make([]frontend.Variable, treeDepth),
		Depth: int(treeDepth),
	}
	return frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
}

func SetupSpend(treeDepth uint32) (*ProvingSystem, error) {
	ccs, err := R1CSSpend(treeDepth)
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, err
	}
	return &ProvingSystem{CircuitType: SpendCircuitType, TreeDepth: treeDepth, ProvingKey: pk, VerifyingKey: vk, ConstraintSystem: ccs}, nil
}

func (ps *ProvingSystem) ProveSpend(params *SpendParameters) (*Proof, error) {
	if ps.CircuitType != SpendCircuitType {
		return nil, fmt.Errorf("proving system is for %s circuits", ps.CircuitType)
	}
	if err := params.ValidateShape(ps.TreeDepth); err != nil {
		return nil, err
	}
	assignment := params.assignment()

	witness, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}

	logging.Logger().Info().Msg("Proving spend " + strconv.Itoa(int(ps.TreeDepth)))
	proof, err := groth16.Prove(ps.ConstraintSystem, ps.ProvingKey, witness)
	if err != nil {
		return nil, err
	}
	return &Proof{proof}, nil
}

func VerifySpend(vk groth16.VerifyingKey, treeDepth uint32, public SpendPublicInputs, proof *Proof) error {
	publicAssignment := SpendCircuit{
		Root:             public.Root.Big(),
		Nullifier:        public.Nullifier.Big(),
		Commitment:       public.Commitment.Big(),
		Linker:           public.Linker.Big(),
		AmountCommitment: public.AmountCommitment.Big(),
		Path:             make([]frontend.Variable, treeDepth),
	}
	witness, err := frontend.NewWitness(&publicAssignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return err
	}
	return groth16.Verify(proof.Proof, vk, witness)
}
