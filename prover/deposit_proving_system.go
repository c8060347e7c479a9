package prover

import (
	"fmt"
	"math/big"

	"light/shielded-pool/logging"
	"light/shielded-pool/primitives"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
)

type DepositParameters struct {
	Secret         big.Int
	Blinding       big.Int
	Amount         uint64
	AmountBlinding big.Int
	Sender         primitives.Address
	Receiver       primitives.Address
	Relayer        primitives.Address
}

type DepositPublicInputs struct {
	Commitment       primitives.Hash `json:"commitment"`
	Linker           primitives.Hash `json:"linker"`
	AmountCommitment primitives.Hash `json:"amountCommitment"`
}

func (p *DepositParameters) PublicInputs() DepositPublicInputs {
	return DepositPublicInputs{
		Commitment:       ComputeNoteCommitment(&p.Secret, &p.Blinding, p.Amount),
		Linker:           ComputeLinker(p.Sender, p.Receiver, p.Relayer),
		AmountCommitment: ComputeAmountCommitment(p.Amount, &p.AmountBlinding),
	}
}

func (p *DepositParameters) assignment() DepositCircuit {
	public := p.PublicInputs()
	return DepositCircuit{
		Commitment:       public.Commitment.Big(),
		Linker:           public.Linker.Big(),
		AmountCommitment: public.AmountCommitment.Big(),
		Secret:           &p.Secret,
		Blinding:         &p.Blinding,
		Amount:           p.Amount,
		AmountBlinding:   &p.AmountBlinding,
		Sender:           addressBig(p.Sender),
		Receiver:         addressBig(p.Receiver),
		Relayer:          addressBig(p.Relayer),
	}
}

func R1CSDeposit() (constraint.ConstraintSystem, error) {
	var circuit DepositCircuit
	return frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, &circuit)
}

func SetupDeposit() (*ProvingSystem, error) {
	ccs, err := R1CSDeposit()
	if err != nil {
		return nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, err
	}
	return &ProvingSystem{CircuitType: DepositCircuitType, ProvingKey: pk, VerifyingKey: vk, ConstraintSystem: ccs}, nil
}

func (ps *ProvingSystem) ProveDeposit(params *DepositParameters) (*Proof, error) {
	if ps.CircuitType != DepositCircuitType {
		return nil, fmt.Errorf("proving system is for %s circuits", ps.CircuitType)
	}
	assignment := params.assignment()

	witness, err := frontend.NewWitness(&assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, err
	}

	logging.Logger().Info().Msg("Proving deposit")
	proof, err := groth16.Prove(ps.ConstraintSystem, ps.ProvingKey, witness)
	if err != nil {
		return nil, err
	}
	return &Proof{proof}, nil
}

func VerifyDeposit(vk groth16.VerifyingKey, public DepositPublicInputs, proof *Proof) error {
	publicAssignment := DepositCircuit{
		Commitment:       public.Commitment.Big(),
		Linker:           public.Linker.Big(),
		AmountCommitment: public.AmountCommitment.Big(),
	}
	witness, err := frontend.NewWitness(&publicAssignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
	if err != nil {
		return err
	}
	return groth16.Verify(proof.Proof, vk, witness)
}
