package prover

import (
	"fmt"
	"os"

	"light/shielded-pool/logging"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
	"github.com/reilabs/gnark-lean-extractor/v3/abstractor"
)

// AmountBits bounds every amount that enters a circuit.
const AmountBits = 64

type Proof struct {
	Proof groth16.Proof
}

type ProvingSystem struct {
	CircuitType      CircuitType
	TreeDepth        uint32
	ProvingKey       groth16.ProvingKey
	VerifyingKey     groth16.VerifyingKey
	ConstraintSystem constraint.ConstraintSystem
}

// MiMC hashes its inputs with the BN254 MiMC sponge.
type MiMC struct {
	In []frontend.Variable
}

func (gadget MiMC) DefineGadget(api frontend.API) interface{} {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		panic(err)
	}
	h.Write(gadget.In...)
	return h.Sum()
}

type ProveParentHash struct {
	Bit     frontend.Variable
	Hash    frontend.Variable
	Sibling frontend.Variable
}

func (gadget ProveParentHash) DefineGadget(api frontend.API) interface{} {
	api.AssertIsBoolean(gadget.Bit)
	d1 := api.Select(gadget.Bit, gadget.Sibling, gadget.Hash)
	d2 := api.Select(gadget.Bit, gadget.Hash, gadget.Sibling)
	hash := abstractor.Call(api, MiMC{In: []frontend.Variable{d1, d2}})
	return hash
}

type MerkleRootGadget struct {
	Hash   frontend.Variable
	Index  []frontend.Variable
	Path   []frontend.Variable
	Height int
}

func (gadget MerkleRootGadget) DefineGadget(api frontend.API) interface{} {
	currentHash := gadget.Hash
	for i := 0; i < gadget.Height; i++ {
		currentHash = abstractor.Call(api, ProveParentHash{
			Bit:     gadget.Index[i],
			Hash:    currentHash,
			Sibling: gadget.Path[i],
		})
	}
	return currentHash
}

// RangeCheck asserts Value < 2^Bits.
type RangeCheck struct {
	Value frontend.Variable
	Bits  int
}

func (gadget RangeCheck) DefineGadget(api frontend.API) interface{} {
	api.ToBinary(gadget.Value, gadget.Bits)
	return []frontend.Variable{}
}

// NoteCommitment is H(secret, blinding, amount).
type NoteCommitment struct {
	Secret   frontend.Variable
	Blinding frontend.Variable
	Amount   frontend.Variable
}

func (gadget NoteCommitment) DefineGadget(api frontend.API) interface{} {
	abstractor.CallVoid(api, RangeCheck{Value: gadget.Amount, Bits: AmountBits})
	return abstractor.Call(api, MiMC{In: []frontend.Variable{gadget.Secret, gadget.Blinding, gadget.Amount}})
}

// Linker binds a proof to the parties of the request that carries it.
type Linker struct {
	Sender   frontend.Variable
	Receiver frontend.Variable
	Relayer  frontend.Variable
}

func (gadget Linker) DefineGadget(api frontend.API) interface{} {
	return abstractor.Call(api, MiMC{In: []frontend.Variable{gadget.Sender, gadget.Receiver, gadget.Relayer}})
}

func LoadProvingKey(filepath string) (pk groth16.ProvingKey, err error) {
	logging.Logger().Info().
		Str("filepath", filepath).
		Msg("start reading proving key")

	pk = groth16.NewProvingKey(ecc.BN254)
	f, err := os.Open(filepath)
	if err != nil {
		return pk, fmt.Errorf("error opening proving key file: %w", err)
	}
	defer f.Close()

	n, err := pk.ReadFrom(f)
	if err != nil {
		logging.Logger().Error().
			Str("filepath", filepath).
			Int64("bytesRead", n).
			Err(err).
			Msg("error reading proving key file")
		return pk, fmt.Errorf("error reading proving key: %w", err)
	}
	return pk, nil
}

func LoadVerifyingKey(filepath string) (verifyingKey groth16.VerifyingKey, err error) {
	logging.Logger().Info().
		Str("filepath", filepath).
		Msg("start reading verifying key")

	verifyingKey = groth16.NewVerifyingKey(ecc.BN254)
	f, err := os.Open(filepath)
	if err != nil {
		return verifyingKey, fmt.Errorf("error opening verifying key file: %w", err)
	}
	defer f.Close()

	if _, err = verifyingKey.ReadFrom(f); err != nil {
		return verifyingKey, fmt.Errorf("error reading verifying key: %w", err)
	}
	return verifyingKey, nil
}
