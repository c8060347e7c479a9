package validator

import (
	"math/big"
	"sync"
	"testing"

	merkle_tree "light/shielded-pool/merkle-tree"
	"light/shielded-pool/primitives"
	"light/shielded-pool/prover"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDepth = 4

var (
	keysOnce sync.Once
	keys     *prover.KeyManager
	keysErr  error
)

func testKeys(t *testing.T) *prover.KeyManager {
	t.Helper()
	keysOnce.Do(func() {
		keys = prover.NewKeyManager(t.TempDir())
		for _, c := range []prover.CircuitType{prover.DepositCircuitType, prover.SpendCircuitType} {
			ps, err := prover.SetupCircuit(c, testDepth)
			if err != nil {
				keysErr = err
				return
			}
			keys.Register(ps)
		}
	})
	require.NoError(t, keysErr)
	return keys
}

// untouchedKeys fails the test if verification reaches the pairing stage.
type untouchedKeys struct{ t *testing.T }

func (k untouchedKeys) VerifyingKey(prover.CircuitType, uint32) (groth16.VerifyingKey, error) {
	k.t.Fatal("pairing stage reached")
	return nil, nil
}

func party(b byte) primitives.Address {
	var a primitives.Address
	a[31] = b
	return a
}

var parties = Parties{Sender: party(1), Receiver: party(2), Relayer: party(3)}

func spendFixture(t *testing.T) (*prover.SpendParameters, primitives.Hash) {
	t.Helper()
	p := &prover.SpendParameters{
		Amount:    90,
		LeafIndex: 1,
		OutAmount: 40,
		Value:     50,
		Sender:    parties.Sender,
		Receiver:  parties.Receiver,
		Relayer:   parties.Relayer,
	}
	p.Secret.SetUint64(3)
	p.Blinding.SetUint64(4)
	p.OutSecret.SetUint64(5)
	p.OutBlinding.SetUint64(6)
	p.ValueBlinding.SetUint64(7)

	tree := merkle_tree.NewTree(testDepth)
	tree.Update(0, fr.NewElement(8))
	leaf, err := prover.ComputeNoteCommitment(&p.Secret, &p.Blinding, p.Amount).Element()
	require.NoError(t, err)
	path := tree.Update(1, leaf)
	p.Path = make([]big.Int, len(path))
	for i := range path {
		path[i].BigInt(&p.Path[i])
	}
	root := tree.RootValue()
	return p, primitives.HashFromElement(&root)
}

func knownRoots(roots ...primitives.Hash) RootChecker {
	return RootCheckerFunc(func(root primitives.Hash) (bool, error) {
		for _, r := range roots {
			if r == root {
				return true, nil
			}
		}
		return false, nil
	})
}

func proveSpend(t *testing.T, p *prover.SpendParameters) Groth16Proof {
	t.Helper()
	ps, err := testKeys(t).System(prover.SpendCircuitType, testDepth)
	require.NoError(t, err)
	proof, err := ps.ProveSpend(p)
	require.NoError(t, err)
	wire, err := FromProof(proof)
	require.NoError(t, err)
	return wire
}

func TestVerifySpend(t *testing.T) {
	p, root := spendFixture(t)
	proof := proveSpend(t, p)
	in := SpendInputs(testDepth, p.PublicInputs())

	ok, err := New(testKeys(t)).VerifyTransition(proof, in, parties, knownRoots(root))
	require.NoError(t, err)
	assert.True(t, ok)

	tampered := in
	other := prover.ComputeNoteCommitment(big.NewInt(1), big.NewInt(1), 1)
	tampered.Commitment = other
	ok, err = New(testKeys(t)).VerifyTransition(proof, tampered, parties, knownRoots(root))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestUnknownRootRejectedBeforePairing(t *testing.T) {
	p, _ := spendFixture(t)
	in := SpendInputs(testDepth, p.PublicInputs())

	ok, err := New(untouchedKeys{t}).VerifyTransition(Groth16Proof{}, in, parties, knownRoots())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrStaleOrUnknownRoot)
}

func TestLinkerMismatchRejectedBeforePairing(t *testing.T) {
	p, root := spendFixture(t)
	in := SpendInputs(testDepth, p.PublicInputs())

	other := parties
	other.Relayer = party(9)
	ok, err := New(untouchedKeys{t}).VerifyTransition(Groth16Proof{}, in, other, knownRoots(root))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrLinkerMismatch)
}

func TestSpendNeedsRootAndNullifier(t *testing.T) {
	in := PublicInputs{Circuit: prover.SpendCircuitType, TreeDepth: testDepth}
	_, err := New(untouchedKeys{t}).VerifyTransition(Groth16Proof{}, in, parties, knownRoots())
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestVerifyDeposit(t *testing.T) {
	ps, err := testKeys(t).System(prover.DepositCircuitType, 0)
	require.NoError(t, err)
	params := &prover.DepositParameters{
		Amount:   77,
		Sender:   parties.Sender,
		Receiver: parties.Receiver,
		Relayer:  parties.Relayer,
	}
	params.Secret.SetUint64(1)
	params.Blinding.SetUint64(2)
	params.AmountBlinding.SetUint64(3)
	proof, err := ps.ProveDeposit(params)
	require.NoError(t, err)
	wire, err := FromProof(proof)
	require.NoError(t, err)

	in := DepositInputs(params.PublicInputs())
	ok, err := New(testKeys(t)).VerifyTransition(wire, in, parties, knownRoots())
	require.NoError(t, err)
	assert.True(t, ok)

	garbage := wire
	garbage.A[5] ^= 0xff
	ok, err = New(testKeys(t)).VerifyTransition(garbage, in, parties, knownRoots())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrInvalidProof)
}
