package computation_test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"math/big"
	"sync"
	"testing"

	"light/shielded-pool/computation"
	"light/shielded-pool/encryption"
	"light/shielded-pool/engine"
	"light/shielded-pool/fees"
	"light/shielded-pool/ledger"
	merkle_tree "light/shielded-pool/merkle-tree"
	"light/shielded-pool/primitives"
	"light/shielded-pool/prover"
	"light/shielded-pool/validator"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"
)

const (
	testDepth = 4
	mxeSecret = "test mxe secret"
)

var (
	admin       = party(0xa0)
	mint        = party(0x11)
	relayer     = party(0x51)
	signingSeed = bytes.Repeat([]byte{7}, 32)
	testFees    = fees.Configuration{
		RelayerFees:              2,
		CommissionFeesLowerBound: 1,
		CommissionFeesUpperBound: 100,
		CommissionFees:           100,
	}
)

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

var signingKeys sync.Map

// party returns the signer address of a key derived from b.
func party(b byte) primitives.Address {
	key := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{b}, ed25519.SeedSize))
	a := primitives.SignerAddress(key)
	signingKeys.Store(a, key)
	return a
}

func keyOf(t *testing.T, a primitives.Address) ed25519.PrivateKey {
	t.Helper()
	key, ok := signingKeys.Load(a)
	require.True(t, ok, "no signing key for %s", a)
	return key.(ed25519.PrivateKey)
}

type jobQueue struct {
	jobs []*computation.Job
	err  error
}

func (q *jobQueue) Submit(_ context.Context, job *computation.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type user struct {
	owner   primitives.Address
	account primitives.Address
	priv    encryption.PrivateKey
	pub     primitives.X25519PublicKey
}

type note struct {
	secret    uint64
	blinding  uint64
	amount    uint64
	leafIndex uint64
}

type fixture struct {
	t          *testing.T
	ledger     *ledger.Ledger
	engine     *engine.Engine
	enginePub  primitives.X25519PublicKey
	jobs       *jobQueue
	dispatcher *computation.Dispatcher

	treeAddr       primitives.Address
	relayerPool    primitives.Address
	commissionPool primitives.Address
	privatePool    primitives.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := ledger.OpenMemoryStore()
	require.NoError(t, err)
	l := ledger.New(store, admin)
	t.Cleanup(func() { _ = l.Close() })

	eng, err := engine.New(signingSeed, []byte(mxeSecret))
	require.NoError(t, err)
	enginePub, err := eng.PublicKey()
	require.NoError(t, err)

	f := &fixture{
		t:         t,
		ledger:    l,
		engine:    eng,
		enginePub: enginePub,
		jobs:      &jobQueue{},
	}
	f.dispatcher = computation.NewDispatcher(l, validator.New(testKeys(t)), f.jobs, eng.Authority())

	require.NoError(t, l.Update(func(tx *ledger.Tx) error {
		seeds := []primitives.InstructionSeed{
			ledger.SeedFeesAdmin, ledger.SeedFreeze, ledger.SeedNetworkCompliance,
			ledger.SeedTreeAdmin, ledger.SeedCollectFees, ledger.SeedPoolAdmin,
			ledger.SeedMintAuthority,
		}
		for _, seed := range seeds {
			if err := tx.SetAccessControl(admin, seed, []primitives.Address{admin}); err != nil {
				return err
			}
		}
		var err error
		if f.treeAddr, err = tx.InitialiseCommitmentTree(admin, mint, 0, testDepth); err != nil {
			return err
		}
		if _, err = tx.InitialiseFeesConfiguration(admin, mint, testFees); err != nil {
			return err
		}
		if f.relayerPool, err = tx.InitialiseFeePool(relayer, ledger.PoolRelayer, ledger.Public, relayer, 0); err != nil {
			return err
		}
		if f.commissionPool, err = tx.InitialiseFeePool(admin, ledger.PoolCommission, ledger.Public, mint, 0); err != nil {
			return err
		}
		f.privatePool, err = tx.InitialiseFeePool(admin, ledger.PoolCommission, ledger.Private, mint, 1)
		return err
	}))
	return f
}

func (f *fixture) openAccount(owner primitives.Address, domain ledger.Domain) user {
	f.t.Helper()
	u := user{owner: owner, priv: encryption.PrivateKeyFromSecret(owner[:])}
	var err error
	u.pub, err = u.priv.PublicKey()
	require.NoError(f.t, err)
	require.NoError(f.t, f.ledger.Update(func(tx *ledger.Tx) error {
		if _, err := tx.InitialiseAccount(owner, u.pub, primitives.Hash{}); err != nil {
			return err
		}
		u.account, err = tx.InitialiseTokenAccount(owner, mint, domain)
		return err
	}))
	return u
}

func (f *fixture) feeAccounts() computation.FeeAccounts {
	return computation.FeeAccounts{Relayer: relayer, RelayerPool: f.relayerPool, CommissionPool: f.commissionPool}
}

func (f *fixture) popJob() *computation.Job {
	f.t.Helper()
	require.NotEmpty(f.t, f.jobs.jobs)
	job := f.jobs.jobs[0]
	f.jobs.jobs = f.jobs.jobs[1:]
	return job
}

// resolve executes the oldest submitted job and delivers its callback.
func (f *fixture) resolve() *computation.Outcome {
	f.t.Helper()
	cb, err := f.engine.Execute(f.popJob())
	require.NoError(f.t, err)
	out, err := f.dispatcher.Callback(context.Background(), cb)
	require.NoError(f.t, err)
	return out
}

// dispatch signs req with the key of its signer and dispatches it.
func (f *fixture) dispatch(req computation.TransitionRequest) (*computation.Receipt, error) {
	f.t.Helper()
	require.NoError(f.t, req.Sign(keyOf(f.t, req.Signer)))
	return f.dispatcher.Dispatch(context.Background(), req)
}

func (f *fixture) run(req computation.TransitionRequest) *computation.Outcome {
	f.t.Helper()
	_, err := f.dispatch(req)
	require.NoError(f.t, err)
	return f.resolve()
}

func (f *fixture) balance(u user) uint64 {
	f.t.Helper()
	var token *ledger.EncryptedTokenAccount
	require.NoError(f.t, f.ledger.View(func(tx *ledger.Tx) error {
		var err error
		token, err = tx.TokenAccount(u.account)
		return err
	}))
	if token.Balance.IsZero() {
		return 0
	}
	key := encryption.MXEKey([]byte(mxeSecret))
	if token.Domain == ledger.DomainShared {
		var err error
		key, err = encryption.SharedKey(u.priv, f.enginePub)
		require.NoError(f.t, err)
	}
	v, err := key.DecryptValue(token.Balance.Ciphertext, token.Balance.Nonce, 0)
	require.NoError(f.t, err)
	return v
}

func (f *fixture) pool(addr primitives.Address) *ledger.FeePool {
	f.t.Helper()
	var pool *ledger.FeePool
	require.NoError(f.t, f.ledger.View(func(tx *ledger.Tx) error {
		var err error
		pool, err = tx.FeePool(addr)
		return err
	}))
	return pool
}

// payload encrypts values, and an optional trailing blinding, for the
// engine, bound to a request by u at offset.
func (f *fixture) payload(u user, offset primitives.ComputationOffset, values []uint64, blinding *big.Int) computation.EncryptedPayload {
	f.t.Helper()
	key, err := encryption.SharedKey(u.priv, f.enginePub)
	require.NoError(f.t, err)
	p := computation.EncryptedPayload{Nonce: computation.PayloadNonce(offset, u.owner)}
	for i, v := range values {
		p.Fields = append(p.Fields, key.EncryptValue(v, p.Nonce, uint64(i)))
	}
	if blinding != nil {
		var e fr.Element
		e.SetBigInt(blinding)
		p.Fields = append(p.Fields, key.EncryptElement(&e, p.Nonce, uint64(len(values))))
	}
	return p
}

func (f *fixture) fund(offset primitives.ComputationOffset, u user, amount primitives.Amount) {
	f.t.Helper()
	out := f.run(computation.TransitionRequest{
		Offset:     offset,
		Signer:     admin,
		Transition: &computation.FundRequest{Mint: mint, Account: u.account, Amount: amount},
	})
	require.True(f.t, out.Applied, out.Reason)
}

// deposit turns amount of u's balance into a note owned by u.
func (f *fixture) deposit(offset primitives.ComputationOffset, u user, n note) primitives.Hash {
	f.t.Helper()
	params := &prover.DepositParameters{Amount: n.amount, Sender: u.owner, Receiver: u.owner, Relayer: relayer}
	params.Secret.SetUint64(n.secret)
	params.Blinding.SetUint64(n.blinding)
	params.AmountBlinding.SetUint64(n.secret + 1000)

	ps, err := testKeys(f.t).System(prover.DepositCircuitType, 0)
	require.NoError(f.t, err)
	proof, err := ps.ProveDeposit(params)
	require.NoError(f.t, err)
	wire, err := validator.FromProof(proof)
	require.NoError(f.t, err)
	public := params.PublicInputs()

	out := f.run(computation.TransitionRequest{
		Offset: offset,
		Signer: u.owner,
		Transition: &computation.DepositRequest{
			Mint:             mint,
			Source:           u.account,
			Receiver:         u.owner,
			Fees:             f.feeAccounts(),
			Proof:            wire,
			Commitment:       public.Commitment,
			Linker:           public.Linker,
			AmountCommitment: public.AmountCommitment,
			Opening:          f.payload(u, offset, []uint64{n.amount}, &params.AmountBlinding),
		},
	})
	require.True(f.t, out.Applied, out.Reason)
	return public.Commitment
}

// spendProof proves that u can spend n out of mirror's current root in a
// request at offset.
func (f *fixture) spendProof(u user, receiver primitives.Address, n note, mirror *merkle_tree.Tree, value, change uint64, offset primitives.ComputationOffset) computation.SpendProof {
	f.t.Helper()
	params := &prover.SpendParameters{
		Amount:    n.amount,
		LeafIndex: n.leafIndex,
		OutAmount: change,
		Value:     value,
		Sender:    u.owner,
		Receiver:  receiver,
		Relayer:   relayer,
	}
	params.Secret.SetUint64(n.secret)
	params.Blinding.SetUint64(n.blinding)
	params.OutSecret.SetUint64(n.secret + 1)
	params.OutBlinding.SetUint64(n.blinding + 1)
	params.ValueBlinding.SetUint64(uint64(offset) + 77)
	path := mirror.GetProofByIndex(n.leafIndex)
	params.Path = make([]big.Int, len(path))
	for i := range path {
		path[i].BigInt(&params.Path[i])
	}

	ps, err := testKeys(f.t).System(prover.SpendCircuitType, testDepth)
	require.NoError(f.t, err)
	proof, err := ps.ProveSpend(params)
	require.NoError(f.t, err)
	wire, err := validator.FromProof(proof)
	require.NoError(f.t, err)
	public := params.PublicInputs()
	return computation.SpendProof{
		Proof:            wire,
		Root:             public.Root,
		Nullifier:        public.Nullifier,
		Commitment:       public.Commitment,
		Linker:           public.Linker,
		AmountCommitment: public.AmountCommitment,
		Opening:          f.payload(u, offset, []uint64{value, change}, &params.ValueBlinding),
	}
}

func element(t *testing.T, h primitives.Hash) fr.Element {
	t.Helper()
	e, err := h.Element()
	require.NoError(t, err)
	return e
}

func (f *fixture) raw(account primitives.Address) []byte {
	f.t.Helper()
	var data []byte
	require.NoError(f.t, f.ledger.View(func(tx *ledger.Tx) error {
		var err error
		data, err = tx.RawTokenAccount(account)
		return err
	}))
	return data
}

func (f *fixture) rawNullifier(h primitives.Hash) []byte {
	f.t.Helper()
	var data []byte
	require.NoError(f.t, f.ledger.View(func(tx *ledger.Tx) error {
		var err error
		data, err = tx.RawNullifier(h)
		return err
	}))
	return data
}

// snapshot captures the stored bytes a spend into account may touch.
func (f *fixture) snapshot(account primitives.Address, nullifier primitives.Hash) [][]byte {
	return [][]byte{f.raw(account), f.rawNullifier(nullifier)}
}

func (f *fixture) lockedBy(account primitives.Address) primitives.ComputationOffset {
	f.t.Helper()
	var offset primitives.ComputationOffset
	require.NoError(f.t, f.ledger.View(func(tx *ledger.Tx) error {
		token, err := tx.TokenAccount(account)
		if err != nil {
			return err
		}
		offset = token.LockedBy
		return nil
	}))
	return offset
}

// lastEvent decodes the most recent committed event called name.
func (f *fixture) lastEvent(name string) computation.CallbackEvent {
	f.t.Helper()
	events, err := f.ledger.Events(0, 0)
	require.NoError(f.t, err)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Name != name {
			continue
		}
		var ev computation.CallbackEvent
		require.NoError(f.t, json.Unmarshal(events[i].Payload, &ev))
		return ev
	}
	f.t.Fatalf("no %s event", name)
	return computation.CallbackEvent{}
}
