package engine

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"math/big"
	"testing"

	"light/shielded-pool/computation"
	"light/shielded-pool/encryption"
	"light/shielded-pool/fees"
	"light/shielded-pool/ledger"
	"light/shielded-pool/primitives"
	"light/shielded-pool/prover"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFees = fees.Configuration{
	RelayerFees:              2,
	CommissionFeesLowerBound: 1,
	CommissionFeesUpperBound: 100,
	CommissionFees:           100,
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(bytes.Repeat([]byte{3}, ed25519.SeedSize), []byte("mxe"))
	require.NoError(t, err)
	return e
}

func newJob(t *testing.T, offset primitives.ComputationOffset, kind ledger.ComputationKind, in computation.JobInputs) *computation.Job {
	t.Helper()
	digest, err := computation.InputDigest(offset, kind, &in)
	require.NoError(t, err)
	return &computation.Job{
		ID:            "job",
		Offset:        offset,
		Kind:          kind,
		Discriminator: computation.CallbackDiscriminator(kind),
		InputDigest:   digest,
		Inputs:        in,
	}
}

func execute[O any](t *testing.T, e *Engine, job *computation.Job) computation.ComputationOutputs[O] {
	t.Helper()
	cb, err := e.Execute(job)
	require.NoError(t, err)
	msg := computation.AttestationMessage(job.Offset, job.Discriminator, job.InputDigest, cb.Outputs)
	require.Len(t, cb.Instructions, 1)
	assert.Equal(t, msg, cb.Instructions[0].Message)
	authority := e.Authority()
	assert.True(t, ed25519.Verify(authority[:], msg, cb.Instructions[0].Signature[:]))

	var out computation.ComputationOutputs[O]
	require.NoError(t, json.Unmarshal(cb.Outputs, &out))
	return out
}

type client struct {
	priv encryption.PrivateKey
	pub  primitives.X25519PublicKey
	key  encryption.Key
}

func newClient(t *testing.T, e *Engine, secret string) client {
	t.Helper()
	c := client{priv: encryption.PrivateKeyFromSecret([]byte(secret))}
	var err error
	c.pub, err = c.priv.PublicKey()
	require.NoError(t, err)
	enginePub, err := e.PublicKey()
	require.NoError(t, err)
	c.key, err = encryption.SharedKey(c.priv, enginePub)
	require.NoError(t, err)
	return c
}

func (c client) account(t *testing.T, b byte, balance uint64) computation.AccountInput {
	t.Helper()
	a := computation.AccountInput{Domain: ledger.DomainShared, OwnerKey: c.pub}
	a.Address[31] = b
	if balance > 0 {
		a.Balance.Nonce = primitives.NonceFromUint64(uint64(b))
		a.Balance.Ciphertext = c.key.EncryptValue(balance, a.Balance.Nonce, 0)
	}
	return a
}

func (c client) read(t *testing.T, v ledger.EncryptedValue) uint64 {
	t.Helper()
	n, err := c.key.DecryptValue(v.Ciphertext, v.Nonce, 0)
	require.NoError(t, err)
	return n
}

func (c client) payload(nonce uint64, values []uint64, blinding *big.Int) *computation.EncryptedPayload {
	p := &computation.EncryptedPayload{Nonce: primitives.NonceFromUint64(nonce)}
	for i, v := range values {
		p.Fields = append(p.Fields, c.key.EncryptValue(v, p.Nonce, uint64(i)))
	}
	if blinding != nil {
		var e fr.Element
		e.SetBigInt(blinding)
		p.Fields = append(p.Fields, c.key.EncryptElement(&e, p.Nonce, uint64(len(values))))
	}
	return p
}

func TestNewValidatesKeys(t *testing.T) {
	_, err := New(make([]byte, 31), []byte("mxe"))
	assert.Error(t, err)
	_, err = New(make([]byte, ed25519.SeedSize), nil)
	assert.Error(t, err)

	a, b := newTestEngine(t), newTestEngine(t)
	assert.Equal(t, a.Authority(), b.Authority())
	pa, err := a.PublicKey()
	require.NoError(t, err)
	pb, err := b.PublicKey()
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestExecuteRejectsTamperedJob(t *testing.T) {
	e := newTestEngine(t)
	job := newJob(t, 1, ledger.KindFund, computation.JobInputs{PublicAmount: 5})
	job.Inputs.PublicAmount = 500
	_, err := e.Execute(job)
	assert.Error(t, err)

	job = newJob(t, 1, ledger.KindFund, computation.JobInputs{PublicAmount: 5})
	job.Discriminator = computation.CallbackDiscriminator(ledger.KindDeposit)
	_, err = e.Execute(job)
	assert.Error(t, err)
}

func TestFund(t *testing.T) {
	e := newTestEngine(t)
	alice := newClient(t, e, "alice")

	out := execute[computation.FundOutput](t, e, newJob(t, 1, ledger.KindFund, computation.JobInputs{
		Accounts:     []computation.AccountInput{alice.account(t, 1, 40)},
		PublicAmount: 60,
	}))
	require.NotNil(t, out.Success)
	assert.Equal(t, uint64(100), alice.read(t, out.Success.Balance))

	mxe := computation.AccountInput{Domain: ledger.DomainMXE}
	out = execute[computation.FundOutput](t, e, newJob(t, 2, ledger.KindFund, computation.JobInputs{
		Accounts:     []computation.AccountInput{mxe},
		PublicAmount: 7,
	}))
	require.NotNil(t, out.Success)
	v, err := encryption.MXEKey([]byte("mxe")).DecryptValue(out.Success.Balance.Ciphertext, out.Success.Balance.Nonce, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), v)

	// Balances are sealed with fresh nonces, so equal values do not repeat ciphertexts.
	again := execute[computation.FundOutput](t, e, newJob(t, 3, ledger.KindFund, computation.JobInputs{
		Accounts:     []computation.AccountInput{mxe},
		PublicAmount: 7,
	}))
	assert.NotEqual(t, out.Success.Balance, again.Success.Balance)
}

func TestDepositOpensAmountCommitment(t *testing.T) {
	e := newTestEngine(t)
	alice := newClient(t, e, "alice")
	blinding := big.NewInt(99)
	commitment := prover.ComputeAmountCommitment(300, blinding)
	cfg := testFees

	in := computation.JobInputs{
		Fees:             &cfg,
		Accounts:         []computation.AccountInput{alice.account(t, 1, 1000)},
		SenderKey:        &alice.pub,
		Payload:          alice.payload(1, []uint64{300}, blinding),
		AmountCommitment: &commitment,
	}
	out := execute[computation.DepositOutput](t, e, newJob(t, 1, ledger.KindDeposit, in))
	require.NotNil(t, out.Success, "%+v", out.Failure)
	assert.Equal(t, uint64(695), alice.read(t, out.Success.Balance))
	require.NotNil(t, out.Success.CommissionFee)
	assert.Equal(t, primitives.Amount(3), *out.Success.CommissionFee)
	assert.Nil(t, out.Success.RelayerEntry)

	in.Payload = alice.payload(2, []uint64{301}, blinding)
	out = execute[computation.DepositOutput](t, e, newJob(t, 2, ledger.KindDeposit, in))
	require.NotNil(t, out.Failure)
	assert.Equal(t, "amount commitment does not open", out.Failure.Reason)

	in.Payload = alice.payload(3, []uint64{300}, blinding)
	in.Accounts = []computation.AccountInput{alice.account(t, 1, 304)}
	out = execute[computation.DepositOutput](t, e, newJob(t, 3, ledger.KindDeposit, in))
	require.NotNil(t, out.Failure)
	assert.Equal(t, "insufficient balance", out.Failure.Reason)
}

func TestPrivatePoolsGetEncryptedEntries(t *testing.T) {
	e := newTestEngine(t)
	alice := newClient(t, e, "alice")
	bob := newClient(t, e, "bob")
	cfg := testFees

	out := execute[computation.ConfidentialTransferOutput](t, e, newJob(t, 1, ledger.KindConfidentialTransfer, computation.JobInputs{
		Fees:                  &cfg,
		RelayerPoolPrivate:    true,
		CommissionPoolPrivate: true,
		Accounts:              []computation.AccountInput{alice.account(t, 1, 500), bob.account(t, 2, 0)},
		SenderKey:             &alice.pub,
		Payload:               alice.payload(1, []uint64{200}, nil),
	}))
	require.NotNil(t, out.Success, "%+v", out.Failure)
	assert.Equal(t, uint64(500-204), alice.read(t, out.Success.SourceBalance))
	assert.Equal(t, uint64(200), bob.read(t, out.Success.DestinationBalance))
	assert.Nil(t, out.Success.CommissionFee)

	mxe := encryption.MXEKey([]byte("mxe"))
	require.NotNil(t, out.Success.CommissionEntry)
	v, err := mxe.DecryptValue(out.Success.CommissionEntry.Ciphertext, out.Success.CommissionEntry.Nonce, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)
	require.NotNil(t, out.Success.RelayerEntry)
	v, err = mxe.DecryptValue(out.Success.RelayerEntry.Ciphertext, out.Success.RelayerEntry.Nonce, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	// The sum of swept entries lands in the collector's balance.
	treasury := computation.AccountInput{Domain: ledger.DomainMXE}
	collected := execute[computation.CollectCommissionFeesOutput](t, e, newJob(t, 2, ledger.KindCollectCommissionFees, computation.JobInputs{
		Accounts:   []computation.AccountInput{treasury},
		FeeEntries: []ledger.EncryptedValue{*out.Success.CommissionEntry, *out.Success.RelayerEntry},
	}))
	require.NotNil(t, collected.Success)
	v, err = mxe.DecryptValue(collected.Success.Balance.Ciphertext, collected.Success.Balance.Nonce, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), v)
}

func TestUndecryptablePayloadFails(t *testing.T) {
	e := newTestEngine(t)
	alice := newClient(t, e, "alice")
	bob := newClient(t, e, "bob")
	cfg := testFees

	// Encrypted under bob's shared key but claimed as alice's.
	out := execute[computation.ConfidentialTransferOutput](t, e, newJob(t, 1, ledger.KindConfidentialTransfer, computation.JobInputs{
		Fees:      &cfg,
		Accounts:  []computation.AccountInput{alice.account(t, 1, 500), bob.account(t, 2, 0)},
		SenderKey: &alice.pub,
		Payload:   bob.payload(1, []uint64{200}, nil),
	}))
	require.NotNil(t, out.Failure)
	assert.Contains(t, out.Failure.Reason, "does not decrypt")
}

func TestWithdrawAndTransferFees(t *testing.T) {
	e := newTestEngine(t)
	alice := newClient(t, e, "alice")
	bob := newClient(t, e, "bob")
	cfg := testFees
	blinding := big.NewInt(5)

	spend := func(value, change uint64) computation.JobInputs {
		commitment := prover.ComputeSpendAmountCommitment(value, change, blinding)
		return computation.JobInputs{
			Fees:             &cfg,
			Accounts:         []computation.AccountInput{bob.account(t, 2, 10)},
			SenderKey:        &alice.pub,
			Payload:          alice.payload(value, []uint64{value, change}, blinding),
			AmountCommitment: &commitment,
		}
	}

	w := execute[computation.WithdrawOutput](t, e, newJob(t, 1, ledger.KindWithdraw, spend(200, 100)))
	require.NotNil(t, w.Success, "%+v", w.Failure)
	assert.Equal(t, uint64(10+196), bob.read(t, w.Success.Balance))

	w = execute[computation.WithdrawOutput](t, e, newJob(t, 2, ledger.KindWithdraw, spend(2, 298)))
	require.NotNil(t, w.Failure)

	in := spend(4, 296)
	in.Accounts = nil
	tr := execute[computation.TransferOutput](t, e, newJob(t, 3, ledger.KindTransfer, in))
	require.NotNil(t, tr.Success, "%+v", tr.Failure)
	require.NotNil(t, tr.Success.CommissionFee)
	assert.Equal(t, primitives.Amount(2), *tr.Success.CommissionFee)

	in = spend(5, 295)
	in.Accounts = nil
	tr = execute[computation.TransferOutput](t, e, newJob(t, 4, ledger.KindTransfer, in))
	require.NotNil(t, tr.Failure)
}

func TestReencryptForDestination(t *testing.T) {
	e := newTestEngine(t)
	alice := newClient(t, e, "alice")
	auditor := newClient(t, e, "auditor")

	out := execute[computation.ReencryptOutput](t, e, newJob(t, 1, ledger.KindReencrypt, computation.JobInputs{
		Accounts:    []computation.AccountInput{alice.account(t, 1, 77)},
		Destination: &auditor.pub,
	}))
	require.NotNil(t, out.Success)
	assert.Equal(t, uint64(77), auditor.read(t, out.Success.Balance))
}
