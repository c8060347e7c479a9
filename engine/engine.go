// Package engine is a reference confidential compute engine. It decrypts a
// job's inputs, runs the transition over plaintext and returns the
// re-encrypted outputs in a callback signed by its authority key. It stands
// in for the external engine in development and tests.
package engine

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"

	"light/shielded-pool/computation"
	"light/shielded-pool/encryption"
	"light/shielded-pool/fees"
	"light/shielded-pool/ledger"
	"light/shielded-pool/logging"
	"light/shielded-pool/primitives"

	"github.com/rs/zerolog"
)

// failure aborts a computation with a Failure output.
type failure struct{ reason string }

func (f failure) Error() string { return f.reason }

func fail(format string, args ...any) error {
	return failure{reason: fmt.Sprintf(format, args...)}
}

type Engine struct {
	signingKey ed25519.PrivateKey
	identity   encryption.PrivateKey
	mxeKey     encryption.Key
	rand       io.Reader
	log        zerolog.Logger
}

// New derives the engine's keys. signingSeed must be ed25519.SeedSize bytes.
func New(signingSeed, mxeSecret []byte) (*Engine, error) {
	if len(signingSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing seed must be %d bytes, got %d", ed25519.SeedSize, len(signingSeed))
	}
	if len(mxeSecret) == 0 {
		return nil, errors.New("empty mxe secret")
	}
	return &Engine{
		signingKey: ed25519.NewKeyFromSeed(signingSeed),
		identity:   encryption.PrivateKeyFromSecret(mxeSecret),
		mxeKey:     encryption.MXEKey(mxeSecret),
		rand:       rand.Reader,
		log:        logging.Component("engine"),
	}, nil
}

// Authority is the key callbacks are signed with.
func (e *Engine) Authority() primitives.Ed25519PublicKey {
	var pub primitives.Ed25519PublicKey
	copy(pub[:], e.signingKey.Public().(ed25519.PublicKey))
	return pub
}

// PublicKey is the engine's x25519 identity; clients encrypt payloads and
// shared-domain balances under the key it shares with theirs.
func (e *Engine) PublicKey() (primitives.X25519PublicKey, error) {
	return e.identity.PublicKey()
}

// Execute runs job and returns the signed callback. An error means the job
// itself was unusable and no callback can be produced.
func (e *Engine) Execute(job *computation.Job) (computation.CallbackTransaction, error) {
	if err := job.Verify(); err != nil {
		return computation.CallbackTransaction{}, err
	}
	outputs, err := e.run(job)
	if err != nil {
		return computation.CallbackTransaction{}, err
	}
	e.log.Debug().
		Str("job_id", job.ID).
		Uint64("offset", uint64(job.Offset)).
		Str("kind", job.Kind.String()).
		Msg("job executed")
	return computation.Attest(e.signingKey, job, outputs), nil
}

func (e *Engine) run(job *computation.Job) ([]byte, error) {
	in := &job.Inputs
	switch job.Kind {
	case ledger.KindFund:
		return encode(e.fund(in))
	case ledger.KindDeposit:
		return encode(e.deposit(in))
	case ledger.KindWithdraw:
		return encode(e.withdraw(in))
	case ledger.KindTransfer:
		return encode(e.transfer(in))
	case ledger.KindConfidentialTransfer:
		return encode(e.confidentialTransfer(in))
	case ledger.KindReencrypt:
		return encode(e.reencrypt(in))
	case ledger.KindCollectCommissionFees:
		return encode(e.collect(in))
	default:
		return nil, fmt.Errorf("unsupported kind %s", job.Kind)
	}
}

// encode turns a result into outputs bytes. failure errors become Failure
// outputs; any other error is returned.
func encode[O any](o *O, err error) ([]byte, error) {
	var f failure
	switch {
	case errors.As(err, &f):
		return json.Marshal(computation.Failed[O](f.reason))
	case err != nil:
		return nil, err
	default:
		return json.Marshal(computation.Succeeded(*o))
	}
}

func (e *Engine) accountKey(a *computation.AccountInput) (encryption.Key, error) {
	switch a.Domain {
	case ledger.DomainMXE:
		return e.mxeKey, nil
	case ledger.DomainShared:
		return encryption.SharedKey(e.identity, a.OwnerKey)
	default:
		return encryption.Key{}, fmt.Errorf("%w: %d", ledger.ErrDomainMismatch, a.Domain)
	}
}

// balance decrypts a bound account's balance. The all-zero value is empty.
func (e *Engine) balance(a *computation.AccountInput) (uint64, error) {
	if a.Balance.IsZero() {
		return 0, nil
	}
	key, err := e.accountKey(a)
	if err != nil {
		return 0, err
	}
	v, err := key.DecryptValue(a.Balance.Ciphertext, a.Balance.Nonce, 0)
	if err != nil {
		return 0, fail("balance of %s does not decrypt", a.Address)
	}
	return v, nil
}

func (e *Engine) seal(key encryption.Key, v uint64) (ledger.EncryptedValue, error) {
	var nonce primitives.Nonce
	if _, err := io.ReadFull(e.rand, nonce[:]); err != nil {
		return ledger.EncryptedValue{}, err
	}
	return ledger.EncryptedValue{Ciphertext: key.EncryptValue(v, nonce, 0), Nonce: nonce}, nil
}

func (e *Engine) sealBalance(a *computation.AccountInput, v uint64) (ledger.EncryptedValue, error) {
	key, err := e.accountKey(a)
	if err != nil {
		return ledger.EncryptedValue{}, err
	}
	return e.seal(key, v)
}

// payload decrypts the client payload: every field but the last as a
// 64-bit value, the last as a field element (the blinding).
func (e *Engine) payload(in *computation.JobInputs, values int) ([]uint64, *big.Int, error) {
	if in.SenderKey == nil || in.Payload == nil {
		return nil, nil, errors.New("job has no sender payload")
	}
	key, err := encryption.SharedKey(e.identity, *in.SenderKey)
	if err != nil {
		return nil, nil, fail("payload key: %v", err)
	}
	p := in.Payload
	out := make([]uint64, values)
	for i := range out {
		out[i], err = key.DecryptValue(p.Fields[i], p.Nonce, uint64(i))
		if err != nil {
			return nil, nil, fail("payload field %d does not decrypt", i)
		}
	}
	if len(p.Fields) == values {
		return out, nil, nil
	}
	blinding, err := key.DecryptElement(p.Fields[values], p.Nonce, uint64(values))
	if err != nil {
		return nil, nil, fail("payload blinding does not decrypt")
	}
	return out, blinding.BigInt(new(big.Int)), nil
}

// feeOutputs reveals the commission for public pools and encrypts it for
// private ones. The relayer fee is only reported for private pools.
func (e *Engine) feeOutputs(in *computation.JobInputs, commission primitives.Amount) (computation.FeeOutputs, error) {
	var out computation.FeeOutputs
	if in.CommissionPoolPrivate {
		v, err := e.seal(e.mxeKey, uint64(commission))
		if err != nil {
			return out, err
		}
		out.CommissionEntry = &v
	} else {
		out.CommissionFee = &commission
	}
	if in.RelayerPoolPrivate {
		v, err := e.seal(e.mxeKey, uint64(in.Fees.RelayerFees))
		if err != nil {
			return out, err
		}
		out.RelayerEntry = &v
	}
	return out, nil
}

func requireFees(in *computation.JobInputs) (fees.Configuration, error) {
	if in.Fees == nil {
		return fees.Configuration{}, errors.New("job has no fee configuration")
	}
	return *in.Fees, nil
}

func requireAccounts(in *computation.JobInputs, n int) error {
	if len(in.Accounts) != n {
		return fmt.Errorf("job binds %d accounts, expected %d", len(in.Accounts), n)
	}
	return nil
}
