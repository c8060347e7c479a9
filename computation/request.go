package computation

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"light/shielded-pool/ledger"
	"light/shielded-pool/primitives"
	"light/shielded-pool/validator"
)

var ErrInvalidRequest = errors.New("invalid transition request")

// Transition is one variant of TransitionRequest. Each variant carries exactly
// the typed references its callback will need.
type Transition interface {
	Kind() ledger.ComputationKind
}

const (
	transitionDomain = "shielded-pool/transition/v1"
	payloadDomain    = "shielded-pool/payload/v1"
)

// TransitionRequest asks the dispatcher to book Offset for a confidential
// computation on behalf of Signer. Signature is Signer's ed25519 signature
// over Digest.
type TransitionRequest struct {
	Offset     primitives.ComputationOffset
	Signer     primitives.Address
	Transition Transition
	Signature  primitives.Signature
}

type transitionEnvelope struct {
	Offset     primitives.ComputationOffset `json:"offset"`
	Signer     primitives.Address           `json:"signer"`
	Kind       ledger.ComputationKind       `json:"kind"`
	Transition json.RawMessage              `json:"transition"`
	Signature  primitives.Signature         `json:"signature"`
}

// Digest commits to the offset, the signer, the kind and the compact JSON
// encoding of the transition body.
func (r TransitionRequest) Digest() (primitives.Hash, error) {
	if r.Transition == nil {
		return primitives.Hash{}, fmt.Errorf("%w: no transition", ErrInvalidRequest)
	}
	body, err := json.Marshal(r.Transition)
	if err != nil {
		return primitives.Hash{}, err
	}
	ob := r.Offset.Bytes()
	h := sha256.New()
	h.Write([]byte(transitionDomain))
	h.Write(ob[:])
	h.Write(r.Signer[:])
	h.Write([]byte(r.Transition.Kind().String()))
	h.Write(body)
	var digest primitives.Hash
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

// Sign sets Signer to the address of key and signs the request.
func (r *TransitionRequest) Sign(key ed25519.PrivateKey) error {
	r.Signer = primitives.SignerAddress(key)
	digest, err := r.Digest()
	if err != nil {
		return err
	}
	r.Signature = primitives.Sign(key, digest[:])
	return nil
}

// authenticate returns the digest once the signature verifies under Signer.
func (r TransitionRequest) authenticate() (primitives.Hash, error) {
	digest, err := r.Digest()
	if err != nil {
		return digest, err
	}
	return digest, primitives.VerifySignature(r.Signer, digest[:], r.Signature)
}

func (r TransitionRequest) MarshalJSON() ([]byte, error) {
	if r.Transition == nil {
		return nil, fmt.Errorf("%w: no transition", ErrInvalidRequest)
	}
	body, err := json.Marshal(r.Transition)
	if err != nil {
		return nil, err
	}
	return json.Marshal(transitionEnvelope{
		Offset:     r.Offset,
		Signer:     r.Signer,
		Kind:       r.Transition.Kind(),
		Transition: body,
		Signature:  r.Signature,
	})
}

func (r *TransitionRequest) UnmarshalJSON(data []byte) error {
	var env transitionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	t, err := newTransition(env.Kind)
	if err != nil {
		return err
	}
	if len(env.Transition) == 0 {
		return fmt.Errorf("%w: %s request has no body", ErrInvalidRequest, env.Kind)
	}
	if err := json.Unmarshal(env.Transition, t); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidRequest, env.Kind, err)
	}
	r.Offset = env.Offset
	r.Signer = env.Signer
	r.Transition = t
	r.Signature = env.Signature
	return nil
}

func newTransition(kind ledger.ComputationKind) (Transition, error) {
	switch kind {
	case ledger.KindFund:
		return &FundRequest{}, nil
	case ledger.KindDeposit:
		return &DepositRequest{}, nil
	case ledger.KindWithdraw:
		return &WithdrawRequest{}, nil
	case ledger.KindTransfer:
		return &TransferRequest{}, nil
	case ledger.KindConfidentialTransfer:
		return &ConfidentialTransferRequest{}, nil
	case ledger.KindReencrypt:
		return &ReencryptRequest{}, nil
	case ledger.KindCollectCommissionFees:
		return &CollectCommissionFeesRequest{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrInvalidRequest, kind)
	}
}

// EncryptedPayload carries client values encrypted under the key the
// signer's x25519 identity shares with the engine, one field per value. Its
// nonce must be PayloadNonce of the request that carries it.
type EncryptedPayload struct {
	Nonce  primitives.Nonce        `json:"nonce"`
	Fields []primitives.Ciphertext `json:"fields"`
}

// PayloadNonce is the only nonce a payload submitted by signer at offset may
// be encrypted under. A ciphertext lifted into another request does not
// decrypt to the same values.
func PayloadNonce(offset primitives.ComputationOffset, signer primitives.Address) primitives.Nonce {
	ob := offset.Bytes()
	h := sha256.New()
	h.Write([]byte(payloadDomain))
	h.Write(ob[:])
	h.Write(signer[:])
	var n primitives.Nonce
	copy(n[:], h.Sum(nil))
	return n
}

func (p EncryptedPayload) requireBound(offset primitives.ComputationOffset, signer primitives.Address) error {
	if p.Nonce != PayloadNonce(offset, signer) {
		return fmt.Errorf("%w: payload nonce is not bound to offset %d", ErrInvalidRequest, offset)
	}
	return nil
}

func (p EncryptedPayload) requireFields(n int) error {
	if len(p.Fields) != n {
		return fmt.Errorf("%w: payload has %d fields, expected %d", ErrInvalidRequest, len(p.Fields), n)
	}
	return nil
}

// FeeAccounts names the pools a transition's fees are credited to.
type FeeAccounts struct {
	Relayer        primitives.Address `json:"relayer"`
	RelayerPool    primitives.Address `json:"relayerPool"`
	CommissionPool primitives.Address `json:"commissionPool"`
}

// FundRequest moves a public amount into an encrypted token account.
type FundRequest struct {
	Mint    primitives.Address `json:"mint"`
	Account primitives.Address `json:"account"`
	Amount  primitives.Amount  `json:"amount"`
}

func (*FundRequest) Kind() ledger.ComputationKind { return ledger.KindFund }

// DepositRequest turns part of an encrypted balance into a note. Opening
// holds the note amount and the amount-commitment blinding.
type DepositRequest struct {
	Mint             primitives.Address     `json:"mint"`
	Tree             primitives.TreeIndex   `json:"tree"`
	Source           primitives.Address     `json:"source"`
	Receiver         primitives.Address     `json:"receiver"`
	Fees             FeeAccounts            `json:"fees"`
	Proof            validator.Groth16Proof `json:"proof"`
	Commitment       primitives.Hash        `json:"commitment"`
	Linker           primitives.Hash        `json:"linker"`
	AmountCommitment primitives.Hash        `json:"amountCommitment"`
	Opening          EncryptedPayload       `json:"opening"`
}

func (*DepositRequest) Kind() ledger.ComputationKind { return ledger.KindDeposit }

// SpendProof is the statement shared by withdraw and transfer. Opening
// holds the spent value, the change amount and the value blinding.
type SpendProof struct {
	Proof            validator.Groth16Proof `json:"proof"`
	Root             primitives.Hash        `json:"root"`
	Nullifier        primitives.Hash        `json:"nullifier"`
	Commitment       primitives.Hash        `json:"commitment"`
	Linker           primitives.Hash        `json:"linker"`
	AmountCommitment primitives.Hash        `json:"amountCommitment"`
	Opening          EncryptedPayload       `json:"opening"`
}

// WithdrawRequest spends a note into Destination, leaving a change note.
type WithdrawRequest struct {
	Mint        primitives.Address   `json:"mint"`
	Tree        primitives.TreeIndex `json:"tree"`
	Destination primitives.Address   `json:"destination"`
	Fees        FeeAccounts          `json:"fees"`
	SpendProof
}

func (*WithdrawRequest) Kind() ledger.ComputationKind { return ledger.KindWithdraw }

// TransferRequest spends a note into a new note for Receiver. The spent
// value pays the fees.
type TransferRequest struct {
	Mint     primitives.Address   `json:"mint"`
	Tree     primitives.TreeIndex `json:"tree"`
	Receiver primitives.Address   `json:"receiver"`
	Fees     FeeAccounts          `json:"fees"`
	SpendProof
}

func (*TransferRequest) Kind() ledger.ComputationKind { return ledger.KindTransfer }

// ConfidentialTransferRequest moves an encrypted amount between two token
// accounts of the same mint.
type ConfidentialTransferRequest struct {
	Mint        primitives.Address `json:"mint"`
	Source      primitives.Address `json:"source"`
	Destination primitives.Address `json:"destination"`
	Fees        FeeAccounts        `json:"fees"`
	Amount      EncryptedPayload   `json:"amount"`
}

func (*ConfidentialTransferRequest) Kind() ledger.ComputationKind {
	return ledger.KindConfidentialTransfer
}

// ReencryptRequest discloses the balance of Account to Destination. With no
// user grant in place, NetworkAuthority must name a network grant.
type ReencryptRequest struct {
	Account          primitives.Address         `json:"account"`
	Destination      primitives.X25519PublicKey `json:"destination"`
	Nonce            primitives.GrantNonce      `json:"nonce"`
	NetworkAuthority *primitives.Address        `json:"networkAuthority,omitempty"`
}

func (*ReencryptRequest) Kind() ledger.ComputationKind { return ledger.KindReencrypt }

// CollectCommissionFeesRequest sweeps a private pool into Destination.
type CollectCommissionFeesRequest struct {
	Pool        primitives.Address `json:"pool"`
	Destination primitives.Address `json:"destination"`
}

func (*CollectCommissionFeesRequest) Kind() ledger.ComputationKind {
	return ledger.KindCollectCommissionFees
}
