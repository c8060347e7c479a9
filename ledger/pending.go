package ledger

import (
	"errors"
	"fmt"

	"light/shielded-pool/primitives"
)

var (
	ErrSlotInUse          = errors.New("computation offset already booked")
	ErrUnknownComputation = errors.New("no pending computation at offset")
	ErrTooManyAccounts    = fmt.Errorf("a computation binds at most %d accounts", MaxBoundAccounts)
)

// MaxBoundAccounts bounds the accounts a single computation may write.
const MaxBoundAccounts = 4

// ComputationKind names a confidential transition.
type ComputationKind uint8

const (
	KindFund ComputationKind = iota + 1
	KindDeposit
	KindWithdraw
	KindTransfer
	KindConfidentialTransfer
	KindReencrypt
	KindCollectCommissionFees
)

var kindNames = map[ComputationKind]string{
	KindFund:                  "fund",
	KindDeposit:               "deposit",
	KindWithdraw:              "withdraw",
	KindTransfer:              "transfer",
	KindConfidentialTransfer:  "confidential_transfer",
	KindReencrypt:             "reencrypt",
	KindCollectCommissionFees: "collect_commission_fees",
}

func (k ComputationKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k ComputationKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func ParseComputationKind(s string) (ComputationKind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown computation kind %q", s)
}

func (k ComputationKind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown computation kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *ComputationKind) UnmarshalText(text []byte) error {
	parsed, err := ParseComputationKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

type ComputationStatus uint8

const (
	StatusDispatched ComputationStatus = iota + 1
)

const pendingComputationSize = headerSize + 8 + 1 + 1 + 8 + 32 + 32 + 8 + 1 + MaxBoundAccounts*32 +
	32 + 1 + 32 + 1 + 32 + 1 + feesSize + 32 + 32 + 32 + 8 + 8 + 32 + 8 + 64

// PendingComputation is the booking of a computation offset between
// dispatch and callback. Its presence is what makes the offset unavailable.
type PendingComputation struct {
	Header
	Offset        primitives.ComputationOffset
	Kind          ComputationKind
	Status        ComputationStatus
	Discriminator primitives.Discriminator
	InputDigest   primitives.Hash
	Requester     primitives.Address
	DispatchedAt  int64

	AccountCount uint8
	Accounts     [MaxBoundAccounts]primitives.Address

	Tree          primitives.Address
	HasCommitment bool
	Commitment    primitives.Hash
	HasNullifier  bool
	Nullifier     primitives.Hash

	HasFees        bool
	Fees           feeSnapshot
	RelayerPool    primitives.Address
	CommissionPool primitives.Address

	FeePool    primitives.Address
	EntryStart uint64
	EntryEnd   uint64

	Destination  primitives.X25519PublicKey
	PublicAmount primitives.Amount
}

// BoundAccounts returns the token accounts the callback writes, in output order.
func (p *PendingComputation) BoundAccounts() []primitives.Address {
	return append([]primitives.Address(nil), p.Accounts[:p.AccountCount]...)
}

// Bind appends addr to the accounts written by the callback.
func (p *PendingComputation) Bind(addr primitives.Address) error {
	if int(p.AccountCount) >= MaxBoundAccounts {
		return ErrTooManyAccounts
	}
	p.Accounts[p.AccountCount] = addr
	p.AccountCount++
	return nil
}

func (p *PendingComputation) MarshalBinary() ([]byte, error) {
	e := newEncoder(p.Header)
	e.u64(uint64(p.Offset))
	e.u8(uint8(p.Kind))
	e.u8(uint8(p.Status))
	e.bytes(p.Discriminator[:])
	e.bytes(p.InputDigest[:])
	e.bytes(p.Requester[:])
	e.u64(uint64(p.DispatchedAt))
	e.u8(p.AccountCount)
	for i := range p.Accounts {
		e.bytes(p.Accounts[i][:])
	}
	e.bytes(p.Tree[:])
	e.boolean(p.HasCommitment)
	e.bytes(p.Commitment[:])
	e.boolean(p.HasNullifier)
	e.bytes(p.Nullifier[:])
	e.boolean(p.HasFees)
	e.fees(p.Fees)
	e.bytes(p.RelayerPool[:])
	e.bytes(p.CommissionPool[:])
	e.bytes(p.FeePool[:])
	e.u64(p.EntryStart)
	e.u64(p.EntryEnd)
	e.bytes(p.Destination[:])
	e.u64(uint64(p.PublicAmount))
	e.reserved(64)
	return e.buf, nil
}

func (p *PendingComputation) UnmarshalBinary(data []byte) error {
	d, h := newDecoder(data, pendingComputationSize)
	p.Header = h
	p.Offset = primitives.ComputationOffset(d.u64())
	p.Kind = ComputationKind(d.u8())
	p.Status = ComputationStatus(d.u8())
	d.bytes(p.Discriminator[:])
	d.bytes(p.InputDigest[:])
	d.bytes(p.Requester[:])
	p.DispatchedAt = int64(d.u64())
	p.AccountCount = d.u8()
	for i := range p.Accounts {
		d.bytes(p.Accounts[i][:])
	}
	d.bytes(p.Tree[:])
	p.HasCommitment = d.boolean()
	d.bytes(p.Commitment[:])
	p.HasNullifier = d.boolean()
	d.bytes(p.Nullifier[:])
	p.HasFees = d.boolean()
	p.Fees = d.fees()
	d.bytes(p.RelayerPool[:])
	d.bytes(p.CommissionPool[:])
	d.bytes(p.FeePool[:])
	p.EntryStart = d.u64()
	p.EntryEnd = d.u64()
	d.bytes(p.Destination[:])
	p.PublicAmount = primitives.Amount(d.u64())
	d.skip(64)
	if p.AccountCount > MaxBoundAccounts {
		return ErrLayoutMismatch
	}
	return d.finish()
}

// BookComputation stores p under its offset. An offset can hold at most one
// pending computation.
func (tx *Tx) BookComputation(p *PendingComputation) error {
	booked, err := tx.HasPendingComputation(p.Offset)
	if err != nil {
		return err
	}
	if booked {
		return fmt.Errorf("%w: %d", ErrSlotInUse, p.Offset)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("book computation %d: unknown kind %d", p.Offset, p.Kind)
	}
	offset := p.Offset.Bytes()
	p.Header = Header{Version: LayoutVersion, Bump: bumpFor(seedComputation, offset[:])}
	p.Status = StatusDispatched
	return tx.save(computationKey(p.Offset), p)
}

func (tx *Tx) PendingComputation(offset primitives.ComputationOffset) (*PendingComputation, error) {
	var p PendingComputation
	found, err := tx.load(computationKey(offset), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrUnknownComputation, offset)
	}
	return &p, nil
}

func (tx *Tx) HasPendingComputation(offset primitives.ComputationOffset) (bool, error) {
	data, err := tx.get(computationKey(offset))
	return data != nil, err
}

// DeletePendingComputation frees offset for reuse.
func (tx *Tx) DeletePendingComputation(offset primitives.ComputationOffset) error {
	booked, err := tx.HasPendingComputation(offset)
	if err != nil {
		return err
	}
	if !booked {
		return fmt.Errorf("%w: %d", ErrUnknownComputation, offset)
	}
	tx.del(computationKey(offset))
	return nil
}

// PendingComputations lists committed bookings in offset order.
func (l *Ledger) PendingComputations() ([]PendingComputation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []PendingComputation
	err := l.store.iterate([]byte(prefixComputation), nil, func(key, value []byte) (bool, error) {
		var p PendingComputation
		if err := p.UnmarshalBinary(value); err != nil {
			return false, fmt.Errorf("decode %x: %w", key, err)
		}
		out = append(out, p)
		return true, nil
	})
	return out, err
}
