package ledger

import (
	"light/shielded-pool/fees"
	merkle_tree "light/shielded-pool/merkle-tree"
	"light/shielded-pool/primitives"
)

type feeSnapshot = fees.Configuration

// EncryptedValue is one ciphertext field with the nonce it was produced under.
type EncryptedValue struct {
	Ciphertext primitives.Ciphertext `json:"ciphertext"`
	Nonce      primitives.Nonce      `json:"nonce"`
}

func (v EncryptedValue) IsZero() bool {
	return v == EncryptedValue{}
}

// Domain selects who can decrypt a balance.
type Domain uint8

const (
	// DomainMXE ciphertexts are readable only inside the compute engine.
	DomainMXE Domain = iota + 1
	// DomainShared ciphertexts are readable by the account's x25519 key holder.
	DomainShared
)

func (d Domain) Valid() bool { return d == DomainMXE || d == DomainShared }

func (d Domain) String() string {
	switch d {
	case DomainMXE:
		return "mxe"
	case DomainShared:
		return "shared"
	default:
		return "unknown"
	}
}

type StatusFlags uint8

const (
	StatusInitialised StatusFlags = 1 << iota
	StatusActive
	StatusFrozen
)

func (s StatusFlags) Has(flag StatusFlags) bool { return s&flag != 0 }

// Usable reports whether an account may take part in a transition.
func (s StatusFlags) Usable() bool {
	return s.Has(StatusInitialised) && s.Has(StatusActive) && !s.Has(StatusFrozen)
}

const commitmentTreeSize = headerSize + 32 + 8 + 1 + 32 + merkle_tree.RootHistorySize*32 + 1 + 1 + merkle_tree.MaxDepth*32 + 8 + 64

type CommitmentTreeAccount struct {
	Header
	Mint  primitives.Address
	Index primitives.TreeIndex
	Tree  merkle_tree.IncrementalTree
}

func (r *CommitmentTreeAccount) MarshalBinary() ([]byte, error) {
	e := newEncoder(r.Header)
	e.bytes(r.Mint[:])
	e.u64(uint64(r.Index))
	e.u8(r.Tree.Depth)
	e.bytes(r.Tree.Root[:])
	for i := range r.Tree.PreviousRoots {
		e.bytes(r.Tree.PreviousRoots[i][:])
	}
	e.u8(r.Tree.HistoryCursor)
	e.u8(r.Tree.HistoryLen)
	for i := range r.Tree.FilledSubtrees {
		e.bytes(r.Tree.FilledSubtrees[i][:])
	}
	e.u64(r.Tree.NextIndex)
	e.reserved(64)
	return e.buf, nil
}

func (r *CommitmentTreeAccount) UnmarshalBinary(data []byte) error {
	d, h := newDecoder(data, commitmentTreeSize)
	r.Header = h
	d.bytes(r.Mint[:])
	r.Index = primitives.TreeIndex(d.u64())
	r.Tree.Depth = d.u8()
	d.bytes(r.Tree.Root[:])
	for i := range r.Tree.PreviousRoots {
		d.bytes(r.Tree.PreviousRoots[i][:])
	}
	r.Tree.HistoryCursor = d.u8()
	r.Tree.HistoryLen = d.u8()
	for i := range r.Tree.FilledSubtrees {
		d.bytes(r.Tree.FilledSubtrees[i][:])
	}
	r.Tree.NextIndex = d.u64()
	d.skip(64)
	return d.finish()
}

const nullifierRecordSize = headerSize + 32 + 1 + 1 + 1 + 8 + 32

// NullifierRecord marks a note as spent. A record with Consumed=false is a
// reservation held by the computation at ReservedBy.
type NullifierRecord struct {
	Header
	Hash        primitives.Hash
	Initialised bool
	Consumed    bool
	Reserved    bool
	ReservedBy  primitives.ComputationOffset
}

func (r *NullifierRecord) MarshalBinary() ([]byte, error) {
	e := newEncoder(r.Header)
	e.bytes(r.Hash[:])
	e.boolean(r.Initialised)
	e.boolean(r.Consumed)
	e.boolean(r.Reserved)
	e.u64(uint64(r.ReservedBy))
	e.reserved(32)
	return e.buf, nil
}

func (r *NullifierRecord) UnmarshalBinary(data []byte) error {
	d, h := newDecoder(data, nullifierRecordSize)
	r.Header = h
	d.bytes(r.Hash[:])
	r.Initialised = d.boolean()
	r.Consumed = d.boolean()
	r.Reserved = d.boolean()
	r.ReservedBy = primitives.ComputationOffset(d.u64())
	d.skip(32)
	return d.finish()
}

const encryptedAccountSize = headerSize + 32 + 1 + 32 + 32 + 64

// EncryptedAccount is a principal's identity in the pool.
type EncryptedAccount struct {
	Header
	Owner                primitives.Address
	Status               StatusFlags
	X25519PublicKey      primitives.X25519PublicKey
	MasterViewingKeyHash primitives.Hash
}

func (r *EncryptedAccount) MarshalBinary() ([]byte, error) {
	e := newEncoder(r.Header)
	e.bytes(r.Owner[:])
	e.u8(uint8(r.Status))
	e.bytes(r.X25519PublicKey[:])
	e.bytes(r.MasterViewingKeyHash[:])
	e.reserved(64)
	return e.buf, nil
}

func (r *EncryptedAccount) UnmarshalBinary(data []byte) error {
	d, h := newDecoder(data, encryptedAccountSize)
	r.Header = h
	d.bytes(r.Owner[:])
	r.Status = StatusFlags(d.u8())
	d.bytes(r.X25519PublicKey[:])
	d.bytes(r.MasterViewingKeyHash[:])
	d.skip(64)
	return d.finish()
}

const tokenAccountSize = headerSize + 32 + 32 + 1 + 1 + encryptedSize + 1 + 8 + 64

// EncryptedTokenAccount holds the encrypted balance of one owner for one mint.
type EncryptedTokenAccount struct {
	Header
	Owner    primitives.Address
	Mint     primitives.Address
	Status   StatusFlags
	Domain   Domain
	Balance  EncryptedValue
	Locked   bool
	LockedBy primitives.ComputationOffset
}

func (r *EncryptedTokenAccount) MarshalBinary() ([]byte, error) {
	e := newEncoder(r.Header)
	e.bytes(r.Owner[:])
	e.bytes(r.Mint[:])
	e.u8(uint8(r.Status))
	e.u8(uint8(r.Domain))
	e.encrypted(r.Balance)
	e.boolean(r.Locked)
	e.u64(uint64(r.LockedBy))
	e.reserved(64)
	return e.buf, nil
}

func (r *EncryptedTokenAccount) UnmarshalBinary(data []byte) error {
	d, h := newDecoder(data, tokenAccountSize)
	r.Header = h
	d.bytes(r.Owner[:])
	d.bytes(r.Mint[:])
	r.Status = StatusFlags(d.u8())
	r.Domain = Domain(d.u8())
	r.Balance = d.encrypted()
	r.Locked = d.boolean()
	r.LockedBy = primitives.ComputationOffset(d.u64())
	d.skip(64)
	return d.finish()
}

const feesConfigurationSize = headerSize + 32 + 1 + feesSize + 32

type FeesConfiguration struct {
	Header
	Mint        primitives.Address
	Initialised bool
	Fees        fees.Configuration
}

func (r *FeesConfiguration) MarshalBinary() ([]byte, error) {
	e := newEncoder(r.Header)
	e.bytes(r.Mint[:])
	e.boolean(r.Initialised)
	e.fees(r.Fees)
	e.reserved(32)
	return e.buf, nil
}

func (r *FeesConfiguration) UnmarshalBinary(data []byte) error {
	d, h := newDecoder(data, feesConfigurationSize)
	r.Header = h
	d.bytes(r.Mint[:])
	r.Initialised = d.boolean()
	r.Fees = d.fees()
	d.skip(32)
	return d.finish()
}

type PoolKind uint8

const (
	PoolRelayer PoolKind = iota + 1
	PoolCommission
)

func (k PoolKind) String() string {
	switch k {
	case PoolRelayer:
		return "relayer"
	case PoolCommission:
		return "commission"
	default:
		return "unknown"
	}
}

type Visibility uint8

const (
	// Public pools keep a plaintext running total.
	Public Visibility = iota + 1
	// Private pools keep an append-only list of encrypted fee entries.
	Private
)

func (v Visibility) String() string {
	switch v {
	case Public:
		return "public"
	case Private:
		return "private"
	default:
		return "unknown"
	}
}

const feePoolSize = headerSize + 1 + 1 + 32 + 2 + 1 + 8 + 8 + 8 + 1 + 8 + 32

// FeePool accumulates relayer or commission fees. For private pools the
// live entries are [FirstEntry, NextEntry).
type FeePool struct {
	Header
	Kind        PoolKind
	Visibility  Visibility
	Owner       primitives.Address
	Offset      primitives.PoolOffset
	Initialised bool
	Balance     primitives.Amount
	FirstEntry  uint64
	NextEntry   uint64
	Locked      bool
	LockedBy    primitives.ComputationOffset
}

func (r *FeePool) MarshalBinary() ([]byte, error) {
	e := newEncoder(r.Header)
	e.u8(uint8(r.Kind))
	e.u8(uint8(r.Visibility))
	e.bytes(r.Owner[:])
	e.u16(uint16(r.Offset))
	e.boolean(r.Initialised)
	e.u64(uint64(r.Balance))
	e.u64(r.FirstEntry)
	e.u64(r.NextEntry)
	e.boolean(r.Locked)
	e.u64(uint64(r.LockedBy))
	e.reserved(32)
	return e.buf, nil
}

func (r *FeePool) UnmarshalBinary(data []byte) error {
	d, h := newDecoder(data, feePoolSize)
	r.Header = h
	r.Kind = PoolKind(d.u8())
	r.Visibility = Visibility(d.u8())
	d.bytes(r.Owner[:])
	r.Offset = primitives.PoolOffset(d.u16())
	r.Initialised = d.boolean()
	r.Balance = primitives.Amount(d.u64())
	r.FirstEntry = d.u64()
	r.NextEntry = d.u64()
	r.Locked = d.boolean()
	r.LockedBy = primitives.ComputationOffset(d.u64())
	d.skip(32)
	return d.finish()
}

const feeEntrySize = headerSize + 32 + 8 + encryptedSize + 32

// FeeEntry is one encrypted credit to a private fee pool.
type FeeEntry struct {
	Header
	Pool  primitives.Address
	Seq   uint64
	Value EncryptedValue
}

func (r *FeeEntry) MarshalBinary() ([]byte, error) {
	e := newEncoder(r.Header)
	e.bytes(r.Pool[:])
	e.u64(r.Seq)
	e.encrypted(r.Value)
	e.reserved(32)
	return e.buf, nil
}

func (r *FeeEntry) UnmarshalBinary(data []byte) error {
	d, h := newDecoder(data, feeEntrySize)
	r.Header = h
	d.bytes(r.Pool[:])
	r.Seq = d.u64()
	r.Value = d.encrypted()
	d.skip(32)
	return d.finish()
}

type GrantKind uint8

const (
	GrantPair GrantKind = iota + 1
	GrantNetwork
)

const complianceGrantSize = headerSize + 1 + 32 + 32 + 8 + 32

// ComplianceGrant exists or it does not. For network grants Grantor holds
// the authority address.
type ComplianceGrant struct {
	Header
	Kind    GrantKind
	Grantor [32]byte
	Grantee primitives.X25519PublicKey
	Nonce   primitives.GrantNonce
}

func (r *ComplianceGrant) MarshalBinary() ([]byte, error) {
	e := newEncoder(r.Header)
	e.u8(uint8(r.Kind))
	e.bytes(r.Grantor[:])
	e.bytes(r.Grantee[:])
	e.u64(uint64(r.Nonce))
	e.reserved(32)
	return e.buf, nil
}

func (r *ComplianceGrant) UnmarshalBinary(data []byte) error {
	d, h := newDecoder(data, complianceGrantSize)
	r.Header = h
	r.Kind = GrantKind(d.u8())
	d.bytes(r.Grantor[:])
	d.bytes(r.Grantee[:])
	r.Nonce = primitives.GrantNonce(d.u64())
	d.skip(32)
	return d.finish()
}

// MaxAuthorities bounds an access-control list.
const MaxAuthorities = 8

const accessControlListSize = headerSize + 2 + 8 + 1 + MaxAuthorities*32 + 64

type AccessControlList struct {
	Header
	Seed        primitives.InstructionSeed
	Revision    uint64
	Count       uint8
	Authorities [MaxAuthorities]primitives.Address
}

func (r *AccessControlList) Contains(addr primitives.Address) bool {
	for i := 0; i < int(r.Count); i++ {
		if r.Authorities[i] == addr {
			return true
		}
	}
	return false
}

func (r *AccessControlList) List() []primitives.Address {
	return append([]primitives.Address(nil), r.Authorities[:r.Count]...)
}

func (r *AccessControlList) MarshalBinary() ([]byte, error) {
	e := newEncoder(r.Header)
	e.u16(uint16(r.Seed))
	e.u64(r.Revision)
	e.u8(r.Count)
	for i := range r.Authorities {
		e.bytes(r.Authorities[i][:])
	}
	e.reserved(64)
	return e.buf, nil
}

func (r *AccessControlList) UnmarshalBinary(data []byte) error {
	d, h := newDecoder(data, accessControlListSize)
	r.Header = h
	r.Seed = primitives.InstructionSeed(d.u16())
	r.Revision = d.u64()
	r.Count = d.u8()
	for i := range r.Authorities {
		d.bytes(r.Authorities[i][:])
	}
	d.skip(64)
	if r.Count > MaxAuthorities {
		return ErrLayoutMismatch
	}
	return d.finish()
}
