package ledger

import (
	"errors"
	"fmt"

	"light/shielded-pool/fees"
	"light/shielded-pool/primitives"
)

var (
	ErrFeesNotConfigured  = errors.New("fees configuration not initialised")
	ErrPoolNotInitialised = errors.New("fee pool not initialised")
	ErrPoolLocked         = errors.New("fee pool is locked by an in-flight collection")
	ErrPoolVisibility     = errors.New("operation not supported for this pool visibility")
	ErrInsufficientFees   = errors.New("fee pool balance too low")
	ErrEntryWindow        = errors.New("fee entry window does not match the pool")
)

const (
	EventFeesConfigured          = "FeesConfigurationUpdatedEvent"
	EventFeePoolInitialised      = "FeePoolInitialisedEvent"
	EventCommissionFeesCollected = "CommissionFeesCollectedEvent"
)

type FeesConfiguredEvent struct {
	Mint primitives.Address `json:"mint"`
	Fees fees.Configuration `json:"fees"`
}

type FeePoolEvent struct {
	Pool       primitives.Address    `json:"pool"`
	Kind       string                `json:"kind"`
	Visibility string                `json:"visibility"`
	Owner      primitives.Address    `json:"owner"`
	Offset     primitives.PoolOffset `json:"offset"`
}

type FeesCollectedEvent struct {
	Pool      primitives.Address `json:"pool"`
	Amount    primitives.Amount  `json:"amount"`
	Recipient primitives.Address `json:"recipient"`
	Remaining primitives.Amount  `json:"remaining"`
}

func (tx *Tx) InitialiseFeesConfiguration(signer, mint primitives.Address, cfg fees.Configuration) (primitives.Address, error) {
	if err := tx.RequireAuthority(SeedFeesAdmin, signer); err != nil {
		return primitives.Address{}, err
	}
	if err := cfg.Validate(); err != nil {
		return primitives.Address{}, err
	}
	addr, bump, err := FeesConfigurationAddress(mint)
	if err != nil {
		return addr, err
	}
	key := recordKey(prefixFeesConfig, addr)
	var existing FeesConfiguration
	found, err := tx.load(key, &existing)
	if err != nil {
		return addr, err
	}
	if found {
		return addr, fmt.Errorf("%w: fees configuration of %s", ErrAlreadyInitialised, mint)
	}
	record := FeesConfiguration{
		Header:      Header{Version: LayoutVersion, Bump: bump},
		Mint:        mint,
		Initialised: true,
		Fees:        cfg,
	}
	if err := tx.save(key, &record); err != nil {
		return addr, err
	}
	return addr, tx.Emit(EventFeesConfigured, nil, FeesConfiguredEvent{Mint: mint, Fees: cfg})
}

// ModifyFeesConfiguration replaces the fees of mint. Computations already
// dispatched keep the snapshot taken at dispatch.
func (tx *Tx) ModifyFeesConfiguration(signer, mint primitives.Address, cfg fees.Configuration) error {
	if err := tx.RequireAuthority(SeedFeesAdmin, signer); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	record, err := tx.FeesConfiguration(mint)
	if err != nil {
		return err
	}
	addr, _, err := FeesConfigurationAddress(mint)
	if err != nil {
		return err
	}
	record.Fees = cfg
	if err := tx.save(recordKey(prefixFeesConfig, addr), record); err != nil {
		return err
	}
	return tx.Emit(EventFeesConfigured, nil, FeesConfiguredEvent{Mint: mint, Fees: cfg})
}

func (tx *Tx) FeesConfiguration(mint primitives.Address) (*FeesConfiguration, error) {
	addr, _, err := FeesConfigurationAddress(mint)
	if err != nil {
		return nil, err
	}
	var record FeesConfiguration
	found, err := tx.load(recordKey(prefixFeesConfig, addr), &record)
	if err != nil {
		return nil, err
	}
	if !found || !record.Initialised {
		return nil, fmt.Errorf("%w: %s", ErrFeesNotConfigured, mint)
	}
	return &record, nil
}

// InitialiseFeePool opens a pool. Commission pools need a pool admin;
// relayers may open their own relayer pools.
func (tx *Tx) InitialiseFeePool(signer primitives.Address, kind PoolKind, visibility Visibility, owner primitives.Address, offset primitives.PoolOffset) (primitives.Address, error) {
	if kind != PoolRelayer && kind != PoolCommission {
		return primitives.Address{}, fmt.Errorf("unknown pool kind %d", kind)
	}
	if visibility != Public && visibility != Private {
		return primitives.Address{}, fmt.Errorf("%w: %d", ErrPoolVisibility, visibility)
	}
	if kind != PoolRelayer || signer != owner {
		if err := tx.RequireAuthority(SeedPoolAdmin, signer); err != nil {
			return primitives.Address{}, err
		}
	}
	addr, bump, err := FeePoolAddress(kind, owner, offset)
	if err != nil {
		return addr, err
	}
	key := recordKey(prefixFeePool, addr)
	var existing FeePool
	found, err := tx.load(key, &existing)
	if err != nil {
		return addr, err
	}
	if found {
		return addr, fmt.Errorf("%w: fee pool %s", ErrAlreadyInitialised, addr)
	}
	record := FeePool{
		Header:      Header{Version: LayoutVersion, Bump: bump},
		Kind:        kind,
		Visibility:  visibility,
		Owner:       owner,
		Offset:      offset,
		Initialised: true,
	}
	if err := tx.save(key, &record); err != nil {
		return addr, err
	}
	return addr, tx.Emit(EventFeePoolInitialised, nil, FeePoolEvent{
		Pool:       addr,
		Kind:       kind.String(),
		Visibility: visibility.String(),
		Owner:      owner,
		Offset:     offset,
	})
}

func (tx *Tx) FeePool(addr primitives.Address) (*FeePool, error) {
	var record FeePool
	found, err := tx.load(recordKey(prefixFeePool, addr), &record)
	if err != nil {
		return nil, err
	}
	if !found || !record.Initialised {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotInitialised, addr)
	}
	return &record, nil
}

// RequirePool loads addr and checks its kind.
func (tx *Tx) RequirePool(addr primitives.Address, kind PoolKind) (*FeePool, error) {
	pool, err := tx.FeePool(addr)
	if err != nil {
		return nil, err
	}
	if pool.Kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s pool", primitives.ErrAddressMismatch, addr, pool.Kind)
	}
	return pool, nil
}

// CreditPublicPool adds a plaintext fee to a public pool.
func (tx *Tx) CreditPublicPool(addr primitives.Address, amount primitives.Amount) error {
	pool, err := tx.FeePool(addr)
	if err != nil {
		return err
	}
	if pool.Visibility != Public {
		return fmt.Errorf("%w: plaintext credit to private pool %s", ErrPoolVisibility, addr)
	}
	balance, err := pool.Balance.Add(amount)
	if err != nil {
		return fmt.Errorf("credit pool %s: %w", addr, err)
	}
	pool.Balance = balance
	return tx.save(recordKey(prefixFeePool, addr), pool)
}

// AppendFeeEntry records an encrypted credit to a private pool. Entries
// appended while a collection is in flight fall outside its window.
func (tx *Tx) AppendFeeEntry(addr primitives.Address, value EncryptedValue) (uint64, error) {
	pool, err := tx.FeePool(addr)
	if err != nil {
		return 0, err
	}
	if pool.Visibility != Private {
		return 0, fmt.Errorf("%w: encrypted credit to public pool %s", ErrPoolVisibility, addr)
	}
	seq := pool.NextEntry
	entry := FeeEntry{
		Header: Header{Version: LayoutVersion, Bump: bumpFor(seedFeeEntry, addr[:], primitives.Uint64Seed(seq))},
		Pool:   addr,
		Seq:    seq,
		Value:  value,
	}
	if err := tx.save(feeEntryKey(addr, seq), &entry); err != nil {
		return 0, err
	}
	pool.NextEntry++
	return seq, tx.save(recordKey(prefixFeePool, addr), pool)
}

// FeeEntries returns the entries of addr with start <= seq < end.
func (tx *Tx) FeeEntries(addr primitives.Address, start, end uint64) ([]FeeEntry, error) {
	out := make([]FeeEntry, 0, end-start)
	for seq := start; seq < end; seq++ {
		var entry FeeEntry
		found, err := tx.load(feeEntryKey(addr, seq), &entry)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("%w: entry %d of %s missing", ErrEntryWindow, seq, addr)
		}
		out = append(out, entry)
	}
	return out, nil
}

// AuthorizeCollection checks that signer may collect from pool. Relayer
// pools are collected by their owner, commission pools by a fee collector.
func (tx *Tx) AuthorizeCollection(signer primitives.Address, pool *FeePool) error {
	if pool.Kind == PoolRelayer && signer == pool.Owner {
		return nil
	}
	return tx.RequireAuthority(SeedCollectFees, signer)
}

// CollectPublicFees withdraws amount from a public pool to recipient.
func (tx *Tx) CollectPublicFees(signer, addr primitives.Address, amount primitives.Amount, recipient primitives.Address) error {
	pool, err := tx.FeePool(addr)
	if err != nil {
		return err
	}
	if err := tx.AuthorizeCollection(signer, pool); err != nil {
		return err
	}
	if pool.Visibility != Public {
		return fmt.Errorf("%w: private pools are collected through a computation", ErrPoolVisibility)
	}
	remaining, err := pool.Balance.Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: %d < %d", ErrInsufficientFees, pool.Balance, amount)
	}
	pool.Balance = remaining
	if err := tx.save(recordKey(prefixFeePool, addr), pool); err != nil {
		return err
	}
	return tx.Emit(EventCommissionFeesCollected, nil, FeesCollectedEvent{
		Pool:      addr,
		Amount:    amount,
		Recipient: recipient,
		Remaining: remaining,
	})
}

// LockPool reserves a private pool for the collection at offset and returns
// the entry window it will consume.
func (tx *Tx) LockPool(addr primitives.Address, offset primitives.ComputationOffset) (uint64, uint64, error) {
	pool, err := tx.FeePool(addr)
	if err != nil {
		return 0, 0, err
	}
	if pool.Visibility != Private {
		return 0, 0, fmt.Errorf("%w: only private pools are locked", ErrPoolVisibility)
	}
	if pool.Locked {
		return 0, 0, fmt.Errorf("%w: %s held by computation %d", ErrPoolLocked, addr, pool.LockedBy)
	}
	pool.Locked = true
	pool.LockedBy = offset
	if err := tx.save(recordKey(prefixFeePool, addr), pool); err != nil {
		return 0, 0, err
	}
	return pool.FirstEntry, pool.NextEntry, nil
}

// UnlockPool clears a lock held by offset without consuming entries.
func (tx *Tx) UnlockPool(addr primitives.Address, offset primitives.ComputationOffset) error {
	pool, err := tx.FeePool(addr)
	if err != nil {
		return err
	}
	if !pool.Locked || pool.LockedBy != offset {
		return nil
	}
	pool.Locked = false
	pool.LockedBy = 0
	return tx.save(recordKey(prefixFeePool, addr), pool)
}

// SettleCollection deletes the window [start, end) consumed by the
// collection at offset, advances the cursor and unlocks the pool.
func (tx *Tx) SettleCollection(addr primitives.Address, offset primitives.ComputationOffset, start, end uint64) error {
	pool, err := tx.FeePool(addr)
	if err != nil {
		return err
	}
	if !pool.Locked || pool.LockedBy != offset {
		return fmt.Errorf("%w: %s is not held by computation %d", ErrPoolLocked, addr, offset)
	}
	if pool.FirstEntry != start || end > pool.NextEntry || end < start {
		return fmt.Errorf("%w: [%d, %d) against [%d, %d)", ErrEntryWindow, start, end, pool.FirstEntry, pool.NextEntry)
	}
	for seq := start; seq < end; seq++ {
		tx.del(feeEntryKey(addr, seq))
	}
	pool.FirstEntry = end
	pool.Locked = false
	pool.LockedBy = 0
	return tx.save(recordKey(prefixFeePool, addr), pool)
}
