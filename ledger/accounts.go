package ledger

import (
	"fmt"

	"light/shielded-pool/primitives"
)

const (
	EventAccountInitialised      = "AccountInitialisedEvent"
	EventTokenAccountInitialised = "TokenAccountInitialisedEvent"
	EventAccountFrozen           = "AccountFrozenEvent"
	EventAccountThawed           = "AccountThawedEvent"
)

type AccountEvent struct {
	Owner   primitives.Address  `json:"owner"`
	Mint    *primitives.Address `json:"mint,omitempty"`
	Account primitives.Address  `json:"account"`
}

// InitialiseAccount registers owner's encryption identity.
func (tx *Tx) InitialiseAccount(owner primitives.Address, key primitives.X25519PublicKey, mvkHash primitives.Hash) (primitives.Address, error) {
	addr, bump, err := EncryptedAccountAddress(owner)
	if err != nil {
		return addr, err
	}
	recKey := recordKey(prefixAccount, addr)
	var existing EncryptedAccount
	found, err := tx.load(recKey, &existing)
	if err != nil {
		return addr, err
	}
	if found {
		return addr, fmt.Errorf("%w: %s", ErrAlreadyInitialised, addr)
	}
	record := EncryptedAccount{
		Header:               Header{Version: LayoutVersion, Bump: bump},
		Owner:                owner,
		Status:               StatusInitialised | StatusActive,
		X25519PublicKey:      key,
		MasterViewingKeyHash: mvkHash,
	}
	if err := tx.save(recKey, &record); err != nil {
		return addr, err
	}
	return addr, tx.Emit(EventAccountInitialised, nil, AccountEvent{Owner: owner, Account: addr})
}

// InitialiseTokenAccount opens owner's encrypted balance for mint. The
// balance starts as the all-zero ciphertext, which the engine reads as empty.
func (tx *Tx) InitialiseTokenAccount(owner, mint primitives.Address, domain Domain) (primitives.Address, error) {
	if !domain.Valid() {
		return primitives.Address{}, ErrDomainMismatch
	}
	if _, err := tx.Account(owner); err != nil {
		return primitives.Address{}, err
	}
	addr, bump, err := TokenAccountAddress(owner, mint)
	if err != nil {
		return addr, err
	}
	key := recordKey(prefixToken, addr)
	var existing EncryptedTokenAccount
	found, err := tx.load(key, &existing)
	if err != nil {
		return addr, err
	}
	if found {
		return addr, fmt.Errorf("%w: %s", ErrAlreadyInitialised, addr)
	}
	record := EncryptedTokenAccount{
		Header: Header{Version: LayoutVersion, Bump: bump},
		Owner:  owner,
		Mint:   mint,
		Status: StatusInitialised | StatusActive,
		Domain: domain,
	}
	if err := tx.save(key, &record); err != nil {
		return addr, err
	}
	return addr, tx.Emit(EventTokenAccountInitialised, nil, AccountEvent{Owner: owner, Mint: &mint, Account: addr})
}

func (tx *Tx) Account(owner primitives.Address) (*EncryptedAccount, error) {
	addr, _, err := EncryptedAccountAddress(owner)
	if err != nil {
		return nil, err
	}
	var record EncryptedAccount
	found, err := tx.load(recordKey(prefixAccount, addr), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: encrypted account of %s", ErrNotInitialised, owner)
	}
	return &record, nil
}

// TokenAccount loads the token account stored at addr.
func (tx *Tx) TokenAccount(addr primitives.Address) (*EncryptedTokenAccount, error) {
	var record EncryptedTokenAccount
	found, err := tx.load(recordKey(prefixToken, addr), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: token account %s", ErrNotInitialised, addr)
	}
	return &record, nil
}

// ResolveTokenAccount checks that addr is the derived token account of
// (owner, mint) and loads it.
func (tx *Tx) ResolveTokenAccount(addr, owner, mint primitives.Address) (*EncryptedTokenAccount, error) {
	expected, _, err := TokenAccountAddress(owner, mint)
	if err != nil {
		return nil, err
	}
	if expected != addr {
		return nil, fmt.Errorf("%w: token account %s for owner %s", primitives.ErrAddressMismatch, addr, owner)
	}
	return tx.TokenAccount(addr)
}

// UsableTokenAccount loads a token account and requires both it and its
// owner's encrypted account to be active, unfrozen and unlocked.
func (tx *Tx) UsableTokenAccount(addr primitives.Address) (*EncryptedTokenAccount, *EncryptedAccount, error) {
	token, err := tx.TokenAccount(addr)
	if err != nil {
		return nil, nil, err
	}
	owner, err := tx.Account(token.Owner)
	if err != nil {
		return nil, nil, err
	}
	if !owner.Status.Usable() || !token.Status.Usable() {
		return nil, nil, fmt.Errorf("%w: %s", ErrAccountFrozen, addr)
	}
	if token.Locked {
		return nil, nil, fmt.Errorf("%w: %s held by computation %d", ErrAccountLocked, addr, token.LockedBy)
	}
	return token, owner, nil
}

// LockTokenAccount marks addr as written by the computation at offset.
func (tx *Tx) LockTokenAccount(addr primitives.Address, offset primitives.ComputationOffset) error {
	token, err := tx.TokenAccount(addr)
	if err != nil {
		return err
	}
	if token.Locked {
		return fmt.Errorf("%w: %s held by computation %d", ErrAccountLocked, addr, token.LockedBy)
	}
	token.Locked = true
	token.LockedBy = offset
	return tx.save(recordKey(prefixToken, addr), token)
}

// UnlockTokenAccount clears a lock held by offset.
func (tx *Tx) UnlockTokenAccount(addr primitives.Address, offset primitives.ComputationOffset) error {
	token, err := tx.TokenAccount(addr)
	if err != nil {
		return err
	}
	if !token.Locked || token.LockedBy != offset {
		return nil
	}
	token.Locked = false
	token.LockedBy = 0
	return tx.save(recordKey(prefixToken, addr), token)
}

// WriteBalance stores a ciphertext produced by the computation holding the
// account's lock. It is the only path that changes a balance.
func (tx *Tx) WriteBalance(addr primitives.Address, offset primitives.ComputationOffset, balance EncryptedValue) error {
	token, err := tx.TokenAccount(addr)
	if err != nil {
		return err
	}
	if !token.Locked || token.LockedBy != offset {
		return fmt.Errorf("%w: %s is not held by computation %d", ErrAccountLocked, addr, offset)
	}
	token.Balance = balance
	return tx.save(recordKey(prefixToken, addr), token)
}

// FreezeAccount deactivates owner's encrypted account. Ciphertexts are not touched.
func (tx *Tx) FreezeAccount(signer, owner primitives.Address) error {
	return tx.setAccountFrozen(signer, owner, true)
}

func (tx *Tx) ThawAccount(signer, owner primitives.Address) error {
	return tx.setAccountFrozen(signer, owner, false)
}

func (tx *Tx) setAccountFrozen(signer, owner primitives.Address, frozen bool) error {
	if err := tx.RequireAuthority(SeedFreeze, signer); err != nil {
		return err
	}
	account, err := tx.Account(owner)
	if err != nil {
		return err
	}
	account.Status = withFrozen(account.Status, frozen)
	addr, _, err := EncryptedAccountAddress(owner)
	if err != nil {
		return err
	}
	if err := tx.save(recordKey(prefixAccount, addr), account); err != nil {
		return err
	}
	return tx.Emit(frozenEventName(frozen), nil, AccountEvent{Owner: owner, Account: addr})
}

// FreezeTokenAccount deactivates a single token account of owner.
func (tx *Tx) FreezeTokenAccount(signer, owner, mint primitives.Address) error {
	return tx.setTokenFrozen(signer, owner, mint, true)
}

func (tx *Tx) ThawTokenAccount(signer, owner, mint primitives.Address) error {
	return tx.setTokenFrozen(signer, owner, mint, false)
}

func (tx *Tx) setTokenFrozen(signer, owner, mint primitives.Address, frozen bool) error {
	if err := tx.RequireAuthority(SeedFreeze, signer); err != nil {
		return err
	}
	addr, _, err := TokenAccountAddress(owner, mint)
	if err != nil {
		return err
	}
	token, err := tx.TokenAccount(addr)
	if err != nil {
		return err
	}
	token.Status = withFrozen(token.Status, frozen)
	if err := tx.save(recordKey(prefixToken, addr), token); err != nil {
		return err
	}
	return tx.Emit(frozenEventName(frozen), nil, AccountEvent{Owner: owner, Mint: &mint, Account: addr})
}

func withFrozen(status StatusFlags, frozen bool) StatusFlags {
	if frozen {
		return (status | StatusFrozen) &^ StatusActive
	}
	return (status &^ StatusFrozen) | StatusActive
}

func frozenEventName(frozen bool) string {
	if frozen {
		return EventAccountFrozen
	}
	return EventAccountThawed
}
