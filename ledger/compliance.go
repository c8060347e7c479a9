package ledger

import (
	"errors"
	"fmt"

	"light/shielded-pool/primitives"
)

var (
	ErrGrantExists            = errors.New("compliance grant already exists")
	ErrComplianceGrantMissing = errors.New("compliance grant missing")
)

const (
	EventComplianceGranted = "ComplianceGrantedEvent"
	EventComplianceRevoked = "ComplianceRevokedEvent"
)

type ComplianceEvent struct {
	Grant   primitives.Address         `json:"grant"`
	Network bool                       `json:"network"`
	Grantor string                     `json:"grantor"`
	Grantee primitives.X25519PublicKey `json:"grantee"`
	Nonce   primitives.GrantNonce      `json:"nonce"`
}

// GrantCompliance lets partyB receive re-encryptions of partyA's
// ciphertexts. signer must own the account registered under partyA.
func (tx *Tx) GrantCompliance(signer primitives.Address, partyA, partyB primitives.X25519PublicKey, nonce primitives.GrantNonce) (primitives.Address, error) {
	if err := tx.requireKeyOwner(signer, partyA); err != nil {
		return primitives.Address{}, err
	}
	addr, bump, err := ComplianceGrantAddress(partyA, partyB, nonce)
	if err != nil {
		return addr, err
	}
	return addr, tx.createGrant(addr, ComplianceGrant{
		Header:  Header{Version: LayoutVersion, Bump: bump},
		Kind:    GrantPair,
		Grantor: partyA,
		Grantee: partyB,
		Nonce:   nonce,
	})
}

// GrantNetworkCompliance lets party receive re-encryptions of any account.
// The signer acts as the network authority and must be listed for
// SeedNetworkCompliance.
func (tx *Tx) GrantNetworkCompliance(signer primitives.Address, party primitives.X25519PublicKey, nonce primitives.GrantNonce) (primitives.Address, error) {
	if err := tx.RequireAuthority(SeedNetworkCompliance, signer); err != nil {
		return primitives.Address{}, err
	}
	addr, bump, err := NetworkGrantAddress(signer, party, nonce)
	if err != nil {
		return addr, err
	}
	return addr, tx.createGrant(addr, ComplianceGrant{
		Header:  Header{Version: LayoutVersion, Bump: bump},
		Kind:    GrantNetwork,
		Grantor: signer,
		Grantee: party,
		Nonce:   nonce,
	})
}

func (tx *Tx) RevokeCompliance(signer primitives.Address, partyA, partyB primitives.X25519PublicKey, nonce primitives.GrantNonce) error {
	if err := tx.requireKeyOwner(signer, partyA); err != nil {
		return err
	}
	addr, _, err := ComplianceGrantAddress(partyA, partyB, nonce)
	if err != nil {
		return err
	}
	return tx.deleteGrant(addr)
}

func (tx *Tx) RevokeNetworkCompliance(signer primitives.Address, party primitives.X25519PublicKey, nonce primitives.GrantNonce) error {
	if err := tx.RequireAuthority(SeedNetworkCompliance, signer); err != nil {
		return err
	}
	addr, _, err := NetworkGrantAddress(signer, party, nonce)
	if err != nil {
		return err
	}
	return tx.deleteGrant(addr)
}

// HasComplianceGrant reports whether the pair grant exists.
func (tx *Tx) HasComplianceGrant(partyA, partyB primitives.X25519PublicKey, nonce primitives.GrantNonce) (bool, error) {
	addr, _, err := ComplianceGrantAddress(partyA, partyB, nonce)
	if err != nil {
		return false, err
	}
	return tx.grantExists(addr)
}

// HasNetworkGrant reports whether authority granted party network-wide access.
func (tx *Tx) HasNetworkGrant(authority primitives.Address, party primitives.X25519PublicKey, nonce primitives.GrantNonce) (bool, error) {
	addr, _, err := NetworkGrantAddress(authority, party, nonce)
	if err != nil {
		return false, err
	}
	return tx.grantExists(addr)
}

func (tx *Tx) requireKeyOwner(signer primitives.Address, key primitives.X25519PublicKey) error {
	account, err := tx.Account(signer)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if account.X25519PublicKey != key {
		return fmt.Errorf("%w: %s does not own key %s", ErrUnauthorized, signer, key)
	}
	return nil
}

func (tx *Tx) createGrant(addr primitives.Address, grant ComplianceGrant) error {
	exists, err := tx.grantExists(addr)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrGrantExists, addr)
	}
	if err := tx.save(recordKey(prefixGrant, addr), &grant); err != nil {
		return err
	}
	return tx.Emit(EventComplianceGranted, nil, grantEvent(addr, grant))
}

func (tx *Tx) deleteGrant(addr primitives.Address) error {
	key := recordKey(prefixGrant, addr)
	var grant ComplianceGrant
	found, err := tx.load(key, &grant)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrComplianceGrantMissing, addr)
	}
	tx.del(key)
	return tx.Emit(EventComplianceRevoked, nil, grantEvent(addr, grant))
}

func (tx *Tx) grantExists(addr primitives.Address) (bool, error) {
	data, err := tx.get(recordKey(prefixGrant, addr))
	return data != nil, err
}

func grantEvent(addr primitives.Address, grant ComplianceGrant) ComplianceEvent {
	return ComplianceEvent{
		Grant:   addr,
		Network: grant.Kind == GrantNetwork,
		Grantor: primitives.Hash(grant.Grantor).String(),
		Grantee: grant.Grantee,
		Nonce:   grant.Nonce,
	}
}
