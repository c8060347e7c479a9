package ledger

import (
	"errors"
	"fmt"

	"light/shielded-pool/primitives"
)

var (
	ErrEmptyAuthorities     = errors.New("access-control list needs at least one authority")
	ErrTooManyAuthorities   = fmt.Errorf("access-control list holds at most %d authorities", MaxAuthorities)
	ErrDuplicateAuthority   = errors.New("duplicate authority")
	ErrAccessListNotCreated = errors.New("access-control list not created")
)

const EventAccessControlUpdated = "AccessControlUpdatedEvent"

type AccessControlUpdatedEvent struct {
	Seed        primitives.InstructionSeed `json:"seed"`
	Revision    uint64                     `json:"revision"`
	Authorities []primitives.Address       `json:"authorities"`
}

func (tx *Tx) AccessControl(seed primitives.InstructionSeed) (*AccessControlList, error) {
	addr, _, err := AccessControlAddress(seed)
	if err != nil {
		return nil, err
	}
	var record AccessControlList
	found, err := tx.load(recordKey(prefixACL, addr), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: seed %d", ErrAccessListNotCreated, seed)
	}
	return &record, nil
}

// RequireAuthority fails unless signer is listed for seed.
func (tx *Tx) RequireAuthority(seed primitives.InstructionSeed, signer primitives.Address) error {
	acl, err := tx.AccessControl(seed)
	if err != nil {
		if errors.Is(err, ErrAccessListNotCreated) {
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return err
	}
	if !acl.Contains(signer) {
		return fmt.Errorf("%w: %s for seed %d", ErrUnauthorized, signer, seed)
	}
	return nil
}

// SetAccessControl replaces the authorities of seed. The first list for a
// seed is created by the ledger admin; after that only a listed authority
// may change it.
func (tx *Tx) SetAccessControl(signer primitives.Address, seed primitives.InstructionSeed, authorities []primitives.Address) error {
	if len(authorities) == 0 {
		return ErrEmptyAuthorities
	}
	if len(authorities) > MaxAuthorities {
		return ErrTooManyAuthorities
	}
	seen := make(map[primitives.Address]struct{}, len(authorities))
	for _, a := range authorities {
		if _, dup := seen[a]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateAuthority, a)
		}
		seen[a] = struct{}{}
	}

	addr, bump, err := AccessControlAddress(seed)
	if err != nil {
		return err
	}
	key := recordKey(prefixACL, addr)
	var record AccessControlList
	found, err := tx.load(key, &record)
	if err != nil {
		return err
	}
	if found {
		if !record.Contains(signer) {
			return fmt.Errorf("%w: %s for seed %d", ErrUnauthorized, signer, seed)
		}
	} else {
		if tx.admin.IsZero() || signer != tx.admin {
			return fmt.Errorf("%w: only the admin may create the list for seed %d", ErrUnauthorized, seed)
		}
		record = AccessControlList{Header: Header{Version: LayoutVersion, Bump: bump}, Seed: seed}
	}

	record.Revision++
	record.Count = uint8(len(authorities))
	record.Authorities = [MaxAuthorities]primitives.Address{}
	copy(record.Authorities[:], authorities)
	if err := tx.save(key, &record); err != nil {
		return err
	}
	return tx.Emit(EventAccessControlUpdated, nil, AccessControlUpdatedEvent{
		Seed:        seed,
		Revision:    record.Revision,
		Authorities: record.List(),
	})
}
