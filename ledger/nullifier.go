package ledger

import (
	"errors"
	"fmt"

	"light/shielded-pool/primitives"
)

var (
	ErrNullifierAlreadyConsumed = errors.New("nullifier already consumed")
	ErrNullifierReserved        = errors.New("nullifier reserved by an in-flight computation")
	ErrReservationMismatch      = errors.New("nullifier is not reserved by this computation")
)

func (tx *Tx) Nullifier(hash primitives.Hash) (*NullifierRecord, error) {
	addr, _, err := NullifierAddress(hash)
	if err != nil {
		return nil, err
	}
	var record NullifierRecord
	found, err := tx.load(recordKey(prefixNullifier, addr), &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

// CheckNullifier fails if hash has already been consumed.
func (tx *Tx) CheckNullifier(hash primitives.Hash) error {
	record, err := tx.Nullifier(hash)
	if err != nil {
		return err
	}
	if record != nil && record.Consumed {
		return fmt.Errorf("%w: %s", ErrNullifierAlreadyConsumed, hash)
	}
	return nil
}

// ReserveNullifier creates, or takes over, the reservation for expected on
// behalf of the computation at offset.
func (tx *Tx) ReserveNullifier(expected primitives.Hash, offset primitives.ComputationOffset) error {
	addr, bump, err := NullifierAddress(expected)
	if err != nil {
		return err
	}
	key := recordKey(prefixNullifier, addr)
	var record NullifierRecord
	found, err := tx.load(key, &record)
	if err != nil {
		return err
	}
	if found {
		if record.Consumed {
			return fmt.Errorf("%w: %s", ErrNullifierAlreadyConsumed, expected)
		}
		if record.Reserved && record.ReservedBy != offset {
			live, err := tx.HasPendingComputation(record.ReservedBy)
			if err != nil {
				return err
			}
			if live {
				return fmt.Errorf("%w: held by computation %d", ErrNullifierReserved, record.ReservedBy)
			}
		}
	} else {
		record = NullifierRecord{Header: Header{Version: LayoutVersion, Bump: bump}, Hash: expected}
	}
	record.Reserved = true
	record.ReservedBy = offset
	return tx.save(key, &record)
}

// ConsumeNullifier marks hash spent. Only the computation holding the
// reservation may consume it.
func (tx *Tx) ConsumeNullifier(hash primitives.Hash, offset primitives.ComputationOffset) error {
	addr, _, err := NullifierAddress(hash)
	if err != nil {
		return err
	}
	key := recordKey(prefixNullifier, addr)
	var record NullifierRecord
	found, err := tx.load(key, &record)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrReservationMismatch, hash)
	}
	if record.Consumed {
		return fmt.Errorf("%w: %s", ErrNullifierAlreadyConsumed, hash)
	}
	if !record.Reserved || record.ReservedBy != offset {
		return fmt.Errorf("%w: %s", ErrReservationMismatch, hash)
	}
	record.Initialised = true
	record.Consumed = true
	return tx.save(key, &record)
}

// ReleaseNullifier drops an unconsumed reservation held by offset, returning
// the registry to its state before the request.
func (tx *Tx) ReleaseNullifier(hash primitives.Hash, offset primitives.ComputationOffset) error {
	addr, _, err := NullifierAddress(hash)
	if err != nil {
		return err
	}
	key := recordKey(prefixNullifier, addr)
	var record NullifierRecord
	found, err := tx.load(key, &record)
	if err != nil || !found {
		return err
	}
	if record.Consumed || !record.Reserved || record.ReservedBy != offset {
		return nil
	}
	tx.del(key)
	return nil
}
