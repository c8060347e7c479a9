// Package ledger is the public state of the shielded pool: commitment trees,
// nullifiers, encrypted accounts, fee pools, access-control lists,
// compliance grants and pending computations. Every instruction runs inside
// Update and commits as a single LevelDB batch.
package ledger

import (
	"errors"
	"sync"

	"light/shielded-pool/logging"
	"light/shielded-pool/primitives"
)

var (
	ErrAlreadyInitialised = errors.New("account already initialised")
	ErrNotInitialised     = errors.New("account not initialised")
	ErrAccountFrozen      = errors.New("account is frozen or inactive")
	ErrAccountLocked      = errors.New("account is locked by an in-flight computation")
	ErrDomainMismatch     = errors.New("unsupported encryption domain")
	ErrUnauthorized       = errors.New("signer is not authorised for this instruction")
)

// Ledger serialises instructions over a Store.
type Ledger struct {
	mu    sync.Mutex
	store *Store
	admin primitives.Address

	subMu       sync.Mutex
	subscribers map[int]chan Event
	nextSub     int
}

// New returns a ledger over store. admin may create access-control lists
// that do not exist yet.
func New(store *Store, admin primitives.Address) *Ledger {
	return &Ledger{
		store:       store,
		admin:       admin,
		subscribers: make(map[int]chan Event),
	}
}

func (l *Ledger) Admin() primitives.Address {
	return l.admin
}

// Update runs fn as one atomic instruction. If fn returns an error nothing
// is written. Subscribers see the events once the lock is released.
func (l *Ledger) Update(fn func(tx *Tx) error) error {
	events, err := l.apply(fn)
	if err != nil {
		return err
	}
	l.publish(events)
	return nil
}

func (l *Ledger) apply(fn func(tx *Tx) error) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := newTx(l.store)
	tx.admin = l.admin
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := tx.commit(); err != nil {
		logging.Logger().Error().Err(err).Msg("ledger commit failed")
		return nil, err
	}
	return tx.events, nil
}

// View runs fn against the committed state. Writes made by fn are discarded.
func (l *Ledger) View(fn func(tx *Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := newTx(l.store)
	tx.admin = l.admin
	return fn(tx)
}

func (l *Ledger) Close() error {
	l.subMu.Lock()
	for id, ch := range l.subscribers {
		close(ch)
		delete(l.subscribers, id)
	}
	l.subMu.Unlock()
	return l.store.Close()
}
