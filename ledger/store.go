package ledger

import (
	"encoding"
	"errors"
	"fmt"

	"light/shielded-pool/primitives"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Store persists ledger records in LevelDB.
type Store struct {
	db   *leveldb.DB
	sync bool
}

// OpenStore opens or creates the store at path.
func OpenStore(path string, syncWrites bool) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger store: %w", err)
	}
	return &Store{db: db, sync: syncWrites}, nil
}

// OpenMemoryStore returns a store that lives only as long as the process.
func OpenMemoryStore() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) get(key []byte) ([]byte, error) {
	value, err := s.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *Store) iterate(prefix []byte, start []byte, fn func(key, value []byte) (bool, error)) error {
	rng := util.BytesPrefix(prefix)
	if start != nil {
		rng.Start = start
	}
	iter := s.db.NewIterator(rng, nil)
	defer iter.Release()
	for iter.Next() {
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

func (s *Store) write(batch *leveldb.Batch) error {
	return s.db.Write(batch, &opt.WriteOptions{Sync: s.sync})
}

// Tx buffers the writes of one instruction. Reads observe the buffered
// writes; nothing reaches the store until Commit.
type Tx struct {
	store   *Store
	admin   primitives.Address
	writes  map[string][]byte
	deletes map[string]struct{}
	events  []Event
}

func newTx(store *Store) *Tx {
	return &Tx{
		store:   store,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (tx *Tx) get(key []byte) ([]byte, error) {
	k := string(key)
	if _, ok := tx.deletes[k]; ok {
		return nil, nil
	}
	if v, ok := tx.writes[k]; ok {
		return v, nil
	}
	return tx.store.get(key)
}

func (tx *Tx) put(key []byte, value []byte) {
	k := string(key)
	delete(tx.deletes, k)
	tx.writes[k] = value
}

func (tx *Tx) del(key []byte) {
	k := string(key)
	delete(tx.writes, k)
	tx.deletes[k] = struct{}{}
}

// load decodes the record at key into r. It reports false when the key is absent.
func (tx *Tx) load(key []byte, r encoding.BinaryUnmarshaler) (bool, error) {
	data, err := tx.get(key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := r.UnmarshalBinary(data); err != nil {
		return false, fmt.Errorf("decode %x: %w", key, err)
	}
	return true, nil
}

func (tx *Tx) save(key []byte, r encoding.BinaryMarshaler) error {
	data, err := r.MarshalBinary()
	if err != nil {
		return err
	}
	tx.put(key, data)
	return nil
}

// rawRecord returns the stored bytes at key, or nil.
func (tx *Tx) rawRecord(key []byte) ([]byte, error) {
	data, err := tx.get(key)
	if err != nil || data == nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

// RawTokenAccount returns the encoded token account at addr, or nil.
func (tx *Tx) RawTokenAccount(addr primitives.Address) ([]byte, error) {
	return tx.rawRecord(recordKey(prefixToken, addr))
}

// RawNullifier returns the encoded nullifier record for hash, or nil.
func (tx *Tx) RawNullifier(hash primitives.Hash) ([]byte, error) {
	addr, _, err := NullifierAddress(hash)
	if err != nil {
		return nil, err
	}
	return tx.rawRecord(recordKey(prefixNullifier, addr))
}

func (tx *Tx) commit() error {
	if len(tx.writes) == 0 && len(tx.deletes) == 0 && len(tx.events) == 0 {
		return nil
	}
	batch := new(leveldb.Batch)
	for k, v := range tx.writes {
		batch.Put([]byte(k), v)
	}
	for k := range tx.deletes {
		batch.Delete([]byte(k))
	}
	if err := tx.appendEvents(batch); err != nil {
		return err
	}
	return tx.store.write(batch)
}
