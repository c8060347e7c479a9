package ledger

import (
	"errors"
	"fmt"

	merkle_tree "light/shielded-pool/merkle-tree"
	"light/shielded-pool/primitives"
)

var ErrTreeNotInitialised = errors.New("commitment tree not initialised")

const EventCommitmentInserted = "CommitmentInsertedEvent"

type CommitmentInsertedEvent struct {
	Tree  primitives.Address `json:"tree"`
	Leaf  primitives.Hash    `json:"leaf"`
	Index uint64             `json:"index"`
	Root  primitives.Hash    `json:"root"`
}

// InitialiseCommitmentTree creates an empty tree for (mint, index).
func (tx *Tx) InitialiseCommitmentTree(signer, mint primitives.Address, index primitives.TreeIndex, depth uint8) (primitives.Address, error) {
	if err := tx.RequireAuthority(SeedTreeAdmin, signer); err != nil {
		return primitives.Address{}, err
	}
	addr, bump, err := TreeAddress(mint, index)
	if err != nil {
		return addr, err
	}
	var existing CommitmentTreeAccount
	found, err := tx.load(recordKey(prefixTree, addr), &existing)
	if err != nil {
		return addr, err
	}
	if found {
		return addr, ErrAlreadyInitialised
	}
	tree, err := merkle_tree.NewIncrementalTree(depth)
	if err != nil {
		return addr, err
	}
	record := CommitmentTreeAccount{
		Header: Header{Version: LayoutVersion, Bump: bump},
		Mint:   mint,
		Index:  index,
		Tree:   *tree,
	}
	return addr, tx.save(recordKey(prefixTree, addr), &record)
}

func (tx *Tx) CommitmentTree(addr primitives.Address) (*CommitmentTreeAccount, error) {
	var record CommitmentTreeAccount
	found, err := tx.load(recordKey(prefixTree, addr), &record)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrTreeNotInitialised, addr)
	}
	return &record, nil
}

// InsertCommitment appends leaf to the tree at addr and emits an insertion
// event for indexers.
func (tx *Tx) InsertCommitment(addr primitives.Address, leaf primitives.Hash) (uint64, error) {
	record, err := tx.CommitmentTree(addr)
	if err != nil {
		return 0, err
	}
	index, err := record.Tree.Insert(leaf)
	if err != nil {
		return 0, err
	}
	if err := tx.save(recordKey(prefixTree, addr), record); err != nil {
		return 0, err
	}
	return index, tx.Emit(EventCommitmentInserted, nil, CommitmentInsertedEvent{
		Tree:  addr,
		Leaf:  leaf,
		Index: index,
		Root:  record.Tree.Root,
	})
}

// IsKnownRoot reports whether root is current or still in the tree's history.
func (tx *Tx) IsKnownRoot(addr primitives.Address, root primitives.Hash) (bool, error) {
	record, err := tx.CommitmentTree(addr)
	if err != nil {
		return false, err
	}
	return record.Tree.IsKnownRoot(root), nil
}
