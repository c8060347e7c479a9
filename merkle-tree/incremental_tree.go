package merkle_tree

import (
	"errors"
	"fmt"

	"light/shielded-pool/primitives"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

const (
	// RootHistorySize is the number of previous roots a spend may still reference.
	RootHistorySize = 10
	MaxDepth        = 32
)

var zeroHashes = ZeroHashes(MaxDepth)

var (
	ErrTreeExhausted = errors.New("commitment tree is full")
	ErrInvalidDepth  = fmt.Errorf("tree depth must be between 1 and %d", MaxDepth)
)

// IncrementalTree is the append-only frontier of a commitment tree: enough
// state to append a leaf and compute the new root, but not to produce paths.
type IncrementalTree struct {
	Depth          uint8
	Root           primitives.Hash
	PreviousRoots  [RootHistorySize]primitives.Hash
	HistoryCursor  uint8
	HistoryLen     uint8
	FilledSubtrees [MaxDepth]primitives.Hash
	NextIndex      uint64
}

func NewIncrementalTree(depth uint8) (*IncrementalTree, error) {
	if depth == 0 || depth > MaxDepth {
		return nil, ErrInvalidDepth
	}
	tree := &IncrementalTree{Depth: depth, Root: ZeroRoot(depth)}
	for i := 0; i < int(depth); i++ {
		tree.FilledSubtrees[i] = primitives.HashFromElement(&zeroHashes[i])
	}
	return tree, nil
}

func (t *IncrementalTree) Capacity() uint64 {
	return uint64(1) << t.Depth
}

// Insert appends leaf and returns its index.
func (t *IncrementalTree) Insert(leaf primitives.Hash) (uint64, error) {
	if t.NextIndex >= t.Capacity() {
		return 0, ErrTreeExhausted
	}
	current, err := leaf.Element()
	if err != nil {
		return 0, fmt.Errorf("leaf: %w", err)
	}
	index := t.NextIndex
	for level := 0; level < int(t.Depth); level++ {
		if index>>level&1 == 0 {
			t.FilledSubtrees[level] = primitives.HashFromElement(&current)
			current = HashElements(current, zeroHashes[level])
		} else {
			left, err := t.FilledSubtrees[level].Element()
			if err != nil {
				return 0, fmt.Errorf("filled subtree %d: %w", level, err)
			}
			current = HashElements(left, current)
		}
	}

	t.pushRoot(t.Root)
	t.Root = primitives.HashFromElement(&current)
	t.NextIndex++
	return index, nil
}

func (t *IncrementalTree) pushRoot(root primitives.Hash) {
	t.PreviousRoots[t.HistoryCursor] = root
	t.HistoryCursor = (t.HistoryCursor + 1) % RootHistorySize
	if t.HistoryLen < RootHistorySize {
		t.HistoryLen++
	}
}

// IsKnownRoot reports whether root is the current root or one of the last
// RootHistorySize roots.
func (t *IncrementalTree) IsKnownRoot(root primitives.Hash) bool {
	if root == t.Root {
		return true
	}
	for _, r := range t.History() {
		if r == root {
			return true
		}
	}
	return false
}

// History returns the remembered previous roots, newest first.
func (t *IncrementalTree) History() []primitives.Hash {
	out := make([]primitives.Hash, 0, t.HistoryLen)
	for i := 1; i <= int(t.HistoryLen); i++ {
		idx := (int(t.HistoryCursor) - i + RootHistorySize) % RootHistorySize
		out = append(out, t.PreviousRoots[idx])
	}
	return out
}

// ZeroRoot is the root of an empty tree of the given depth.
func ZeroRoot(depth uint8) primitives.Hash {
	return primitives.HashFromElement(&zeroHashes[depth])
}

// LeafFromElement is a convenience for callers holding field elements.
func LeafFromElement(e fr.Element) primitives.Hash {
	return primitives.HashFromElement(&e)
}
