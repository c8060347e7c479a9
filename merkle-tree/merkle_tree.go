package merkle_tree

import (
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Node is a persistent (copy-on-write) node of a full commitment tree.
type Node interface {
	depth() int
	Value() fr.Element
	withValue(index uint64, val fr.Element) Node
	writeProof(index uint64, out []fr.Element)
}

func indexIsLeft(index uint64, depth int) bool {
	return index&(1<<(depth-1)) == 0
}

type FullNode struct {
	dep   int
	val   fr.Element
	Left  Node
	Right Node
}

type EmptyNode struct {
	dep   int
	zeros []fr.Element
}

func (node *FullNode) depth() int { return node.dep }

func (node *EmptyNode) depth() int { return node.dep }

func (node *FullNode) Value() fr.Element { return node.val }

func (node *EmptyNode) Value() fr.Element { return node.zeros[node.dep] }

func (node *FullNode) withValue(index uint64, val fr.Element) Node {
	result := FullNode{dep: node.dep, Left: node.Left, Right: node.Right}
	if node.dep == 0 {
		result.val = val
		return &result
	}
	if indexIsLeft(index, node.dep) {
		result.Left = node.Left.withValue(index, val)
	} else {
		result.Right = node.Right.withValue(index, val)
	}
	result.rehash()
	return &result
}

func (node *EmptyNode) withValue(index uint64, val fr.Element) Node {
	result := FullNode{dep: node.dep}
	if node.dep == 0 {
		result.val = val
		return &result
	}
	emptyChild := &EmptyNode{dep: node.dep - 1, zeros: node.zeros}
	initialised := emptyChild.withValue(index, val)
	if indexIsLeft(index, node.dep) {
		result.Left, result.Right = initialised, emptyChild
	} else {
		result.Left, result.Right = emptyChild, initialised
	}
	result.rehash()
	return &result
}

func (node *FullNode) writeProof(index uint64, out []fr.Element) {
	if node.dep == 0 {
		return
	}
	if indexIsLeft(index, node.dep) {
		out[node.dep-1] = node.Right.Value()
		node.Left.writeProof(index, out)
	} else {
		out[node.dep-1] = node.Left.Value()
		node.Right.writeProof(index, out)
	}
}

func (node *EmptyNode) writeProof(index uint64, out []fr.Element) {
	for i := 0; i < node.dep; i++ {
		out[i] = node.zeros[i]
	}
}

func (node *FullNode) rehash() {
	node.val = HashElements(node.Left.Value(), node.Right.Value())
}

// Tree is a full in-memory commitment tree. Clients use it to build the
// inclusion paths that the spend circuit consumes; the ledger itself only
// keeps the incremental frontier.
type Tree struct {
	Root Node
	next uint64
}

func NewTree(depth int) Tree {
	return Tree{Root: &EmptyNode{dep: depth, zeros: ZeroHashes(depth)}}
}

func (tree *Tree) Depth() int {
	return tree.Root.depth()
}

// Update sets the leaf at index and returns its sibling path, leaf level first.
func (tree *Tree) Update(index uint64, value fr.Element) []fr.Element {
	tree.Root = tree.Root.withValue(index, value)
	if index >= tree.next {
		tree.next = index + 1
	}
	return tree.GetProofByIndex(index)
}

// Append writes value at the next free index.
func (tree *Tree) Append(value fr.Element) (uint64, []fr.Element) {
	index := tree.next
	return index, tree.Update(index, value)
}

func (tree *Tree) GetProofByIndex(index uint64) []fr.Element {
	proof := make([]fr.Element, tree.Root.depth())
	tree.Root.writeProof(index, proof)
	return proof
}

func (tree *Tree) RootValue() fr.Element {
	return tree.Root.Value()
}

// VerifyPath recomputes the root from a leaf and its sibling path.
func VerifyPath(leaf fr.Element, index uint64, path []fr.Element) fr.Element {
	current := leaf
	for level, sibling := range path {
		if index>>level&1 == 0 {
			current = HashElements(current, sibling)
		} else {
			current = HashElements(sibling, current)
		}
	}
	return current
}
