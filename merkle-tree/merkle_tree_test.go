package merkle_tree

import (
	"testing"

	"light/shielded-pool/primitives"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(v uint64) primitives.Hash {
	e := fr.NewElement(v)
	return primitives.HashFromElement(&e)
}

func TestIncrementalMatchesFullTree(t *testing.T) {
	inc, err := NewIncrementalTree(4)
	require.NoError(t, err)
	full := NewTree(4)

	emptyRoot := full.RootValue()
	assert.Equal(t, primitives.HashFromElement(&emptyRoot), inc.Root)

	for i := uint64(0); i < 7; i++ {
		index, err := inc.Insert(leaf(i + 1))
		require.NoError(t, err)
		assert.Equal(t, i, index)

		e := fr.NewElement(i + 1)
		full.Update(i, e)
		root := full.RootValue()
		assert.Equal(t, primitives.HashFromElement(&root), inc.Root, "root mismatch after insert %d", i)
	}
}

func TestInsertMonotonic(t *testing.T) {
	tree, err := NewIncrementalTree(5)
	require.NoError(t, err)

	prevRoot := tree.Root
	for i := uint64(0); i < 20; i++ {
		before := tree.NextIndex
		_, err := tree.Insert(leaf(100 + i))
		require.NoError(t, err)
		assert.Equal(t, before+1, tree.NextIndex)
		assert.NotEqual(t, prevRoot, tree.Root)
		prevRoot = tree.Root
	}
}

func TestRootHistoryBound(t *testing.T) {
	tree, err := NewIncrementalTree(5)
	require.NoError(t, err)

	var roots []primitives.Hash
	for i := uint64(0); i < RootHistorySize+2; i++ {
		_, err := tree.Insert(leaf(i + 1))
		require.NoError(t, err)
		roots = append(roots, tree.Root)
	}

	// roots[k] is the root after insertion k; the latest is roots[11]
	latest := len(roots) - 1
	for k := latest; k >= latest-RootHistorySize; k-- {
		assert.True(t, tree.IsKnownRoot(roots[k]), "root %d should be known", k)
	}
	assert.False(t, tree.IsKnownRoot(roots[latest-RootHistorySize-1]))
	assert.False(t, tree.IsKnownRoot(ZeroRoot(5)))
	assert.Len(t, tree.History(), RootHistorySize)
	assert.Equal(t, roots[latest-1], tree.History()[0])
}

func TestTreeExhausted(t *testing.T) {
	tree, err := NewIncrementalTree(2)
	require.NoError(t, err)
	for i := uint64(0); i < 4; i++ {
		_, err := tree.Insert(leaf(i + 1))
		require.NoError(t, err)
	}
	root := tree.Root
	_, err = tree.Insert(leaf(5))
	assert.ErrorIs(t, err, ErrTreeExhausted)
	assert.Equal(t, root, tree.Root)
	assert.Equal(t, uint64(4), tree.NextIndex)
}

func TestInvalidInputs(t *testing.T) {
	_, err := NewIncrementalTree(0)
	assert.ErrorIs(t, err, ErrInvalidDepth)
	_, err = NewIncrementalTree(MaxDepth + 1)
	assert.ErrorIs(t, err, ErrInvalidDepth)

	tree, err := NewIncrementalTree(3)
	require.NoError(t, err)
	var bad primitives.Hash
	fr.Modulus().FillBytes(bad[:])
	_, err = tree.Insert(bad)
	assert.ErrorIs(t, err, primitives.ErrNotCanonical)
	assert.Equal(t, uint64(0), tree.NextIndex)
}

func TestProofPaths(t *testing.T) {
	tree := NewTree(4)
	var leaves []fr.Element
	for i := uint64(0); i < 5; i++ {
		e := fr.NewElement(i*7 + 3)
		leaves = append(leaves, e)
		tree.Append(e)
	}
	root := tree.RootValue()
	for i, l := range leaves {
		path := tree.GetProofByIndex(uint64(i))
		require.Len(t, path, 4)
		got := VerifyPath(l, uint64(i), path)
		assert.True(t, got.Equal(&root), "path %d does not reach the root", i)
	}
}

func TestHashPairRejectsNonCanonical(t *testing.T) {
	var bad primitives.Hash
	for i := range bad {
		bad[i] = 0xff
	}
	_, err := HashPair(bad, leaf(1))
	assert.ErrorIs(t, err, primitives.ErrNotCanonical)

	h, err := HashPair(leaf(1), leaf(2))
	require.NoError(t, err)
	l, r := fr.NewElement(1), fr.NewElement(2)
	expected := HashElements(l, r)
	assert.Equal(t, primitives.HashFromElement(&expected), h)
}
