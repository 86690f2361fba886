package ext4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestInode(usesExtents bool) *inode {
	ino := &inode{number: 99}
	if usesExtents {
		ino.flags |= uint32(flagExtents)
		copy(ino.block[:], newExtentRootHeader())
	}
	return ino
}

func TestBmapDispatchesOnExtentsFlag(t *testing.T) {
	io := newFakeExtentIO()

	extIno := newTestInode(true)
	require.NoError(t, bmapAssign(io, extIno, testBlockSize, 0, 700, 1))
	p, ok, err := bmap(io, extIno, testBlockSize, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(700), p)

	classicIno := newTestInode(false)
	require.NoError(t, bmapAssign(io, classicIno, testBlockSize, 0, 800, 1))
	p, ok, err = bmap(io, classicIno, testBlockSize, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(800), p)
}

func TestBmapAllBlocksMatchesAssignedRuns(t *testing.T) {
	io := newFakeExtentIO()
	extIno := newTestInode(true)
	require.NoError(t, bmapAssign(io, extIno, testBlockSize, 0, 100, 3))

	blocks, err := bmapAllBlocks(io, extIno)
	require.NoError(t, err)
	assert.Equal(t, []uint64{100, 101, 102}, blocks)
}

func TestBmapTruncateExtentsFreesTail(t *testing.T) {
	io := newFakeExtentIO()
	extIno := newTestInode(true)
	require.NoError(t, bmapAssign(io, extIno, testBlockSize, 0, 200, 4))

	var freed []uint64
	free := func(b uint64) error {
		freed = append(freed, b)
		return nil
	}
	require.NoError(t, bmapTruncate(io, extIno, testBlockSize, 2, free))

	assert.Equal(t, []uint64{202, 203}, freed)
	blocks, err := bmapAllBlocks(io, extIno)
	require.NoError(t, err)
	assert.Equal(t, []uint64{200, 201}, blocks)
}

func TestBmapTruncateClassicFreesTail(t *testing.T) {
	io := newFakeExtentIO()
	classicIno := newTestInode(false)
	for i := uint64(0); i < 4; i++ {
		require.NoError(t, bmapAssign(io, classicIno, testBlockSize, i, 300+i, 1))
	}

	var freed []uint64
	free := func(b uint64) error {
		freed = append(freed, b)
		return nil
	}
	require.NoError(t, bmapTruncate(io, classicIno, testBlockSize, 2, free))

	assert.ElementsMatch(t, []uint64{302, 303}, freed)
	blocks, err := bmapAllBlocks(io, classicIno)
	require.NoError(t, err)
	assert.Equal(t, []uint64{300, 301}, blocks)
}
