package ext4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMkdirEntriesAndLookup(t *testing.T) {
	io := newFakeExtentIO()
	dir := newTestInode(true)

	require.NoError(t, mkdirEntries(io, dir, testBlockSize, true, 50, 2, io.allocBlock))

	ino, ft, found, err := dirLookup(io, dir, testBlockSize, true, ".")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(50), ino)
	assert.Equal(t, dirFileTypeDir, ft)

	ino, _, found, err = dirLookup(io, dir, testBlockSize, true, "..")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(2), ino)

	empty, err := dirIsEmpty(io, dir, testBlockSize, true)
	require.NoError(t, err)
	assert.True(t, empty)
}

func TestDirLinkAndLookup(t *testing.T) {
	io := newFakeExtentIO()
	dir := newTestInode(true)
	require.NoError(t, mkdirEntries(io, dir, testBlockSize, true, 50, 2, io.allocBlock))

	require.NoError(t, dirLink(io, dir, testBlockSize, true, "hello.txt", 60, dirFileTypeRegular, io.allocBlock))

	ino, ft, found, err := dirLookup(io, dir, testBlockSize, true, "hello.txt")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(60), ino)
	assert.Equal(t, dirFileTypeRegular, ft)

	empty, err := dirIsEmpty(io, dir, testBlockSize, true)
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestDirLinkReusesSlotAfterUnlink(t *testing.T) {
	io := newFakeExtentIO()
	dir := newTestInode(true)
	require.NoError(t, mkdirEntries(io, dir, testBlockSize, true, 50, 2, io.allocBlock))
	require.NoError(t, dirLink(io, dir, testBlockSize, true, "a", 61, dirFileTypeRegular, io.allocBlock))

	require.NoError(t, dirUnlink(io, dir, testBlockSize, true, "a"))
	_, _, found, err := dirLookup(io, dir, testBlockSize, true, "a")
	require.NoError(t, err)
	assert.False(t, found)

	// the freed slot should be reusable by a later link.
	require.NoError(t, dirLink(io, dir, testBlockSize, true, "b", 62, dirFileTypeRegular, io.allocBlock))
	ino, _, found, err := dirLookup(io, dir, testBlockSize, true, "b")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint32(62), ino)
}

func TestDirUnlinkMissingNameReturnsNotFound(t *testing.T) {
	io := newFakeExtentIO()
	dir := newTestInode(true)
	require.NoError(t, mkdirEntries(io, dir, testBlockSize, true, 50, 2, io.allocBlock))

	assert.ErrorIs(t, dirUnlink(io, dir, testBlockSize, true, "nope"), ErrNotFound)
}

func TestDirLinkExpandsDirectoryWhenFull(t *testing.T) {
	io := newFakeExtentIO()
	dir := newTestInode(true)
	require.NoError(t, mkdirEntries(io, dir, testBlockSize, true, 50, 2, io.allocBlock))

	// Long names chew through the single block's slack quickly, forcing
	// expandDir to allocate a second block.
	for i := 0; i < 60; i++ {
		name := "this-is-a-reasonably-long-file-name-" + string(rune('a'+i%26)) + string(rune('0'+i%10))
		require.NoError(t, dirLink(io, dir, testBlockSize, true, name, uint32(1000+i), dirFileTypeRegular, io.allocBlock))
	}
	assert.Greater(t, dir.size, uint64(testBlockSize), "directory should have grown past one block")

	blocks, err := bmapAllBlocks(io, dir)
	require.NoError(t, err)
	assert.Greater(t, len(blocks), 1)
}

func TestCheckDirectoryRejectsNonDirectory(t *testing.T) {
	reg := &inode{mode: uint16(fileTypeRegular)}
	assert.ErrorIs(t, checkDirectory(reg), ErrNotDirectory)
}
