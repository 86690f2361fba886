package ext4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestTree wires up a small in-memory directory tree for namei tests:
//
//	/ (ino 2)
//	  a/ (ino 10)
//	    b.txt (ino 20, regular)
//	  link -> a/b.txt (ino 30, fast symlink)
//	  loop1 -> loop2, loop2 -> loop1 (ino 40, 41)
func buildTestTree(t *testing.T) (*fakeExtentIO, map[uint32]*inode, *pathResolver) {
	t.Helper()
	io := newFakeExtentIO()
	inodes := map[uint32]*inode{}

	root := newTestInode(true)
	root.number = 2
	root.mode = uint16(fileTypeDir) | 0o755
	require.NoError(t, mkdirEntries(io, root, testBlockSize, true, 2, 2, io.allocBlock))
	inodes[2] = root

	a := newTestInode(true)
	a.number = 10
	a.mode = uint16(fileTypeDir) | 0o755
	require.NoError(t, mkdirEntries(io, a, testBlockSize, true, 10, 2, io.allocBlock))
	inodes[10] = a
	require.NoError(t, dirLink(io, root, testBlockSize, true, "a", 10, dirFileTypeDir, io.allocBlock))

	b := newTestInode(false)
	b.number = 20
	b.mode = uint16(fileTypeRegular) | 0o644
	inodes[20] = b
	require.NoError(t, dirLink(io, a, testBlockSize, true, "b.txt", 20, dirFileTypeRegular, io.allocBlock))

	link := &inode{number: 30, mode: uint16(fileTypeSymlink) | 0o777}
	link.setFastSymlinkTarget("a/b.txt")
	inodes[30] = link
	require.NoError(t, dirLink(io, root, testBlockSize, true, "link", 30, dirFileTypeSymlink, io.allocBlock))

	loop1 := &inode{number: 40, mode: uint16(fileTypeSymlink) | 0o777}
	loop1.setFastSymlinkTarget("/loop2")
	inodes[40] = loop1
	loop2 := &inode{number: 41, mode: uint16(fileTypeSymlink) | 0o777}
	loop2.setFastSymlinkTarget("/loop1")
	inodes[41] = loop2
	require.NoError(t, dirLink(io, root, testBlockSize, true, "loop1", 40, dirFileTypeSymlink, io.allocBlock))
	require.NoError(t, dirLink(io, root, testBlockSize, true, "loop2", 41, dirFileTypeSymlink, io.allocBlock))

	r := &pathResolver{
		io:        io,
		blockSize: testBlockSize,
		withFT:    true,
		readInode: func(ino uint32) (*inode, error) {
			rec, ok := inodes[ino]
			if !ok {
				return nil, ErrNotFound
			}
			return rec, nil
		},
		rootInode: 2,
	}
	return io, inodes, r
}

func TestNameiResolvesNestedPath(t *testing.T) {
	_, _, r := buildTestTree(t)

	ino, err := r.namei(2, "/a/b.txt", true)
	require.NoError(t, err)
	assert.Equal(t, uint32(20), ino)
}

func TestNameiFollowsSymlinkOnTerminalComponent(t *testing.T) {
	_, _, r := buildTestTree(t)

	ino, err := r.namei(2, "/link", true)
	require.NoError(t, err)
	assert.Equal(t, uint32(20), ino)
}

func TestNameiDoesNotFollowTerminalSymlinkWhenAsked(t *testing.T) {
	_, _, r := buildTestTree(t)

	ino, err := r.namei(2, "/link", false)
	require.NoError(t, err)
	assert.Equal(t, uint32(30), ino)
}

func TestNameiDetectsSymlinkLoop(t *testing.T) {
	_, _, r := buildTestTree(t)

	_, err := r.namei(2, "/loop1", true)
	assert.ErrorIs(t, err, ErrSymlinkLoop)
}

func TestNameiMissingComponentReturnsNotFound(t *testing.T) {
	_, _, r := buildTestTree(t)

	_, err := r.namei(2, "/a/missing.txt", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadSymlinkTargetFastPath(t *testing.T) {
	_, inodes, r := buildTestTree(t)

	target, err := r.readSymlinkTarget(inodes[30])
	require.NoError(t, err)
	assert.Equal(t, "a/b.txt", target)
}
