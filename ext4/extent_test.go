package ext4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtentIO is a minimal in-memory blockIO for exercising the extent
// tree in isolation, without a mounted filesystem.
type fakeExtentIO struct {
	blocks map[uint64][]byte
	next   uint64
}

func newFakeExtentIO() *fakeExtentIO {
	return &fakeExtentIO{blocks: map[uint64][]byte{}, next: 100}
}

func (f *fakeExtentIO) readBlock(n uint64) ([]byte, error) {
	b, ok := f.blocks[n]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (f *fakeExtentIO) writeBlock(n uint64, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.blocks[n] = cp
	return nil
}

func (f *fakeExtentIO) allocBlock() (uint64, error) {
	f.next++
	return f.next, nil
}

func TestExtentRootInsertAndLookup(t *testing.T) {
	io := newFakeExtentIO()
	root := newExtentRootHeader()

	root, err := extentInsert(io, root, 0, 50, 4)
	require.NoError(t, err)

	physical, ok, err := extentLookup(io, root, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(52), physical)

	_, ok, err = extentLookup(io, root, 10)
	require.NoError(t, err)
	assert.False(t, ok, "logical block 10 is a hole")
}

func TestExtentMergesContiguousInserts(t *testing.T) {
	io := newFakeExtentIO()
	root := newExtentRootHeader()

	root, err := extentInsert(io, root, 0, 10, 2)
	require.NoError(t, err)
	root, err = extentInsert(io, root, 2, 12, 2)
	require.NoError(t, err)

	hdr, err := parseExtentHeader(root)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), hdr.entries, "contiguous inserts should merge into a single extent")

	leaves := parseExtentLeaves(root, hdr.entries)
	assert.Equal(t, uint16(4), leaves[0].len)
}

func TestExtentRootOverflowPromotesToDepthOne(t *testing.T) {
	io := newFakeExtentIO()
	root := newExtentRootHeader()

	var err error
	for i := 0; i < extentRootMax+1; i++ {
		// Gaps between extents (stride 10) prevent merging, forcing
		// extentRootMax+1 distinct entries and triggering the root-leaf ->
		// depth-1 promotion path.
		root, err = extentInsert(io, root, uint64(i*10), uint64(1000+i*10), 1)
		require.NoError(t, err)
	}

	hdr, err := parseExtentHeader(root)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), hdr.depth, "root should have been promoted to an index node")

	for i := 0; i < extentRootMax+1; i++ {
		physical, ok, err := extentLookup(io, root, uint64(i*10))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(1000+i*10), physical)
	}
}

func TestExtentAllBlocks(t *testing.T) {
	io := newFakeExtentIO()
	root := newExtentRootHeader()
	root, err := extentInsert(io, root, 0, 200, 3)
	require.NoError(t, err)

	blocks, err := extentAllBlocks(io, root)
	require.NoError(t, err)
	assert.Equal(t, []uint64{200, 201, 202}, blocks)
}
