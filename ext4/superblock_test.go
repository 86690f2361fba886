package ext4

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balena-io-modules/go-ext2fs/util"
)

func buildValidSuperblockBytes() []byte {
	b := make([]byte, superblockSize)
	binary.LittleEndian.PutUint32(b[0x0:0x4], 128)
	binary.LittleEndian.PutUint32(b[0x4:0x8], 1024)
	binary.LittleEndian.PutUint32(b[0xc:0x10], 900)
	binary.LittleEndian.PutUint32(b[0x10:0x14], 120)
	binary.LittleEndian.PutUint32(b[0x14:0x18], 1)
	binary.LittleEndian.PutUint32(b[0x20:0x24], 256)
	binary.LittleEndian.PutUint32(b[0x28:0x2c], 64)
	binary.LittleEndian.PutUint16(b[0x34:0x36], 3)
	binary.LittleEndian.PutUint16(b[0x38:0x3a], superblockMagic)
	binary.LittleEndian.PutUint16(b[0x3a:0x3c], 1)
	binary.LittleEndian.PutUint16(b[0x58:0x5a], 256)
	binary.LittleEndian.PutUint32(b[0x60:0x64], incompatFiletype|incompatExtents)
	copy(b[0x78:0x88], "testvol")
	return b
}

func TestSuperblockFromBytesParsesFields(t *testing.T) {
	raw := buildValidSuperblockBytes()
	sb, err := superblockFromBytes(raw)
	require.NoError(t, err)

	assert.Equal(t, uint32(128), sb.inodesCount)
	assert.Equal(t, uint64(1024), sb.blocksCount)
	assert.Equal(t, uint32(1), sb.firstDataBlock)
	assert.Equal(t, uint32(1024), sb.blockSize)
	assert.Equal(t, uint32(256), sb.blocksPerGroup)
	assert.Equal(t, uint32(64), sb.inodesPerGroup)
	assert.Equal(t, uint16(256), sb.inodeSize)
	assert.Equal(t, "testvol", sb.volumeLabel)
	assert.True(t, sb.features.filetype())
	assert.True(t, sb.features.extents())
}

func TestSuperblockFromBytesRejectsBadMagic(t *testing.T) {
	raw := buildValidSuperblockBytes()
	binary.LittleEndian.PutUint16(raw[0x38:0x3a], 0)
	_, err := superblockFromBytes(raw)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestSuperblockFromBytesRejectsShortRead(t *testing.T) {
	_, err := superblockFromBytes(make([]byte, 16))
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestSuperblockToBytesRoundTrips(t *testing.T) {
	raw := buildValidSuperblockBytes()
	sb, err := superblockFromBytes(raw)
	require.NoError(t, err)

	out := sb.toBytes()
	diff, diffString := util.DumpByteSlicesWithDiffs(out, raw, 32, false, true, true)
	assert.False(t, diff, "superblock.toBytes() mismatched, actual then expected\n%s", diffString)
}

func TestSuperblockToBytesPersistsMutatedFields(t *testing.T) {
	raw := buildValidSuperblockBytes()
	sb, err := superblockFromBytes(raw)
	require.NoError(t, err)

	sb.freeBlocks = 42
	sb.freeInodes = 7
	sb.markDirty()
	out := sb.toBytes()

	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(out[0xc:0x10]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(out[0x10:0x14]))
	assert.True(t, sb.dirty)
}

func TestGroupCountAndGdtBlock(t *testing.T) {
	raw := buildValidSuperblockBytes()
	sb, err := superblockFromBytes(raw)
	require.NoError(t, err)

	assert.Equal(t, uint32(4), sb.groupCount())
	assert.Equal(t, uint64(2), sb.gdtBlock())
}
