package ext4

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/balena-io-modules/go-ext2fs/device"
)

// noopExtentIO satisfies extentIO without ever being called: seeding the
// root inode's single extent entry never overflows i_block[]'s four-entry
// root, so extentInsert never needs to read, write, or allocate a block.
type noopExtentIO struct{}

func (noopExtentIO) readBlock(uint64) ([]byte, error)     { panic("unexpected block read") }
func (noopExtentIO) writeBlock(uint64, []byte) error      { panic("unexpected block write") }
func (noopExtentIO) allocBlock() (uint64, error)          { panic("unexpected block alloc") }

// buildMinimalImage hand-assembles a tiny, single-group ext4 image: 64
// 1024-byte blocks, 16 inodes, extents + filetype enabled, with only the
// root directory populated. Block layout: 0 boot, 1 superblock, 2 group
// descriptor table, 3 block bitmap, 4 inode bitmap, 5-6 inode table, 7 root
// directory data, 8-63 free.
func buildMinimalImage(t *testing.T) []byte {
	t.Helper()
	const (
		blockSize   = 1024
		blocksCount = 64
	)

	sbRaw := make([]byte, superblockSize)
	binary.LittleEndian.PutUint32(sbRaw[0x0:0x4], 16)   // inodes count
	binary.LittleEndian.PutUint32(sbRaw[0x4:0x8], blocksCount)
	binary.LittleEndian.PutUint32(sbRaw[0xc:0x10], 56) // free blocks (8..63)
	binary.LittleEndian.PutUint32(sbRaw[0x10:0x14], 14) // free inodes
	binary.LittleEndian.PutUint32(sbRaw[0x14:0x18], 1)  // first data block
	binary.LittleEndian.PutUint32(sbRaw[0x20:0x24], 63) // blocks per group
	binary.LittleEndian.PutUint32(sbRaw[0x28:0x2c], 16) // inodes per group
	binary.LittleEndian.PutUint16(sbRaw[0x38:0x3a], superblockMagic)
	binary.LittleEndian.PutUint16(sbRaw[0x58:0x5a], 128) // inode size
	binary.LittleEndian.PutUint32(sbRaw[0x60:0x64], incompatFiletype|incompatExtents)

	sb, err := superblockFromBytes(sbRaw)
	require.NoError(t, err)

	gd := groupDescriptor{blockBitmapBlock: 3, inodeBitmapBlock: 4, inodeTableBlock: 5, freeBlocksCount: 56, freeInodesCount: 14}
	gdBytes := gd.toBytes(gdSize32)

	blockBitmap := make([]byte, 8)
	blockBitmap[0] = 0x7F // blocks 1-7 used (rel 0-6)

	inodeBitmap := make([]byte, 2)
	inodeBitmap[0] = 0x03 // inodes 1,2 used (rel 0,1)

	rootRec := &inode{
		number: rootInodeNumber, mode: uint16(fileTypeDir) | 0o755,
		linksCount: 2, inodeSize: sb.inodeSize,
	}
	rootHeader, err := extentInsert(noopExtentIO{}, newExtentRootHeader(), 0, 7, 1)
	require.NoError(t, err)
	copy(rootRec.block[:], rootHeader)
	rootRec.flags |= uint32(flagExtents)
	rootRec.size = blockSize
	rootRec.blocks = blockSize / 512

	dirEntries := []directoryEntry{
		{inode: rootInodeNumber, recLen: 12, fileType: dirFileTypeDir, name: "."},
		{inode: rootInodeNumber, recLen: blockSize - 12, fileType: dirFileTypeDir, name: ".."},
	}
	rootDirBlock := serializeDirEntries(dirEntries, true, blockSize)
	rootInodeBytes := rootRec.toBytes(sb)

	img := make([]byte, blocksCount*blockSize)
	copy(img[superblockOffset:superblockOffset+superblockSize], sbRaw)
	copy(img[2*blockSize:2*blockSize+len(gdBytes)], gdBytes)
	copy(img[3*blockSize:3*blockSize+len(blockBitmap)], blockBitmap)
	copy(img[4*blockSize:4*blockSize+len(inodeBitmap)], inodeBitmap)

	inodeTableOffset := gd.inodeTableBlock*blockSize + uint64(rootInodeNumber-1)*uint64(sb.inodeSize)
	copy(img[inodeTableOffset:inodeTableOffset+uint64(len(rootInodeBytes))], rootInodeBytes)
	copy(img[7*blockSize:7*blockSize+len(rootDirBlock)], rootDirBlock)

	return img
}

func mountTestImage(t *testing.T) *FileSystem {
	t.Helper()
	img := buildMinimalImage(t)
	provider := device.NewMemoryProviderFromBytes(img)
	fs, err := Mount(provider, MountOptions{})
	require.NoError(t, err)
	return fs
}

func TestMountReadsRootDirectory(t *testing.T) {
	fs := mountTestImage(t)

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	assert.Empty(t, entries)

	st, err := fs.Stat("/")
	require.NoError(t, err)
	assert.True(t, fileType(st.Mode&0xF000) == fileTypeDir)
}

func TestCreateWriteReadFile(t *testing.T) {
	fs := mountTestImage(t)

	require.NoError(t, fs.Mkdir("/dir1", 0o755))

	f, err := fs.Open("/dir1/file.txt", OpenCreate|OpenWrite|OpenExcl, 0o644)
	require.NoError(t, err)
	n, err := f.Write([]byte("hello world"))
	require.NoError(t, err)
	assert.Equal(t, 11, n)
	require.NoError(t, f.Close())

	f2, err := fs.Open("/dir1/file.txt", OpenRead, 0)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err = f2.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))
	require.NoError(t, f2.Close())

	entries, err := fs.ReadDir("/dir1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file.txt", entries[0].Name)

	st, err := fs.Stat("/dir1/file.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(11), st.Size)
}

func TestCreateExistingWithExclFails(t *testing.T) {
	fs := mountTestImage(t)
	_, err := fs.Open("/a.txt", OpenCreate|OpenWrite, 0o644)
	require.NoError(t, err)

	_, err = fs.Open("/a.txt", OpenCreate|OpenExcl, 0o644)
	assert.ErrorIs(t, err, ErrExists)
}

func TestUnlinkRemovesEntry(t *testing.T) {
	fs := mountTestImage(t)
	f, err := fs.Open("/a.txt", OpenCreate|OpenWrite, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.Unlink("/a.txt"))
	_, err = fs.Stat("/a.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRmdirRejectsNonEmptyDirectory(t *testing.T) {
	fs := mountTestImage(t)
	require.NoError(t, fs.Mkdir("/dir1", 0o755))
	f, err := fs.Open("/dir1/x", OpenCreate|OpenWrite, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.ErrorIs(t, fs.Rmdir("/dir1"), ErrNotEmpty)

	require.NoError(t, fs.Unlink("/dir1/x"))
	require.NoError(t, fs.Rmdir("/dir1"))
}

func TestSymlinkAndReadlink(t *testing.T) {
	fs := mountTestImage(t)
	require.NoError(t, fs.Symlink("/link", "/some/target"))

	target, err := fs.Readlink("/link")
	require.NoError(t, err)
	assert.Equal(t, "/some/target", target)
}

func TestRenameMovesEntry(t *testing.T) {
	fs := mountTestImage(t)
	f, err := fs.Open("/a.txt", OpenCreate|OpenWrite, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.Mkdir("/dir1", 0o755))
	require.NoError(t, fs.Rename("/a.txt", "/dir1/b.txt"))

	_, err = fs.Stat("/a.txt")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = fs.Stat("/dir1/b.txt")
	require.NoError(t, err)
}

func TestChmodChownPreserveFileType(t *testing.T) {
	fs := mountTestImage(t)
	f, err := fs.Open("/a.txt", OpenCreate|OpenWrite, 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, fs.Chmod("/a.txt", 0o600))
	require.NoError(t, fs.Chown("/a.txt", 1000, 1000))

	st, err := fs.Stat("/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint16(0o600), st.Mode&0o777)
	assert.Equal(t, fileTypeRegular, fileType(st.Mode&0xF000))
	assert.Equal(t, uint32(1000), st.Uid)
	assert.Equal(t, uint32(1000), st.Gid)
}

func TestFlushAndRemount(t *testing.T) {
	img := buildMinimalImage(t)
	provider := device.NewMemoryProviderFromBytes(img)
	fs, err := Mount(provider, MountOptions{})
	require.NoError(t, err)

	f, err := fs.Open("/persisted.txt", OpenCreate|OpenWrite, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("durable"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, fs.Umount())

	fs2, err := Mount(device.NewMemoryProviderFromBytes(provider.Bytes()), MountOptions{})
	require.NoError(t, err)
	st, err := fs2.Stat("/persisted.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), st.Size)
}

func TestRootCannotBeRemoved(t *testing.T) {
	fs := mountTestImage(t)
	assert.ErrorIs(t, fs.Rmdir("/"), ErrIsRoot)
}
