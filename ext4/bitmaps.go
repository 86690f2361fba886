package ext4

import (
	"fmt"

	"github.com/balena-io-modules/go-ext2fs/util/bitmap"
)

// bitmapCache holds one inode bitmap and one block bitmap per group, as
// spec.md §4.3 describes: loaded eagerly on mount, mutated in memory with a
// per-group dirty flag, and written back only for dirty groups on flush.
type bitmapCache struct {
	br  *blockReader
	sb  *superblock
	gds []groupDescriptor

	inodeBitmaps []*bitmap.Bitmap
	blockBitmaps []*bitmap.Bitmap
	inodeDirty   []bool
	blockDirty   []bool
}

func loadBitmaps(br *blockReader, sb *superblock, gds []groupDescriptor) (*bitmapCache, error) {
	count := len(gds)
	bc := &bitmapCache{
		br:           br,
		sb:           sb,
		gds:          gds,
		inodeBitmaps: make([]*bitmap.Bitmap, count),
		blockBitmaps: make([]*bitmap.Bitmap, count),
		inodeDirty:   make([]bool, count),
		blockDirty:   make([]bool, count),
	}
	inodeBytes := int((sb.inodesPerGroup + 7) / 8)
	blockBytes := int((sb.blocksPerGroup + 7) / 8)
	for g, gd := range gds {
		ib := make([]byte, inodeBytes)
		if err := br.readBytes(gd.inodeBitmapBlock*uint64(sb.blockSize), ib); err != nil {
			return nil, fmt.Errorf("reading inode bitmap for group %d: %w", g, err)
		}
		bc.inodeBitmaps[g] = bitmap.FromBytes(ib)

		bb := make([]byte, blockBytes)
		if err := br.readBytes(gd.blockBitmapBlock*uint64(sb.blockSize), bb); err != nil {
			return nil, fmt.Errorf("reading block bitmap for group %d: %w", g, err)
		}
		bc.blockBitmaps[g] = bitmap.FromBytes(bb)
	}
	return bc, nil
}

func (bc *bitmapCache) inodeGroup(ino uint32) (group uint32, bit int) {
	group = (ino - 1) / bc.sb.inodesPerGroup
	bit = int((ino - 1) % bc.sb.inodesPerGroup)
	return
}

func (bc *bitmapCache) blockGroup(block uint64) (group uint32, bit int) {
	rel := block - uint64(bc.sb.firstDataBlock)
	group = uint32(rel / uint64(bc.sb.blocksPerGroup))
	bit = int(rel % uint64(bc.sb.blocksPerGroup))
	return
}

func (bc *bitmapCache) testInode(ino uint32) (bool, error) {
	g, bit := bc.inodeGroup(ino)
	if int(g) >= len(bc.inodeBitmaps) {
		return false, fmt.Errorf("inode %d out of range", ino)
	}
	return bc.inodeBitmaps[g].IsSet(bit)
}

func (bc *bitmapCache) setInode(ino uint32) error {
	g, bit := bc.inodeGroup(ino)
	if err := bc.inodeBitmaps[g].Set(bit); err != nil {
		return err
	}
	bc.inodeDirty[g] = true
	return nil
}

func (bc *bitmapCache) clearInode(ino uint32) error {
	g, bit := bc.inodeGroup(ino)
	if err := bc.inodeBitmaps[g].Clear(bit); err != nil {
		return err
	}
	bc.inodeDirty[g] = true
	return nil
}

func (bc *bitmapCache) testBlock(block uint64) (bool, error) {
	g, bit := bc.blockGroup(block)
	if int(g) >= len(bc.blockBitmaps) {
		return false, fmt.Errorf("block %d out of range", block)
	}
	return bc.blockBitmaps[g].IsSet(bit)
}

func (bc *bitmapCache) setBlock(block uint64) error {
	g, bit := bc.blockGroup(block)
	if err := bc.blockBitmaps[g].Set(bit); err != nil {
		return err
	}
	bc.blockDirty[g] = true
	return nil
}

func (bc *bitmapCache) clearBlock(block uint64) error {
	g, bit := bc.blockGroup(block)
	if err := bc.blockBitmaps[g].Clear(bit); err != nil {
		return err
	}
	bc.blockDirty[g] = true
	return nil
}

// firstFreeInode scans starting at group hint, wrapping through the rest of
// the groups, per spec.md §4.10's "start in the parent's group, then scan
// subsequent groups" allocator policy.
func (bc *bitmapCache) firstFreeInode(hint uint32) (uint32, bool) {
	n := uint32(len(bc.inodeBitmaps))
	for i := uint32(0); i < n; i++ {
		g := (hint + i) % n
		if bc.gds[g].freeInodesCount == 0 {
			continue
		}
		if bit := bc.inodeBitmaps[g].FirstFree(0); bit >= 0 && uint32(bit) < bc.sb.inodesPerGroup {
			return g*bc.sb.inodesPerGroup + uint32(bit) + 1, true
		}
	}
	return 0, false
}

// firstFreeBlock scans starting at group hint for a single free block.
func (bc *bitmapCache) firstFreeBlock(hint uint32) (uint64, bool) {
	n := uint32(len(bc.blockBitmaps))
	for i := uint32(0); i < n; i++ {
		g := (hint + i) % n
		if bc.gds[g].freeBlocksCount == 0 {
			continue
		}
		if bit := bc.blockBitmaps[g].FirstFree(0); bit >= 0 && uint32(bit) < bc.sb.blocksPerGroup {
			return uint64(bc.sb.firstDataBlock) + uint64(g)*uint64(bc.sb.blocksPerGroup) + uint64(bit), true
		}
	}
	return 0, false
}

// flush writes back every group whose inode or block bitmap was mutated
// since the last flush, per spec.md §4.3.
func (bc *bitmapCache) flush() error {
	for g := range bc.gds {
		if bc.inodeDirty[g] {
			if err := bc.br.writeBytes(bc.gds[g].inodeBitmapBlock*uint64(bc.sb.blockSize), bc.inodeBitmaps[g].ToBytes()); err != nil {
				return fmt.Errorf("writing inode bitmap for group %d: %w", g, err)
			}
			bc.inodeDirty[g] = false
		}
		if bc.blockDirty[g] {
			if err := bc.br.writeBytes(bc.gds[g].blockBitmapBlock*uint64(bc.sb.blockSize), bc.blockBitmaps[g].ToBytes()); err != nil {
				return fmt.Errorf("writing block bitmap for group %d: %w", g, err)
			}
			bc.blockDirty[g] = false
		}
	}
	return nil
}
