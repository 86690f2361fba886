package ext4

// allocator wraps the bitmap cache with the group-selection policy from
// spec.md §4.10: inodes start scanning in the parent directory's group;
// blocks start scanning in the group containing the inode being extended.
type allocator struct {
	bc  *bitmapCache
	sb  *superblock
	gds []groupDescriptor
}

func newAllocator(bc *bitmapCache, sb *superblock, gds []groupDescriptor) *allocator {
	return &allocator{bc: bc, sb: sb, gds: gds}
}

// allocateInode picks a free inode starting in hintGroup, wrapping through
// the rest of the groups, and marks it used.
func (a *allocator) allocateInode(hintGroup uint32) (uint32, error) {
	ino, ok := a.bc.firstFreeInode(hintGroup)
	if !ok {
		return 0, ErrNoSpace
	}
	if err := a.bc.setInode(ino); err != nil {
		return 0, err
	}
	g, _ := a.bc.inodeGroup(ino)
	a.gds[g].freeInodesCount--
	a.sb.freeInodes--
	a.sb.markDirty()
	return ino, nil
}

// freeInode clears an inode's bitmap bit and restores free counts.
func (a *allocator) freeInode(ino uint32) error {
	if err := a.bc.clearInode(ino); err != nil {
		return err
	}
	g, _ := a.bc.inodeGroup(ino)
	a.gds[g].freeInodesCount++
	a.sb.freeInodes++
	a.sb.markDirty()
	return nil
}

// allocateBlock picks a free block starting in hintGroup and marks it used.
func (a *allocator) allocateBlock(hintGroup uint32) (uint64, error) {
	block, ok := a.bc.firstFreeBlock(hintGroup)
	if !ok {
		return 0, ErrNoSpace
	}
	if err := a.bc.setBlock(block); err != nil {
		return 0, err
	}
	g, _ := a.bc.blockGroup(block)
	a.gds[g].freeBlocksCount--
	a.sb.freeBlocks--
	a.sb.markDirty()
	return block, nil
}

// freeBlock clears a block's bitmap bit and restores free counts.
func (a *allocator) freeBlock(block uint64) error {
	if err := a.bc.clearBlock(block); err != nil {
		return err
	}
	g, _ := a.bc.blockGroup(block)
	a.gds[g].freeBlocksCount++
	a.sb.freeBlocks++
	a.sb.markDirty()
	return nil
}

// inodeGroupOf returns the block group number containing the given inode,
// used as the allocation hint for that inode's own data blocks.
func (a *allocator) inodeGroupOf(ino uint32) uint32 {
	g, _ := a.bc.inodeGroup(ino)
	return g
}

// bestDirGroup implements the basic Orlov-style heuristic spec.md §4.10
// allows for directory inode placement: the group with the most free
// blocks and free inodes combined, rather than strictly the parent's
// group.
func (a *allocator) bestDirGroup(parentGroup uint32) uint32 {
	best := parentGroup
	bestScore := uint64(a.gds[parentGroup].freeBlocksCount) + uint64(a.gds[parentGroup].freeInodesCount)
	for g := range a.gds {
		score := uint64(a.gds[g].freeBlocksCount) + uint64(a.gds[g].freeInodesCount)
		if score > bestScore {
			best = uint32(g)
			bestScore = score
		}
	}
	return best
}
