package ext4

import "fmt"

// blockIO is the disk-access surface both block-mapping schemes need:
// read/write a block by number, allocate a fresh one. Satisfied by extentIO
// and indirectIO identically; kept as one name so callers don't care which
// scheme an inode uses.
type blockIO interface {
	readBlock(n uint64) ([]byte, error)
	writeBlock(n uint64, data []byte) error
	allocBlock() (uint64, error)
}

// bmap resolves one logical file block to a physical block number,
// dispatching on the inode's EXTENTS_FL per spec.md §4.5. ok is false for a
// hole (a logical block never written, e.g. inside a sparse file).
func bmap(io blockIO, ino *inode, blockSize uint32, logical uint64) (physical uint64, ok bool, err error) {
	if ino.usesExtents() {
		return extentLookup(io, ino.block[:], logical)
	}
	return indirectLookup(io, ino.block, blockSize, logical)
}

// bmapAllBlocks returns every physical data block an inode's block map
// currently references, in logical order.
func bmapAllBlocks(io blockIO, ino *inode) ([]uint64, error) {
	if ino.usesExtents() {
		return extentAllBlocks(io, ino.block[:])
	}
	return indirectAllBlocks(io, ino.block)
}

// bmapAssign maps a run of `length` logical blocks starting at `logical` to
// physical blocks starting at `physical`, growing the inode's block map as
// described in extent.go/indirect.go. Always extends by one contiguous run;
// callers that allocate non-contiguous physical blocks must call this once
// per contiguous run.
func bmapAssign(io blockIO, ino *inode, blockSize uint32, logical, physical uint64, length uint16) error {
	if ino.usesExtents() {
		root, err := extentInsert(io, ino.block[:], logical, physical, length)
		if err != nil {
			return err
		}
		if len(root) != inodeBlockBytes {
			return fmt.Errorf("%w: extent root grew to %d bytes", ErrCorrupted, len(root))
		}
		copy(ino.block[:], root)
		return nil
	}
	for i := uint16(0); i < length; i++ {
		if err := indirectAssign(io, &ino.block, blockSize, logical+uint64(i), physical+uint64(i)); err != nil {
			return err
		}
	}
	return nil
}

// blockFreer releases a physical block back to the free-block bitmap.
type blockFreer func(block uint64) error

// bmapTruncate shrinks an inode's block map to keep only the first
// keepBlocks logical blocks, freeing every block beyond that point. Extent
// trees are rebuilt from the surviving extents rather than edited node by
// node: simpler to get right, and truncation is rare enough that the cost
// of a full rebuild doesn't matter, per spec.md §4.9's truncate/set_size
// operation.
func bmapTruncate(io blockIO, ino *inode, blockSize uint32, keepBlocks uint64, free blockFreer) error {
	if ino.usesExtents() {
		hdr, err := parseExtentHeader(ino.block[:])
		if err != nil {
			return err
		}
		var kept []extentLeaf
		if err := walkExtentLeavesForTruncate(io, ino.block[:], keepBlocks, &kept, free); err != nil {
			return err
		}
		_ = hdr
		newRoot := newExtentRootHeader()
		ino.block = [inodeBlockBytes]byte{}
		copy(ino.block[:], newRoot)
		for _, e := range kept {
			if err := bmapAssign(io, ino, blockSize, uint64(e.block), e.start, e.len); err != nil {
				return err
			}
		}
		return nil
	}

	all, err := indirectAllBlocks(io, ino.block)
	if err != nil {
		return err
	}
	if uint64(len(all)) <= keepBlocks {
		return nil
	}
	for _, b := range all[keepBlocks:] {
		if err := free(b); err != nil {
			return err
		}
	}
	var zero [inodeBlockBytes]byte
	ino.block = zero
	for i, b := range all {
		if uint64(i) >= keepBlocks {
			break
		}
		if err := indirectAssign(io, &ino.block, blockSize, uint64(i), b); err != nil {
			return err
		}
	}
	return nil
}

// walkExtentLeavesForTruncate collects the extents (or extent fragments)
// that fall entirely below keepBlocks, freeing the physical blocks of any
// extent (or part of an extent) at or beyond it.
func walkExtentLeavesForTruncate(io blockIO, node []byte, keepBlocks uint64, kept *[]extentLeaf, free blockFreer) error {
	hdr, err := parseExtentHeader(node)
	if err != nil {
		return err
	}
	if hdr.depth == 0 {
		for _, e := range parseExtentLeaves(node, hdr.entries) {
			end := uint64(e.block) + uint64(e.len)
			switch {
			case end <= keepBlocks:
				*kept = append(*kept, e)
			case uint64(e.block) >= keepBlocks:
				for i := uint64(0); i < uint64(e.len); i++ {
					if err := free(e.start + i); err != nil {
						return err
					}
				}
			default:
				keepLen := keepBlocks - uint64(e.block)
				*kept = append(*kept, extentLeaf{block: e.block, len: uint16(keepLen), start: e.start})
				for i := keepLen; i < uint64(e.len); i++ {
					if err := free(e.start + i); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}
	for _, idx := range parseExtentIndexes(node, hdr.entries) {
		child, err := io.readBlock(idx.leaf)
		if err != nil {
			return err
		}
		if err := walkExtentLeavesForTruncate(io, child, keepBlocks, kept, free); err != nil {
			return err
		}
		// The whole tree below the root is rebuilt from scratch from the
		// surviving leaves, so this index node's own block is never
		// referenced again once truncation completes; free it too, not
		// just the leaf data blocks it points to.
		if err := free(idx.leaf); err != nil {
			return err
		}
	}
	return nil
}
