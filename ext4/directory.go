package ext4

import "fmt"

// dirBlockFn is invoked once per directory data block during dirIterate. It
// returns (result, changed, abort): result is the entries slice to
// serialize back (callbacks that insert/delete entries reallocate via
// append and must return the new slice, since a by-value slice parameter
// does not let the reallocation reach the caller); changed means the
// block should be re-serialized and written back from result; abort means
// stop iterating after this block, per spec.md §4.6's dir_iterate callback
// bitmask.
type dirBlockFn func(entries []directoryEntry) (result []directoryEntry, changed bool, abort bool)

// dirIterate walks every data block of a directory inode via the block-map
// resolver, parsing and (optionally) rewriting its entries.
func dirIterate(io blockIO, dirInode *inode, blockSize uint32, withFileType bool, cb dirBlockFn) error {
	if !dirInode.isDir() {
		return ErrNotDirectory
	}
	blockCount := (dirInode.size + uint64(blockSize) - 1) / uint64(blockSize)
	for logical := uint64(0); logical < blockCount; logical++ {
		physical, ok, err := bmap(io, dirInode, blockSize, logical)
		if err != nil {
			return err
		}
		var raw []byte
		if ok {
			raw, err = io.readBlock(physical)
			if err != nil {
				return err
			}
		} else {
			raw = make([]byte, blockSize)
		}
		entries, err := parseDirEntriesLinear(raw, withFileType, blockSize)
		if err != nil {
			return err
		}
		entries, changed, abort := cb(entries)
		if changed {
			if !ok {
				return fmt.Errorf("%w: directory block %d is a hole, cannot rewrite", ErrCorrupted, logical)
			}
			if err := io.writeBlock(physical, serializeDirEntries(entries, withFileType, blockSize)); err != nil {
				return err
			}
		}
		if abort {
			break
		}
	}
	return nil
}

// dirLookup returns the inode number and recorded file type for name within
// dirInode, or found=false if no entry matches.
func dirLookup(io blockIO, dirInode *inode, blockSize uint32, withFileType bool, name string) (ino uint32, ft dirFileType, found bool, err error) {
	err = dirIterate(io, dirInode, blockSize, withFileType, func(entries []directoryEntry) ([]directoryEntry, bool, bool) {
		for _, e := range entries {
			if e.inode != 0 && e.name == name {
				ino, ft, found = e.inode, e.fileType, true
				return entries, false, true
			}
		}
		return entries, false, false
	})
	return
}

// blockAllocFn allocates one fresh physical block for directory/file
// expansion, marking it used in the bitmap cache and group descriptors.
type blockAllocFn func() (uint64, error)

// dirLink inserts a new name -> targetIno entry into dirInode, reusing a
// free slot or the slack at the tail of an existing entry when possible,
// and expanding the directory with a fresh block otherwise, per spec.md
// §4.6.
func dirLink(io blockIO, dirInode *inode, blockSize uint32, withFileType bool, name string, targetIno uint32, ft dirFileType, alloc blockAllocFn) error {
	if len(name) == 0 || len(name) > 255 {
		return ErrInvalidArgument
	}
	need := idealDirEntryLength(len(name))

	inserted := false
	err := dirIterate(io, dirInode, blockSize, withFileType, func(entries []directoryEntry) ([]directoryEntry, bool, bool) {
		for i, e := range entries {
			if e.inode == 0 && e.recLen >= need {
				remainder := e.recLen - need
				if remainder > 0 && remainder < minDirEntryLength {
					// Not enough slack to split further; use the whole slot.
					entries[i] = directoryEntry{inode: targetIno, recLen: e.recLen, fileType: ft, name: name}
				} else {
					newEntry := directoryEntry{inode: targetIno, recLen: need, fileType: ft, name: name}
					if remainder == 0 {
						entries[i] = newEntry
					} else {
						rest := directoryEntry{inode: 0, recLen: remainder}
						entries[i] = newEntry
						entries = append(entries[:i+1], append([]directoryEntry{rest}, entries[i+1:]...)...)
					}
				}
				inserted = true
				return entries, true, true
			}
			if e.inode != 0 {
				used := idealDirEntryLength(len(e.name))
				slack := e.recLen - used
				if slack >= need {
					newEntry := directoryEntry{inode: targetIno, recLen: slack, fileType: ft, name: name}
					entries[i].recLen = used
					entries = append(entries[:i+1], append([]directoryEntry{newEntry}, entries[i+1:]...)...)
					inserted = true
					return entries, true, true
				}
			}
		}
		return entries, false, false
	})
	if err != nil {
		return err
	}
	if inserted {
		return nil
	}

	if err := expandDir(io, dirInode, blockSize, alloc); err != nil {
		return err
	}
	return dirLink(io, dirInode, blockSize, withFileType, name, targetIno, ft, alloc)
}

// expandDir allocates one new block, formats it as a single free directory
// entry spanning the whole block, and appends it as the directory's next
// logical block.
func expandDir(io blockIO, dirInode *inode, blockSize uint32, alloc blockAllocFn) error {
	physical, err := alloc()
	if err != nil {
		return err
	}
	freeEntry := directoryEntry{inode: 0, recLen: uint16(blockSize)}
	if err := io.writeBlock(physical, serializeDirEntries([]directoryEntry{freeEntry}, true, blockSize)); err != nil {
		return err
	}
	logical := dirInode.size / uint64(blockSize)
	if err := bmapAssign(io, dirInode, blockSize, logical, physical, 1); err != nil {
		return err
	}
	dirInode.size += uint64(blockSize)
	dirInode.blocks += uint64(blockSize) / 512
	return nil
}

// dirUnlink removes name from dirInode by merging its rec_len into the
// preceding entry (or, if it is the first entry in the block, zeroing its
// inode and keeping the slot). The directory never shrinks, per spec.md
// §4.6.
func dirUnlink(io blockIO, dirInode *inode, blockSize uint32, withFileType bool, name string) error {
	found := false
	err := dirIterate(io, dirInode, blockSize, withFileType, func(entries []directoryEntry) ([]directoryEntry, bool, bool) {
		for i, e := range entries {
			if e.inode == 0 || e.name != name {
				continue
			}
			found = true
			if i == 0 {
				entries[i] = directoryEntry{inode: 0, recLen: e.recLen}
			} else {
				entries[i-1].recLen += e.recLen
				entries = append(entries[:i], entries[i+1:]...)
			}
			return entries, true, true
		}
		return entries, false, false
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// mkdirEntries formats a freshly allocated directory block with "." and
// ".." and attaches it to dirInode, per spec.md §4.6's mkdir directory-
// engine step (the parent link and parent links_count increment are the
// caller's responsibility, in the high-level mkdir operation).
func mkdirEntries(io blockIO, dirInode *inode, blockSize uint32, withFileType bool, selfIno, parentIno uint32, alloc blockAllocFn) error {
	physical, err := alloc()
	if err != nil {
		return err
	}
	entries := []directoryEntry{
		{inode: selfIno, recLen: 12, fileType: dirFileTypeDir, name: "."},
		{inode: parentIno, recLen: uint16(blockSize) - 12, fileType: dirFileTypeDir, name: ".."},
	}
	if err := io.writeBlock(physical, serializeDirEntries(entries, withFileType, blockSize)); err != nil {
		return err
	}
	if err := bmapAssign(io, dirInode, blockSize, 0, physical, 1); err != nil {
		return err
	}
	dirInode.size = uint64(blockSize)
	dirInode.blocks = uint64(blockSize) / 512
	return nil
}

// checkDirectory returns ErrNotDirectory unless ino is a directory.
func checkDirectory(ino *inode) error {
	if !ino.isDir() {
		return ErrNotDirectory
	}
	return nil
}

// dirIsEmpty reports whether dirInode contains only "." and "..".
func dirIsEmpty(io blockIO, dirInode *inode, blockSize uint32, withFileType bool) (bool, error) {
	empty := true
	err := dirIterate(io, dirInode, blockSize, withFileType, func(entries []directoryEntry) ([]directoryEntry, bool, bool) {
		for _, e := range entries {
			if e.inode == 0 {
				continue
			}
			if e.name == "." || e.name == ".." {
				continue
			}
			empty = false
			return entries, false, true
		}
		return entries, false, false
	})
	return empty, err
}
