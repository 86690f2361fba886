package ext4

import (
	"fmt"
	pathpkg "path"
	"time"

	"github.com/balena-io-modules/go-ext2fs/device"
)

const rootInodeNumber = 2

// MountOptions configures Mount, per spec.md §4.2/§6's injected disk
// provider and mount flags.
type MountOptions struct {
	ReadOnly bool
	// IgnoreJournal mounts even though the journal reports pending
	// transactions, the way a forced read-only recovery tool would. The
	// engine never replays the journal either way (replay is an explicit
	// non-goal); this only controls whether an unclean journal blocks the
	// mount.
	IgnoreJournal bool
}

// FileSystem is a mounted ext2/3/4 filesystem handle: single-threaded with
// respect to itself, per spec.md §5.
type FileSystem struct {
	provider  device.Provider
	br        *blockReader
	channel   *device.Channel
	io        *fsIO
	sb        *superblock
	gds       []groupDescriptor
	bc        *bitmapCache
	alloc     *allocator
	blockSize uint32
	readOnly  bool
}

// fsIO adapts device.Channel's block-numbered operations to the blockIO
// interface the extent/indirect/directory code uses, and supplies
// allocBlock via the allocator using whatever hint group the caller last
// set — callers that need a specific allocation hint (the group
// containing the inode being extended) set hintGroup immediately before
// the operation that may allocate. Metadata structures (superblock, group
// descriptor table, bitmaps, inode table) are addressed separately by
// blockReader, since they fall at arbitrary byte offsets rather than
// whole-block boundaries; the channel is reserved for file data and
// directory blocks, matching spec.md §4.1's IO channel.
type fsIO struct {
	channel   *device.Channel
	alloc     *allocator
	hintGroup uint32
}

func (f *fsIO) readBlock(n uint64) ([]byte, error) {
	buf := make([]byte, f.channel.BlockSize())
	if err := f.channel.ReadBlock(n, 1, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f *fsIO) writeBlock(n uint64, data []byte) error {
	return f.channel.WriteBlock(n, 1, data)
}

func (f *fsIO) allocBlock() (uint64, error) {
	return f.alloc.allocateBlock(f.hintGroup)
}

// Mount opens an ext2/3/4 filesystem over the given disk provider, per
// spec.md §4.2's open() sequence and §4.9's mount operation.
func Mount(p device.Provider, opts MountOptions) (*FileSystem, error) {
	br := newBlockReader(p)

	sbBytes := make([]byte, superblockSize)
	if err := br.readBytes(superblockOffset, sbBytes); err != nil {
		return nil, fmt.Errorf("reading superblock: %w", err)
	}
	sb, err := superblockFromBytes(sbBytes)
	if err != nil {
		return nil, err
	}

	gds, err := readGroupDescriptors(br, sb)
	if err != nil {
		return nil, fmt.Errorf("reading group descriptors: %w", err)
	}

	bc, err := loadBitmaps(br, sb, gds)
	if err != nil {
		return nil, fmt.Errorf("reading bitmaps: %w", err)
	}

	alloc := newAllocator(bc, sb, gds)
	channel := device.NewChannel(p, sb.blockSize)
	io := &fsIO{channel: channel, alloc: alloc}

	fs := &FileSystem{
		provider:  p,
		br:        br,
		channel:   channel,
		io:        io,
		sb:        sb,
		gds:       gds,
		bc:        bc,
		alloc:     alloc,
		blockSize: sb.blockSize,
		readOnly:  opts.ReadOnly,
	}

	if sb.features.hasJournal() && sb.journalInode != 0 {
		journalIno, err := fs.readInodeRecord(sb.journalInode)
		if err == nil {
			if jsb, err := readJournalSuperblock(fs.io, journalIno, sb.blockSize); err == nil {
				if jsb.needsRecovery() && !opts.IgnoreJournal {
					return nil, fmt.Errorf("%w: journal has pending transactions, replay is not supported", ErrReadOnly)
				}
			}
		}
	}

	log.WithField("blocks", sb.blocksCount).WithField("inodes", sb.inodesCount).Debug("mounted ext4 filesystem")
	return fs, nil
}

func (fs *FileSystem) resolver() *pathResolver {
	return &pathResolver{
		io:        fs.io,
		blockSize: fs.blockSize,
		withFT:    fs.sb.features.filetype(),
		readInode: fs.readInodeRecord,
		rootInode: rootInodeNumber,
	}
}

func (fs *FileSystem) inodeGD(ino uint32) groupDescriptor {
	g := (ino - 1) / fs.sb.inodesPerGroup
	return fs.gds[g]
}

func (fs *FileSystem) readInodeRecord(ino uint32) (*inode, error) {
	gd := fs.inodeGD(ino)
	offset := inodeOffset(fs.sb, gd, ino)
	buf := make([]byte, fs.sb.inodeSize)
	if err := fs.br.readBytes(offset, buf); err != nil {
		return nil, err
	}
	return inodeFromBytes(buf, fs.sb, ino)
}

func (fs *FileSystem) writeInode(ino uint32, rec *inode) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	rec.generation++
	gd := fs.inodeGD(ino)
	offset := inodeOffset(fs.sb, gd, ino)
	return fs.br.writeBytes(offset, rec.toBytes(fs.sb))
}

func (fs *FileSystem) allocBlockNear(rec *inode) (uint64, error) {
	fs.io.hintGroup = fs.alloc.inodeGroupOf(rec.number)
	return fs.io.allocBlock()
}

func (fs *FileSystem) freeBlock(block uint64) error {
	return fs.alloc.freeBlock(block)
}

// getEntryAndParent resolves path to its parent directory's inode number
// and, if present, the final component's inode number, per the pattern the
// teacher's high-level filesystem operations all share: resolve parent,
// then look up the final component in it.
func (fs *FileSystem) getEntryAndParent(path string) (parentIno uint32, name string, childIno uint32, found bool, err error) {
	clean := pathpkg.Clean("/" + path)
	if clean == "/" {
		return 0, "", rootInodeNumber, true, nil
	}
	dir, base := pathpkg.Split(clean)

	r := fs.resolver()
	parentIno, err = r.namei(rootInodeNumber, dir, true)
	if err != nil {
		return 0, "", 0, false, err
	}
	parentRec, err := fs.readInodeRecord(parentIno)
	if err != nil {
		return 0, "", 0, false, err
	}
	if err := checkDirectory(parentRec); err != nil {
		return 0, "", 0, false, err
	}
	ino, _, ok, err := dirLookup(fs.io, parentRec, fs.blockSize, fs.sb.features.filetype(), base)
	if err != nil {
		return 0, "", 0, false, err
	}
	return parentIno, base, ino, ok, nil
}

// Open resolves path (following symlinks unless OpenNoFollow), optionally
// creating, truncating, or rejecting an existing entry, per spec.md §4.9's
// open().
func (fs *FileSystem) Open(path string, flags OpenFlag, mode uint16) (*File, error) {
	parentIno, name, ino, found, err := fs.getEntryAndParent(path)
	if err != nil {
		return nil, err
	}

	if !found {
		if !flags.has(OpenCreate) {
			return nil, ErrNotFound
		}
		ino, err = fs.createFile(parentIno, name, mode)
		if err != nil {
			return nil, err
		}
	} else if flags.has(OpenCreate) && flags.has(OpenExcl) {
		return nil, ErrExists
	} else if !flags.has(OpenNoFollow) {
		ino, err = fs.resolver().namei(rootInodeNumber, pathpkg.Clean("/"+path), true)
		if err != nil {
			return nil, err
		}
	}

	rec, err := fs.readInodeRecord(ino)
	if err != nil {
		return nil, err
	}
	if flags.has(OpenDirectory) && !rec.isDir() {
		return nil, ErrNotDirectory
	}
	if flags.has(OpenTrunc) && rec.isRegular() && rec.size > 0 {
		if rec.hasInlineData() {
			rec.block = [inodeBlockBytes]byte{}
		} else if err := bmapTruncate(fs.io, rec, fs.blockSize, 0, fs.freeBlock); err != nil {
			return nil, err
		}
		rec.size = 0
		rec.blocks = 0
		if err := fs.writeInode(ino, rec); err != nil {
			return nil, err
		}
	}

	return newFile(fs, ino, rec, flags), nil
}

// createFile allocates an inode near the parent's group, seeds it as a
// regular file, and links it into the parent directory, per spec.md §4.9's
// create_file().
func (fs *FileSystem) createFile(parentIno uint32, name string, mode uint16) (uint32, error) {
	if fs.readOnly {
		return 0, ErrReadOnly
	}
	parentRec, err := fs.readInodeRecord(parentIno)
	if err != nil {
		return 0, err
	}

	hint := fs.alloc.inodeGroupOf(parentIno)
	ino, err := fs.alloc.allocateInode(hint)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	rec := &inode{
		number: ino, mode: uint16(fileTypeRegular) | (mode & 0x0FFF),
		linksCount: 1, atime: now, ctime: now, mtime: now, crtime: now,
		inodeSize: fs.sb.inodeSize,
	}
	if fs.sb.features.inlineData() {
		rec.flags |= uint32(flagInlineData)
	} else if fs.sb.features.extents() {
		rec.flags |= uint32(flagExtents)
		copy(rec.block[:], newExtentRootHeader())
	}
	if err := fs.writeInode(ino, rec); err != nil {
		return 0, err
	}

	fs.io.hintGroup = hint
	if err := dirLink(fs.io, parentRec, fs.blockSize, fs.sb.features.filetype(), name, ino, dirFileTypeRegular, fs.io.allocBlock); err != nil {
		return 0, err
	}
	if err := fs.writeInode(parentIno, parentRec); err != nil {
		return 0, err
	}
	return ino, nil
}

// DirEntry is one readdir() result, per spec.md §4.9.
type DirEntry struct {
	Name  string
	Inode uint32
	Type  dirFileType
}

// ReadDir enumerates path's entries, skipping "." and "..".
func (fs *FileSystem) ReadDir(path string) ([]DirEntry, error) {
	_, _, ino, found, err := fs.getEntryAndParent(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	rec, err := fs.readInodeRecord(ino)
	if err != nil {
		return nil, err
	}
	if err := checkDirectory(rec); err != nil {
		return nil, err
	}
	var out []DirEntry
	err = dirIterate(fs.io, rec, fs.blockSize, fs.sb.features.filetype(), func(entries []directoryEntry) ([]directoryEntry, bool, bool) {
		for _, e := range entries {
			if e.inode == 0 || e.name == "." || e.name == ".." {
				continue
			}
			out = append(out, DirEntry{Name: e.name, Inode: e.inode, Type: e.fileType})
		}
		return entries, false, false
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Mkdir creates a new directory at path, per spec.md §4.9's mkdir().
func (fs *FileSystem) Mkdir(path string, mode uint16) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	parentIno, name, _, found, err := fs.getEntryAndParent(path)
	if err != nil {
		return err
	}
	if found {
		return ErrExists
	}
	parentRec, err := fs.readInodeRecord(parentIno)
	if err != nil {
		return err
	}
	if err := checkDirectory(parentRec); err != nil {
		return err
	}

	hint := fs.alloc.bestDirGroup(fs.alloc.inodeGroupOf(parentIno))
	ino, err := fs.alloc.allocateInode(hint)
	if err != nil {
		return err
	}

	now := time.Now()
	rec := &inode{
		number: ino, mode: uint16(fileTypeDir) | (mode & 0x0FFF),
		linksCount: 2, atime: now, ctime: now, mtime: now, crtime: now,
		inodeSize: fs.sb.inodeSize,
	}
	if fs.sb.features.extents() {
		rec.flags |= uint32(flagExtents)
		copy(rec.block[:], newExtentRootHeader())
	}

	fs.io.hintGroup = hint
	if err := mkdirEntries(fs.io, rec, fs.blockSize, fs.sb.features.filetype(), ino, parentIno, fs.io.allocBlock); err != nil {
		return err
	}
	if err := fs.writeInode(ino, rec); err != nil {
		return err
	}

	if err := dirLink(fs.io, parentRec, fs.blockSize, fs.sb.features.filetype(), name, ino, dirFileTypeDir, fs.io.allocBlock); err != nil {
		return err
	}
	parentRec.linksCount++
	return fs.writeInode(parentIno, parentRec)
}

// deleteInode removes one link and, once i_links_count reaches 0, frees
// the inode's data blocks and bitmap bit. Directories hold a self-
// reference via "." and so must go through this twice, per spec.md §4.9's
// rmdir note ("directories are linked from themselves").
func (fs *FileSystem) deleteInode(rec *inode) error {
	if err := fs.removeInode(rec); err != nil {
		return err
	}
	if rec.isDir() {
		return fs.removeInode(rec)
	}
	return nil
}

func (fs *FileSystem) removeInode(rec *inode) error {
	if rec.linksCount > 0 {
		rec.linksCount--
	}
	if rec.linksCount > 0 {
		return fs.writeInode(rec.number, rec)
	}
	if !rec.hasInlineData() && !(rec.isSymlink() && rec.size < uint64(inodeBlockBytes)) {
		if err := bmapTruncate(fs.io, rec, fs.blockSize, 0, fs.freeBlock); err != nil {
			return err
		}
	}
	if rec.fileACL != 0 {
		if err := fs.freeBlock(rec.fileACL); err != nil {
			return err
		}
		rec.fileACL = 0
	}
	rec.size = 0
	if err := fs.writeInode(rec.number, rec); err != nil {
		return err
	}
	return fs.alloc.freeInode(rec.number)
}

// Rmdir removes an empty directory, per spec.md §4.9's rmdir().
func (fs *FileSystem) Rmdir(path string) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	parentIno, name, ino, found, err := fs.getEntryAndParent(path)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if ino == rootInodeNumber {
		return ErrIsRoot
	}
	rec, err := fs.readInodeRecord(ino)
	if err != nil {
		return err
	}
	if err := checkDirectory(rec); err != nil {
		return err
	}
	empty, err := dirIsEmpty(fs.io, rec, fs.blockSize, fs.sb.features.filetype())
	if err != nil {
		return err
	}
	if !empty {
		return ErrNotEmpty
	}

	parentRec, err := fs.readInodeRecord(parentIno)
	if err != nil {
		return err
	}
	if err := dirUnlink(fs.io, parentRec, fs.blockSize, fs.sb.features.filetype(), name); err != nil {
		return err
	}
	parentRec.linksCount--
	if err := fs.writeInode(parentIno, parentRec); err != nil {
		return err
	}
	return fs.deleteInode(rec)
}

// Unlink removes a non-directory entry, per spec.md §4.9's unlink().
func (fs *FileSystem) Unlink(path string) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	parentIno, name, ino, found, err := fs.getEntryAndParent(path)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	rec, err := fs.readInodeRecord(ino)
	if err != nil {
		return err
	}
	if rec.isDir() {
		return ErrIsDirectory
	}

	parentRec, err := fs.readInodeRecord(parentIno)
	if err != nil {
		return err
	}
	if err := dirUnlink(fs.io, parentRec, fs.blockSize, fs.sb.features.filetype(), name); err != nil {
		return err
	}
	if err := fs.writeInode(parentIno, parentRec); err != nil {
		return err
	}
	return fs.deleteInode(rec)
}

// Link creates a new hard link dest pointing at src's inode, per spec.md
// §4.9's link(). A hard link to any directory, in the same directory or
// another one, is rejected with ErrIsDirectory.
func (fs *FileSystem) Link(src, dest string) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	_, _, srcIno, found, err := fs.getEntryAndParent(src)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	srcRec, err := fs.readInodeRecord(srcIno)
	if err != nil {
		return err
	}
	if srcRec.isDir() {
		return ErrIsDirectory
	}

	destParentIno, destName, _, destFound, err := fs.getEntryAndParent(dest)
	if err != nil {
		return err
	}
	if destFound {
		return ErrExists
	}
	destParentRec, err := fs.readInodeRecord(destParentIno)
	if err != nil {
		return err
	}

	srcRec.linksCount++
	srcRec.ctime = time.Now()
	if err := fs.writeInode(srcIno, srcRec); err != nil {
		return err
	}

	fs.io.hintGroup = fs.alloc.inodeGroupOf(destParentIno)
	if err := dirLink(fs.io, destParentRec, fs.blockSize, fs.sb.features.filetype(), destName, srcIno, fileTypeToDirFileType(srcRec.fileType()), fs.io.allocBlock); err != nil {
		return err
	}
	return fs.writeInode(destParentIno, destParentRec)
}

// Symlink creates path as a symlink pointing at target, storing the target
// inline in i_block[] when it fits ("fast symlink"), else in one data
// block, per spec.md §4.9's symlink().
func (fs *FileSystem) Symlink(path, target string) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	parentIno, name, _, found, err := fs.getEntryAndParent(path)
	if err != nil {
		return err
	}
	if found {
		return ErrExists
	}
	parentRec, err := fs.readInodeRecord(parentIno)
	if err != nil {
		return err
	}

	hint := fs.alloc.inodeGroupOf(parentIno)
	ino, err := fs.alloc.allocateInode(hint)
	if err != nil {
		return err
	}

	now := time.Now()
	rec := &inode{
		number: ino, mode: uint16(fileTypeSymlink) | 0o777,
		linksCount: 1, atime: now, ctime: now, mtime: now, crtime: now,
		inodeSize: fs.sb.inodeSize,
	}

	fs.io.hintGroup = hint
	if len(target) < inodeBlockBytes {
		rec.setFastSymlinkTarget(target)
	} else {
		if fs.sb.features.extents() {
			rec.flags |= uint32(flagExtents)
			copy(rec.block[:], newExtentRootHeader())
		}
		physical, err := fs.io.allocBlock()
		if err != nil {
			return err
		}
		block := make([]byte, fs.blockSize)
		copy(block, target)
		if err := fs.io.writeBlock(physical, block); err != nil {
			return err
		}
		if err := bmapAssign(fs.io, rec, fs.blockSize, 0, physical, 1); err != nil {
			return err
		}
		rec.size = uint64(len(target))
		rec.blocks = uint64(fs.blockSize) / 512
	}

	if err := fs.writeInode(ino, rec); err != nil {
		return err
	}
	if err := dirLink(fs.io, parentRec, fs.blockSize, fs.sb.features.filetype(), name, ino, dirFileTypeSymlink, fs.io.allocBlock); err != nil {
		return err
	}
	return fs.writeInode(parentIno, parentRec)
}

// Readlink returns path's symlink target without following it, per
// spec.md §4.9's readlink().
func (fs *FileSystem) Readlink(path string) (string, error) {
	_, _, ino, found, err := fs.getEntryAndParent(path)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNotFound
	}
	rec, err := fs.readInodeRecord(ino)
	if err != nil {
		return "", err
	}
	if !rec.isSymlink() {
		return "", ErrInvalidArgument
	}
	return fs.resolver().readSymlinkTarget(rec)
}

func (fs *FileSystem) updateDotDot(dirRec *inode, newParent uint32) error {
	return dirIterate(fs.io, dirRec, fs.blockSize, fs.sb.features.filetype(), func(entries []directoryEntry) ([]directoryEntry, bool, bool) {
		for i, e := range entries {
			if e.inode != 0 && e.name == ".." {
				entries[i].inode = newParent
				return entries, true, true
			}
		}
		return entries, false, false
	})
}

// Rename moves from to to. It is not transactional: a failure part way
// through leaves whatever steps have already been applied (spec.md §4.9's
// rename() note). If to exists as a non-empty directory the call is
// rejected before anything is mutated.
func (fs *FileSystem) Rename(from, to string) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	fromParentIno, fromName, fromIno, found, err := fs.getEntryAndParent(from)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	fromRec, err := fs.readInodeRecord(fromIno)
	if err != nil {
		return err
	}

	toParentIno, toName, toIno, toFound, err := fs.getEntryAndParent(to)
	if err != nil {
		return err
	}
	if toFound {
		toRec, err := fs.readInodeRecord(toIno)
		if err != nil {
			return err
		}
		if toRec.isDir() {
			empty, err := dirIsEmpty(fs.io, toRec, fs.blockSize, fs.sb.features.filetype())
			if err != nil {
				return err
			}
			if !empty {
				return ErrNotEmpty
			}
		}
	}

	toParentRec, err := fs.readInodeRecord(toParentIno)
	if err != nil {
		return err
	}

	if toFound {
		toRec, err := fs.readInodeRecord(toIno)
		if err != nil {
			return err
		}
		if err := dirUnlink(fs.io, toParentRec, fs.blockSize, fs.sb.features.filetype(), toName); err != nil {
			return err
		}
		if err := fs.deleteInode(toRec); err != nil {
			return err
		}
	}

	fs.io.hintGroup = fs.alloc.inodeGroupOf(toParentIno)
	if err := dirLink(fs.io, toParentRec, fs.blockSize, fs.sb.features.filetype(), toName, fromIno, fileTypeToDirFileType(fromRec.fileType()), fs.io.allocBlock); err != nil {
		return err
	}
	if err := fs.writeInode(toParentIno, toParentRec); err != nil {
		return err
	}

	if fromRec.isDir() && fromParentIno != toParentIno {
		if err := fs.updateDotDot(fromRec, toParentIno); err != nil {
			return err
		}
		fromParentRec, err := fs.readInodeRecord(fromParentIno)
		if err != nil {
			return err
		}
		fromParentRec.linksCount--
		if err := fs.writeInode(fromParentIno, fromParentRec); err != nil {
			return err
		}
		toParentRec.linksCount++
		if err := fs.writeInode(toParentIno, toParentRec); err != nil {
			return err
		}
	}

	fromParentRec, err := fs.readInodeRecord(fromParentIno)
	if err != nil {
		return err
	}
	if err := dirUnlink(fs.io, fromParentRec, fs.blockSize, fs.sb.features.filetype(), fromName); err != nil {
		return err
	}
	return fs.writeInode(fromParentIno, fromParentRec)
}

// Stat projects an inode record into the fields spec.md §4.9's fstat()
// exposes.
type Stat struct {
	Mode   uint16
	Nlink  uint16
	Uid    uint32
	Gid    uint32
	Size   uint64
	Blocks uint64
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
}

// Stat resolves path and returns its metadata.
func (fs *FileSystem) Stat(path string) (Stat, error) {
	_, _, ino, found, err := fs.getEntryAndParent(path)
	if err != nil {
		return Stat{}, err
	}
	if !found {
		return Stat{}, ErrNotFound
	}
	rec, err := fs.readInodeRecord(ino)
	if err != nil {
		return Stat{}, err
	}
	return statFromInode(rec), nil
}

func statFromInode(rec *inode) Stat {
	return Stat{
		Mode: rec.mode, Nlink: rec.linksCount, Uid: rec.uid, Gid: rec.gid,
		Size: rec.size, Blocks: rec.blocks,
		Atime: rec.atime, Mtime: rec.mtime, Ctime: rec.ctime,
	}
}

// Chmod overlays new permission bits while preserving the file-type bits,
// per spec.md §4.9's chmod().
func (fs *FileSystem) Chmod(path string, mode uint16) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	_, _, ino, found, err := fs.getEntryAndParent(path)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	rec, err := fs.readInodeRecord(ino)
	if err != nil {
		return err
	}
	rec.mode = (rec.mode & 0xF000) | (mode & 0x0FFF)
	rec.ctime = time.Now()
	return fs.writeInode(ino, rec)
}

// Chown splits uid/gid into their low-16/high halves on write, per
// spec.md §4.9's chown().
func (fs *FileSystem) Chown(path string, uid, gid uint32) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	_, _, ino, found, err := fs.getEntryAndParent(path)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	rec, err := fs.readInodeRecord(ino)
	if err != nil {
		return err
	}
	rec.uid = uid
	rec.gid = gid
	rec.ctime = time.Now()
	return fs.writeInode(ino, rec)
}

// Utimes sets the access and modification times on path. This is not part
// of the original engine's operation list but follows the same shape as
// Chmod/Chown, grounded in the same inode-update pattern.
func (fs *FileSystem) Utimes(path string, atime, mtime time.Time) error {
	if fs.readOnly {
		return ErrReadOnly
	}
	_, _, ino, found, err := fs.getEntryAndParent(path)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	rec, err := fs.readInodeRecord(ino)
	if err != nil {
		return err
	}
	rec.atime = atime
	rec.mtime = mtime
	rec.ctime = time.Now()
	return fs.writeInode(ino, rec)
}

// Flush rewrites the superblock and any dirty group descriptors/bitmaps,
// per spec.md §4.2's flush().
func (fs *FileSystem) Flush() error {
	if fs.readOnly {
		return nil
	}
	if err := fs.bc.flush(); err != nil {
		return err
	}
	if err := writeGroupDescriptors(fs.br, fs.sb, fs.gds); err != nil {
		return err
	}
	if err := fs.br.writeBytes(superblockOffset, fs.sb.toBytes()); err != nil {
		return err
	}
	fs.sb.dirty = false
	return fs.channel.Flush()
}

// Umount flushes and releases the filesystem handle, per spec.md §4.9's
// umount().
func (fs *FileSystem) Umount() error {
	if err := fs.Flush(); err != nil {
		return err
	}
	return fs.channel.Close()
}

// Trim walks the block bitmap and issues a discard for every maximal run
// of clear blocks, per spec.md §4.9's trim().
func (fs *FileSystem) Trim() error {
	for g := range fs.gds {
		for _, run := range fs.bc.blockBitmaps[g].FreeList() {
			first := uint64(fs.sb.firstDataBlock) + uint64(g)*uint64(fs.sb.blocksPerGroup) + uint64(run.Position)
			if err := fs.channel.Discard(first, int64(run.Count)); err != nil {
				return err
			}
		}
	}
	return nil
}
