package ext4

import (
	"io"
	"time"
)

// OpenFlag mirrors the POSIX-ish open() flags spec.md §4.8/§4.9 call out by
// name.
type OpenFlag int

const (
	OpenRead OpenFlag = 1 << iota
	OpenWrite
	OpenCreate
	OpenTrunc
	OpenExcl
	OpenAppend
	OpenDirectory
	OpenNoFollow
	OpenNoAtime
)

func (f OpenFlag) has(bit OpenFlag) bool { return f&bit == bit }

// File is an open file object: cached inode record, current position, and
// a one-block read/write cache, per spec.md §4.8.
type File struct {
	fs    *FileSystem
	ino   uint32
	rec   *inode
	flags OpenFlag

	position int64

	cachedBlock    int64
	cachedPhysical uint64
	cachedBuf      []byte
	cachedDirty    bool
	cachedOK       bool

	inodeDirty bool
	closed     bool
}

func newFile(fs *FileSystem, ino uint32, rec *inode, flags OpenFlag) *File {
	return &File{
		fs:          fs,
		ino:         ino,
		rec:         rec,
		flags:       flags,
		cachedBlock: -1,
	}
}

// flushCachedBlock writes the current block cache back to disk if dirty.
func (f *File) flushCachedBlock() error {
	if !f.cachedDirty {
		return nil
	}
	if !f.cachedOK {
		return ErrCorrupted
	}
	if err := f.fs.io.writeBlock(f.cachedPhysical, f.cachedBuf); err != nil {
		return err
	}
	f.cachedDirty = false
	return nil
}

// loadBlock ensures the block covering byte offset pos is the active
// cache, allocating it (when alloc is true) on a hole.
func (f *File) loadBlock(pos int64, alloc bool) error {
	blockSize := int64(f.fs.blockSize)
	logical := pos / blockSize
	if f.cachedBlock == logical && (f.cachedOK || !alloc) {
		return nil
	}
	if err := f.flushCachedBlock(); err != nil {
		return err
	}

	physical, ok, err := bmap(f.fs.io, f.rec, f.fs.blockSize, uint64(logical))
	if err != nil {
		return err
	}
	if !ok {
		if !alloc {
			f.cachedBlock = logical
			f.cachedOK = false
			f.cachedBuf = make([]byte, blockSize)
			return nil
		}
		physical, err = f.fs.allocBlockNear(f.rec)
		if err != nil {
			return err
		}
		if err := f.fs.io.writeBlock(physical, make([]byte, blockSize)); err != nil {
			return err
		}
		if err := bmapAssign(f.fs.io, f.rec, f.fs.blockSize, uint64(logical), physical, 1); err != nil {
			return err
		}
		f.rec.blocks += uint64(blockSize) / 512
	}

	buf, err := f.fs.io.readBlock(physical)
	if err != nil {
		return err
	}
	f.cachedBlock = logical
	f.cachedPhysical = physical
	f.cachedBuf = buf
	f.cachedOK = true
	return nil
}

// Read implements io.Reader semantics against the file's current position,
// per spec.md §4.8's read().
func (f *File) Read(buf []byte) (int, error) {
	if f.closed {
		return 0, ErrInvalidArgument
	}
	if f.rec.hasInlineData() {
		return f.readInline(buf)
	}
	if f.position >= int64(f.rec.size) {
		return 0, io.EOF
	}
	blockSize := int64(f.fs.blockSize)
	n := 0
	for n < len(buf) && f.position < int64(f.rec.size) {
		if err := f.loadBlock(f.position, false); err != nil {
			return n, err
		}
		off := f.position % blockSize
		avail := blockSize - off
		remaining := int64(f.rec.size) - f.position
		if remaining < avail {
			avail = remaining
		}
		want := int64(len(buf) - n)
		if want < avail {
			avail = want
		}
		copy(buf[n:n+int(avail)], f.cachedBuf[off:off+avail])
		n += int(avail)
		f.position += avail
	}
	if !f.flags.has(OpenNoAtime) && !f.rec.noAtime() {
		f.rec.atime = time.Now()
		f.inodeDirty = true
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (f *File) readInline(buf []byte) (int, error) {
	if f.position >= int64(f.rec.size) {
		return 0, io.EOF
	}
	n := copy(buf, f.rec.block[f.position:f.rec.size])
	f.position += int64(n)
	return n, nil
}

// Write implements io.Writer semantics, allocating blocks on demand and
// growing i_size past the current end, per spec.md §4.8's write().
func (f *File) Write(buf []byte) (int, error) {
	if f.closed {
		return 0, ErrInvalidArgument
	}
	if f.flags.has(OpenAppend) {
		f.position = int64(f.rec.size)
	}

	if f.rec.hasInlineData() {
		if f.position+int64(len(buf)) <= int64(inodeBlockBytes) {
			copy(f.rec.block[f.position:], buf)
			f.position += int64(len(buf))
			if uint64(f.position) > f.rec.size {
				f.rec.size = uint64(f.position)
			}
			f.rec.mtime = time.Now()
			f.rec.ctime = f.rec.mtime
			f.inodeDirty = true
			return len(buf), nil
		}
		if err := f.promoteInline(); err != nil {
			return 0, err
		}
	}

	blockSize := int64(f.fs.blockSize)
	n := 0
	for n < len(buf) {
		if err := f.loadBlock(f.position, true); err != nil {
			return n, err
		}
		off := f.position % blockSize
		avail := blockSize - off
		want := int64(len(buf) - n)
		if want < avail {
			avail = want
		}
		copy(f.cachedBuf[off:off+avail], buf[n:n+int(avail)])
		f.cachedDirty = true
		n += int(avail)
		f.position += avail
		if uint64(f.position) > f.rec.size {
			f.rec.size = uint64(f.position)
		}
	}
	f.rec.mtime = time.Now()
	f.rec.ctime = f.rec.mtime
	f.inodeDirty = true
	return n, nil
}

// promoteInline moves inline file data out to a real data block and clears
// INLINE_DATA_FL, the first time a write no longer fits in i_block[].
func (f *File) promoteInline() error {
	old := append([]byte(nil), f.rec.block[:f.rec.size]...)
	f.rec.flags &^= uint32(flagInlineData)
	if f.fs.sb.features.extents() {
		f.rec.flags |= uint32(flagExtents)
		copy(f.rec.block[:], newExtentRootHeader())
	} else {
		f.rec.block = [inodeBlockBytes]byte{}
	}
	physical, err := f.fs.allocBlockNear(f.rec)
	if err != nil {
		return err
	}
	block := make([]byte, f.fs.blockSize)
	copy(block, old)
	if err := f.fs.io.writeBlock(physical, block); err != nil {
		return err
	}
	if err := bmapAssign(f.fs.io, f.rec, f.fs.blockSize, 0, physical, 1); err != nil {
		return err
	}
	f.rec.blocks += uint64(f.fs.blockSize) / 512
	return nil
}

// Seek implements io.Seeker; a past-end result succeeds and the hole
// materializes only on a subsequent write (spec.md §4.8's llseek), while a
// negative resulting position returns ErrInvalidArgument.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.position
	case io.SeekEnd:
		base = int64(f.rec.size)
	default:
		return 0, ErrInvalidArgument
	}
	pos := base + offset
	if pos < 0 {
		return 0, ErrInvalidArgument
	}
	f.position = pos
	return pos, nil
}

// SetSize extends (updates size only) or truncates (punches the tail) the
// file to exactly n bytes, per spec.md §4.8's set_size.
func (f *File) SetSize(n uint64) error {
	if n >= f.rec.size {
		f.rec.size = n
		f.rec.mtime = time.Now()
		f.rec.ctime = f.rec.mtime
		f.inodeDirty = true
		return nil
	}
	blockSize := uint64(f.fs.blockSize)
	keepBlocks := (n + blockSize - 1) / blockSize
	if err := bmapTruncate(f.fs.io, f.rec, f.fs.blockSize, keepBlocks, f.fs.freeBlock); err != nil {
		return err
	}
	f.rec.size = n
	f.rec.blocks = keepBlocks * blockSize / 512
	f.rec.mtime = time.Now()
	f.rec.ctime = f.rec.mtime
	f.inodeDirty = true
	if f.cachedBlock >= 0 && uint64(f.cachedBlock) >= keepBlocks {
		f.cachedBlock = -1
		f.cachedDirty = false
	}
	return nil
}

// Flush writes the dirty cached block and the dirty inode record.
func (f *File) Flush() error {
	if err := f.flushCachedBlock(); err != nil {
		return err
	}
	if f.inodeDirty {
		if err := f.fs.writeInode(f.ino, f.rec); err != nil {
			return err
		}
		f.inodeDirty = false
	}
	return nil
}

// Close flushes and releases the file object.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	err := f.Flush()
	f.closed = true
	return err
}
