package ext4

import "github.com/balena-io-modules/go-ext2fs/device"

// blockReader is a thin byte-offset wrapper around a device.Provider, used
// for metadata structures (superblock, group descriptor table, bitmaps,
// inode table) that are naturally addressed by byte offset rather than by
// the file-data block numbers device.Channel deals in.
type blockReader struct {
	p device.Provider
}

func newBlockReader(p device.Provider) *blockReader {
	return &blockReader{p: p}
}

func (r *blockReader) readBytes(offset uint64, buf []byte) error {
	_, err := r.p.ReadAt(buf, int64(offset))
	return err
}

func (r *blockReader) writeBytes(offset uint64, buf []byte) error {
	_, err := r.p.WriteAt(buf, int64(offset))
	return err
}

func (r *blockReader) flush() error {
	return r.p.Flush()
}
