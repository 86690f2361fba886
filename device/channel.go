package device

import "fmt"

// Channel adapts a byte-addressed Provider to the block-numbered operations
// the filesystem engine works in. All block addresses are in units of the
// channel's current block size. A negative count in ReadBlock/WriteBlock
// means "-count bytes" rather than "count blocks", kept for compatibility
// with callers that pass a byte-oriented count — mirroring the historical
// ext2fs io-manager contract this engine's host binding is modeled on.
type Channel struct {
	p         Provider
	blockSize uint32
}

// NewChannel wraps a Provider with an initial block size. The filesystem
// layer calls SetBlockSize once it has read the superblock.
func NewChannel(p Provider, blockSize uint32) *Channel {
	return &Channel{p: p, blockSize: blockSize}
}

// SetBlockSize pushes a new block size learned from the superblock down to
// the channel.
func (c *Channel) SetBlockSize(blockSize uint32) {
	c.blockSize = blockSize
}

// BlockSize returns the channel's current block size in bytes.
func (c *Channel) BlockSize() uint32 {
	return c.blockSize
}

func (c *Channel) byteLength(count int64) int64 {
	if count < 0 {
		return -count
	}
	return count * int64(c.blockSize)
}

// ReadBlock reads count blocks (or, if count is negative, -count bytes)
// starting at the given 64-bit block number into buf.
func (c *Channel) ReadBlock(block uint64, count int64, buf []byte) error {
	length := c.byteLength(count)
	if int64(len(buf)) < length {
		return fmt.Errorf("device: buffer too small: need %d bytes, have %d", length, len(buf))
	}
	_, err := c.p.ReadAt(buf[:length], int64(block)*int64(c.blockSize))
	return err
}

// WriteBlock writes count blocks (or, if count is negative, -count bytes)
// from buf starting at the given 64-bit block number.
func (c *Channel) WriteBlock(block uint64, count int64, buf []byte) error {
	length := c.byteLength(count)
	if int64(len(buf)) < length {
		return fmt.Errorf("device: buffer too small: need %d bytes, have %d", length, len(buf))
	}
	_, err := c.p.WriteAt(buf[:length], int64(block)*int64(c.blockSize))
	return err
}

// Discard hints that count blocks starting at block are no longer in use.
func (c *Channel) Discard(block uint64, count int64) error {
	return c.p.DiscardAt(int64(block)*int64(c.blockSize), c.byteLength(count))
}

// Zeroout writes zero bytes over count blocks and then discards them, the
// same write-zero-then-discard sequence spec.md requires: a discard alone is
// not guaranteed to read back as zero on every backing store, so the
// explicit zero write always runs first.
func (c *Channel) Zeroout(block uint64, count int64) error {
	length := c.byteLength(count)
	zero := make([]byte, length)
	if err := c.WriteBlock(block, count, zero); err != nil {
		return err
	}
	return c.Discard(block, count)
}

// Flush persists any buffered writes to the backing provider.
func (c *Channel) Flush() error {
	return c.p.Flush()
}

// Close releases the underlying provider.
func (c *Channel) Close() error {
	return c.p.Close()
}

// Size returns the provider's total addressable size in bytes.
func (c *Channel) Size() (int64, error) {
	return c.p.Size()
}
