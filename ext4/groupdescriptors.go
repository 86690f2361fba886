package ext4

import "encoding/binary"

// groupDescriptor is one 32- or 64-byte record from the group descriptor
// table read in spec.md §4.2 step 6, immediately following the superblock's
// block. Layout per the standard ext4 on-disk format; the 64-bit half of
// each field is only present (and only read/written) when the 64BIT
// incompat feature is set.
type groupDescriptor struct {
	blockBitmapBlock uint64
	inodeBitmapBlock uint64
	inodeTableBlock  uint64
	freeBlocksCount  uint32
	freeInodesCount  uint32
	usedDirsCount    uint32
	flags            uint16
	itableUnused     uint32
	checksum         uint16
}

const (
	gdSize32 = 32
	gdSize64 = 64
)

func groupDescriptorFromBytes(b []byte, is64Bit bool) groupDescriptor {
	gd := groupDescriptor{
		blockBitmapBlock: uint64(binary.LittleEndian.Uint32(b[0x0:0x4])),
		inodeBitmapBlock: uint64(binary.LittleEndian.Uint32(b[0x4:0x8])),
		inodeTableBlock:  uint64(binary.LittleEndian.Uint32(b[0x8:0xc])),
		freeBlocksCount:  uint32(binary.LittleEndian.Uint16(b[0xc:0xe])),
		freeInodesCount:  uint32(binary.LittleEndian.Uint16(b[0xe:0x10])),
		usedDirsCount:    uint32(binary.LittleEndian.Uint16(b[0x10:0x12])),
		flags:            binary.LittleEndian.Uint16(b[0x12:0x14]),
		itableUnused:     uint32(binary.LittleEndian.Uint16(b[0x1a:0x1c])),
		checksum:         binary.LittleEndian.Uint16(b[0x1e:0x20]),
	}
	if is64Bit && len(b) >= gdSize64 {
		gd.blockBitmapBlock |= uint64(binary.LittleEndian.Uint32(b[0x20:0x24])) << 32
		gd.inodeBitmapBlock |= uint64(binary.LittleEndian.Uint32(b[0x24:0x28])) << 32
		gd.inodeTableBlock |= uint64(binary.LittleEndian.Uint32(b[0x28:0x2c])) << 32
		gd.freeBlocksCount |= uint32(binary.LittleEndian.Uint16(b[0x2c:0x2e])) << 16
		gd.freeInodesCount |= uint32(binary.LittleEndian.Uint16(b[0x2e:0x30])) << 16
		gd.usedDirsCount |= uint32(binary.LittleEndian.Uint16(b[0x30:0x32])) << 16
		gd.itableUnused |= uint32(binary.LittleEndian.Uint16(b[0x32:0x34])) << 16
	}
	return gd
}

func (gd groupDescriptor) toBytes(size uint16) []byte {
	b := make([]byte, size)
	binary.LittleEndian.PutUint32(b[0x0:0x4], uint32(gd.blockBitmapBlock))
	binary.LittleEndian.PutUint32(b[0x4:0x8], uint32(gd.inodeBitmapBlock))
	binary.LittleEndian.PutUint32(b[0x8:0xc], uint32(gd.inodeTableBlock))
	binary.LittleEndian.PutUint16(b[0xc:0xe], uint16(gd.freeBlocksCount))
	binary.LittleEndian.PutUint16(b[0xe:0x10], uint16(gd.freeInodesCount))
	binary.LittleEndian.PutUint16(b[0x10:0x12], uint16(gd.usedDirsCount))
	binary.LittleEndian.PutUint16(b[0x12:0x14], gd.flags)
	binary.LittleEndian.PutUint16(b[0x1a:0x1c], uint16(gd.itableUnused))
	if size >= gdSize64 {
		binary.LittleEndian.PutUint32(b[0x20:0x24], uint32(gd.blockBitmapBlock>>32))
		binary.LittleEndian.PutUint32(b[0x24:0x28], uint32(gd.inodeBitmapBlock>>32))
		binary.LittleEndian.PutUint32(b[0x28:0x2c], uint32(gd.inodeTableBlock>>32))
		binary.LittleEndian.PutUint16(b[0x2c:0x2e], uint16(gd.freeBlocksCount>>16))
		binary.LittleEndian.PutUint16(b[0x2e:0x30], uint16(gd.freeInodesCount>>16))
		binary.LittleEndian.PutUint16(b[0x30:0x32], uint16(gd.usedDirsCount>>16))
		binary.LittleEndian.PutUint16(b[0x32:0x34], uint16(gd.itableUnused>>16))
	}
	// The checksum field is written as zero; nothing in this package
	// computes a group descriptor checksum.
	return b
}

// readGroupDescriptors reads the whole group descriptor table for the
// mounted filesystem, one read per spec.md §4.2 step 6.
func readGroupDescriptors(ch *blockReader, sb *superblock) ([]groupDescriptor, error) {
	count := sb.groupCount()
	gds := make([]groupDescriptor, count)
	gdSize := sb.groupDescSize
	tableBytes := make([]byte, int(count)*int(gdSize))
	if err := ch.readBytes(sb.gdtBlock()*uint64(sb.blockSize), tableBytes); err != nil {
		return nil, err
	}
	for i := uint32(0); i < count; i++ {
		start := int(i) * int(gdSize)
		gds[i] = groupDescriptorFromBytes(tableBytes[start:start+int(gdSize)], sb.features.is64Bit())
	}
	return gds, nil
}

func writeGroupDescriptors(ch *blockReader, sb *superblock, gds []groupDescriptor) error {
	gdSize := sb.groupDescSize
	buf := make([]byte, len(gds)*int(gdSize))
	for i, gd := range gds {
		copy(buf[i*int(gdSize):(i+1)*int(gdSize)], gd.toBytes(gdSize))
	}
	return ch.writeBytes(sb.gdtBlock()*uint64(sb.blockSize), buf)
}
