package ext4

import (
	"encoding/binary"
	"hash/crc32"
)

// crc32cTable is the Castagnoli CRC-32 polynomial table ext4 uses for
// superblock, group descriptor, and inode checksums. hash/crc32 ships this
// polynomial built in, so there is no need for the small hand-rolled CRC32c
// helper package the teacher carries as an internal (non-imported) package.
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

func crc32cUpdate(seed uint32, b []byte) uint32 {
	return crc32.Update(seed, crc32cTable, b)
}

func crc32cChecksum(b []byte) uint32 {
	return crc32.Checksum(b, crc32cTable)
}

// inodeChecksum reproduces the kernel's ext4_inode_csum: seed with the
// filesystem checksum seed, then the inode number and generation, then the
// inode bytes (with the on-disk checksum fields themselves zeroed).
func inodeChecksum(raw []byte, checksumSeed, inodeNumber, generation uint32) uint32 {
	var numBytes [4]byte
	binary.LittleEndian.PutUint32(numBytes[:], inodeNumber)
	sum := crc32cUpdate(checksumSeed, numBytes[:])

	var genBytes [4]byte
	binary.LittleEndian.PutUint32(genBytes[:], generation)
	sum = crc32cUpdate(sum, genBytes[:])

	return crc32cUpdate(sum, raw)
}
