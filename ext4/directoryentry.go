package ext4

import (
	"encoding/binary"
	"fmt"
)

// minDirEntryLength is the smallest legal directory entry: a 4-byte inode
// number, 2-byte rec_len, 1-byte name_len, 1-byte file_type, zero-length
// name, per spec.md §3's directory entry record.
const minDirEntryLength = 8

// dirFileType mirrors the upper byte of name_len when the FILETYPE
// incompat feature is enabled, letting readdir skip an inode lookup for
// the common case.
type dirFileType byte

const (
	dirFileTypeUnknown  dirFileType = 0
	dirFileTypeRegular  dirFileType = 1
	dirFileTypeDir      dirFileType = 2
	dirFileTypeCharDev  dirFileType = 3
	dirFileTypeBlockDev dirFileType = 4
	dirFileTypeFifo     dirFileType = 5
	dirFileTypeSocket   dirFileType = 6
	dirFileTypeSymlink  dirFileType = 7
)

func fileTypeToDirFileType(ft fileType) dirFileType {
	switch ft {
	case fileTypeRegular:
		return dirFileTypeRegular
	case fileTypeDir:
		return dirFileTypeDir
	case fileTypeCharDev:
		return dirFileTypeCharDev
	case fileTypeBlockDev:
		return dirFileTypeBlockDev
	case fileTypeFifo:
		return dirFileTypeFifo
	case fileTypeSocket:
		return dirFileTypeSocket
	case fileTypeSymlink:
		return dirFileTypeSymlink
	default:
		return dirFileTypeUnknown
	}
}

// directoryEntry is one record: inode, recLen (total on-disk length of this
// record, always a multiple of 4), name, and optionally a file type byte.
type directoryEntry struct {
	inode    uint32
	recLen   uint16
	fileType dirFileType
	name     string
}

// idealDirEntryLength is the minimum rec_len needed to hold this entry's name,
// rounded up to a 4-byte boundary, per spec.md §4.6's link() slack formula
// ceil((8+name_len)/4)*4.
func idealDirEntryLength(nameLen int) uint16 {
	return uint16(((minDirEntryLength + nameLen) + 3) &^ 3)
}

func (e directoryEntry) idealLength() uint16 {
	return idealDirEntryLength(len(e.name))
}

// parseDirEntriesLinear parses every record in one directory block,
// including free slots (inode == 0), preserving rec_len so that
// unlink/link can splice the chain back together exactly. withFileType
// controls whether the upper byte of name_len is the file type (set once
// the FILETYPE incompat feature is known).
func parseDirEntriesLinear(b []byte, withFileType bool, blockSize uint32) ([]directoryEntry, error) {
	var entries []directoryEntry
	offset := 0
	for offset+minDirEntryLength <= int(blockSize) && offset+minDirEntryLength <= len(b) {
		ino := binary.LittleEndian.Uint32(b[offset : offset+4])
		recLen := binary.LittleEndian.Uint16(b[offset+4 : offset+6])
		if recLen < minDirEntryLength {
			return nil, fmt.Errorf("%w: directory entry at offset %d has rec_len %d", ErrCorrupted, offset, recLen)
		}
		if offset+int(recLen) > int(blockSize) {
			return nil, fmt.Errorf("%w: directory entry at offset %d overruns block (rec_len %d)", ErrCorrupted, offset, recLen)
		}
		nameLenByte := b[offset+6]
		var ft dirFileType
		nameLen := int(nameLenByte)
		if withFileType {
			ft = dirFileType(b[offset+7])
		} else {
			nameLen |= int(b[offset+7]) << 8
		}
		var name string
		if ino != 0 && nameLen > 0 {
			end := offset + 8 + nameLen
			if end > len(b) {
				return nil, fmt.Errorf("%w: directory entry name overruns buffer", ErrCorrupted)
			}
			name = string(b[offset+8 : end])
		}
		entries = append(entries, directoryEntry{inode: ino, recLen: recLen, fileType: ft, name: name})
		offset += int(recLen)
	}
	return entries, nil
}

// serializeDirEntries writes entries back into a blockSize-sized buffer.
// The caller is responsible for ensuring the sum of recLen equals
// blockSize (the last entry's recLen always extends to the block end, per
// spec.md §3).
func serializeDirEntries(entries []directoryEntry, withFileType bool, blockSize uint32) []byte {
	b := make([]byte, blockSize)
	offset := 0
	for _, e := range entries {
		binary.LittleEndian.PutUint32(b[offset:offset+4], e.inode)
		binary.LittleEndian.PutUint16(b[offset+4:offset+6], e.recLen)
		if withFileType {
			b[offset+6] = byte(len(e.name))
			b[offset+7] = byte(e.fileType)
		} else {
			binary.LittleEndian.PutUint16(b[offset+6:offset+8], uint16(len(e.name)))
		}
		copy(b[offset+8:offset+8+len(e.name)], e.name)
		offset += int(e.recLen)
	}
	return b
}
