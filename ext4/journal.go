package ext4

import (
	"encoding/binary"
	"fmt"
)

// jbd2 journal superblock recognition only. Replaying a dirty journal is an
// explicit non-goal (per spec.md's "journaling recovery... are not goals");
// this package only reads enough of the journal superblock to decide
// whether the journal needs recovery; Mount refuses the image in that case,
// read-only or not, unless MountOptions.IgnoreJournal is set.
const (
	jbd2Magic          = 0xc03b3998
	journalSuperblockV1 = 3
	journalSuperblockV2 = 4
)

type journalSuperblock struct {
	blockType   uint32
	sequence    uint32
	blockSize   uint32
	maxLen      uint32
	first       uint32
	sequenceNum uint32
	start       uint32
}

// readJournalSuperblock reads block 0 of the journal inode's data (the
// journal's own superblock, distinct from the filesystem superblock) and
// validates its magic number.
func readJournalSuperblock(io blockIO, journalInode *inode, fsBlockSize uint32) (*journalSuperblock, error) {
	physical, ok, err := bmap(io, journalInode, fsBlockSize, 0)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: journal inode has no first block", ErrCorrupted)
	}
	b, err := io.readBlock(physical)
	if err != nil {
		return nil, err
	}
	if len(b) < 28 {
		return nil, fmt.Errorf("%w: journal superblock too short", ErrCorrupted)
	}
	magic := binary.BigEndian.Uint32(b[0:4])
	blockType := binary.BigEndian.Uint32(b[4:8])
	sequence := binary.BigEndian.Uint32(b[8:12])
	if magic != jbd2Magic {
		return nil, fmt.Errorf("%w: bad journal magic %#x", ErrCorrupted, magic)
	}
	if blockType != journalSuperblockV1 && blockType != journalSuperblockV2 {
		return nil, fmt.Errorf("%w: unexpected journal block type %d", ErrCorrupted, blockType)
	}
	return &journalSuperblock{
		blockType:   blockType,
		sequence:    sequence,
		blockSize:   binary.BigEndian.Uint32(b[12:16]),
		maxLen:      binary.BigEndian.Uint32(b[16:20]),
		first:       binary.BigEndian.Uint32(b[20:24]),
		sequenceNum: sequence,
		start:       binary.BigEndian.Uint32(b[24:28]),
	}, nil
}

// needsRecovery reports whether the journal has a nonzero "start" pointer,
// meaning there are committed-but-not-checkpointed transactions a real
// kernel would replay before allowing writes.
func (j *journalSuperblock) needsRecovery() bool {
	return j.start != 0
}
