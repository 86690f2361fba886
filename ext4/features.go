package ext4

import "fmt"

// featureSet tracks the three ext2/3/4 feature-flag words. Bit names follow
// the kernel's ext4.h naming, trimmed to the bits this engine either
// understands or must explicitly reject per the mount gate in §4.2.
type featureSet struct {
	compat   uint32
	incompat uint32
	roCompat uint32
}

const (
	compatDirPrealloc    uint32 = 0x1
	compatImagicInodes   uint32 = 0x2
	compatHasJournal     uint32 = 0x4
	compatExtAttr        uint32 = 0x8
	compatResizeInode    uint32 = 0x10
	compatDirIndex       uint32 = 0x20
	compatSparseSuperV2  uint32 = 0x200

	incompatCompression uint32 = 0x1
	incompatFiletype    uint32 = 0x2
	incompatRecover     uint32 = 0x4
	incompatJournalDev  uint32 = 0x8
	incompatMetaBG      uint32 = 0x10
	incompatExtents     uint32 = 0x40
	incompat64Bit       uint32 = 0x80
	incompatMMP         uint32 = 0x100
	incompatFlexBG      uint32 = 0x200
	incompatEAInode     uint32 = 0x400
	incompatDirData     uint32 = 0x1000
	incompatCsumSeed    uint32 = 0x2000
	incompatLargeDir    uint32 = 0x4000
	incompatInlineData  uint32 = 0x8000
	incompatEncrypt     uint32 = 0x10000

	roCompatSparseSuper uint32 = 0x1
	roCompatLargeFile   uint32 = 0x2
	roCompatBtreeDir    uint32 = 0x4
	roCompatHugeFile    uint32 = 0x8
	roCompatGDTChecksum uint32 = 0x10
	roCompatDirNlink    uint32 = 0x20
	roCompatExtraIsize  uint32 = 0x40
	roCompatQuota       uint32 = 0x100
	roCompatBigalloc    uint32 = 0x200
	roCompatMetadataCsum uint32 = 0x400
	roCompatReadonly    uint32 = 0x1000
	roCompatProject     uint32 = 0x2000
)

// supportedIncompat is every incompat bit this engine knows how to mount.
// Anything else in s_feature_incompat aborts the mount, per spec.md §4.2 step 4.
const supportedIncompat = incompatFiletype | incompatExtents | incompat64Bit |
	incompatFlexBG | incompatInlineData | incompatMetaBG | incompatLargeDir

func (f featureSet) hasJournal() bool     { return f.compat&compatHasJournal != 0 }
func (f featureSet) filetype() bool       { return f.incompat&incompatFiletype != 0 }
func (f featureSet) extents() bool        { return f.incompat&incompatExtents != 0 }
func (f featureSet) is64Bit() bool        { return f.incompat&incompat64Bit != 0 }
func (f featureSet) flexBG() bool         { return f.incompat&incompatFlexBG != 0 }
func (f featureSet) inlineData() bool     { return f.incompat&incompatInlineData != 0 }
func (f featureSet) journalDev() bool     { return f.incompat&incompatJournalDev != 0 }
func (f featureSet) recover() bool        { return f.incompat&incompatRecover != 0 }
func (f featureSet) encrypt() bool        { return f.incompat&incompatEncrypt != 0 }
func (f featureSet) mmp() bool            { return f.incompat&incompatMMP != 0 }
func (f featureSet) hugeFile() bool       { return f.roCompat&roCompatHugeFile != 0 }
func (f featureSet) gdtChecksum() bool    { return f.roCompat&roCompatGDTChecksum != 0 }
func (f featureSet) metadataChecksum() bool {
	return f.roCompat&roCompatMetadataCsum != 0
}
func (f featureSet) sparseSuper() bool { return f.roCompat&roCompatSparseSuper != 0 }

// checkMountable implements spec.md §4.2 step 4: reject any incompat bit the
// engine does not implement, and explicitly refuse journal-device,
// recovery-needed, encryption, and MMP filesystems.
func (f featureSet) checkMountable() error {
	if f.journalDev() {
		return fmt.Errorf("%w: filesystem is a separate journal device", ErrUnsupported)
	}
	if f.recover() {
		return fmt.Errorf("%w: filesystem needs journal recovery", ErrUnsupported)
	}
	if f.encrypt() {
		return fmt.Errorf("%w: encrypted filesystem", ErrUnsupported)
	}
	if f.mmp() {
		return fmt.Errorf("%w: multi-mount protection enabled", ErrUnsupported)
	}
	if unknown := f.incompat &^ supportedIncompat; unknown != 0 {
		return fmt.Errorf("%w: unsupported incompat feature bits %#x", ErrUnsupported, unknown)
	}
	return nil
}
