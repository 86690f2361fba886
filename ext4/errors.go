package ext4

import "errors"

// Sentinel errors surfaced at the package boundary, mirroring the dense
// com_err-style internal error space from spec.md §7 collapsed onto a flat
// set callers check with errors.Is — the same style the teacher uses for
// ErrNotSupported/ErrReadonlyFilesystem in filesystem/filesystem.go.
var (
	// ErrNotFound corresponds to FILE_NOT_FOUND.
	ErrNotFound = errors.New("ext4: no such file or directory")
	// ErrExists corresponds to FILE_EXISTS.
	ErrExists = errors.New("ext4: file exists")
	// ErrNotDirectory corresponds to NO_DIRECTORY.
	ErrNotDirectory = errors.New("ext4: not a directory")
	// ErrIsDirectory is returned when a file operation is attempted on a directory.
	ErrIsDirectory = errors.New("ext4: is a directory")
	// ErrNotEmpty is returned by rmdir/rename on a non-empty directory.
	ErrNotEmpty = errors.New("ext4: directory not empty")
	// ErrNoSpace corresponds to DIR_NO_SPACE, BLOCK_ALLOC_FAIL, INODE_ALLOC_FAIL, EA_NO_SPACE, TOOSMALL.
	ErrNoSpace = errors.New("ext4: no space left on device")
	// ErrSymlinkLoop corresponds to SYMLINK_LOOP.
	ErrSymlinkLoop = errors.New("ext4: too many levels of symbolic links")
	// ErrFileTooBig corresponds to FILE_TOO_BIG.
	ErrFileTooBig = errors.New("ext4: file too large")
	// ErrBusy corresponds to MMP_FAILED, MMP_FSCK_ON.
	ErrBusy = errors.New("ext4: device or resource busy")
	// ErrInvalidArgument corresponds to INVALID_ARGUMENT, LLSEEK_FAILED.
	ErrInvalidArgument = errors.New("ext4: invalid argument")
	// ErrUnsupported corresponds to UNIMPLEMENTED and unrecognized incompat features.
	ErrUnsupported = errors.New("ext4: operation not supported")
	// ErrReadOnly is returned when a mutating call is made on a read-only mount.
	ErrReadOnly = errors.New("ext4: filesystem is read-only")
	// ErrCorrupted corresponds to structural magic mismatches and other
	// structural errors spec.md §7 maps to a generic fault.
	ErrCorrupted = errors.New("ext4: filesystem corrupted")
	// ErrIsRoot is returned by rmdir("/") and similar root-targeting ops.
	ErrIsRoot = errors.New("ext4: operation not permitted on root directory")
)
