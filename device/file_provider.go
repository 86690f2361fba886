package device

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// blkgetsize64 is the Linux ioctl request number for BLKGETSIZE64, used to
// size a raw block device (which reports a zero-length os.FileInfo.Size()).
const blkgetsize64 = 0x80081272

// FileProvider is a Provider backed by an *os.File — either a plain disk
// image or an actual block device (e.g. /dev/sdX, /dev/loopX).
type FileProvider struct {
	f        *os.File
	readOnly bool
}

var _ Provider = (*FileProvider)(nil)

// OpenFile opens an existing image file or block device as a Provider.
func OpenFile(path string, readOnly bool) (*FileProvider, error) {
	if path == "" {
		return nil, fmt.Errorf("device: path must not be empty")
	}
	mode := os.O_RDONLY
	if !readOnly {
		mode = os.O_RDWR
	}
	f, err := os.OpenFile(path, mode, 0o600)
	if err != nil {
		return nil, fmt.Errorf("device: could not open %s: %w", path, err)
	}
	return &FileProvider{f: f, readOnly: readOnly}, nil
}

func (p *FileProvider) ReadAt(b []byte, off int64) (int, error) {
	return p.f.ReadAt(b, off)
}

func (p *FileProvider) WriteAt(b []byte, off int64) (int, error) {
	if p.readOnly {
		return 0, ErrIncorrectOpenMode
	}
	return p.f.WriteAt(b, off)
}

// DiscardAt hints that [off, off+length) is free. On a sparse-file-capable
// backend this punches a hole; otherwise, or when the hole punch fails, it
// writes zero bytes over the range and returns any write error.
func (p *FileProvider) DiscardAt(off, length int64) error {
	if p.readOnly {
		return ErrIncorrectOpenMode
	}
	if length <= 0 {
		return nil
	}
	if p.seekHoleSupported() {
		if err := unix.Fallocate(int(p.f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, length); err == nil {
			return nil
		}
	}
	zero := make([]byte, minInt64(length, 1<<20))
	remaining := length
	at := off
	for remaining > 0 {
		n := int64(len(zero))
		if remaining < n {
			n = remaining
		}
		if _, err := p.f.WriteAt(zero[:n], at); err != nil {
			return err
		}
		at += n
		remaining -= n
	}
	return nil
}

func (p *FileProvider) Flush() error {
	return p.f.Sync()
}

// Size reports the addressable size of the backing store. For a regular
// file this is its length; for a block device, stat reports zero so we fall
// back to the BLKGETSIZE64 ioctl, mirroring the kernel-device sizing dance
// the teacher performs in disk/disk_unix.go before creating a filesystem.
func (p *FileProvider) Size() (int64, error) {
	fi, err := p.f.Stat()
	if err != nil {
		return 0, err
	}
	if fi.Mode()&os.ModeDevice == 0 {
		return fi.Size(), nil
	}
	size, err := unix.IoctlGetInt(int(p.f.Fd()), blkgetsize64)
	if err != nil {
		return 0, fmt.Errorf("device: BLKGETSIZE64 failed: %w", err)
	}
	return int64(size), nil
}

func (p *FileProvider) Close() error {
	return p.f.Close()
}

// seekHoleSupported reports whether the backing file is a regular, sparse
// file; used only to decide whether DiscardAt can cheaply punch a hole versus
// falling back to writing zero bytes.
func (p *FileProvider) seekHoleSupported() bool {
	if p.readOnly {
		return false
	}
	_, err := p.f.Seek(0, unixSeekHole())
	if err != nil {
		return false
	}
	_, _ = p.f.Seek(0, io.SeekStart)
	return true
}

func unixSeekHole() int {
	return unix.SEEK_HOLE
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
