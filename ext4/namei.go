package ext4

import (
	"strings"
)

// maxSymlinkDepth bounds total symlink descents during path resolution,
// per spec.md §4.7.
const maxSymlinkDepth = 40

// pathResolver bundles the pieces namei needs to walk a path: block I/O,
// the filesystem's block size and FILETYPE feature state, and a way to
// load an inode record by number. fs.go supplies these from the mounted
// filesystem handle.
type pathResolver struct {
	io          blockIO
	blockSize   uint32
	withFT      bool
	readInode   func(ino uint32) (*inode, error)
	rootInode   uint32
}

// namei resolves path against root (absolute) or cwd (relative), following
// intermediate symlinks unconditionally and the final component only when
// followTerminal is true, per spec.md §4.7.
func (r *pathResolver) namei(cwd uint32, path string, followTerminal bool) (uint32, error) {
	return r.resolve(cwd, path, followTerminal, 0, map[uint32]bool{})
}

func (r *pathResolver) resolve(cwd uint32, path string, followTerminal bool, depth int, visited map[uint32]bool) (uint32, error) {
	current := cwd
	if strings.HasPrefix(path, "/") {
		current = r.rootInode
	}
	parts := splitPath(path)
	for i, part := range parts {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			ino, err := r.readInode(current)
			if err != nil {
				return 0, err
			}
			parentIno, _, found, err := dirLookup(r.io, ino, r.blockSize, r.withFT, "..")
			if err != nil {
				return 0, err
			}
			if !found {
				return 0, ErrNotFound
			}
			current = parentIno
			continue
		}

		dirInode, err := r.readInode(current)
		if err != nil {
			return 0, err
		}
		if err := checkDirectory(dirInode); err != nil {
			return 0, err
		}
		next, _, found, err := dirLookup(r.io, dirInode, r.blockSize, r.withFT, part)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, ErrNotFound
		}

		isLast := i == len(parts)-1
		if !isLast || followTerminal {
			target, err := r.readInode(next)
			if err != nil {
				return 0, err
			}
			if target.isSymlink() {
				if depth >= maxSymlinkDepth || visited[next] {
					return 0, ErrSymlinkLoop
				}
				visited[next] = true
				linkTarget, err := r.readSymlinkTarget(target)
				if err != nil {
					return 0, err
				}
				resolved, err := r.resolve(current, linkTarget, true, depth+1, visited)
				if err != nil {
					return 0, err
				}
				next = resolved
			}
		}
		current = next
	}
	return current, nil
}

// readSymlinkTarget returns the stored target path, using the fast-symlink
// i_block[] payload when it fits, otherwise the single data block, per
// spec.md §4.7 and §4.8/readlink.
func (r *pathResolver) readSymlinkTarget(ino *inode) (string, error) {
	if ino.size < uint64(inodeBlockBytes) && !ino.hasInlineData() {
		return ino.fastSymlinkTarget(), nil
	}
	physical, ok, err := bmap(r.io, ino, r.blockSize, 0)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrCorrupted
	}
	data, err := r.io.readBlock(physical)
	if err != nil {
		return "", err
	}
	n := ino.size
	if n > uint64(len(data)) {
		n = uint64(len(data))
	}
	return string(data[:n]), nil
}

func splitPath(path string) []string {
	return strings.Split(path, "/")
}
