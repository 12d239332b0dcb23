//go:build linux

package watcher

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// fixedFilesystems are file systems that live on local, non-removable storage.
var fixedFilesystems = map[int64]bool{
	unix.EXT4_SUPER_MAGIC:      true, // also ext2 and ext3
	unix.XFS_SUPER_MAGIC:       true,
	unix.BTRFS_SUPER_MAGIC:     true,
	unix.F2FS_SUPER_MAGIC:      true,
	unix.TMPFS_MAGIC:           true,
	unix.RAMFS_MAGIC:           true,
	unix.OVERLAYFS_SUPER_MAGIC: true,
	0x2fc12fc1:                 true, // zfs
}

// fixedDrive reports whether path lives on a fixed local file system. The
// nearest existing ancestor is inspected when path itself is missing.
// Network, FUSE, FAT, exFAT, ISO 9660 and unknown file systems are not fixed.
func fixedDrive(path string) bool {
	for {
		var st unix.Statfs_t
		err := unix.Statfs(path, &st)
		if err == nil {
			return fixedFilesystems[int64(st.Type)] //nolint:unconvert // Type width differs per arch
		}
		parent := filepath.Dir(path)
		if parent == path {
			return false
		}
		path = parent
	}
}
