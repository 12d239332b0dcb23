//go:build windows

package watcher

import (
	"path/filepath"

	"golang.org/x/sys/windows"
)

// fixedDrive reports whether path is on a drive Windows classifies as fixed.
// Removable, optical, RAM, remote and unknown drives are volatile.
func fixedDrive(path string) bool {
	volume := filepath.VolumeName(path)
	if volume == "" {
		return false
	}
	root, err := windows.UTF16PtrFromString(volume + `\`)
	if err != nil {
		return false
	}
	return windows.GetDriveType(root) == windows.DRIVE_FIXED
}
