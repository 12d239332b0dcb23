//go:build !linux && !windows

package watcher

// fixedDrive cannot classify drives on this platform, so every path is
// treated as volatile and polled.
func fixedDrive(string) bool {
	return false
}
