package watcher

import (
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// isNetworkPath reports whether path names a share on a remote host
// (\\host\share or //host/share).
func isNetworkPath(path string) bool {
	return len(path) > 2 && (strings.HasPrefix(path, `\\`) || strings.HasPrefix(path, "//")) && path[2] != path[0]
}

// networkHost extracts the host component of a network path.
func networkHost(path string) string {
	if !isNetworkPath(path) {
		return ""
	}
	rest := path[2:]
	if i := strings.IndexAny(rest, `\/`); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// normalizePath returns the canonical spelling of path: NFC-normalized and
// cleaned, with the double separator of network paths preserved.
func normalizePath(path string) string {
	path = norm.NFC.String(path)
	if isNetworkPath(path) {
		prefix := path[:2]
		rest := filepath.Clean(path[2:])
		return prefix + rest
	}
	return filepath.Clean(path)
}

// pathKey returns the comparison key for path. Windows paths compare
// case-insensitively.
func pathKey(path string) string {
	path = normalizePath(path)
	if runtime.GOOS == "windows" {
		path = strings.ToLower(path)
	}
	return path
}

// isSeparator reports whether c separates path elements on this platform.
func isSeparator(c byte) bool {
	return c == '/' || (filepath.Separator == '\\' && c == '\\')
}

// within reports whether key lies strictly below the directory key parent.
// Both arguments must be path keys.
func within(parent, key string) bool {
	if len(key) <= len(parent) || !strings.HasPrefix(key, parent) {
		return false
	}
	if isSeparator(parent[len(parent)-1]) {
		return true
	}
	return isSeparator(key[len(parent)])
}

// directChild reports whether key is an immediate child of parent.
func directChild(parent, key string) bool {
	if !within(parent, key) {
		return false
	}
	rest := key[len(parent):]
	if isSeparator(rest[0]) {
		rest = rest[1:]
	}
	for i := 0; i < len(rest); i++ {
		if isSeparator(rest[i]) {
			return false
		}
	}
	return true
}
