package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// WatchEntry is one path the daemon subscribes to at startup.
type WatchEntry struct {
	Path        string   `yaml:"path"`
	Types       []string `yaml:"types"`
	Patterns    []string `yaml:"patterns"`
	Recursive   bool     `yaml:"recursive"`
	AutoRestore bool     `yaml:"autoRestore"`
}

type watchList struct {
	Watches []WatchEntry `yaml:"watches"`
}

// LoadWatchList reads the YAML watch list at path. An empty path yields no
// entries. Entry paths are expanded like other configured paths.
//
//	watches:
//	  - path: ~/audiobooks
//	    types: [created, deleted, renamed]
//	    patterns: ["*.m4b", "*.mp3"]
//	    recursive: true
//	    autoRestore: true
func LoadWatchList(path string) ([]WatchEntry, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path) //#nosec G304 -- watch list path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read watch list: %w", err)
	}
	return ParseWatchList(data)
}

// ParseWatchList decodes a watch list document. Unknown keys are rejected.
func ParseWatchList(data []byte) ([]WatchEntry, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var list watchList
	if err := dec.Decode(&list); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse watch list: %w", err)
	}

	for i := range list.Watches {
		entry := &list.Watches[i]
		if entry.Path == "" {
			return nil, fmt.Errorf("watch list entry %d: path is required", i+1)
		}
		expanded, err := expandPath(entry.Path, "")
		if err != nil {
			return nil, fmt.Errorf("watch list entry %d: %w", i+1, err)
		}
		entry.Path = expanded
	}

	return list.Watches, nil
}
