package fsutil

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Format identifies how a changelog file is parsed.
type Format string

const (
	FormatSQL  Format = "sql"
	FormatYAML Format = "yaml"
)

// File is one discovered changelog file.
type File struct {
	Name   string // base name, used for ordering
	Path   string // path in the scanned filesystem
	Format Format
}

// ScanDir scans a local directory on disk.
func ScanDir(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	return scan(entries, func(name string) string { return filepath.Join(dir, name) }), nil
}

// ScanEmbedded scans an embedded fs under a root dir path (logical path).
func ScanEmbedded(fsys fs.FS, root string) ([]File, error) {
	if root == "" {
		root = "."
	}
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}
	return scan(entries, func(name string) string { return path.Join(root, name) }), nil
}

func scan(entries []fs.DirEntry, full func(name string) string) []File {
	out := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		format, ok := FormatOf(e.Name())
		if !ok {
			continue
		}
		out = append(out, File{Name: e.Name(), Path: full(e.Name()), Format: format})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FormatOf reports the changelog format implied by a file name.
func FormatOf(name string) (Format, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".sql":
		return FormatSQL, true
	case ".yaml", ".yml":
		return FormatYAML, true
	}
	return "", false
}
