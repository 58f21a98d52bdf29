// Package pathmap translates repository relative file paths into the chain of
// container names that hold them in the store.
package pathmap

import (
	"path"
	"path/filepath"
	"strings"
)

type Mapping struct {
	Containers []string
	Leaf       string
}

// Key joins the containers with "/", giving a stable cache and dedup key.
func (m Mapping) Key() string {
	return strings.Join(m.Containers, "/")
}

// Full is the container path followed by the leaf.
func (m Mapping) Full() string {
	if len(m.Containers) == 0 {
		return m.Leaf
	}
	return m.Key() + "/" + m.Leaf
}

// Map splits rel into its directory segments and file name. root is accepted
// so rel may also be given as an absolute path below it. Only the OS
// separator splits; names are not sanitized, so a backslash in a Unix file
// name stays part of the name.
func Map(root, rel string) Mapping {
	rel = filepath.ToSlash(rel)
	if root != "" && filepath.IsAbs(filepath.FromSlash(rel)) {
		if r, err := filepath.Rel(root, filepath.FromSlash(rel)); err == nil {
			rel = filepath.ToSlash(r)
		}
	}

	rel = strings.TrimPrefix(path.Clean("/"+rel), "/")

	if rel == "" {
		return Mapping{}
	}

	parts := strings.Split(rel, "/")
	return Mapping{
		Containers: parts[:len(parts)-1:len(parts)-1],
		Leaf:       parts[len(parts)-1],
	}
}

// SplitDir splits a configured destination path such as "EDD/common" into
// container names, dropping empty segments. Store paths always use "/".
func SplitDir(dir string) []string {
	var parts []string
	for _, p := range strings.Split(dir, "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	return parts
}
