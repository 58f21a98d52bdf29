package pathmap

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	tests := []struct {
		name       string
		rel        string
		containers []string
		leaf       string
	}{
		{name: "nested", rel: "a/b/c.txt", containers: []string{"a", "b"}, leaf: "c.txt"},
		{name: "root file", rel: "root.txt", containers: []string{}, leaf: "root.txt"},
		{name: "leading dot", rel: "./docs/x.md", containers: []string{"docs"}, leaf: "x.md"},
		{name: "double separator", rel: "a//b.txt", containers: []string{"a"}, leaf: "b.txt"},
		{name: "names are kept verbatim", rel: "we:ird/fi?le", containers: []string{"we:ird"}, leaf: "fi?le"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Map("/repo", tt.rel)
			assert.Equal(t, tt.leaf, m.Leaf)
			assert.Equal(t, len(tt.containers), len(m.Containers))
			if len(tt.containers) > 0 {
				assert.Equal(t, tt.containers, m.Containers)
			}
		})
	}
}

func TestMap_Backslash(t *testing.T) {
	m := Map("/repo", `docs/a\b.txt`)
	if runtime.GOOS == "windows" {
		assert.Equal(t, []string{"docs", "a"}, m.Containers)
		assert.Equal(t, "b.txt", m.Leaf)
		return
	}

	assert.Equal(t, []string{"docs"}, m.Containers)
	assert.Equal(t, `a\b.txt`, m.Leaf)
}

func TestMap_Deterministic(t *testing.T) {
	first := Map("/repo", "x/y/z/file.bin")
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, Map("/repo", "x/y/z/file.bin"))
	}
}

func TestMap_AbsoluteBelowRoot(t *testing.T) {
	root := t.TempDir()
	m := Map(root, filepath.Join(root, "src", "main.go"))
	assert.Equal(t, []string{"src"}, m.Containers)
	assert.Equal(t, "main.go", m.Leaf)
}

func TestMap_ContainersDoNotAlias(t *testing.T) {
	m := Map("", "a/b/c.txt")
	m2 := append(m.Containers, "extra")
	assert.Equal(t, []string{"a", "b", "extra"}, m2)
	assert.Equal(t, "c.txt", m.Leaf)
	assert.Equal(t, []string{"a", "b"}, Map("", "a/b/c.txt").Containers)
}

func TestMapping_Keys(t *testing.T) {
	assert.Equal(t, "a/b", Map("", "a/b/c.txt").Key())
	assert.Equal(t, "a/b/c.txt", Map("", "a/b/c.txt").Full())
	assert.Equal(t, "root.txt", Map("", "root.txt").Full())
}

func TestSplitDir(t *testing.T) {
	assert.Equal(t, []string{"EDD", "common"}, SplitDir("/EDD/common/"))
	assert.Nil(t, SplitDir(""))
	assert.Nil(t, SplitDir("/"))
	assert.Equal(t, []string{`EDD\common`}, SplitDir(`EDD\common`))
}
