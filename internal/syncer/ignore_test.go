package syncer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIgnoreList(t *testing.T) {
	l := LoadIgnoreList(t.TempDir(), []string{"*.tmp", "node_modules/"})

	tests := []struct {
		path  string
		isDir bool
		want  bool
	}{
		{path: ".git", isDir: true, want: true},
		{path: ".git/config", want: true},
		{path: "src/a.go.gitlog", want: true},
		{path: "x.tmp", want: true},
		{path: "node_modules", isDir: true, want: true},
		{path: ".migrateignore", want: true},
		{path: "src/main.go", want: false},
		{path: "gitlog.txt", want: false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, l.ShouldIgnore(tt.path, tt.isDir), tt.path)
	}
}
