package syncer

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"synmigrate/internal/logger"

	gitignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"
)

// migrateIgnoreFile holds extra per-repository rules in gitignore syntax.
const migrateIgnoreFile = ".migrateignore"

var defaultIgnoreLines = []string{
	".git/",
	// generated next to files by older migrations
	"*.gitlog",
	migrateIgnoreFile,
}

type IgnoreList struct {
	ignore *gitignore.GitIgnore
}

// LoadIgnoreList compiles the built-in rules, extra (gitignore syntax) and
// the .migrateignore file found in root, if any.
func LoadIgnoreList(root string, extra []string) *IgnoreList {
	lines := append(append([]string{}, defaultIgnoreLines...), extra...)

	path := filepath.Join(root, migrateIgnoreFile)
	if f, err := os.Open(path); err == nil {
		defer f.Close()

		rules := 0
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" && !strings.HasPrefix(line, "#") {
				lines = append(lines, line)
				rules++
			}
		}

		if err := scanner.Err(); err != nil {
			logger.Log.Warn("failed to read ignore file",
				zap.String("path", path),
				zap.Error(err))
		} else {
			logger.Log.Debug("loaded ignore file",
				zap.String("path", path),
				zap.Int("rules", rules))
		}
	}

	return &IgnoreList{ignore: gitignore.CompileIgnoreLines(lines...)}
}

// ShouldIgnore matches a slash separated path relative to the walk root.
func (l *IgnoreList) ShouldIgnore(rel string, isDir bool) bool {
	if isDir && l.ignore.MatchesPath(rel+"/") {
		return true
	}
	return l.ignore.MatchesPath(rel)
}
