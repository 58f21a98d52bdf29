// Package manifest reads the CSV file listing the repositories to migrate.
package manifest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path"
	"strings"
	"synmigrate/internal/gitrepo"
)

// Entry is one validated manifest row.
type Entry struct {
	Line int
	URL  string
	// GitFolder limits the migration to one directory of the repository.
	GitFolder string
	// Project is a project id (syn...) or name overriding the derived name.
	Project string
	// Subpath is the folder path inside the project, e.g. "EDD/common".
	Subpath string
}

type ManifestError struct {
	Line   int
	Reason string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("manifest line %d: %s", e.Line, e.Reason)
}

var ErrNoURLColumn = errors.New("manifest has no git_url column")

const (
	colURL = iota
	colFolder
	colProject
	colSubpath
)

var headerAliases = map[string]int{
	"git_url":            colURL,
	"url":                colURL,
	"repository":         colURL,
	"git_folder":         colFolder,
	"folder":             colFolder,
	"synapse_project_id": colProject,
	"project":            colProject,
	"project_id":         colProject,
	"project_name":       colProject,
	"synapse_path":       colSubpath,
	"path":               colSubpath,
	"subpath":            colSubpath,
}

type Reader struct {
	r      io.Reader
	closer io.Closer
	Name   string
}

// Open opens a manifest file. Callers must Close it.
func Open(name string) (*Reader, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}

	r := NewReader(f)
	r.closer = f
	r.Name = name
	return r, nil
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Entries yields one entry per data row, in file order. Rows without a URL
// yield a *ManifestError and iteration continues. A missing URL column or an
// unreadable file yields a plain error and stops.
func (r *Reader) Entries() iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		cr := csv.NewReader(r.r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		cr.Comment = '#'

		header, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(Entry{}, fmt.Errorf("failed to read manifest header: %w", err))
			return
		}

		columns, isHeader := parseHeader(header)
		if !isHeader {
			if looksLikeURL(header[0]) {
				// headerless file: the first column is the URL
				columns = map[int]int{colURL: 0}
				line, _ := cr.FieldPos(0)
				if !yield(buildEntry(line, header, columns)) {
					return
				}
			} else {
				yield(Entry{}, ErrNoURLColumn)
				return
			}
		}

		for {
			record, err := cr.Read()
			if errors.Is(err, io.EOF) {
				return
			}

			if err != nil {
				if perr, ok := errors.AsType[*csv.ParseError](err); ok {
					if !yield(Entry{}, &ManifestError{Line: perr.Line, Reason: perr.Err.Error()}) {
						return
					}
					continue
				}
				yield(Entry{}, fmt.Errorf("failed to read manifest: %w", err))
				return
			}

			line, _ := cr.FieldPos(0)
			if !yield(buildEntry(line, record, columns)) {
				return
			}
		}
	}
}

func parseHeader(header []string) (map[int]int, bool) {
	columns := make(map[int]int)
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.TrimPrefix(key, "\ufeff")
		if col, ok := headerAliases[key]; ok {
			if _, dup := columns[col]; !dup {
				columns[col] = i
			}
		}
	}

	_, ok := columns[colURL]
	return columns, ok
}

func looksLikeURL(s string) bool {
	s = strings.TrimSpace(s)
	return strings.Contains(s, "://") || strings.HasPrefix(s, "git@") || strings.HasSuffix(s, ".git")
}

func buildEntry(line int, record []string, columns map[int]int) (Entry, error) {
	field := func(col int) string {
		i, ok := columns[col]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	e := Entry{
		Line:      line,
		URL:       field(colURL),
		GitFolder: strings.Trim(field(colFolder), "/"),
		Project:   field(colProject),
		Subpath:   strings.Trim(field(colSubpath), "/"),
	}

	if e.URL == "" {
		return Entry{}, &ManifestError{Line: line, Reason: "missing repository url"}
	}

	return e, nil
}

// URLPath is the repository path of the URL, e.g. "org/repo".
func (e Entry) URLPath() string {
	return gitrepo.URLPath(e.URL)
}

func (e Entry) RepoName() string {
	return path.Base(e.URLPath())
}

// ProjectName returns the override when set, otherwise
// "<prefix> - <repo>[ - <folder>]" with "/" in the folder replaced by "-".
func (e Entry) ProjectName(prefix string) string {
	if e.Project != "" {
		return e.Project
	}

	name := e.RepoName()
	if prefix != "" {
		name = prefix + " - " + name
	}
	if e.GitFolder != "" {
		name += " - " + strings.ReplaceAll(e.GitFolder, "/", "-")
	}
	return name
}

// Identity keys fingerprint records. Two rows that migrate the same
// repository to different destinations keep separate records.
func (e Entry) Identity() string {
	return strings.Join([]string{e.URL, e.GitFolder, e.Project, e.Subpath}, "|")
}
