// Package gitrepo keeps local working copies of the repositories to migrate.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"synmigrate/internal/logger"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"
)

// Provider brings the working copy of url at dir up to date.
type Provider interface {
	Ensure(ctx context.Context, url, dir string) error
}

// FetchError means the repository could not be cloned or pulled. The
// repository is skipped for the rest of the run.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// GoGit is a Provider backed by go-git. It pulls existing working copies and
// re-clones them when the pull fails.
type GoGit struct {
	// Token is sent as HTTP basic auth password for https remotes.
	Token string
}

func NewGoGit(token string) *GoGit {
	return &GoGit{Token: token}
}

func (g *GoGit) auth(rawURL string) transport.AuthMethod {
	if g.Token == "" || !strings.HasPrefix(rawURL, "http") {
		return nil
	}
	return &http.BasicAuth{Username: "git", Password: g.Token}
}

func (g *GoGit) Ensure(ctx context.Context, rawURL, dir string) error {
	if rawURL == "" {
		return &FetchError{URL: rawURL, Err: errors.New("empty repository url")}
	}

	if repo, err := git.PlainOpen(dir); err == nil {
		logger.Log.Info("pulling repository", zap.String("url", rawURL), zap.String("dir", dir))
		err = g.pull(ctx, repo, rawURL)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &FetchError{URL: rawURL, Err: ctx.Err()}
		}

		logger.Log.Warn("pull failed, cloning again", zap.String("url", rawURL), zap.Error(err))
		if err := os.RemoveAll(dir); err != nil {
			return &FetchError{URL: rawURL, Err: err}
		}
	}

	logger.Log.Info("cloning repository", zap.String("url", rawURL), zap.String("dir", dir))
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return &FetchError{URL: rawURL, Err: err}
	}

	_, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:  rawURL,
		Auth: g.auth(rawURL),
	})
	if err != nil {
		os.RemoveAll(dir)
		return &FetchError{URL: rawURL, Err: err}
	}
	return nil
}

func (g *GoGit) pull(ctx context.Context, repo *git.Repository, rawURL string) error {
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName: git.DefaultRemoteName,
		Auth:       g.auth(rawURL),
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return err
}

// Once wraps a Provider so every url is fetched at most once. Later calls for
// the same url return the first result.
type Once struct {
	Provider Provider

	mu      sync.Mutex
	results map[string]error
}

func NewOnce(p Provider) *Once {
	return &Once{Provider: p, results: make(map[string]error)}
}

func (o *Once) Ensure(ctx context.Context, rawURL, dir string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err, ok := o.results[rawURL]; ok {
		return err
	}

	err := o.Provider.Ensure(ctx, rawURL, dir)
	if ctx.Err() == nil {
		o.results[rawURL] = err
	}
	return err
}

// URLPath is the repository path of rawURL without a .git suffix, e.g.
// "org/repo" for https://host/org/repo.git and git@host:org/repo.git.
func URLPath(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Scheme != "" {
		p = u.Path
	} else if i := strings.Index(p, ":"); strings.HasPrefix(p, "git@") && i > 0 {
		p = p[i+1:]
	}

	p = strings.TrimSuffix(strings.Trim(p, "/"), ".git")
	return strings.Trim(path.Clean("/"+p), "/")
}

// LocalDir is the working copy location for rawURL inside workDir.
func LocalDir(workDir, rawURL string) string {
	return filepath.Join(workDir, filepath.FromSlash(URLPath(rawURL)))
}
