// Package history records every change of the data directory as a git commit.
package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	defaultName  = "orgsite"
	defaultEmail = "orgsite@localhost"
	gitignore    = ".*.tmp\n.env\n"
)

// Author identifies who made a change.
type Author struct {
	Name  string
	Email string
}

// Commit is one entry of the history.
type Commit struct {
	Hash       string    `json:"hash"`
	Message    string    `json:"message"`
	Body       string    `json:"body,omitempty"`
	Author     string    `json:"author"`
	AuthorDate time.Time `json:"author_date"`
}

// Repo is a git repository rooted at the data directory.
type Repo struct {
	dir   string
	paths []string
	repo  *gogit.Repository
	mu    sync.Mutex
}

// Open opens or initializes the repository in dir. paths are the entries,
// relative to dir, that Commit stages.
func Open(dir string, paths ...string) (*Repo, error) {
	if len(paths) == 0 {
		return nil, errors.New("at least one path to track is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		if repo, err = gogit.PlainInit(dir, false); err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = defaultName
		cfg.User.Email = defaultEmail
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil { //nolint:gosec // G306: not a secret
			return nil, fmt.Errorf("failed to write .gitignore: %w", err)
		}
	}
	return &Repo{dir: dir, paths: paths, repo: repo}, nil
}

// Commit stages the tracked paths and commits them if anything changed.
// It returns the new commit hash, or "" when there was nothing to commit.
func (r *Repo) Commit(ctx context.Context, author Author, msg string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}
	for _, p := range r.paths {
		if _, err := os.Lstat(filepath.Join(r.dir, p)); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if _, err := w.Add(p); err != nil {
			return "", fmt.Errorf("failed to stage %s: %w", p, err)
		}
	}
	status, err := w.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree status: %w", err)
	}
	staged := false
	for _, s := range status {
		if s.Staging != gogit.Unmodified && s.Staging != gogit.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return "", nil
	}

	if author.Name == "" {
		author.Name = defaultName
	}
	if author.Email == "" {
		author.Email = defaultEmail
	}
	now := time.Now()
	h, err := w.Commit(msg, &gogit.CommitOptions{
		Author:    &object.Signature{Name: author.Name, Email: author.Email, When: now},
		Committer: &object.Signature{Name: defaultName, Email: defaultEmail, When: now},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return h.String(), nil
}

// Log returns up to n commits, newest first, touching path ("" for all).
// n is capped at 1000. If n <= 0, defaults to 100.
func (r *Repo) Log(_ context.Context, path string, n int) ([]*Commit, error) {
	if n <= 0 {
		n = 100
	}
	n = min(n, 1000)
	opts := &gogit.LogOptions{}
	if path != "" && path != "." {
		opts.PathFilter = func(p string) bool {
			return p == path || strings.HasPrefix(p, path+"/")
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	iter, err := r.repo.Log(opts)
	if err != nil {
		// No commits yet.
		return nil, nil
	}
	defer iter.Close()

	var commits []*Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, body, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, &Commit{
			Hash:       c.Hash.String(),
			Message:    subject,
			Body:       strings.TrimSpace(body),
			Author:     c.Author.Name,
			AuthorDate: c.Author.When,
		})
	}
	return commits, nil
}
