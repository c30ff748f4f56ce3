// Package source describes the revision of a build context.
package source

import (
	"errors"
	"log/slog"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/cruciblehq/cruxship/internal/crex"
)

var ErrSource = errors.New("cannot describe source revision")

// Commit a build context is checked out at.
type Revision struct {
	Commit string // Full hash of HEAD. Empty outside a repository.
	Dirty  bool   // The worktree differs from HEAD.
}

// Returns the commit hash, suffixed with "-dirty" when the worktree has
// changes.
func (r Revision) String() string {
	if r.Commit == "" {
		return ""
	}
	if r.Dirty {
		return r.Commit + "-dirty"
	}
	return r.Commit
}

// Describes the repository containing dir.
//
// A directory outside any repository, or a repository without commits, has
// an empty revision and is not an error.
func Describe(dir string) (Revision, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		slog.Debug("build context is not a repository", "dir", dir)
		return Revision{}, nil
	}
	if err != nil {
		return Revision{}, crex.Wrap(ErrSource, err)
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return Revision{}, nil
	}
	if err != nil {
		return Revision{}, crex.Wrap(ErrSource, err)
	}

	rev := Revision{Commit: head.Hash().String()}

	wt, err := repo.Worktree()
	if err != nil {
		return Revision{}, crex.Wrap(ErrSource, err)
	}
	status, err := wt.Status()
	if err != nil {
		return Revision{}, crex.Wrap(ErrSource, err)
	}
	rev.Dirty = !status.IsClean()

	slog.Debug("source revision", "revision", rev.String())
	return rev, nil
}
