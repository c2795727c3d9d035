// Package gitstatus summarises the git worktree around the local root for
// `vmsync status`. It is informational only.
package gitstatus

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

type Status struct {
	Branch    string
	Head      string
	Clean     bool
	Modified  []string
	Untracked []string
}

func (s *Status) Summary() string {
	if s.Clean {
		return fmt.Sprintf("%s@%s clean", s.Branch, s.Head)
	}
	return fmt.Sprintf("%s@%s %d modified, %d untracked", s.Branch, s.Head, len(s.Modified), len(s.Untracked))
}

// Inspect opens the repository containing root, searching parent
// directories, and reports its worktree state.
func Inspect(root string) (*Status, error) {
	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	st := &Status{Branch: "(detached)", Head: "(none)"}
	head, err := repo.Head()
	switch {
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// no commits yet
	case err != nil:
		return nil, fmt.Errorf("get HEAD: %w", err)
	default:
		if head.Name().IsBranch() {
			st.Branch = head.Name().Short()
		}
		st.Head = head.Hash().String()[:7]
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("get worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	st.Clean = status.IsClean()
	for path, fs := range status {
		switch {
		case fs.Worktree == git.Untracked:
			st.Untracked = append(st.Untracked, path)
		case fs.Worktree != git.Unmodified || fs.Staging != git.Unmodified:
			st.Modified = append(st.Modified, path)
		}
	}
	sort.Strings(st.Modified)
	sort.Strings(st.Untracked)
	return st, nil
}
