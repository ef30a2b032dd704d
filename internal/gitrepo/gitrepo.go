// Package gitrepo adapts a Git repository, via go-git, as the backing
// collaborator of the history core. It is the sole authority for resolving
// a commit id to its content; the core never stores that content.
package gitrepo

import (
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"revlog/internal/event"
)

// Commit is the borrowed view of one commit's content.
type Commit struct {
	ID      event.CommitID
	Parents []event.CommitID
	Message string
	Author  string
	When    time.Time
}

// Repository wraps a go-git repository.
type Repository struct {
	repo *git.Repository
	path string
}

// Open opens an existing Git repository rooted at repoPath.
func Open(repoPath string) (*Repository, error) {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Repository{repo: repo, path: repoPath}, nil
}

// Path returns the repository root.
func (r *Repository) Path() string { return r.path }

// Branches returns every local branch and its target commit.
func (r *Repository) Branches() (map[string]event.CommitID, error) {
	iter, err := r.repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	out := make(map[string]event.CommitID)
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		out[ref.Name().Short()] = event.CommitID(ref.Hash().String())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	return out, nil
}

// Head returns the commit HEAD currently points at.
func (r *Repository) Head() (event.CommitID, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return event.CommitID(ref.Hash().String()), nil
}

// References returns all live references: local branches plus HEAD.
func (r *Repository) References() (map[string]event.CommitID, error) {
	refs, err := r.Branches()
	if err != nil {
		return nil, err
	}
	head, err := r.Head()
	if err == nil {
		refs["HEAD"] = head
	}
	return refs, nil
}

// CommitInfo resolves a commit id to its content.
func (r *Repository) CommitInfo(id event.CommitID) (*Commit, error) {
	c, err := r.commitObject(id)
	if err != nil {
		return nil, err
	}
	parents := make([]event.CommitID, len(c.ParentHashes))
	for i, h := range c.ParentHashes {
		parents[i] = event.CommitID(h.String())
	}
	return &Commit{
		ID:      id,
		Parents: parents,
		Message: c.Message,
		Author:  fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email),
		When:    c.Author.When,
	}, nil
}

// Parents returns the parent ids of a commit.
func (r *Repository) Parents(id event.CommitID) ([]event.CommitID, error) {
	c, err := r.commitObject(id)
	if err != nil {
		return nil, err
	}
	parents := make([]event.CommitID, len(c.ParentHashes))
	for i, h := range c.ParentHashes {
		parents[i] = event.CommitID(h.String())
	}
	return parents, nil
}

// Message resolves a commit's message; part of the revset content surface.
func (r *Repository) Message(id event.CommitID) (string, error) {
	c, err := r.commitObject(id)
	if err != nil {
		return "", err
	}
	return c.Message, nil
}

// Author resolves a commit's author as "Name <email>".
func (r *Repository) Author(id event.CommitID) (string, error) {
	c, err := r.commitObject(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s <%s>", c.Author.Name, c.Author.Email), nil
}

// SetBranch points a local branch at target, creating it if needed. An
// empty target deletes the branch. Used to carry undone reference moves
// back to the repository.
func (r *Repository) SetBranch(name string, target event.CommitID) error {
	refName := plumbing.NewBranchReferenceName(name)
	if target == "" {
		if err := r.repo.Storer.RemoveReference(refName); err != nil {
			return fmt.Errorf("deleting branch %s: %w", name, err)
		}
		return nil
	}
	ref := plumbing.NewHashReference(refName, plumbing.NewHash(string(target)))
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("moving branch %s: %w", name, err)
	}
	return nil
}

func (r *Repository) commitObject(id event.CommitID) (*object.Commit, error) {
	c, err := r.repo.CommitObject(plumbing.NewHash(string(id)))
	if err != nil {
		return nil, fmt.Errorf("resolving commit %s: %w", id, err)
	}
	return c, nil
}
