// Package vcs wraps the version control operations the pipeline's
// publish phase depends on: branch management, staging, commits,
// pushes, and pull requests.
//
// The pipeline treats an absent repository as a soft condition. It
// checks IsRepository first and skips publishing with a warning when
// the workspace is not under version control, so implementations only
// see the remaining calls inside a real repository.
package vcs

import "context"

// PullRequest describes a pull request to open.
type PullRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// PullRequestResult identifies an opened pull request.
type PullRequestResult struct {
	Number int
	URL    string
}

// Client is the version control surface consumed by the pipeline.
type Client interface {
	// IsRepository reports whether the workspace is a repository.
	IsRepository(ctx context.Context) bool

	// CurrentBranch returns the checked-out branch name.
	CurrentBranch(ctx context.Context) (string, error)

	// IsWorkingTreeClean reports whether the working tree has no
	// uncommitted changes.
	IsWorkingTreeClean(ctx context.Context) (bool, error)

	// CreateBranch creates and checks out a branch at HEAD, keeping
	// uncommitted working tree changes.
	CreateBranch(ctx context.Context, name string) error

	// StageFiles stages the given workspace-relative paths.
	StageFiles(ctx context.Context, paths []string) error

	// Commit records staged changes and returns the commit id.
	Commit(ctx context.Context, message string) (string, error)

	// Push uploads a branch to a remote.
	Push(ctx context.Context, remote, branch string) error

	// OpenPullRequest opens a pull request on the hosting provider.
	OpenPullRequest(ctx context.Context, pr PullRequest) (*PullRequestResult, error)
}
