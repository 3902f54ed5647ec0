package vcs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskd/internal/config"
	"github.com/fyrsmithlabs/taskd/internal/fault"
)

// Config configures the Git client.
type Config struct {
	// Root is the workspace directory expected to hold the repository.
	Root string

	// Remote is the remote pushed to. Defaults to "origin".
	Remote string

	// Owner and Repo identify the hosting project for pull requests.
	// When empty they are parsed from the origin remote URL.
	Owner string
	Repo  string

	// CommitAuthor and CommitEmail sign generated commits.
	CommitAuthor string
	CommitEmail  string

	// Token authenticates pushes over HTTPS and pull request calls.
	Token config.Secret
}

// Git implements Client on a local repository via go-git, with pull
// requests opened through the GitHub API.
//
// The repository is opened per call rather than held open: the
// workspace may become a repository after the client is constructed,
// and IsRepository is expected to answer the current state.
type Git struct {
	cfg    Config
	logger *zap.Logger
}

var _ Client = (*Git)(nil)

// NewGit builds a Git client rooted at cfg.Root.
func NewGit(cfg Config, logger *zap.Logger) (*Git, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Root == "" {
		return nil, errors.New("vcs: workspace root must be set")
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("vcs: resolve workspace root: %w", err)
	}
	cfg.Root = root

	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.CommitAuthor == "" {
		cfg.CommitAuthor = "taskd"
	}
	if cfg.CommitEmail == "" {
		cfg.CommitEmail = "taskd@localhost"
	}
	return &Git{cfg: cfg, logger: logger}, nil
}

func (g *Git) open() (*git.Repository, error) {
	return git.PlainOpen(g.cfg.Root)
}

// IsRepository implements Client.
func (g *Git) IsRepository(ctx context.Context) bool {
	_, err := g.open()
	return err == nil
}

// CurrentBranch implements Client. Detached HEAD is reported as an
// error since the publish flow needs a branch to return to.
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	repo, err := g.open()
	if err != nil {
		return "", fault.Wrap(fault.CodeExternal, "vcs.Git.CurrentBranch", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fault.Wrap(fault.CodeExternal, "vcs.Git.CurrentBranch", err)
	}
	if !head.Name().IsBranch() {
		return "", fault.New(fault.CodeExternal, "vcs.Git.CurrentBranch", "HEAD is not on a branch")
	}
	return head.Name().Short(), nil
}

// IsWorkingTreeClean implements Client.
func (g *Git) IsWorkingTreeClean(ctx context.Context) (bool, error) {
	wt, err := g.worktree()
	if err != nil {
		return false, err
	}
	status, err := wt.Status()
	if err != nil {
		return false, fault.Wrap(fault.CodeExternal, "vcs.Git.IsWorkingTreeClean", err)
	}
	return status.IsClean(), nil
}

// CreateBranch implements Client. The branch is created at HEAD and
// checked out with uncommitted changes kept, since the pipeline writes
// files before branching.
func (g *Git) CreateBranch(ctx context.Context, name string) error {
	wt, err := g.worktree()
	if err != nil {
		return err
	}
	err = wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Create: true,
		Keep:   true,
	})
	if err != nil {
		return fault.Wrap(fault.CodeExternal, "vcs.Git.CreateBranch", err)
	}
	g.logger.Info("created branch", zap.String("branch", name))
	return nil
}

// StageFiles implements Client. Absolute paths are rewritten relative
// to the workspace root.
func (g *Git) StageFiles(ctx context.Context, paths []string) error {
	wt, err := g.worktree()
	if err != nil {
		return err
	}
	for _, p := range paths {
		rel := p
		if filepath.IsAbs(p) {
			rel, err = filepath.Rel(g.cfg.Root, p)
			if err != nil {
				return fault.Wrap(fault.CodeExternal, "vcs.Git.StageFiles", err)
			}
		}
		if _, err := wt.Add(filepath.ToSlash(rel)); err != nil {
			return fault.Wrap(fault.CodeExternal, "vcs.Git.StageFiles",
				fmt.Errorf("stage %s: %w", rel, err))
		}
	}
	return nil
}

// Commit implements Client.
func (g *Git) Commit(ctx context.Context, message string) (string, error) {
	wt, err := g.worktree()
	if err != nil {
		return "", err
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.cfg.CommitAuthor,
			Email: g.cfg.CommitEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fault.Wrap(fault.CodeExternal, "vcs.Git.Commit", err)
	}
	g.logger.Info("created commit", zap.String("commit", hash.String()))
	return hash.String(), nil
}

// Push implements Client. An up-to-date remote is treated as success.
func (g *Git) Push(ctx context.Context, remote, branch string) error {
	repo, err := g.open()
	if err != nil {
		return fault.Wrap(fault.CodeExternal, "vcs.Git.Push", err)
	}
	if remote == "" {
		remote = g.cfg.Remote
	}

	opts := &git.PushOptions{
		RemoteName: remote,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch)),
		},
	}
	if g.cfg.Token.IsSet() {
		// GitHub accepts any username with a token over HTTPS.
		opts.Auth = &githttp.BasicAuth{Username: "x-access-token", Password: g.cfg.Token.Value()}
	}

	if err := repo.PushContext(ctx, opts); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return fault.Wrap(fault.CodeExternal, "vcs.Git.Push", err)
	}
	g.logger.Info("pushed branch", zap.String("remote", remote), zap.String("branch", branch))
	return nil
}

func (g *Git) worktree() (*git.Worktree, error) {
	repo, err := g.open()
	if err != nil {
		return nil, fault.Wrap(fault.CodeExternal, "vcs.Git", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fault.Wrap(fault.CodeExternal, "vcs.Git", err)
	}
	return wt, nil
}

// remoteURL returns the first URL of the configured remote.
func (g *Git) remoteURL() (string, error) {
	repo, err := g.open()
	if err != nil {
		return "", err
	}
	remote, err := repo.Remote(g.cfg.Remote)
	if err != nil {
		return "", err
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("remote %q has no URL", g.cfg.Remote)
	}
	return urls[0], nil
}

var (
	sshRemotePattern   = regexp.MustCompile(`git@github\.com:([^/]+)/(.+?)(?:\.git)?$`)
	httpsRemotePattern = regexp.MustCompile(`github\.com/([^/]+)/(.+?)(?:\.git)?/?$`)
)

// parseOwnerRepo extracts the GitHub owner and repository name from a
// remote URL. Supports git@github.com:owner/repo.git and
// https://github.com/owner/repo forms.
func parseOwnerRepo(url string) (owner, repo string, ok bool) {
	url = strings.TrimSpace(url)
	if m := sshRemotePattern.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2], true
	}
	if m := httpsRemotePattern.FindStringSubmatch(url); len(m) == 3 {
		return m[1], m[2], true
	}
	return "", "", false
}
