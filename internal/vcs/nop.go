package vcs

import (
	"context"

	"github.com/fyrsmithlabs/taskd/internal/fault"
)

// NopClient is a Client for workspaces without version control. It
// reports no repository, so a pipeline honoring the soft-skip contract
// never reaches the other methods; those return EXTERNAL faults in
// case a caller does.
type NopClient struct{}

var _ Client = NopClient{}

func (NopClient) IsRepository(ctx context.Context) bool { return false }

func (NopClient) CurrentBranch(ctx context.Context) (string, error) {
	return "", nopFault("vcs.NopClient.CurrentBranch")
}

func (NopClient) IsWorkingTreeClean(ctx context.Context) (bool, error) {
	return false, nopFault("vcs.NopClient.IsWorkingTreeClean")
}

func (NopClient) CreateBranch(ctx context.Context, name string) error {
	return nopFault("vcs.NopClient.CreateBranch")
}

func (NopClient) StageFiles(ctx context.Context, paths []string) error {
	return nopFault("vcs.NopClient.StageFiles")
}

func (NopClient) Commit(ctx context.Context, message string) (string, error) {
	return "", nopFault("vcs.NopClient.Commit")
}

func (NopClient) Push(ctx context.Context, remote, branch string) error {
	return nopFault("vcs.NopClient.Push")
}

func (NopClient) OpenPullRequest(ctx context.Context, pr PullRequest) (*PullRequestResult, error) {
	return nil, nopFault("vcs.NopClient.OpenPullRequest")
}

func nopFault(op string) error {
	return fault.New(fault.CodeExternal, op, "no repository")
}
