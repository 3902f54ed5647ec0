package vcs

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/taskd/internal/fault"
)

// OpenPullRequest implements Client. The hosting project is taken from
// Config.Owner/Repo, or parsed from the remote URL when unset.
func (g *Git) OpenPullRequest(ctx context.Context, pr PullRequest) (*PullRequestResult, error) {
	const op = "vcs.Git.OpenPullRequest"

	if !g.cfg.Token.IsSet() {
		return nil, fault.New(fault.CodeExternal, op, "hosting provider token not configured")
	}

	owner, repo, err := g.project()
	if err != nil {
		return nil, fault.Wrap(fault.CodeExternal, op, err)
	}

	client := newGitHubClient(ctx, g.cfg.Token.Value())
	created, _, err := client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(pr.Title),
		Body:  github.String(pr.Body),
		Head:  github.String(pr.Head),
		Base:  github.String(pr.Base),
	})
	if err != nil {
		return nil, fault.Wrap(fault.CodeExternal, op, err)
	}

	result := &PullRequestResult{Number: created.GetNumber(), URL: created.GetHTMLURL()}
	g.logger.Info("opened pull request",
		zap.String("repo", owner+"/"+repo),
		zap.Int("number", result.Number),
		zap.String("url", result.URL),
	)
	return result, nil
}

func (g *Git) project() (owner, repo string, err error) {
	if g.cfg.Owner != "" && g.cfg.Repo != "" {
		return g.cfg.Owner, g.cfg.Repo, nil
	}
	url, err := g.remoteURL()
	if err != nil {
		return "", "", err
	}
	owner, repo, ok := parseOwnerRepo(url)
	if !ok {
		return "", "", fmt.Errorf("cannot determine owner/repo from remote URL %q", url)
	}
	return owner, repo, nil
}

func newGitHubClient(ctx context.Context, token string) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}
