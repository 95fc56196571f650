package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v75/github"
	"github.com/portfolio-agent-poc/server/internal/agent/model"
	logx "github.com/portfolio-agent-poc/server/pkg/logger"
)

// GitHubClient serves the repo_list, repo_info and repo_file tools against
// the configured account. All operations are read-only.
type GitHubClient struct {
	gh       *github.Client
	username string
}

func NewGitHubClient(cfg model.GitHubConfig) (*GitHubClient, error) {
	if cfg.Username == "" {
		return nil, fmt.Errorf("github username is required")
	}

	gh := github.NewClient(nil)
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		gh.BaseURL = u
	}

	return &GitHubClient{gh: gh, username: cfg.Username}, nil
}

func (c *GitHubClient) Service() model.Service {
	return model.ServiceGitHub
}

func (c *GitHubClient) Invoke(ctx context.Context, inv model.ToolInvocation) (*model.ToolOutput, error) {
	var (
		payload string
		err     error
	)
	switch inv.Tool {
	case model.ToolRepoList:
		payload, err = c.listRepositories(ctx)
	case model.ToolRepoInfo:
		payload, err = c.repositoryInfo(ctx, inv.Arg(model.ArgRepo))
	case model.ToolRepoFile:
		payload, err = c.fileContents(ctx, inv.Arg(model.ArgRepo), inv.Arg(model.ArgPath))
	default:
		return nil, model.NewToolError(inv.Tool, model.ErrUnknown, fmt.Errorf("unsupported github tool %q", inv.Tool))
	}
	if err != nil {
		return nil, mapGitHubError(inv.Tool, err)
	}
	return &model.ToolOutput{Tool: inv.Tool, Payload: payload, RetrievedAt: time.Now()}, nil
}

// listRepositories fetches every public repository of the account, following
// pagination until the API reports no next page.
func (c *GitHubClient) listRepositories(ctx context.Context) (string, error) {
	opts := &github.RepositoryListByUserOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var b strings.Builder
	for {
		repos, resp, err := c.gh.Repositories.ListByUser(ctx, c.username, opts)
		if err != nil {
			return "", err
		}
		for _, r := range repos {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", r.GetName(), r.GetDescription(), r.GetHTMLURL())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	if b.Len() == 0 {
		return fmt.Sprintf("No public repositories found for %s.", c.username), nil
	}
	return fmt.Sprintf("Public repositories of %s:\n%s", c.username, b.String()), nil
}

func (c *GitHubClient) repositoryInfo(ctx context.Context, repo string) (string, error) {
	r, _, err := c.gh.Repositories.Get(ctx, c.username, repo)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(
		"Repository %s/%s\nDescription: %s\nLanguage: %s\nStars: %d\nLast updated: %s\nURL: %s",
		c.username, r.GetName(), r.GetDescription(), r.GetLanguage(),
		r.GetStargazersCount(), r.GetUpdatedAt().Format(time.RFC3339), r.GetHTMLURL(),
	), nil
}

// fileContents reads a file, or renders a name/type listing when the path is
// a directory. Empty files are reported as such instead of as empty content.
func (c *GitHubClient) fileContents(ctx context.Context, repo, path string) (string, error) {
	file, dir, _, err := c.gh.Repositories.GetContents(ctx, c.username, repo, path, nil)
	if err != nil {
		return "", err
	}

	if dir != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "Directory contents of %s/%s:\n", repo, displayPath(path))
		for _, entry := range dir {
			fmt.Fprintf(&b, "- %s (%s)\n", entry.GetName(), entry.GetType())
		}
		return b.String(), nil
	}

	if file.GetSize() == 0 {
		return fmt.Sprintf("File exists but is empty: %s in %s", path, repo), nil
	}

	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode file content: %w", err)
	}
	return content, nil
}

func displayPath(path string) string {
	if path == "" || path == "/" {
		return "root"
	}
	return path
}

// mapGitHubError translates go-github errors into the tool failure taxonomy.
func mapGitHubError(tool model.ToolID, err error) *model.ToolError {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	var respErr *github.ErrorResponse

	switch {
	case errors.As(err, &rateErr), errors.As(err, &abuseErr):
		return model.NewToolError(tool, model.ErrRateLimit, err)
	case errors.As(err, &respErr):
		switch code := respErr.Response.StatusCode; {
		case code == http.StatusNotFound:
			return model.NewToolError(tool, model.ErrNotFound, err)
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return model.NewToolError(tool, model.ErrAuth, err)
		case code >= 500:
			return model.NewToolError(tool, model.ErrTransient, err)
		default:
			return model.NewToolError(tool, model.ErrUnknown, err)
		}
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewToolError(tool, model.ErrTimeout, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return model.NewToolError(tool, model.ErrTimeout, err)
		}
		return model.NewToolError(tool, model.ErrTransient, err)
	}

	logx.Debug().Err(err).Str("tool", string(tool)).Msg("unclassified github error")
	return model.NewToolError(tool, model.ErrUnknown, err)
}

var _ ToolClient = (*GitHubClient)(nil)
