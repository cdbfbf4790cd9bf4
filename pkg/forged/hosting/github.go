package hosting

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v41/github"
	"golang.org/x/oauth2"

	"github.com/appforge/forge/pkg/forged/metrics"
	"github.com/appforge/forge/pkg/retry"
)

const (
	maxDescriptionLength = 140
	fileMode             = "100644"
)

type githubClient struct {
	client  *gh.Client
	owner   string
	branch  string
	htmlURL string
}

// New wraps a configured GitHub API client.
func New(client *gh.Client, owner, branch string) Client {
	return &githubClient{
		client:  client,
		owner:   owner,
		branch:  branch,
		htmlURL: htmlBase(client.BaseURL),
	}
}

// TokenClient returns a Client authenticated with a personal access
// token. An empty baseURL means github.com; anything else is treated as
// a GitHub Enterprise installation.
func TokenClient(ctx context.Context, token, owner, baseURL, branch string) (Client, error) {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, tokenSource)

	client := gh.NewClient(httpClient)
	if len(baseURL) > 0 {
		var err error
		client, err = gh.NewEnterpriseClient(baseURL, baseURL, httpClient)
		if err != nil {
			return nil, fmt.Errorf("configure GitHub client: %s", err)
		}
	}

	return New(client, owner, branch), nil
}

func (c *githubClient) EnsureRepository(ctx context.Context, name, description string) (bool, error) {
	if len(description) > maxDescriptionLength {
		description = description[:maxDescriptionLength]
	}

	// Personal accounts create repositories without an organization.
	org := c.owner
	user, resp, err := c.client.Users.Get(ctx, "")
	if err = c.checkResponse(resp, err, name); err != nil {
		return false, fmt.Errorf("get authenticated user: %w", err)
	}
	if strings.EqualFold(user.GetLogin(), c.owner) {
		org = ""
	}

	repository := &gh.Repository{
		Name:        gh.String(name),
		Description: gh.String(description),
		Private:     gh.Bool(false),
		HasIssues:   gh.Bool(false),
		HasProjects: gh.Bool(false),
		HasWiki:     gh.Bool(false),
	}

	_, resp, err = c.client.Repositories.Create(ctx, org, repository)
	if err = c.checkResponse(resp, err, name); err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			// a repository with this name already exists
			return false, nil
		}
		return false, fmt.Errorf("create repository: %w", err)
	}

	return true, nil
}

func (c *githubClient) Commit(ctx context.Context, name, message string, files []File, replace bool) (string, error) {
	base, resp, err := c.client.Git.GetRef(ctx, c.owner, name, "heads/"+c.branch)
	err = c.checkResponse(resp, err, name)
	newBranch := false
	if err != nil {
		// 404 and 409 both mean the branch has no commits yet
		if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusConflict) {
			newBranch = true
		} else {
			return "", fmt.Errorf("resolve branch %s: %w", c.branch, err)
		}
	}

	// Without a base tree the commit contains exactly the given files,
	// wiping leftovers from earlier rounds.
	baseTree := ""
	if !replace && !newBranch {
		parent, resp, err := c.client.Git.GetCommit(ctx, c.owner, name, base.GetObject().GetSHA())
		if err = c.checkResponse(resp, err, name); err != nil {
			return "", fmt.Errorf("resolve head commit: %w", err)
		}
		baseTree = parent.GetTree().GetSHA()
	}

	entries := make([]*gh.TreeEntry, 0, len(files))
	for _, file := range files {
		blob, resp, err := c.client.Git.CreateBlob(ctx, c.owner, name, &gh.Blob{
			Content:  gh.String(base64.StdEncoding.EncodeToString(file.Content)),
			Encoding: gh.String("base64"),
		})
		if err = c.checkResponse(resp, err, name); err != nil {
			return "", fmt.Errorf("upload %s: %w", file.Path, err)
		}
		entries = append(entries, &gh.TreeEntry{
			Path: gh.String(file.Path),
			Mode: gh.String(fileMode),
			Type: gh.String("blob"),
			SHA:  blob.SHA,
		})
	}

	tree, resp, err := c.client.Git.CreateTree(ctx, c.owner, name, baseTree, entries)
	if err = c.checkResponse(resp, err, name); err != nil {
		return "", fmt.Errorf("create tree: %w", err)
	}

	commit := &gh.Commit{
		Message: gh.String(message),
		Tree:    tree,
	}
	if !newBranch {
		commit.Parents = []*gh.Commit{{SHA: gh.String(base.GetObject().GetSHA())}}
	}

	created, resp, err := c.client.Git.CreateCommit(ctx, c.owner, name, commit)
	if err = c.checkResponse(resp, err, name); err != nil {
		return "", fmt.Errorf("create commit: %w", err)
	}

	reference := &gh.Reference{
		Ref:    gh.String("refs/heads/" + c.branch),
		Object: &gh.GitObject{SHA: created.SHA},
	}
	if newBranch {
		_, resp, err = c.client.Git.CreateRef(ctx, c.owner, name, reference)
	} else {
		_, resp, err = c.client.Git.UpdateRef(ctx, c.owner, name, reference, true)
	}
	if err = c.checkResponse(resp, err, name); err != nil {
		return "", fmt.Errorf("update branch %s: %w", c.branch, err)
	}

	return created.GetSHA(), nil
}

func (c *githubClient) EnablePages(ctx context.Context, name string) (string, error) {
	pages := &gh.Pages{
		Source: &gh.PagesSource{
			Branch: gh.String(c.branch),
			Path:   gh.String("/"),
		},
	}

	enabled, resp, err := c.client.Repositories.EnablePages(ctx, c.owner, name, pages)
	alreadyEnabled := err != nil && resp != nil && resp.StatusCode == http.StatusConflict
	if err = c.checkResponse(resp, err, name); err != nil && !alreadyEnabled {
		return "", fmt.Errorf("enable pages: %w", err)
	}
	if !alreadyEnabled {
		return enabled.GetHTMLURL(), nil
	}

	info, resp, err := c.client.Repositories.GetPagesInfo(ctx, c.owner, name)
	if err = c.checkResponse(resp, err, name); err != nil {
		return "", fmt.Errorf("read pages configuration: %w", err)
	}

	return info.GetHTMLURL(), nil
}

func (c *githubClient) Documentation(ctx context.Context, name string) (string, error) {
	readme, resp, err := c.client.Repositories.GetReadme(ctx, c.owner, name, nil)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		metrics.HostingRequest(resp.StatusCode, name)
		return "", nil
	}
	if err = c.checkResponse(resp, err, name); err != nil {
		return "", fmt.Errorf("fetch documentation: %w", err)
	}

	return readme.GetContent()
}

func (c *githubClient) RepositoryURL(name string) string {
	return fmt.Sprintf("%s/%s/%s", c.htmlURL, c.owner, name)
}

// Pages sites live on github.io regardless of the API endpoint.
func (c *githubClient) PagesURL(name string) string {
	return fmt.Sprintf("https://%s.github.io/%s/", strings.ToLower(c.owner), strings.ToLower(name))
}

func (c *githubClient) checkResponse(resp *gh.Response, err error, repository string) error {
	if resp != nil {
		metrics.HostingRequest(resp.StatusCode, repository)
	}
	if err == nil {
		return nil
	}
	if resp != nil && permanentStatus(resp.StatusCode) {
		return retry.Abort(err)
	}
	return err
}

// Client errors other than rate limiting will not improve on retry.
func permanentStatus(statusCode int) bool {
	return statusCode >= 400 && statusCode < 500 && statusCode != http.StatusTooManyRequests
}

func htmlBase(apiURL *url.URL) string {
	if apiURL == nil || strings.HasSuffix(apiURL.Host, "github.com") {
		return "https://github.com"
	}
	return strings.TrimSuffix(strings.TrimSuffix(apiURL.String(), "/"), "/api/v3")
}
