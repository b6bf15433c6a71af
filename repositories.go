package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DetectedFiles flags the kinds of automation found in a repository.
type DetectedFiles struct {
	Workflow   bool `json:"workflow"`
	Terraform  bool `json:"terraform"`
	Dockerfile bool `json:"dockerfile"`
}

// RepositorySummary is one row of the repositories dashboard.
type RepositorySummary struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	FullName        string        `json:"full_name"`
	Description     string        `json:"description"`
	DefaultBranch   string        `json:"default_branch"`
	UpdatedAt       string        `json:"updated_at"`
	Private         bool          `json:"private"`
	HTMLURL         string        `json:"html_url"`
	CloneURL        string        `json:"clone_url"`
	SSHURL          string        `json:"ssh_url"`
	Language        string        `json:"language"`
	StargazersCount int           `json:"stargazers_count"`
	ForksCount      int           `json:"forks_count"`
	Status          string        `json:"status"`
	Source          string        `json:"source"`
	ConnectionType  string        `json:"connectionType"`
	DetectedFiles   DetectedFiles `json:"detectedFiles"`
}

// ListRepositories returns the caller's repositories, each probed for
// workflows, Terraform and a Dockerfile. Probes run concurrently across
// repositories and sequentially within one; a failed probe reads as absent.
func (s *Scanner) ListRepositories(ctx context.Context, cred Credential) ([]RepositorySummary, error) {
	repos, err := s.listRepositories(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("repositories: failed to list: %w", err)
	}

	connection := "GitHub OAuth"
	if cred.Kind == CredentialInstallation {
		connection = "GitHub App"
	}

	summaries := make([]RepositorySummary, len(repos))
	var g errgroup.Group
	for i, repo := range repos {
		g.Go(func() error {
			summaries[i] = repositorySummary(repo, connection, s.detectFiles(ctx, cred, repo.FullName))
			return nil
		})
	}
	_ = g.Wait()

	return summaries, nil
}

func (s *Scanner) detectFiles(ctx context.Context, cred Credential, repository string) DetectedFiles {
	var d DetectedFiles
	d.Workflow = s.exists(ctx, cred, contentsPath(repository, workflowsDir))

	var search struct {
		TotalCount int `json:"total_count"`
	}
	q := url.QueryEscape("extension:tf repo:" + repository)
	if err := s.client.getJSON(ctx, cred, "search.code", "/search/code?q="+q, &search); err != nil {
		s.logger.Debug("terraform probe failed", zap.String("repo", repository), zap.Error(err))
	} else {
		d.Terraform = search.TotalCount > 0
	}

	d.Dockerfile = s.exists(ctx, cred, contentsPath(repository, "Dockerfile"))
	return d
}

func (s *Scanner) exists(ctx context.Context, cred Credential, path string) bool {
	return s.client.getJSON(ctx, cred, "repos.contents", path, nil) == nil
}

func repositorySummary(r ghRepository, connection string, detected DetectedFiles) RepositorySummary {
	sshURL := r.SSHURL
	if sshURL == "" {
		sshURL = "git@github.com:" + r.FullName + ".git"
	}
	language := r.Language
	if language == "" {
		language = "Unknown"
	}
	return RepositorySummary{
		ID:              strconv.FormatInt(r.ID, 10),
		Name:            r.Name,
		FullName:        r.FullName,
		Description:     r.Description,
		DefaultBranch:   r.DefaultBranch,
		UpdatedAt:       r.UpdatedAt,
		Private:         r.Private,
		HTMLURL:         r.HTMLURL,
		CloneURL:        r.CloneURL,
		SSHURL:          sshURL,
		Language:        language,
		StargazersCount: r.StargazersCount,
		ForksCount:      r.ForksCount,
		Status:          "Connected",
		Source:          "GitHub",
		ConnectionType:  connection,
		DetectedFiles:   detected,
	}
}
