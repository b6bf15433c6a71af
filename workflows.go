package main

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
)

const workflowsDir = ".github/workflows"

// Workflow is a workflow file, an Actions workflow record, or both joined on
// path.
type Workflow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Filename    string `json:"filename"`
	Path        string `json:"path"`
	State       string `json:"state"`
	Status      string `json:"status"`
	Conclusion  string `json:"conclusion"`
	HTMLURL     string `json:"html_url"`
	Repository  string `json:"repository"`
	UpdatedAt   string `json:"updated_at"`
	DownloadURL string `json:"download_url,omitempty"`
	Size        int64  `json:"size,omitempty"`
	WorkflowID  int64  `json:"workflow_id,omitempty"`
	BadgeURL    string `json:"badge_url,omitempty"`
}

// Workflows lists the workflows of repository, or of the caller's
// repositories when repository is empty.
func (s *Scanner) Workflows(ctx context.Context, cred Credential, repository string, force bool) (ScanResult[Workflow], error) {
	key := scanKey(cred.Principal, repository)
	return cachedScan(s, s.workflows, "workflows", key, force, func() ([]Workflow, error) {
		scan := func(ctx context.Context, repository string) ([]Workflow, error) {
			return s.scanWorkflows(ctx, cred, repository)
		}
		if repository == "" {
			return aggregate(ctx, s, cred, "workflows", scan)
		}
		return scan(ctx, repository)
	})
}

// scanWorkflows reads the workflow directory and the Actions workflow list.
// A missing directory means no files; a failing Actions listing is logged and
// treated as empty because Actions may be disabled on the repository.
func (s *Scanner) scanWorkflows(ctx context.Context, cred Credential, repository string) ([]Workflow, error) {
	var contents []ghContent
	err := s.client.getJSON(ctx, cred, "repos.contents", contentsPath(repository, workflowsDir), &contents)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("workflows: failed to list %s in %s: %w", workflowsDir, repository, err)
	}

	var list ghWorkflowList
	if err := s.client.getJSON(ctx, cred, "actions.workflows", "/repos/"+repository+"/actions/workflows?per_page=100", &list); err != nil {
		s.logger.Debug("actions workflow list unavailable", zap.String("repo", repository), zap.Error(err))
		list.Workflows = nil
	}

	return mergeWorkflows(repository, contents, list.Workflows, s.now()), nil
}

func isYAMLFile(name string) bool {
	return strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml")
}

// mergeWorkflows joins workflow files with Actions records on path. Files come
// first in directory order; records with no file follow as ghost entries.
func mergeWorkflows(repository string, contents []ghContent, records []ghWorkflow, now time.Time) []Workflow {
	byPath := make(map[string]ghWorkflow, len(records))
	for _, r := range records {
		byPath[r.Path] = r
	}

	workflows := make([]Workflow, 0, len(contents)+len(records))
	seen := make(map[string]bool, len(contents))
	for _, f := range contents {
		if f.Type != "file" || !isYAMLFile(f.Name) {
			continue
		}
		p := workflowsDir + "/" + f.Name
		seen[p] = true

		w := Workflow{
			ID:          repository + "-" + f.SHA,
			Name:        strings.TrimSuffix(strings.TrimSuffix(f.Name, ".yml"), ".yaml"),
			Filename:    f.Name,
			Path:        p,
			State:       "active",
			Status:      "unknown",
			Conclusion:  "none",
			HTMLURL:     f.HTMLURL,
			Repository:  repository,
			UpdatedAt:   now.UTC().Format(time.RFC3339),
			DownloadURL: f.DownloadURL,
			Size:        f.Size,
		}
		if r, ok := byPath[p]; ok {
			if r.State != "" {
				w.State = r.State
			}
			w.WorkflowID = r.ID
			w.BadgeURL = r.BadgeURL
			if r.UpdatedAt != "" {
				w.UpdatedAt = r.UpdatedAt
			}
		}
		workflows = append(workflows, w)
	}

	for _, r := range records {
		if seen[r.Path] {
			continue
		}
		filename := path.Base(r.Path)
		if r.Path == "" {
			filename = r.Name
		}
		workflows = append(workflows, Workflow{
			ID:         fmt.Sprintf("%s-workflow-%d", repository, r.ID),
			Name:       r.Name,
			Filename:   filename,
			Path:       r.Path,
			State:      r.State,
			Status:     "unknown",
			Conclusion: "none",
			HTMLURL:    r.HTMLURL,
			Repository: repository,
			UpdatedAt:  r.UpdatedAt,
			WorkflowID: r.ID,
			BadgeURL:   r.BadgeURL,
		})
	}
	return workflows
}
