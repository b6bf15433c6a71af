package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"
)

// ghContentUpdate is the body of PUT /repos/{owner}/{repo}/contents/{path}.
type ghContentUpdate struct {
	Content ghContent `json:"content"`
	Commit  struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	} `json:"commit"`
}

// contentPut is the request body of a contents PUT. Content is base64.
type contentPut struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// SavedFile reports a file written with SaveFile.
type SavedFile struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Repository string `json:"repository"`
	Type       string `json:"type,omitempty"`
	URL        string `json:"url"`
	SHA        string `json:"sha"`
	Updated    bool   `json:"-"`
}

// validRepoPath reports whether p is a clean path inside a repository.
func validRepoPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.ContainsRune(p, 0) {
		return false
	}
	if path.Clean(p) != p {
		return false
	}
	return p != ".." && !strings.HasPrefix(p, "../")
}

// GetFile reads one file through the contents API.
func (c *GitHubClient) GetFile(ctx context.Context, cred Credential, repository, filePath string) (*ghContent, error) {
	var file ghContent
	if err := c.getJSON(ctx, cred, "repos.contents", contentsPath(repository, filePath), &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// getContentsRaw returns the contents API document for filePath unchanged.
func (c *GitHubClient) getContentsRaw(ctx context.Context, cred Credential, repository, filePath string) (json.RawMessage, error) {
	return c.proxyJSON(ctx, cred, "repos.contents", contentsPath(repository, filePath))
}

// putContentsRaw writes filePath and returns GitHub's response unchanged.
func (c *GitHubClient) putContentsRaw(ctx context.Context, cred Credential, repository, filePath string, put contentPut) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, cred, "repos.contents.put", http.MethodPut, contentsPath(repository, filePath), put, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// SaveFile creates filePath with content, or updates it when it already
// exists. message is called with whether the file is being updated.
func (c *GitHubClient) SaveFile(ctx context.Context, cred Credential, repository, filePath string, content []byte, message func(update bool) string) (*SavedFile, error) {
	if !validRepoPath(filePath) {
		return nil, fmt.Errorf("contents: invalid path %q", filePath)
	}

	var sha string
	existing, err := c.GetFile(ctx, cred, repository, filePath)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("contents: failed to check %s in %s: %w", filePath, repository, err)
	default:
		sha = existing.SHA
	}
	update := sha != ""

	var out ghContentUpdate
	put := contentPut{
		Message: message(update),
		Content: base64.StdEncoding.EncodeToString(content),
		SHA:     sha,
	}
	if err := c.do(ctx, cred, "repos.contents.put", http.MethodPut, contentsPath(repository, filePath), put, &out); err != nil {
		return nil, fmt.Errorf("contents: failed to save %s in %s: %w", filePath, repository, err)
	}

	c.logger.Info("file saved",
		zap.String("repo", repository), zap.String("path", filePath), zap.Bool("updated", update))
	return &SavedFile{
		Name:       path.Base(filePath),
		Path:       filePath,
		Repository: repository,
		URL:        out.Content.HTMLURL,
		SHA:        out.Content.SHA,
		Updated:    update,
	}, nil
}

// saveTarget maps a save request onto a repository path and commit message.
type saveTarget struct {
	noun string // used in the response message, e.g. "Workflow"
	// resolve returns the path for filename of the given kind and the commit
	// message builder. ok is false for filenames that cannot be placed.
	resolve func(kind, filename string) (filePath string, message func(update bool) string, ok bool)
}

var workflowSaveTarget = saveTarget{
	noun: "Workflow",
	resolve: func(_, filename string) (string, func(bool) string, bool) {
		name := normalizeWorkflowFilename(filename)
		if strings.Contains(name, "/") {
			return "", nil, false
		}
		return workflowsDir + "/" + name, func(update bool) string {
			if update {
				return "Update workflow: " + name
			}
			return "Add workflow: " + name
		}, true
	},
}

var infrastructureDirs = map[string]string{
	"terraform":      "terraform/",
	"cloudformation": "cloudformation/",
	"kubernetes":     "k8s/",
	"ansible":        "ansible/",
}

var infrastructureSaveTarget = saveTarget{
	noun: "Infrastructure file",
	resolve: func(kind, filename string) (string, func(bool) string, bool) {
		return infrastructureDirs[kind] + filename, commitMessage(kind, "infrastructure", filename), true
	},
}

var containerSaveTarget = saveTarget{
	noun: "Container file",
	resolve: func(kind, filename string) (string, func(bool) string, bool) {
		p := filename
		switch kind {
		case "docker-compose":
			if !strings.Contains(filename, "docker-compose") {
				p = "docker-compose.yml"
			}
		case "kubernetes":
			p = "k8s/" + filename
		}
		return p, commitMessage(kind, "container", filename), true
	},
}

func commitMessage(kind, what, filename string) func(bool) string {
	return func(update bool) string {
		verb := "Add"
		if update {
			verb = "Update"
		}
		if kind == "" {
			return fmt.Sprintf("%s %s: %s", verb, what, filename)
		}
		return fmt.Sprintf("%s %s %s: %s", verb, kind, what, filename)
	}
}
