package main

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// maxWalkDepth bounds the contents walk used when the git tree is truncated.
const maxWalkDepth = 10

// walkContents recursively lists repository ("owner/repo") through the
// contents API starting at dir. Files map to "blob" entries and directories
// to "tree" entries so the result can be classified like a git tree.
// A subdirectory that fails to list is logged and skipped.
func (c *GitHubClient) walkContents(ctx context.Context, cred Credential, repository, dir string) ([]TreeEntry, error) {
	entries := make([]TreeEntry, 0)
	if err := c.walkDir(ctx, cred, repository, dir, 0, &entries); err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (c *GitHubClient) walkDir(ctx context.Context, cred Credential, repository, dir string, depth int, out *[]TreeEntry) error {
	var contents []ghContent
	if err := c.getJSON(ctx, cred, "repos.contents", contentsPath(repository, dir), &contents); err != nil {
		return fmt.Errorf("failed to list %s/%s: %w", repository, dir, err)
	}

	for _, item := range contents {
		switch item.Type {
		case "file":
			*out = append(*out, TreeEntry{Path: item.Path, Type: "blob", SHA: item.SHA, Size: item.Size})
		case "dir":
			*out = append(*out, TreeEntry{Path: item.Path, Type: "tree", SHA: item.SHA})
			if depth+1 >= maxWalkDepth {
				c.logger.Debug("contents walk depth limit reached", zap.String("path", item.Path))
				continue
			}
			if err := c.walkDir(ctx, cred, repository, item.Path, depth+1, out); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Warn("skipping directory", zap.String("repository", repository), zap.String("path", item.Path), zap.Error(err))
			}
		}
	}
	return nil
}

// contentsPath builds /repos/{repository}/contents/{dir} with each path
// segment escaped.
func contentsPath(repository, dir string) string {
	dir = strings.Trim(dir, "/")
	if dir == "" {
		return "/repos/" + repository + "/contents/"
	}
	segments := strings.Split(dir, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/repos/" + repository + "/contents/" + strings.Join(segments, "/")
}
