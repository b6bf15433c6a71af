package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var composeFileNames = []string{"docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml"}

// maxK8sProbeFiles caps the k8s/ manifests reported per repository when
// probing.
const maxK8sProbeFiles = 3

// Containers finds container definitions. A single repository is classified
// from its full tree; the aggregate scan probes well-known paths in each of
// the caller's repositories.
func (s *Scanner) Containers(ctx context.Context, cred Credential, repository string, force bool) (ScanResult[ClassifiedFile], error) {
	key := scanKey(cred.Principal, repository)
	return cachedScan(s, s.containers, "containers", key, force, func() ([]ClassifiedFile, error) {
		if repository == "" {
			return aggregate(ctx, s, cred, "containers", func(ctx context.Context, repository string) ([]ClassifiedFile, error) {
				return s.probeContainers(ctx, cred, repository)
			})
		}
		return ClassifyRepositoryFiles(ctx, s.client, cred, repository, ContainerRules)
	})
}

// probeContainers checks the root Dockerfile, the first compose file present,
// up to three k8s/ manifests and .dockerignore, in that order. A probe that
// fails is logged and counted as absent; the repository is only given up
// when no probe got an answer from GitHub.
func (s *Scanner) probeContainers(ctx context.Context, cred Credential, repository string) ([]ClassifiedFile, error) {
	files := make([]ClassifiedFile, 0)
	var failures []error
	answered := 0

	probe := func(name string) *ghContent {
		c, err := s.probeFile(ctx, cred, repository, name)
		if err != nil {
			s.logger.Warn("container probe failed, treating as absent",
				zap.String("repo", repository), zap.String("file", name), zap.Error(err))
			failures = append(failures, err)
			return nil
		}
		answered++
		return c
	}

	if dockerfile := probe("Dockerfile"); dockerfile != nil {
		files = append(files, probedFile(repository, "dockerfile", "Dockerfile", dockerfile))
	}

	for _, name := range composeFileNames {
		if compose := probe(name); compose != nil {
			files = append(files, probedFile(repository, name, "Docker Compose", compose))
			break
		}
	}

	var k8s []ghContent
	err := s.client.getJSON(ctx, cred, "repos.contents", contentsPath(repository, "k8s"), &k8s)
	switch {
	case errors.Is(err, ErrNotFound):
		answered++
	case err != nil:
		s.logger.Warn("container probe failed, treating as absent",
			zap.String("repo", repository), zap.String("file", "k8s/"), zap.Error(err))
		failures = append(failures, fmt.Errorf("containers: failed to list k8s/ in %s: %w", repository, err))
	default:
		answered++
		n := 0
		for _, entry := range k8s {
			if n == maxK8sProbeFiles {
				break
			}
			if !isYAMLFile(entry.Name) {
				continue
			}
			f := probedFile(repository, "k8s-"+entry.Name, "Kubernetes", &entry)
			f.Path = "k8s/" + entry.Name
			f.Content = ""
			files = append(files, f)
			n++
		}
	}

	if dockerignore := probe(".dockerignore"); dockerignore != nil {
		files = append(files, probedFile(repository, "dockerignore", "Docker Ignore", dockerignore))
	}

	if answered == 0 {
		return nil, fmt.Errorf("containers: %s unreachable: %w", repository, errors.Join(failures...))
	}
	return files, nil
}

// probeFile fetches a root-level file. A 404 yields nil, nil.
func (s *Scanner) probeFile(ctx context.Context, cred Credential, repository, name string) (*ghContent, error) {
	var c ghContent
	err := s.client.getJSON(ctx, cred, "repos.contents", contentsPath(repository, name), &c)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("containers: failed to probe %s in %s: %w", name, repository, err)
	}
	return &c, nil
}

func probedFile(repository, idSuffix, label string, c *ghContent) ClassifiedFile {
	name := c.Name
	if name == "" {
		name = idSuffix
	}
	p := c.Path
	if p == "" {
		p = name
	}
	return ClassifiedFile{
		ID:          repository + "-" + idSuffix,
		Name:        name,
		Type:        label,
		Path:        p,
		Repository:  repository,
		Content:     strings.TrimSpace(c.Content),
		DownloadURL: c.DownloadURL,
		HTMLURL:     c.HTMLURL,
		Size:        c.Size,
		SHA:         c.SHA,
	}
}
