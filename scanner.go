package main

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// staleDataMessage accompanies cached data served because GitHub failed.
const staleDataMessage = "API temporarily unavailable, showing cached data"

// ScanResult is what a scanner hands to the HTTP layer.
type ScanResult[T any] struct {
	Items  []T
	Cached bool
	Error  string
}

// Scanner runs the infrastructure, workflow and container scans and owns
// their result caches. Cache keys are "<principal>|<owner/repo>", or
// "<principal>|*" for aggregate scans.
type Scanner struct {
	client         *GitHubClient
	ttl            time.Duration
	aggregateLimit int
	logger         *zap.Logger
	metrics        *Metrics
	now            func() time.Time

	infrastructure *TTLCache[[]ClassifiedFile]
	workflows      *TTLCache[[]Workflow]
	containers     *TTLCache[[]ClassifiedFile]
}

// NewScanner creates a scanner whose results live for ttl and whose
// aggregate scans cover the first aggregateLimit repositories.
func NewScanner(client *GitHubClient, ttl time.Duration, aggregateLimit int, logger *zap.Logger, metrics *Metrics) *Scanner {
	return &Scanner{
		client:         client,
		ttl:            ttl,
		aggregateLimit: aggregateLimit,
		logger:         logger.Named("scanner"),
		metrics:        metrics,
		now:            time.Now,
		infrastructure: NewTTLCache[[]ClassifiedFile](),
		workflows:      NewTTLCache[[]Workflow](),
		containers:     NewTTLCache[[]ClassifiedFile](),
	}
}

func scanKey(principal, repository string) string {
	if repository == "" {
		repository = "*"
	}
	return principal + "|" + repository
}

// cachedScan serves key from cache unless force is set, otherwise runs fetch
// and stores the result. When fetch fails and any entry exists, however old,
// that entry is served with a warning instead of the error.
func cachedScan[T any](s *Scanner, cache *TTLCache[[]T], scanner, key string, force bool, fetch func() ([]T, error)) (ScanResult[T], error) {
	if !force {
		if items, ok := cache.Get(key); ok {
			s.metrics.scanCacheResult(scanner, "hit")
			return ScanResult[T]{Items: items, Cached: true}, nil
		}
	}
	s.metrics.scanCacheResult(scanner, "miss")

	items, err := fetch()
	if err != nil {
		if stale, ok := cache.Stale(key); ok {
			s.metrics.scanCacheResult(scanner, "stale")
			s.logger.Warn("serving stale scan after upstream failure",
				zap.String("scanner", scanner), zap.String("key", key), zap.Error(err))
			return ScanResult[T]{Items: stale, Cached: true, Error: staleDataMessage}, nil
		}
		return ScanResult[T]{}, err
	}

	cache.Set(key, items, s.ttl)
	return ScanResult[T]{Items: items}, nil
}

// listRepositories returns the repositories visible to cred: the
// installation's repositories for installation tokens, the user's otherwise.
func (s *Scanner) listRepositories(ctx context.Context, cred Credential) ([]ghRepository, error) {
	return listRepositories(ctx, s.client, cred)
}

func listRepositories(ctx context.Context, client *GitHubClient, cred Credential) ([]ghRepository, error) {
	if cred.Kind == CredentialInstallation {
		var page ghInstallationRepositories
		if err := client.getJSON(ctx, cred, "installation.repositories", "/installation/repositories?per_page=100", &page); err != nil {
			return nil, err
		}
		return page.Repositories, nil
	}

	var repos []ghRepository
	if err := client.getJSON(ctx, cred, "user.repos", "/user/repos?per_page=100&sort=updated", &repos); err != nil {
		return nil, err
	}
	return repos, nil
}

// aggregate runs scan over the first aggregateLimit repositories visible to
// cred, concurrently across repositories. A repository whose scan fails is
// logged and left out; only failing to list repositories fails the call.
func aggregate[T any](ctx context.Context, s *Scanner, cred Credential, scanner string, scan func(ctx context.Context, repository string) ([]T, error)) ([]T, error) {
	repos, err := s.listRepositories(ctx, cred)
	if err != nil {
		return nil, err
	}
	if s.aggregateLimit > 0 && len(repos) > s.aggregateLimit {
		repos = repos[:s.aggregateLimit]
	}

	results := make([][]T, len(repos))
	var g errgroup.Group
	for i, repo := range repos {
		g.Go(func() error {
			items, err := scan(ctx, repo.FullName)
			if err != nil {
				s.logger.Warn("skipping repository in aggregate scan",
					zap.String("scanner", scanner), zap.String("repo", repo.FullName), zap.Error(err))
				return nil
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()

	all := make([]T, 0)
	for _, items := range results {
		all = append(all, items...)
	}
	return all, nil
}

// InvalidateRepository drops every cached scan of repository and every
// aggregate scan, for all principals.
func (s *Scanner) InvalidateRepository(repository string) int {
	match := func(key string) bool {
		_, repo, _ := strings.Cut(key, "|")
		return repo == "*" || strings.EqualFold(repo, repository)
	}
	return s.infrastructure.DeleteFunc(match) + s.workflows.DeleteFunc(match) + s.containers.DeleteFunc(match)
}

// InvalidatePrincipal drops every cached scan made on behalf of principal.
func (s *Scanner) InvalidatePrincipal(principal string) int {
	match := func(key string) bool {
		return strings.HasPrefix(key, principal+"|")
	}
	return s.infrastructure.DeleteFunc(match) + s.workflows.DeleteFunc(match) + s.containers.DeleteFunc(match)
}

// InvalidateScans drops principal's cached scans of repository and its
// aggregate scans.
func (s *Scanner) InvalidateScans(principal, repository string) {
	for _, key := range []string{scanKey(principal, repository), scanKey(principal, "")} {
		s.infrastructure.Delete(key)
		s.workflows.Delete(key)
		s.containers.Delete(key)
	}
}
