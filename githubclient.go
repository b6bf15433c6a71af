package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const defaultGitHubAPIURL = "https://api.github.com"

// CredentialKind says where a GitHub credential came from.
type CredentialKind string

const (
	CredentialAppJWT       CredentialKind = "app_jwt"
	CredentialInstallation CredentialKind = "installation"
	CredentialOAuth        CredentialKind = "oauth"
	CredentialPAT          CredentialKind = "pat"
)

// Credential authenticates one GitHub API call. Principal names the tenant the
// credential acts for and scopes cached scan results.
type Credential struct {
	Kind           CredentialKind
	Token          string
	Principal      string
	InstallationID int64 // only for CredentialInstallation
}

func (c Credential) authorization() string {
	if c.Kind == CredentialInstallation {
		return "token " + c.Token
	}
	return "Bearer " + c.Token
}

// GitHubClient issues authenticated REST calls against the GitHub API. Every
// non-2xx response becomes an *UpstreamError. Nothing is retried.
type GitHubClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
	metrics    *Metrics
}

// NewGitHubClient creates a client for baseURL. A nil httpClient gets a 30 s
// timeout client.
func NewGitHubClient(baseURL string, httpClient *http.Client, logger *zap.Logger, metrics *Metrics) *GitHubClient {
	if baseURL == "" {
		baseURL = defaultGitHubAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &GitHubClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.Named("github"),
		metrics:    metrics,
	}
}

// getJSON performs a GET and decodes the body into out (which may be nil).
// route is a low-cardinality name for metrics and logs.
func (c *GitHubClient) getJSON(ctx context.Context, cred Credential, route, path string, out any) error {
	return c.do(ctx, cred, route, http.MethodGet, path, nil, out)
}

// do sends one request. body is JSON-encoded when non-nil.
func (c *GitHubClient) do(ctx context.Context, cred Credential, route, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("github: failed to encode %s request: %w", route, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("github: failed to build %s request: %w", route, err)
	}
	if cred.Token != "" {
		req.Header.Set("Authorization", cred.authorization())
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", "ghgateway")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.observeGitHubRequest(method, route, "error", time.Since(start))
		return fmt.Errorf("github: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	c.metrics.observeGitHubRequest(method, route, strconv.Itoa(resp.StatusCode), time.Since(start))
	if err != nil {
		return fmt.Errorf("github: failed to read %s response: %w", route, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("upstream error",
			zap.String("route", route),
			zap.String("method", method),
			zap.Int("status", resp.StatusCode),
			zap.String("remaining", resp.Header.Get("X-RateLimit-Remaining")),
		)
		return &UpstreamError{Method: method, URL: url, Status: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("github: failed to decode %s response: %w", route, err)
	}
	return nil
}

// proxyJSON performs a GET and returns the raw JSON body. Used by the Actions
// passthrough, which forwards GitHub's documents unchanged.
func (c *GitHubClient) proxyJSON(ctx context.Context, cred Credential, route, path string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, cred, route, path, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
