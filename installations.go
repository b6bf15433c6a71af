package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Installation is a GitHub App's binding to an account.
type Installation struct {
	ID                  int64             `json:"id"`
	AccountLogin        string            `json:"account_login"`
	AccountType         string            `json:"account_type,omitempty"`
	RepositorySelection string            `json:"repository_selection"`
	Permissions         map[string]string `json:"permissions"`
}

func installationFromAPI(in ghInstallation) Installation {
	out := Installation{
		ID:                  in.ID,
		AccountLogin:        in.Account.Login,
		AccountType:         in.Account.Type,
		RepositorySelection: in.RepositorySelection,
		Permissions:         in.Permissions,
	}
	if out.RepositorySelection == "" {
		out.RepositorySelection = "selected"
	}
	if out.Permissions == nil {
		out.Permissions = map[string]string{}
	}
	return out
}

// App is the GitHub App integration: JWT signing, installation discovery and
// installation token exchange.
type App struct {
	cred   *AppCredential
	client *GitHubClient
	tokens *TokenCache
	logger *zap.Logger
	now    func() time.Time
}

// NewApp wires the App layer. cred may be nil when the App is not configured;
// every operation then fails with a ConfigurationError.
func NewApp(cred *AppCredential, client *GitHubClient, cacheTokens bool, logger *zap.Logger, metrics *Metrics) *App {
	a := &App{
		cred:   cred,
		client: client,
		logger: logger.Named("app"),
		now:    time.Now,
	}
	a.tokens = NewTokenCache(a.mintInstallationToken, cacheTokens, metrics)
	return a
}

// Configured reports whether App credentials are present.
func (a *App) Configured() bool {
	return a != nil && a.cred != nil && a.cred.AppID != "" && a.cred.PrivateKey != ""
}

// SignJWT signs a fresh App JWT.
func (a *App) SignJWT() (*SignedAppJWT, error) {
	if a == nil {
		return SignAppJWT(nil, time.Now())
	}
	return SignAppJWT(a.cred, a.now())
}

func (a *App) jwtCredential() (Credential, error) {
	signed, err := a.SignJWT()
	if err != nil {
		return Credential{}, err
	}
	return Credential{Kind: CredentialAppJWT, Token: signed.Token, Principal: "app:" + a.cred.AppID}, nil
}

// ListInstallations returns every installation of the App.
func (a *App) ListInstallations(ctx context.Context) ([]Installation, error) {
	cred, err := a.jwtCredential()
	if err != nil {
		return nil, err
	}

	var raw []ghInstallation
	if err := a.client.getJSON(ctx, cred, "app.installations", "/app/installations?per_page=100", &raw); err != nil {
		return nil, fmt.Errorf("app: failed to list installations: %w", err)
	}

	installations := make([]Installation, 0, len(raw))
	for _, in := range raw {
		installations = append(installations, installationFromAPI(in))
	}
	return installations, nil
}

// GetInstallation returns the installation with the given id, or ErrNotFound.
func (a *App) GetInstallation(ctx context.Context, id int64) (*Installation, error) {
	installations, err := a.ListInstallations(ctx)
	if err != nil {
		return nil, err
	}
	for i := range installations {
		if installations[i].ID == id {
			return &installations[i], nil
		}
	}
	return nil, fmt.Errorf("app: installation %d: %w", id, ErrNotFound)
}

// ResolveInstallationForRepo finds the installation that can access
// owner/repo. Installations whose account login matches owner win outright;
// otherwise every remaining installation is probed with a token and a test
// GET on the repository, one after another. The probe count grows with the
// number of installations.
//
// A nil installation with a nil error means no installation grants access.
func (a *App) ResolveInstallationForRepo(ctx context.Context, owner, repo string) (*Installation, error) {
	installations, err := a.ListInstallations(ctx)
	if err != nil {
		return nil, err
	}

	for i := range installations {
		if strings.EqualFold(installations[i].AccountLogin, owner) {
			return &installations[i], nil
		}
	}

	for i := range installations {
		inst := &installations[i]
		tok, err := a.tokens.GetToken(ctx, inst.ID)
		if err != nil {
			a.logger.Warn("probe: token exchange failed",
				zap.Int64("installation_id", inst.ID), zap.Error(err))
			continue
		}
		cred := Credential{Kind: CredentialInstallation, Token: tok.Token, InstallationID: inst.ID}
		if err := a.client.getJSON(ctx, cred, "repos.get", "/repos/"+url.PathEscape(owner)+"/"+url.PathEscape(repo), nil); err != nil {
			a.logger.Debug("probe: installation has no access",
				zap.Int64("installation_id", inst.ID), zap.String("repo", owner+"/"+repo), zap.Error(err))
			continue
		}
		return inst, nil
	}

	return nil, nil
}

// InstallationCredential returns an installation-token credential acting for
// principal.
func (a *App) InstallationCredential(ctx context.Context, installationID int64, principal string) (Credential, error) {
	tok, err := a.tokens.GetToken(ctx, installationID)
	if err != nil {
		return Credential{}, err
	}
	return Credential{
		Kind:           CredentialInstallation,
		Token:          tok.Token,
		Principal:      principal,
		InstallationID: installationID,
	}, nil
}

// ForgetInstallation drops any cached token for the installation.
func (a *App) ForgetInstallation(installationID int64) {
	a.tokens.Invalidate(installationID)
}

// Uninstall removes the App from one installation and drops its cached
// token. An installation GitHub no longer knows counts as removed.
func (a *App) Uninstall(ctx context.Context, installationID int64) error {
	cred, err := a.jwtCredential()
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/app/installations/%d", installationID)
	err = a.client.do(ctx, cred, "app.installations.delete", http.MethodDelete, path, nil, nil)
	a.ForgetInstallation(installationID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("app: failed to uninstall %d: %w", installationID, err)
	}
	a.logger.Info("app uninstalled", zap.Int64("installation_id", installationID))
	return nil
}

// UninstallResult summarizes UninstallAll.
type UninstallResult struct {
	Success     bool     `json:"success"`
	Message     string   `json:"message"`
	Uninstalled []int64  `json:"uninstalled"`
	Errors      []string `json:"errors,omitempty"`
}

// UninstallAll removes the App from every installation. Failures are
// collected per installation; only listing the installations fails the call.
func (a *App) UninstallAll(ctx context.Context) (*UninstallResult, error) {
	installations, err := a.ListInstallations(ctx)
	if err != nil {
		return nil, err
	}

	res := &UninstallResult{Uninstalled: make([]int64, 0, len(installations))}
	for _, inst := range installations {
		if err := a.Uninstall(ctx, inst.ID); err != nil {
			a.logger.Error("uninstall failed", zap.Int64("installation_id", inst.ID), zap.String("account", inst.AccountLogin), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("%s (%d): %v", inst.AccountLogin, inst.ID, err))
			continue
		}
		res.Uninstalled = append(res.Uninstalled, inst.ID)
	}

	res.Success = len(res.Errors) == 0
	switch {
	case len(installations) == 0:
		res.Message = "No installations found to uninstall"
	case res.Success:
		res.Message = fmt.Sprintf("Uninstalled the GitHub App from %d installation(s)", len(res.Uninstalled))
	default:
		res.Message = fmt.Sprintf("Partially uninstalled: %d succeeded, %d failed", len(res.Uninstalled), len(res.Errors))
	}
	return res, nil
}

// mintInstallationToken exchanges a fresh App JWT for an installation token.
func (a *App) mintInstallationToken(ctx context.Context, installationID int64) (*InstallationToken, error) {
	cred, err := a.jwtCredential()
	if err != nil {
		return nil, err
	}

	var raw ghAccessToken
	path := fmt.Sprintf("/app/installations/%d/access_tokens", installationID)
	if err := a.client.do(ctx, cred, "app.access_tokens", http.MethodPost, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("app: failed to get installation token for %d: %w", installationID, err)
	}
	if raw.Token == "" {
		return nil, fmt.Errorf("app: access token response for %d carried no token", installationID)
	}

	tok := &InstallationToken{
		Token:               raw.Token,
		Permissions:         raw.Permissions,
		RepositorySelection: raw.RepositorySelection,
	}
	if raw.ExpiresAt != "" {
		expiresAt, err := time.Parse(time.RFC3339, raw.ExpiresAt)
		if err != nil {
			a.logger.Warn("unparseable expires_at, token will not be reused",
				zap.Int64("installation_id", installationID), zap.String("expires_at", raw.ExpiresAt))
		} else {
			tok.ExpiresAt = expiresAt
		}
	}
	return tok, nil
}
