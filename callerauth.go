package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

const (
	oauthCookieName   = "github_access_token"
	sessionCookieName = "session-id"
)

// Caller is an authenticated dashboard caller.
type Caller struct {
	Credential Credential
	ManagerID  string // empty for OAuth callers without a manager session
	Method     string // "oauth" or "app"
}

// CallerAuth resolves which GitHub credential a dashboard request runs with:
// the caller's OAuth token if present, else the installation bound to the
// caller's manager session.
type CallerAuth struct {
	store  *Store
	app    *App
	logger *zap.Logger
}

// NewCallerAuth creates the resolver.
func NewCallerAuth(store *Store, app *App, logger *zap.Logger) *CallerAuth {
	return &CallerAuth{store: store, app: app, logger: logger.Named("auth")}
}

// Manager returns the manager id behind the request's session cookie.
func (a *CallerAuth) Manager(r *http.Request) (string, error) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return "", fmt.Errorf("%w: no session cookie", ErrNotAuthenticated)
	}
	sess, err := a.store.GetSession(r.Context(), c.Value)
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("%w: session not found or expired", ErrNotAuthenticated)
	}
	if err != nil {
		return "", err
	}
	if sess.ActorType != ActorManager {
		return "", fmt.Errorf("%w: not authenticated as manager", ErrNotAuthenticated)
	}
	return sess.ActorID, nil
}

// Authenticate resolves the caller's credential. It fails with an error
// wrapping ErrNotAuthenticated when no strategy applies.
func (a *CallerAuth) Authenticate(r *http.Request) (*Caller, error) {
	strategies := []strategy[*Caller]{
		{name: "oauth", run: func(context.Context) (*Caller, error) {
			c, err := r.Cookie(oauthCookieName)
			if err != nil || c.Value == "" {
				return nil, fmt.Errorf("%w: no %s cookie", ErrNotAuthenticated, oauthCookieName)
			}
			caller := &Caller{Method: "oauth"}
			principal := "oauth:" + tokenFingerprint(c.Value)
			if managerID, err := a.Manager(r); err == nil {
				caller.ManagerID = managerID
				principal = "manager:" + managerID
			}
			caller.Credential = Credential{Kind: CredentialOAuth, Token: c.Value, Principal: principal}
			return caller, nil
		}},
		{name: "app", run: func(ctx context.Context) (*Caller, error) {
			managerID, err := a.Manager(r)
			if err != nil {
				return nil, err
			}
			installationID, err := a.store.InstallationForManager(ctx, managerID)
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: GitHub App not installed for this manager", ErrNotAuthenticated)
			}
			if err != nil {
				return nil, err
			}
			cred, err := a.app.InstallationCredential(ctx, installationID, "manager:"+managerID)
			if err != nil {
				return nil, err
			}
			return &Caller{Credential: cred, ManagerID: managerID, Method: "app"}, nil
		}},
	}

	caller, attempts, err := tryInOrder(r.Context(), strategies, func(err error) bool {
		return errors.Is(err, ErrNotAuthenticated)
	})
	if err != nil {
		a.logger.Debug("caller not authenticated", zap.Strings("attempts", attempts), zap.Error(err))
		return nil, err
	}
	return caller, nil
}

// tokenFingerprint identifies an OAuth token in cache keys without storing it.
func tokenFingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
