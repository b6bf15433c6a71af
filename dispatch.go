package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// DispatchRequest triggers one workflow_dispatch event. At least one of
// WorkflowID and Filename is required.
type DispatchRequest struct {
	Owner      string
	Repo       string
	WorkflowID string
	Filename   string
	Ref        string
	Inputs     map[string]any
}

// DispatchResult reports a successful dispatch.
type DispatchResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Workflow   string `json:"workflow"`
	Credential string `json:"credential"`
}

// Dispatcher triggers workflow runs. Credentials are tried App installation
// token first, then the personal access token. Identifiers are tried workflow
// id first, then file name, and the file name only after a 404.
type Dispatcher struct {
	client *GitHubClient
	app    *App
	pat    string
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher. app may be unconfigured and pat empty.
func NewDispatcher(client *GitHubClient, app *App, pat string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		client: client,
		app:    app,
		pat:    pat,
		logger: logger.Named("dispatch"),
	}
}

// errStrategyUnavailable marks a credential strategy that does not apply.
var errStrategyUnavailable = errors.New("strategy unavailable")

// credentialStrategies returns the credential sources for owner/repo in
// precedence order.
func (d *Dispatcher) credentialStrategies(owner, repo string) []strategy[Credential] {
	return []strategy[Credential]{
		{name: "app", run: func(ctx context.Context) (Credential, error) {
			if !d.app.Configured() {
				return Credential{}, fmt.Errorf("%w: GitHub App not configured", errStrategyUnavailable)
			}
			inst, err := d.app.ResolveInstallationForRepo(ctx, owner, repo)
			if err != nil {
				return Credential{}, err
			}
			if inst == nil {
				return Credential{}, fmt.Errorf("%w: no GitHub App installation grants access to %s/%s", errStrategyUnavailable, owner, repo)
			}
			return d.app.InstallationCredential(ctx, inst.ID, "app:"+inst.AccountLogin)
		}},
		{name: "pat", run: func(context.Context) (Credential, error) {
			if d.pat == "" {
				return Credential{}, fmt.Errorf("%w: GITHUB_TOKEN not set", errStrategyUnavailable)
			}
			return Credential{Kind: CredentialPAT, Token: d.pat, Principal: "pat"}, nil
		}},
	}
}

// Credential returns the first credential available for owner/repo, or a
// ConfigurationError when neither the App nor a token can serve it.
func (d *Dispatcher) Credential(ctx context.Context, owner, repo string) (Credential, error) {
	cred, attempts, err := tryInOrder(ctx, d.credentialStrategies(owner, repo), func(error) bool { return true })
	if err != nil {
		if errors.Is(err, errStrategyUnavailable) {
			return Credential{}, &ConfigurationError{
				Op:  "resolve credential",
				Msg: fmt.Sprintf("no GitHub credential for %s/%s (tried %s)", owner, repo, strings.Join(attempts, ", ")),
				Err: err,
			}
		}
		return Credential{}, err
	}
	return cred, nil
}

// workflowIdentifiers lists the identifiers to try in order.
func workflowIdentifiers(req DispatchRequest) []string {
	var ids []string
	if req.WorkflowID != "" {
		ids = append(ids, req.WorkflowID)
	}
	if req.Filename != "" {
		name := normalizeWorkflowFilename(req.Filename)
		if len(ids) == 0 || ids[0] != name {
			ids = append(ids, name)
		}
	}
	return ids
}

// normalizeWorkflowFilename appends ".yml" unless name already has a YAML
// extension.
func normalizeWorkflowFilename(name string) string {
	name = strings.TrimPrefix(name, workflowsDir+"/")
	if isYAMLFile(name) {
		return name
	}
	return name + ".yml"
}

// Dispatch triggers the workflow. Every credential is tried against every
// identifier until one succeeds. Anything but a 404 stops the search and is
// returned as is; exhausting every combination returns a *DispatchError
// wrapping the last upstream failure.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	if req.Owner == "" || req.Repo == "" {
		return nil, fmt.Errorf("dispatch: repository is required")
	}
	ids := workflowIdentifiers(req)
	if len(ids) == 0 {
		return nil, fmt.Errorf("dispatch: workflowId or filename is required")
	}
	if req.Ref == "" {
		req.Ref = "main"
	}
	if req.Inputs == nil {
		req.Inputs = map[string]any{}
	}

	var (
		allAttempts []string
		lastErr     error
		credErr     error
	)
	for _, cs := range d.credentialStrategies(req.Owner, req.Repo) {
		cred, err := cs.run(ctx)
		if err != nil {
			// A credential source that fails falls through to the next one.
			d.logger.Debug("credential strategy skipped", zap.String("strategy", cs.name), zap.Error(err))
			if credErr == nil && !errors.Is(err, errStrategyUnavailable) {
				credErr = err
			}
			continue
		}

		var idStrategies []strategy[string]
		for _, id := range ids {
			idStrategies = append(idStrategies, strategy[string]{
				name: cs.name + ":" + id,
				run: func(ctx context.Context) (string, error) {
					return id, d.dispatchOnce(ctx, cred, req, id)
				},
			})
		}

		used, attempts, err := tryInOrder(ctx, idStrategies, func(err error) bool {
			return errors.Is(err, ErrNotFound)
		})
		allAttempts = append(allAttempts, attempts...)
		if err == nil {
			d.logger.Info("workflow dispatched",
				zap.String("repo", req.Owner+"/"+req.Repo),
				zap.String("workflow", used),
				zap.String("ref", req.Ref),
				zap.String("credential", cs.name),
			)
			return &DispatchResult{
				Success:    true,
				Message:    "Workflow triggered successfully",
				Workflow:   used,
				Credential: cs.name,
			}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		d.logger.Info("workflow not found with credential",
			zap.String("credential", cs.name), zap.Strings("attempts", attempts))
		lastErr = err
	}

	if lastErr == nil {
		if credErr != nil {
			return nil, fmt.Errorf("dispatch: %w", credErr)
		}
		return nil, &ConfigurationError{
			Op:  "dispatch",
			Msg: fmt.Sprintf("no GitHub credential for %s/%s: install the GitHub App on the repository or set GITHUB_TOKEN", req.Owner, req.Repo),
		}
	}
	return nil, &DispatchError{Owner: req.Owner, Repo: req.Repo, Attempts: allAttempts, Err: lastErr}
}

// dispatchOnce issues a single workflow_dispatch POST.
func (d *Dispatcher) dispatchOnce(ctx context.Context, cred Credential, req DispatchRequest, workflow string) error {
	body := map[string]any{"ref": req.Ref, "inputs": req.Inputs}
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches",
		url.PathEscape(req.Owner), url.PathEscape(req.Repo), url.PathEscape(workflow))
	return d.client.do(ctx, cred, "actions.dispatch", http.MethodPost, path, body, nil)
}
