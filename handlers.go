package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

var (
	repoNamePattern   = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
	workflowIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)
)

// respondJSON writes data as a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError writes {"error": message}.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondComponentError maps err onto a status and writes it. extra fields are
// merged into the body.
func (s *Server) respondComponentError(w http.ResponseWriter, r *http.Request, err error, message string, extra map[string]any) {
	status := statusForError(err)
	if status >= 500 {
		s.logger.Error(message, zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		s.logger.Debug(message, zap.String("path", r.URL.Path), zap.Error(err))
	}

	body := map[string]any{"error": message, "details": err.Error()}
	if errors.Is(err, ErrNotAuthenticated) {
		body = map[string]any{"error": "Not authenticated"}
	}
	for k, v := range extra {
		body[k] = v
	}
	respondJSON(w, status, body)
}

// repositoryParam returns the validated ?repo= value, possibly empty.
func repositoryParam(r *http.Request) (string, bool) {
	repo := strings.TrimSpace(r.URL.Query().Get("repo"))
	if repo == "" {
		return "", true
	}
	return repo, repoNamePattern.MatchString(repo)
}

// scanHandler serves one of the scanners under the response key listKey.
func scanHandler[T any](s *Server, listKey string, scan func(ctx context.Context, cred Credential, repository string, force bool) (ScanResult[T], error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		empty := map[string]any{listKey: []T{}}

		repo, ok := repositoryParam(r)
		if !ok {
			respondJSON(w, http.StatusBadRequest, map[string]any{"error": "repo must be owner/name", listKey: []T{}})
			return
		}

		caller, err := s.auth.Authenticate(r)
		if err != nil {
			s.respondComponentError(w, r, err, "Not authenticated", empty)
			return
		}

		force := r.URL.Query().Get("force") == "true"
		result, err := scan(r.Context(), caller.Credential, repo, force)
		if err != nil {
			s.respondComponentError(w, r, err, "Failed to fetch "+listKey, empty)
			return
		}

		body := map[string]any{
			listKey: result.Items,
			"total": len(result.Items),
		}
		if result.Cached {
			body["cached"] = true
		}
		if result.Error != "" {
			body["error"] = result.Error
		}
		respondJSON(w, http.StatusOK, body)
	}
}

func (s *Server) handleRepositories(w http.ResponseWriter, r *http.Request) {
	caller, err := s.auth.Authenticate(r)
	if err != nil {
		s.respondComponentError(w, r, err, "Not authenticated", nil)
		return
	}

	repos, err := s.scanner.ListRepositories(r.Context(), caller.Credential)
	if err != nil {
		s.respondComponentError(w, r, err, "Failed to fetch repositories", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"repositories": repos, "total": len(repos)})
}

func (s *Server) handleGitHubStatus(w http.ResponseWriter, r *http.Request) {
	caller, err := s.auth.Authenticate(r)
	if errors.Is(err, ErrNotAuthenticated) {
		respondJSON(w, http.StatusOK, map[string]any{"connected": false})
		return
	}
	if err != nil {
		s.respondComponentError(w, r, err, "Failed to check GitHub connection", map[string]any{"connected": false})
		return
	}

	body := map[string]any{"connected": true, "method": caller.Method}
	if caller.Credential.InstallationID != 0 {
		body["installation"] = map[string]any{"id": caller.Credential.InstallationID}
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleListInstallations(w http.ResponseWriter, r *http.Request) {
	installations, err := s.app.ListInstallations(r.Context())
	if err != nil {
		s.respondComponentError(w, r, err, "Failed to list installations", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"installations": installations, "total": len(installations)})
}

// flexibleID accepts a JSON number or string.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

func (s *Server) handleInstallCallback(w http.ResponseWriter, r *http.Request) {
	managerID, err := s.auth.Manager(r)
	if err != nil {
		s.respondComponentError(w, r, err, "Not authenticated", nil)
		return
	}

	var body struct {
		InstallationID flexibleID `json:"installation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := strconv.ParseInt(string(body.InstallationID), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "installation_id must be a positive integer")
		return
	}

	inst, err := s.app.GetInstallation(r.Context(), id)
	if err != nil {
		s.respondComponentError(w, r, err, "Installation not found", nil)
		return
	}

	if err := s.store.BindInstallation(r.Context(), managerID, inst.ID, inst.AccountLogin); err != nil {
		if errors.Is(err, ErrInstallationClaimed) {
			respondError(w, http.StatusConflict, "This GitHub App installation is already linked to another manager")
			return
		}
		s.respondComponentError(w, r, err, "Failed to link installation", nil)
		return
	}
	s.scanner.InvalidatePrincipal("manager:" + managerID)

	s.logger.Info("installation linked",
		zap.String("manager", managerID), zap.Int64("installation_id", inst.ID), zap.String("account", inst.AccountLogin))
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "installation": inst})
}

// defaultRepository resolves the Actions passthrough target: the body's
// repository if given, else the configured default.
func (s *Server) defaultRepository(override string) (owner, repo string, ok bool) {
	if override != "" {
		if !repoNamePattern.MatchString(override) {
			return "", "", false
		}
		owner, repo, _ = strings.Cut(override, "/")
		return owner, repo, true
	}
	owner, repo = s.cfg.DefaultRepository()
	return owner, repo, owner != "" && repo != ""
}

func (s *Server) handleActionsGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, repo, ok := s.defaultRepository(q.Get("repository"))
	if !ok {
		respondError(w, http.StatusBadRequest, "repository not configured (NEXT_PUBLIC_GITHUB_OWNER / NEXT_PUBLIC_GITHUB_REPO)")
		return
	}
	base := "/repos/" + owner + "/" + repo

	action := q.Get("action")
	switch action {
	case "workflows", "runs", "jobs", "repository", "status":
	default:
		respondError(w, http.StatusBadRequest, "Invalid action")
		return
	}

	cred, err := s.dispatcher.Credential(r.Context(), owner, repo)
	if err != nil {
		if action == "status" {
			respondJSON(w, http.StatusOK, map[string]any{
				"authenticated": false, "owner": owner, "repo": repo, "error": err.Error(),
			})
			return
		}
		s.respondComponentError(w, r, err, "GitHub credentials unavailable", nil)
		return
	}

	var raw json.RawMessage
	switch action {
	case "workflows":
		raw, err = s.client.proxyJSON(r.Context(), cred, "actions.workflows", base+"/actions/workflows")
	case "runs":
		limit, convErr := strconv.Atoi(q.Get("limit"))
		if convErr != nil || limit <= 0 || limit > 100 {
			limit = 10
		}
		path := base + "/actions/runs?per_page=" + strconv.Itoa(limit)
		if wf := q.Get("workflowId"); wf != "" {
			if !workflowIDPattern.MatchString(wf) {
				respondError(w, http.StatusBadRequest, "workflowId must be a workflow id or file name")
				return
			}
			path = base + "/actions/workflows/" + wf + "/runs?per_page=" + strconv.Itoa(limit)
		}
		raw, err = s.client.proxyJSON(r.Context(), cred, "actions.runs", path)
	case "jobs":
		runID := q.Get("runId")
		if _, convErr := strconv.ParseInt(runID, 10, 64); convErr != nil {
			respondError(w, http.StatusBadRequest, "runId is required")
			return
		}
		raw, err = s.client.proxyJSON(r.Context(), cred, "actions.jobs", base+"/actions/runs/"+runID+"/jobs")
	case "repository":
		raw, err = s.client.proxyJSON(r.Context(), cred, "repos.get", base)
	case "status":
		var rl ghRateLimit
		body := map[string]any{"authenticated": true, "credential": string(cred.Kind), "owner": owner, "repo": repo}
		if err := s.client.getJSON(r.Context(), cred, "rate_limit", "/rate_limit", &rl); err != nil {
			body["error"] = "Failed to fetch rate limit"
		} else {
			body["rateLimit"] = rl.Rate
		}
		respondJSON(w, http.StatusOK, body)
		return
	}
	if err != nil {
		s.respondComponentError(w, r, err, "GitHub API request failed", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

type triggerRequest struct {
	WorkflowID flexibleID     `json:"workflowId"`
	Filename   string         `json:"filename"`
	Ref        string         `json:"ref"`
	Inputs     map[string]any `json:"inputs"`
	Repository string         `json:"repository"`
}

func (s *Server) handleActionsPost(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("action") != "trigger" {
		respondError(w, http.StatusBadRequest, "Invalid action")
		return
	}

	var body triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.WorkflowID == "" && body.Filename == "" {
		respondError(w, http.StatusBadRequest, "workflowId or filename is required")
		return
	}
	for k, v := range body.Inputs {
		switch v.(type) {
		case string, float64, bool:
		default:
			respondError(w, http.StatusBadRequest, "input "+k+" must be a string, number or boolean")
			return
		}
	}

	owner, repo, ok := s.defaultRepository(body.Repository)
	if !ok {
		respondError(w, http.StatusBadRequest, "repository must be owner/name")
		return
	}

	result, err := s.dispatcher.Dispatch(r.Context(), DispatchRequest{
		Owner:      owner,
		Repo:       repo,
		WorkflowID: string(body.WorkflowID),
		Filename:   body.Filename,
		Ref:        body.Ref,
		Inputs:     body.Inputs,
	})
	if err != nil {
		s.respondComponentError(w, r, err, "Failed to trigger workflow", nil)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	managerID, err := s.auth.Manager(r)
	if err != nil {
		s.respondComponentError(w, r, err, "Not authenticated", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	notifications, err := s.store.ListNotifications(r.Context(), managerID, limit)
	if err != nil {
		s.respondComponentError(w, r, err, "Failed to fetch notifications", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"notifications": notifications, "total": len(notifications)})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	managerID, err := s.auth.Manager(r)
	if err != nil {
		s.respondComponentError(w, r, err, "Not authenticated", nil)
		return
	}
	n, err := s.store.CountUnread(r.Context(), managerID)
	if err != nil {
		s.respondComponentError(w, r, err, "Failed to count notifications", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	managerID, err := s.auth.Manager(r)
	if err != nil {
		s.respondComponentError(w, r, err, "Not authenticated", nil)
		return
	}
	if err := s.store.MarkNotificationRead(r.Context(), managerID, chi.URLParam(r, "id")); err != nil {
		s.respondComponentError(w, r, err, "Failed to mark notification read", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	managerID, err := s.auth.Manager(r)
	if err != nil {
		s.respondComponentError(w, r, err, "Not authenticated", nil)
		return
	}
	n, err := s.store.MarkAllNotificationsRead(r.Context(), managerID)
	if err != nil {
		s.respondComponentError(w, r, err, "Failed to mark notifications read", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "updated": n})
}

type saveRequest struct {
	Content    string `json:"content"`
	Filename   string `json:"filename"`
	Repository string `json:"repository"`
	Type       string `json:"type"`
}

// saveHandler commits a file from the dashboard editor to the caller's
// repository, creating or updating it, then drops the caller's cached scans
// of that repository.
func saveHandler(s *Server, target saveTarget) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.auth.Authenticate(r)
		if err != nil {
			s.respondComponentError(w, r, err, "Not authenticated", nil)
			return
		}

		var body saveRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.Content == "" || body.Filename == "" || body.Repository == "" {
			respondError(w, http.StatusBadRequest, "Content, filename, and repository are required")
			return
		}
		if !repoNamePattern.MatchString(body.Repository) {
			respondError(w, http.StatusBadRequest, "repository must be owner/name")
			return
		}
		filePath, message, ok := target.resolve(body.Type, body.Filename)
		if !ok || !validRepoPath(filePath) {
			respondError(w, http.StatusBadRequest, "invalid filename")
			return
		}

		saved, err := s.client.SaveFile(r.Context(), caller.Credential, body.Repository, filePath, []byte(body.Content), message)
		if err != nil {
			s.respondComponentError(w, r, err, "Failed to save "+strings.ToLower(target.noun)+" to GitHub", nil)
			return
		}
		saved.Type = body.Type
		s.scanner.InvalidateScans(caller.Credential.Principal, body.Repository)

		verb := "created"
		if saved.Updated {
			verb = "updated"
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": target.noun + " " + verb + " successfully",
			"file":    saved,
		})
	}
}

// contentsCredential resolves the credential for the contents passthrough.
// It writes the response and returns false when there is none.
func (s *Server) contentsCredential(w http.ResponseWriter, r *http.Request, repository string) (Credential, bool) {
	owner, repo, _ := strings.Cut(repository, "/")
	cred, err := s.dispatcher.Credential(r.Context(), owner, repo)
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		respondError(w, http.StatusForbidden, "No installation for repo")
		return Credential{}, false
	}
	if err != nil {
		s.respondComponentError(w, r, err, "GitHub credentials unavailable", nil)
		return Credential{}, false
	}
	return cred, true
}

// respondPassthrough forwards GitHub's document and status. Upstream errors
// with a JSON body are forwarded as well.
func (s *Server) respondPassthrough(w http.ResponseWriter, r *http.Request, status int, raw json.RawMessage, err error, message string) {
	var upErr *UpstreamError
	if errors.As(err, &upErr) && json.Valid([]byte(upErr.Body)) {
		s.logger.Debug(message, zap.String("path", r.URL.Path), zap.Int("status", upErr.Status))
		status, raw, err = upErr.Status, json.RawMessage(upErr.Body), nil
	}
	if err != nil {
		s.respondComponentError(w, r, err, message, nil)
		return
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func (s *Server) handleContentsGet(w http.ResponseWriter, r *http.Request) {
	repository, filePath := r.URL.Query().Get("repo"), r.URL.Query().Get("path")
	if repository == "" || filePath == "" {
		respondError(w, http.StatusBadRequest, "repo and path are required")
		return
	}
	if !repoNamePattern.MatchString(repository) || !validRepoPath(filePath) {
		respondError(w, http.StatusBadRequest, "repo must be owner/name and path relative")
		return
	}
	cred, ok := s.contentsCredential(w, r, repository)
	if !ok {
		return
	}
	raw, err := s.client.getContentsRaw(r.Context(), cred, repository, filePath)
	s.respondPassthrough(w, r, http.StatusOK, raw, err, "Failed to read contents")
}

func (s *Server) handleContentsPut(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Repo    string `json:"repo"`
		Path    string `json:"path"`
		Content string `json:"content"` // base64
		SHA     string `json:"sha"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Repo == "" || body.Path == "" || body.Content == "" || body.Message == "" {
		respondError(w, http.StatusBadRequest, "repo, path, content, message required")
		return
	}
	if !repoNamePattern.MatchString(body.Repo) || !validRepoPath(body.Path) {
		respondError(w, http.StatusBadRequest, "repo must be owner/name and path relative")
		return
	}
	cred, ok := s.contentsCredential(w, r, body.Repo)
	if !ok {
		return
	}

	raw, err := s.client.putContentsRaw(r.Context(), cred, body.Repo, body.Path, contentPut{
		Message: body.Message,
		Content: body.Content,
		SHA:     body.SHA,
	})
	status := http.StatusCreated
	if body.SHA != "" {
		status = http.StatusOK
	}
	if err == nil {
		s.scanner.InvalidateRepository(body.Repo)
	}
	s.respondPassthrough(w, r, status, raw, err, "Failed to write contents")
}

// disconnectCookies are cleared by a disconnect, including legacy names.
var disconnectCookies = []string{oauthCookieName, "github_user", "github_token", "github_oauth_state", "github_app_disabled"}

// handleDisconnect uninstalls the App from the manager's installation,
// removes the binding and clears the GitHub cookies. The binding and cookies
// are cleared even when the uninstall fails.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body := map[string]any{"success": true, "message": "GitHub disconnected"}

	if c, err := r.Cookie(oauthCookieName); err == nil && c.Value != "" {
		s.scanner.InvalidatePrincipal("oauth:" + tokenFingerprint(c.Value))
	}

	managerID, err := s.auth.Manager(r)
	switch {
	case errors.Is(err, ErrNotAuthenticated):
	case err != nil:
		s.respondComponentError(w, r, err, "Failed to disconnect GitHub", nil)
		return
	default:
		s.scanner.InvalidatePrincipal("manager:" + managerID)

		installationID, err := s.store.InstallationForManager(ctx, managerID)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			s.respondComponentError(w, r, err, "Failed to disconnect GitHub", nil)
			return
		default:
			if err := s.app.Uninstall(ctx, installationID); err != nil {
				s.logger.Error("uninstall during disconnect failed",
					zap.String("manager", managerID), zap.Int64("installation_id", installationID), zap.Error(err))
				body["success"] = false
				body["message"] = "GitHub disconnected, but the App could not be uninstalled: " + err.Error()
			}
			managers, err := s.store.UnbindInstallation(ctx, installationID)
			if err != nil {
				s.respondComponentError(w, r, err, "Failed to disconnect GitHub", nil)
				return
			}
			for _, m := range managers {
				s.scanner.InvalidatePrincipal("manager:" + m)
			}
			body["installation"] = map[string]any{"id": installationID}
			s.logger.Info("installation disconnected",
				zap.String("manager", managerID), zap.Int64("installation_id", installationID))
		}
	}

	for _, name := range disconnectCookies {
		http.SetCookie(w, &http.Cookie{Name: name, Value: "", Path: "/", MaxAge: -1})
	}
	respondJSON(w, http.StatusOK, body)
}
