package main

// Response shapes for the GitHub REST endpoints the gateway consumes. Only the
// fields we read are declared; anything GitHub omits is defaulted by the
// caller that converts these into domain types.

type ghAccount struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

// ghInstallation is one element of GET /app/installations.
type ghInstallation struct {
	ID                  int64             `json:"id"`
	Account             ghAccount         `json:"account"`
	RepositorySelection string            `json:"repository_selection"`
	Permissions         map[string]string `json:"permissions"`
}

// ghAccessToken is the body of POST /app/installations/{id}/access_tokens.
type ghAccessToken struct {
	Token               string            `json:"token"`
	ExpiresAt           string            `json:"expires_at"`
	Permissions         map[string]string `json:"permissions"`
	RepositorySelection string            `json:"repository_selection"`
}

// ghTree is the body of GET /repos/{owner}/{repo}/git/trees/{sha}.
type ghTree struct {
	SHA       string `json:"sha"`
	Truncated bool   `json:"truncated"`
	Tree      []struct {
		Path string `json:"path"`
		Type string `json:"type"` // "blob", "tree" or "commit"
		SHA  string `json:"sha"`
		Size int64  `json:"size"`
	} `json:"tree"`
}

// ghContent is a file or directory entry from the contents API.
type ghContent struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"` // "file" or "dir"
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	HTMLURL     string `json:"html_url"`
	DownloadURL string `json:"download_url"`
	Content     string `json:"content"`
}

// ghRepository is the subset of a repository object the dashboards display.
type ghRepository struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	FullName        string    `json:"full_name"`
	Description     string    `json:"description"`
	DefaultBranch   string    `json:"default_branch"`
	UpdatedAt       string    `json:"updated_at"`
	Private         bool      `json:"private"`
	HTMLURL         string    `json:"html_url"`
	CloneURL        string    `json:"clone_url"`
	SSHURL          string    `json:"ssh_url"`
	Language        string    `json:"language"`
	StargazersCount int       `json:"stargazers_count"`
	ForksCount      int       `json:"forks_count"`
	Owner           ghAccount `json:"owner"`
}

// ghInstallationRepositories is the body of GET /installation/repositories.
type ghInstallationRepositories struct {
	TotalCount   int            `json:"total_count"`
	Repositories []ghRepository `json:"repositories"`
}

// ghWorkflow is one Actions workflow record.
type ghWorkflow struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	State     string `json:"state"`
	HTMLURL   string `json:"html_url"`
	BadgeURL  string `json:"badge_url"`
	UpdatedAt string `json:"updated_at"`
}

// ghWorkflowList is the body of GET /repos/{owner}/{repo}/actions/workflows.
type ghWorkflowList struct {
	TotalCount int          `json:"total_count"`
	Workflows  []ghWorkflow `json:"workflows"`
}

// ghRateLimit is the body of GET /rate_limit.
type ghRateLimit struct {
	Rate struct {
		Limit     int   `json:"limit"`
		Remaining int   `json:"remaining"`
		Reset     int64 `json:"reset"`
		Used      int   `json:"used"`
	} `json:"rate"`
}

// ghWebhookPayload covers the webhook events the gateway reacts to.
type ghWebhookPayload struct {
	Action       string `json:"action"`
	Installation struct {
		ID      int64     `json:"id"`
		Account ghAccount `json:"account"`
	} `json:"installation"`
	Repository struct {
		Name     string    `json:"name"`
		FullName string    `json:"full_name"`
		Owner    ghAccount `json:"owner"`
	} `json:"repository"`
	RepositoriesAdded []struct {
		FullName string `json:"full_name"`
	} `json:"repositories_added"`
	RepositoriesRemoved []struct {
		FullName string `json:"full_name"`
	} `json:"repositories_removed"`
	WorkflowRun struct {
		ID         int64  `json:"id"`
		Name       string `json:"name"`
		HeadBranch string `json:"head_branch"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
		HTMLURL    string `json:"html_url"`
	} `json:"workflow_run"`
	Ref    string    `json:"ref"`
	Sender ghAccount `json:"sender"`
}
