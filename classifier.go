package main

import (
	"context"
	"fmt"
	"path"
	"regexp"

	"go.uber.org/zap"
)

// Rule labels a repository path that matches Pattern.
type Rule struct {
	Pattern *regexp.Regexp
	Label   string
}

// RuleSet is an ordered rule list. The first matching rule wins, so order is
// significant and must not be re-sorted by specificity.
type RuleSet []Rule

// mustRules builds a RuleSet from (pattern, label) pairs.
func mustRules(pairs ...[2]string) RuleSet {
	rs := make(RuleSet, 0, len(pairs))
	for _, p := range pairs {
		rs = append(rs, Rule{Pattern: regexp.MustCompile(p[0]), Label: p[1]})
	}
	return rs
}

// Match returns the label of the first rule matching filePath.
func (rs RuleSet) Match(filePath string) (string, bool) {
	for _, r := range rs {
		if r.Pattern.MatchString(filePath) {
			return r.Label, true
		}
	}
	return "", false
}

// InfrastructureRules classify infrastructure-as-code files. Generic
// extensions come before the specific file names they also match, so
// "main.tf" is labeled "Terraform".
var InfrastructureRules = mustRules(
	[2]string{`\.tf$`, "Terraform"},
	[2]string{`\.tfvars$`, "Terraform Variables"},
	[2]string{`\.hcl$`, "HCL"},
	[2]string{`terraform\.tfstate$`, "Terraform State"},
	[2]string{`terraform\.tfstate\.backup$`, "Terraform State Backup"},
	[2]string{`main\.tf$`, "Terraform Main"},
	[2]string{`variables\.tf$`, "Terraform Variables"},
	[2]string{`outputs\.tf$`, "Terraform Outputs"},
	[2]string{`providers\.tf$`, "Terraform Providers"},
	[2]string{`versions\.tf$`, "Terraform Versions"},
	[2]string{`\.terraformrc$`, "Terraform Config"},
	[2]string{`terraform\.rc$`, "Terraform Config"},
	[2]string{`cloudformation\.ya?ml$`, "CloudFormation"},
	[2]string{`cloudformation\.json$`, "CloudFormation"},
	[2]string{`serverless\.ya?ml$`, "Serverless"},
	[2]string{`ansible\.ya?ml$`, "Ansible"},
	[2]string{`playbook\.ya?ml$`, "Ansible Playbook"},
	[2]string{`inventory\.ya?ml$`, "Ansible Inventory"},
	[2]string{`Pulumi\.ya?ml$`, "Pulumi"},
	[2]string{`\.pulumi$`, "Pulumi"},
	[2]string{`helm-chart\.ya?ml$`, "Helm Chart"},
	[2]string{`Chart\.ya?ml$`, "Helm Chart"},
	[2]string{`values\.ya?ml$`, "Helm Values"},
	[2]string{`skaffold\.ya?ml$`, "Skaffold"},
	[2]string{`kustomization\.ya?ml$`, "Kustomize"},
	[2]string{`\.cdk\.json$`, "AWS CDK"},
	[2]string{`cdk\.json$`, "AWS CDK"},
	[2]string{`appspec\.ya?ml$`, "AWS CodeDeploy"},
	[2]string{`buildspec\.ya?ml$`, "AWS CodeBuild"},
	[2]string{`\.circleci/config\.ya?ml$`, "CircleCI"},
	[2]string{`azure-pipelines\.ya?ml$`, "Azure DevOps"},
	[2]string{`\.gitlab-ci\.ya?ml$`, "GitLab CI"},
	[2]string{`Jenkinsfile$`, "Jenkins"},
	[2]string{`infrastructure/.*\.ya?ml$`, "Infrastructure Config"},
	[2]string{`terraform/.*\.tf$`, "Terraform Module"},
	[2]string{`modules/.*\.tf$`, "Terraform Module"},
	[2]string{`deploy\.ya?ml$`, "Deployment Config"},
	[2]string{`deployment\.ya?ml$`, "Kubernetes Deployment"},
	[2]string{`service\.ya?ml$`, "Kubernetes Service"},
	[2]string{`ingress\.ya?ml$`, "Kubernetes Ingress"},
	[2]string{`configmap\.ya?ml$`, "Kubernetes ConfigMap"},
	[2]string{`secret\.ya?ml$`, "Kubernetes Secret"},
	[2]string{`namespace\.ya?ml$`, "Kubernetes Namespace"},
	[2]string{`k8s/.*\.ya?ml$`, "Kubernetes"},
	[2]string{`kubernetes/.*\.ya?ml$`, "Kubernetes"},
	[2]string{`manifests/.*\.ya?ml$`, "Kubernetes Manifest"},
	[2]string{`.*\.nomad$`, "Nomad Job"},
	[2]string{`.*\.jsonnet$`, "Jsonnet"},
)

// ContainerRules classify container definitions.
var ContainerRules = mustRules(
	[2]string{`(^|/)Dockerfile$`, "Dockerfile"},
	[2]string{`(^|/)(docker-)?compose\.ya?ml$`, "Docker Compose"},
	[2]string{`^k8s/[^/]+\.ya?ml$`, "Kubernetes"},
	[2]string{`(^|/)\.dockerignore$`, "Docker Ignore"},
)

// TreeEntry is one blob, tree or submodule from a recursive git tree.
type TreeEntry struct {
	Path string
	Type string
	SHA  string
	Size int64
}

// ClassifiedFile is a repository file that matched a classification rule.
type ClassifiedFile struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Path        string `json:"path"`
	Repository  string `json:"repository"`
	Content     string `json:"content"`
	DownloadURL string `json:"download_url"`
	HTMLURL     string `json:"html_url"`
	Size        int64  `json:"size"`
	SHA         string `json:"sha,omitempty"`
}

// Classify labels the blobs in entries with rs. Directories, submodules and
// paths matching no rule are dropped. Output keeps tree order.
func Classify(repository string, entries []TreeEntry, rs RuleSet) []ClassifiedFile {
	files := make([]ClassifiedFile, 0)
	for _, e := range entries {
		if e.Type != "blob" {
			continue
		}
		label, ok := rs.Match(e.Path)
		if !ok {
			continue
		}
		files = append(files, ClassifiedFile{
			ID:          repository + "-" + e.SHA,
			Name:        path.Base(e.Path),
			Type:        label,
			Path:        e.Path,
			Repository:  repository,
			DownloadURL: fmt.Sprintf("https://api.github.com/repos/%s/contents/%s", repository, e.Path),
			HTMLURL:     fmt.Sprintf("https://github.com/%s/blob/HEAD/%s", repository, e.Path),
			Size:        e.Size,
			SHA:         e.SHA,
		})
	}
	return files
}

// FetchTree returns the recursive HEAD tree of repository ("owner/repo").
func (c *GitHubClient) FetchTree(ctx context.Context, cred Credential, repository string) ([]TreeEntry, error) {
	var tree ghTree
	if err := c.getJSON(ctx, cred, "git.tree", "/repos/"+repository+"/git/trees/HEAD?recursive=1", &tree); err != nil {
		return nil, fmt.Errorf("classifier: failed to fetch tree for %s: %w", repository, err)
	}
	if tree.Truncated {
		c.logger.Warn("tree truncated, walking contents instead", zap.String("repository", repository))
		entries, err := c.walkContents(ctx, cred, repository, "")
		if err == nil {
			return entries, nil
		}
		c.logger.Warn("contents walk failed, classifying partial tree", zap.String("repository", repository), zap.Error(err))
	}

	entries := make([]TreeEntry, 0, len(tree.Tree))
	for _, t := range tree.Tree {
		entries = append(entries, TreeEntry{Path: t.Path, Type: t.Type, SHA: t.SHA, Size: t.Size})
	}
	return entries, nil
}

// ClassifyRepositoryFiles fetches the tree of repository and classifies it.
func ClassifyRepositoryFiles(ctx context.Context, client *GitHubClient, cred Credential, repository string, rs RuleSet) ([]ClassifiedFile, error) {
	entries, err := client.FetchTree(ctx, cred, repository)
	if err != nil {
		return nil, err
	}
	return Classify(repository, entries, rs), nil
}
