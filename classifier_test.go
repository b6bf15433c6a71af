package main

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestInfrastructureRulesFirstMatchWins(t *testing.T) {
	// terraform/main.tf matches \.tf$, main\.tf$ and terraform/.*\.tf$.
	p := "terraform/main.tf"
	matching := 0
	for _, r := range InfrastructureRules {
		if r.Pattern.MatchString(p) {
			matching++
		}
	}
	if matching < 2 {
		t.Fatalf("%s should match several rules, matched %d", p, matching)
	}

	tests := []struct {
		path string
		want string
	}{
		{"terraform/main.tf", "Terraform"},
		{"variables.tf", "Terraform"},
		{"prod.tfvars", "Terraform Variables"},
		{"charts/app/Chart.yaml", "Helm Chart"},
		{"charts/app/values.yml", "Helm Values"},
		{".gitlab-ci.yml", "GitLab CI"},
		{"Jenkinsfile", "Jenkins"},
		{".circleci/config.yml", "CircleCI"},
		{"k8s/app.yaml", "Kubernetes"},
		{"k8s/deployment.yaml", "Kubernetes Deployment"},
		{"jobs/batch.nomad", "Nomad Job"},
	}
	for _, tt := range tests {
		got, ok := InfrastructureRules.Match(tt.path)
		if !ok || got != tt.want {
			t.Errorf("Match(%q) = %q, %v; want %q", tt.path, got, ok, tt.want)
		}
	}

	if _, ok := InfrastructureRules.Match("README.md"); ok {
		t.Error("README.md should not be classified")
	}
}

func TestClassifyContainers(t *testing.T) {
	entries := []TreeEntry{
		{Path: "Dockerfile", Type: "blob", SHA: "a1"},
		{Path: "docker-compose.yml", Type: "blob", SHA: "b2"},
		{Path: "k8s", Type: "tree", SHA: "c3"},
		{Path: "k8s/deploy.yaml", Type: "blob", SHA: "d4"},
		{Path: "random.txt", Type: "blob", SHA: "e5"},
	}

	files := Classify("acme/web", entries, ContainerRules)
	if len(files) != 3 {
		t.Fatalf("expected 3 classified files, got %d: %+v", len(files), files)
	}
	wantTypes := []string{"Dockerfile", "Docker Compose", "Kubernetes"}
	for i, f := range files {
		if f.Type != wantTypes[i] {
			t.Errorf("files[%d].Type = %q, want %q", i, f.Type, wantTypes[i])
		}
	}
	if files[2].ID != "acme/web-d4" || files[2].Name != "deploy.yaml" || files[2].Repository != "acme/web" {
		t.Errorf("unexpected file identity: %+v", files[2])
	}
}

func TestClassifyProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	suffixes := []string{".tf", ".yml", ".yaml", ".txt", ".go", "Dockerfile", ".hcl", ".json"}

	properties.Property("labels come from the first matching rule", prop.ForAll(
		func(dir, name string, suffix string) bool {
			p := dir + "/" + name + suffix
			files := Classify("o/r", []TreeEntry{{Path: p, Type: "blob", SHA: "s"}}, InfrastructureRules)

			first := -1
			for i, r := range InfrastructureRules {
				if r.Pattern.MatchString(p) {
					first = i
					break
				}
			}
			if first == -1 {
				return len(files) == 0
			}
			return len(files) == 1 && files[0].Type == InfrastructureRules[first].Label
		},
		gen.OneConstOf("terraform", "k8s", "modules", "src", "infrastructure"),
		gen.AlphaString(),
		gen.OneConstOf(suffixes[0], suffixes[1], suffixes[2], suffixes[3], suffixes[4], suffixes[5], suffixes[6], suffixes[7]),
	))

	properties.Property("non-blob entries are never classified", prop.ForAll(
		func(name string) bool {
			entries := []TreeEntry{
				{Path: name + ".tf", Type: "tree"},
				{Path: name + ".tf", Type: "commit"},
			}
			return len(Classify("o/r", entries, InfrastructureRules)) == 0
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestFetchTreeWalksContentsWhenTruncated(t *testing.T) {
	st := newStubGitHub()
	st.handle("GET", "/repos/acme/big/git/trees/HEAD?recursive=1", 200,
		`{"sha":"root","truncated":true,"tree":[{"path":"Dockerfile","type":"blob","sha":"a"}]}`)
	st.handle("GET", "/repos/acme/big/contents/", 200,
		`[{"name":"Dockerfile","path":"Dockerfile","type":"file","sha":"a"},
		  {"name":"k8s","path":"k8s","type":"dir","sha":"b"}]`)
	st.handle("GET", "/repos/acme/big/contents/k8s", 200,
		`[{"name":"app.yaml","path":"k8s/app.yaml","type":"file","sha":"c","size":12}]`)

	files, err := ClassifyRepositoryFiles(context.Background(), newTestClient(st), patCredential(), "acme/big", ContainerRules)
	if err != nil {
		t.Fatalf("ClassifyRepositoryFiles: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files from the contents walk, got %+v", files)
	}
	if files[0].Path != "Dockerfile" || files[1].Path != "k8s/app.yaml" || files[1].Size != 12 {
		t.Errorf("unexpected files: %+v", files)
	}
}

func TestFetchTreeNotFound(t *testing.T) {
	st := newStubGitHub()
	_, err := newTestClient(st).FetchTree(context.Background(), patCredential(), "acme/missing")
	if upstreamStatus(err) != 404 {
		t.Fatalf("expected upstream 404, got %v", err)
	}
}
