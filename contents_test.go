package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"testing"
)

// recordPut captures the body of a contents PUT and replies with status.
func recordPut(st *stubGitHub, uri string, status int, reply string, got *contentPut) {
	st.handleFunc("PUT", uri, func(r *http.Request) stubReply {
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, got)
		return stubReply{status: status, body: reply}
	})
}

func TestSaveFileCreates(t *testing.T) {
	st := newStubGitHub()
	var put contentPut
	recordPut(st, "/repos/acme/api/contents/.github/workflows/deploy.yml", 201,
		`{"content":{"name":"deploy.yml","sha":"new","html_url":"https://github.com/acme/api/blob/main/.github/workflows/deploy.yml"}}`, &put)

	path, message, ok := workflowSaveTarget.resolve("", "deploy")
	if !ok {
		t.Fatal("workflow target rejected deploy")
	}
	saved, err := newTestClient(st).SaveFile(context.Background(), patCredential(), "acme/api", path, []byte("on: push\n"), message)
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	if put.SHA != "" || put.Message != "Add workflow: deploy.yml" {
		t.Errorf("unexpected create request: %+v", put)
	}
	if decoded, _ := base64.StdEncoding.DecodeString(put.Content); string(decoded) != "on: push\n" {
		t.Errorf("content = %q", decoded)
	}
	if saved.Updated || saved.Name != "deploy.yml" || saved.Path != ".github/workflows/deploy.yml" || saved.SHA != "new" {
		t.Errorf("unexpected result: %+v", saved)
	}
	if st.count("GET", "/repos/acme/api/contents/.github/workflows/deploy.yml") != 1 {
		t.Error("existing file was not looked up before writing")
	}
}

func TestSaveFileUpdatesWithExistingSHA(t *testing.T) {
	st := newStubGitHub()
	st.handle("GET", "/repos/acme/api/contents/terraform/main.tf", 200, `{"name":"main.tf","path":"terraform/main.tf","sha":"old"}`)
	var put contentPut
	recordPut(st, "/repos/acme/api/contents/terraform/main.tf", 200, `{"content":{"sha":"next"}}`, &put)

	path, message, _ := infrastructureSaveTarget.resolve("terraform", "main.tf")
	saved, err := newTestClient(st).SaveFile(context.Background(), patCredential(), "acme/api", path, []byte("x"), message)
	if err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	if put.SHA != "old" || put.Message != "Update terraform infrastructure: main.tf" {
		t.Errorf("unexpected update request: %+v", put)
	}
	if !saved.Updated {
		t.Error("expected an update")
	}
}

func TestSaveFileStopsWhenLookupFails(t *testing.T) {
	st := newStubGitHub()
	st.handle("GET", "/repos/acme/api/contents/Dockerfile", 500, `{"message":"boom"}`)

	_, err := newTestClient(st).SaveFile(context.Background(), patCredential(), "acme/api", "Dockerfile", []byte("FROM scratch"), commitMessage("dockerfile", "container", "Dockerfile"))
	if upstreamStatus(err) != 500 {
		t.Fatalf("expected the 500 to surface, got %v", err)
	}
	if st.count("PUT", "/repos/acme/api/contents/Dockerfile") != 0 {
		t.Error("file written without knowing whether it exists")
	}
}

func TestSaveTargets(t *testing.T) {
	tests := []struct {
		target   saveTarget
		kind     string
		filename string
		want     string
	}{
		{workflowSaveTarget, "", "ci.yaml", ".github/workflows/ci.yaml"},
		{workflowSaveTarget, "", "ci", ".github/workflows/ci.yml"},
		{infrastructureSaveTarget, "cloudformation", "stack.yml", "cloudformation/stack.yml"},
		{infrastructureSaveTarget, "kubernetes", "svc.yaml", "k8s/svc.yaml"},
		{infrastructureSaveTarget, "ansible", "site.yml", "ansible/site.yml"},
		{infrastructureSaveTarget, "", "main.tf", "main.tf"},
		{containerSaveTarget, "dockerfile", "Dockerfile", "Dockerfile"},
		{containerSaveTarget, "docker-compose", "compose.yml", "docker-compose.yml"},
		{containerSaveTarget, "docker-compose", "docker-compose.prod.yml", "docker-compose.prod.yml"},
		{containerSaveTarget, "kubernetes", "deploy.yaml", "k8s/deploy.yaml"},
		{containerSaveTarget, "podman", "Containerfile", "Containerfile"},
	}
	for _, tt := range tests {
		got, _, ok := tt.target.resolve(tt.kind, tt.filename)
		if !ok || got != tt.want {
			t.Errorf("%s %s/%s = %q (%v), want %q", tt.target.noun, tt.kind, tt.filename, got, ok, tt.want)
		}
	}

	if _, _, ok := workflowSaveTarget.resolve("", "nested/ci.yml"); ok {
		t.Error("workflow file outside .github/workflows accepted")
	}
	if msg := commitMessage("docker-compose", "container", "docker-compose.yml")(false); msg != "Add docker-compose container: docker-compose.yml" {
		t.Errorf("message = %q", msg)
	}
}

func TestValidRepoPath(t *testing.T) {
	for p, want := range map[string]bool{
		"main.tf":          true,
		"k8s/deploy.yaml":  true,
		".github/ci.yml":   true,
		"":                 false,
		"/etc/passwd":      false,
		"../secrets":       false,
		"a/../../b":        false,
		"a//b":             false,
		"k8s/":             false,
		"..":               false,
		"dir/./file.yml":   false,
		"dir/file\x00.yml": false,
	} {
		if got := validRepoPath(p); got != want {
			t.Errorf("validRepoPath(%q) = %v, want %v", p, got, want)
		}
	}
}
