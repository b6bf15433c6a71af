package main

import (
	"context"
	"testing"
)

func TestContainersAggregateProbes(t *testing.T) {
	st := newStubGitHub()
	st.handle("GET", "/user/repos?per_page=100&sort=updated", 200, `[{"id":1,"full_name":"acme/web"}]`)
	st.handle("GET", "/repos/acme/web/contents/Dockerfile", 200,
		`{"name":"Dockerfile","path":"Dockerfile","type":"file","sha":"df","size":120,"content":"RlJPTQ==\n"}`)
	st.handle("GET", "/repos/acme/web/contents/compose.yml", 200,
		`{"name":"compose.yml","path":"compose.yml","type":"file","sha":"cy"}`)
	st.handle("GET", "/repos/acme/web/contents/k8s", 200, `[
		{"name":"README.md","type":"file"},
		{"name":"a.yaml","type":"file","sha":"1"},
		{"name":"b.yml","type":"file","sha":"2"},
		{"name":"c.yaml","type":"file","sha":"3"},
		{"name":"d.yaml","type":"file","sha":"4"}
	]`)

	res, err := newTestScanner(st).Containers(context.Background(), patCredential(), "", false)
	if err != nil {
		t.Fatalf("Containers: %v", err)
	}

	wantTypes := []string{"Dockerfile", "Docker Compose", "Kubernetes", "Kubernetes", "Kubernetes"}
	if len(res.Items) != len(wantTypes) {
		t.Fatalf("expected %d files, got %+v", len(wantTypes), res.Items)
	}
	for i, f := range res.Items {
		if f.Type != wantTypes[i] {
			t.Errorf("items[%d].Type = %q, want %q", i, f.Type, wantTypes[i])
		}
	}
	if res.Items[0].ID != "acme/web-dockerfile" || res.Items[0].Content != "RlJPTQ==" {
		t.Errorf("unexpected Dockerfile entry: %+v", res.Items[0])
	}
	if res.Items[2].Path != "k8s/a.yaml" || res.Items[4].Path != "k8s/c.yaml" {
		t.Errorf("unexpected k8s entries: %+v", res.Items[2:])
	}

	if st.count("GET", "/repos/acme/web/contents/compose.yaml") != 0 {
		t.Error("compose probing should stop at the first file found")
	}
	if st.count("GET", "/repos/acme/web/contents/.dockerignore") != 1 {
		t.Error(".dockerignore was not probed")
	}
}

func TestContainersAggregateSkipsUnreachableRepository(t *testing.T) {
	st := newStubGitHub()
	st.handle("GET", "/user/repos?per_page=100&sort=updated", 200,
		`[{"id":1,"full_name":"acme/broken"},{"id":2,"full_name":"acme/ok"}]`)
	for _, name := range []string{"Dockerfile", "docker-compose.yml", "docker-compose.yaml", "compose.yml", "compose.yaml", "k8s", ".dockerignore"} {
		st.fail("GET", "/repos/acme/broken/contents/"+name)
	}
	st.handle("GET", "/repos/acme/ok/contents/.dockerignore", 200, `{"name":".dockerignore","path":".dockerignore"}`)

	res, err := newTestScanner(st).Containers(context.Background(), patCredential(), "", false)
	if err != nil {
		t.Fatalf("Containers: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0].Repository != "acme/ok" || res.Items[0].Type != "Docker Ignore" {
		t.Errorf("unexpected items: %+v", res.Items)
	}
}

func TestContainersAggregateKeepsFilesWhenOneProbeFails(t *testing.T) {
	st := newStubGitHub()
	st.handle("GET", "/user/repos?per_page=100&sort=updated", 200, `[{"id":1,"full_name":"acme/web"}]`)
	st.handle("GET", "/repos/acme/web/contents/Dockerfile", 200, `{"name":"Dockerfile","path":"Dockerfile","sha":"df"}`)
	st.handle("GET", "/repos/acme/web/contents/docker-compose.yml", 500, `{"message":"boom"}`)
	st.handle("GET", "/repos/acme/web/contents/compose.yaml", 200, `{"name":"compose.yaml","path":"compose.yaml","sha":"cy"}`)
	st.handle("GET", "/repos/acme/web/contents/.dockerignore", 403, `{"message":"Resource not accessible by integration"}`)

	res, err := newTestScanner(st).Containers(context.Background(), patCredential(), "", false)
	if err != nil {
		t.Fatalf("Containers: %v", err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("expected Dockerfile and compose file, got %+v", res.Items)
	}
	if res.Items[0].Type != "Dockerfile" || res.Items[1].Type != "Docker Compose" || res.Items[1].Path != "compose.yaml" {
		t.Errorf("unexpected items: %+v", res.Items)
	}
}

func TestContainersSingleRepositoryUsesTree(t *testing.T) {
	st := newStubGitHub()
	st.handle("GET", treeURI("acme/web"), 200, `{"tree":[
		{"path":"Dockerfile","type":"blob","sha":"a"},
		{"path":"services/api/Dockerfile","type":"blob","sha":"b"},
		{"path":"docker-compose.yml","type":"blob","sha":"c"},
		{"path":"k8s/deploy.yaml","type":"blob","sha":"d"},
		{"path":"k8s/nested/x.yaml","type":"blob","sha":"e"},
		{"path":"random.txt","type":"blob","sha":"f"}
	]}`)

	res, err := newTestScanner(st).Containers(context.Background(), patCredential(), "acme/web", false)
	if err != nil {
		t.Fatalf("Containers: %v", err)
	}
	if len(res.Items) != 4 {
		t.Fatalf("expected 4 container files, got %+v", res.Items)
	}
	if st.countPrefix("GET /repos/acme/web/contents") != 0 {
		t.Error("single-repository scan should not probe contents")
	}
}
