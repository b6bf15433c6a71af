package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestApp(t *testing.T, st *stubGitHub) *App {
	t.Helper()
	_, keyPEM := testPrivateKey(t)
	return NewApp(&AppCredential{AppID: "99", PrivateKey: keyPEM}, newTestClient(st), true, zap.NewNop(), nil)
}

func tokenRoute(st *stubGitHub, id, token string) {
	expires := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	st.handle("POST", "/app/installations/"+id+"/access_tokens", 201,
		`{"token":"`+token+`","expires_at":"`+expires+`","repository_selection":"all"}`)
}

func TestListInstallationsUsesAppJWT(t *testing.T) {
	st := newStubGitHub()
	var auth string
	st.handleFunc("GET", "/app/installations?per_page=100", func(r *http.Request) stubReply {
		auth = r.Header.Get("Authorization")
		return stubReply{status: 200, body: `[
			{"id":1,"account":{"login":"acme","type":"Organization"},"repository_selection":"all","permissions":{"actions":"write"}},
			{"id":2,"account":{"login":"octo","type":"User"}}
		]`}
	})

	installations, err := newTestApp(t, st).ListInstallations(context.Background())
	if err != nil {
		t.Fatalf("ListInstallations: %v", err)
	}
	if !strings.HasPrefix(auth, "Bearer ey") {
		t.Errorf("expected App JWT bearer, got %q", auth)
	}
	if len(installations) != 2 {
		t.Fatalf("expected 2 installations, got %d", len(installations))
	}
	if installations[0].Permissions["actions"] != "write" || installations[0].RepositorySelection != "all" {
		t.Errorf("unexpected first installation: %+v", installations[0])
	}
	if installations[1].RepositorySelection != "selected" || installations[1].Permissions == nil {
		t.Errorf("missing fields should be defaulted: %+v", installations[1])
	}
}

func TestUnconfiguredAppFailsWithConfigurationError(t *testing.T) {
	app := NewApp(nil, newTestClient(newStubGitHub()), true, zap.NewNop(), nil)
	if app.Configured() {
		t.Fatal("app without credentials reports configured")
	}
	_, err := app.ListInstallations(context.Background())
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
}

func TestResolveInstallationForRepo(t *testing.T) {
	installations := `[
		{"id":1,"account":{"login":"someone"}},
		{"id":2,"account":{"login":"acme-corp"}},
		{"id":3,"account":{"login":"Acme"}}
	]`

	t.Run("owner match wins without probing", func(t *testing.T) {
		st := newStubGitHub()
		st.handle("GET", "/app/installations?per_page=100", 200, installations)

		inst, err := newTestApp(t, st).ResolveInstallationForRepo(context.Background(), "acme", "api")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if inst == nil || inst.ID != 3 {
			t.Fatalf("expected installation 3, got %+v", inst)
		}
		if st.countPrefix("POST ") != 0 {
			t.Error("owner match should not mint tokens")
		}
	})

	t.Run("probes until one has access", func(t *testing.T) {
		st := newStubGitHub()
		st.handle("GET", "/app/installations?per_page=100", 200, installations)
		tokenRoute(st, "1", "tok-1")
		tokenRoute(st, "2", "tok-2")
		tokenRoute(st, "3", "tok-3")
		st.handleFunc("GET", "/repos/partner/api", func(r *http.Request) stubReply {
			if r.Header.Get("Authorization") == "token tok-2" {
				return stubReply{status: 200, body: `{"id":5,"full_name":"partner/api"}`}
			}
			return stubReply{status: 404, body: `{"message":"Not Found"}`}
		})

		inst, err := newTestApp(t, st).ResolveInstallationForRepo(context.Background(), "partner", "api")
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if inst == nil || inst.ID != 2 {
			t.Fatalf("expected installation 2, got %+v", inst)
		}
		if st.count("POST", "/app/installations/3/access_tokens") != 0 {
			t.Error("probing should stop at the first installation with access")
		}
	})

	t.Run("no installation is not an error", func(t *testing.T) {
		st := newStubGitHub()
		st.handle("GET", "/app/installations?per_page=100", 200, installations)
		tokenRoute(st, "1", "tok-1")
		st.handle("POST", "/app/installations/2/access_tokens", 403, `{"message":"suspended"}`)
		tokenRoute(st, "3", "tok-3")

		inst, err := newTestApp(t, st).ResolveInstallationForRepo(context.Background(), "partner", "api")
		if err != nil || inst != nil {
			t.Fatalf("expected nil, nil; got %+v, %v", inst, err)
		}
	})
}

func TestGetInstallationNotFound(t *testing.T) {
	st := newStubGitHub()
	st.handle("GET", "/app/installations?per_page=100", 200, `[{"id":1,"account":{"login":"acme"}}]`)

	_, err := newTestApp(t, st).GetInstallation(context.Background(), 2)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInstallationCredentialReusesToken(t *testing.T) {
	st := newStubGitHub()
	tokenRoute(st, "4", "ghs_four")
	app := newTestApp(t, st)

	for i := 0; i < 3; i++ {
		cred, err := app.InstallationCredential(context.Background(), 4, "manager:m1")
		if err != nil {
			t.Fatalf("InstallationCredential: %v", err)
		}
		if cred.Token != "ghs_four" || cred.Kind != CredentialInstallation || cred.Principal != "manager:m1" {
			t.Fatalf("unexpected credential: %+v", cred)
		}
	}
	if n := st.count("POST", "/app/installations/4/access_tokens"); n != 1 {
		t.Errorf("token minted %d times, want 1", n)
	}

	app.ForgetInstallation(4)
	if _, err := app.InstallationCredential(context.Background(), 4, "manager:m1"); err != nil {
		t.Fatal(err)
	}
	if n := st.count("POST", "/app/installations/4/access_tokens"); n != 2 {
		t.Errorf("forgotten installation should re-mint, minted %d times", n)
	}
}

func TestUninstallAll(t *testing.T) {
	st := newStubGitHub()
	st.handle("GET", "/app/installations?per_page=100", 200, `[
		{"id":1,"account":{"login":"acme"}},
		{"id":2,"account":{"login":"gone"}},
		{"id":3,"account":{"login":"stuck"}}
	]`)
	st.handle("DELETE", "/app/installations/1", 204, "")
	st.handle("DELETE", "/app/installations/3", 500, `{"message":"boom"}`)

	res, err := newTestApp(t, st).UninstallAll(context.Background())
	if err != nil {
		t.Fatalf("UninstallAll: %v", err)
	}
	if res.Success || len(res.Uninstalled) != 2 || len(res.Errors) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if !strings.Contains(res.Errors[0], "stuck") {
		t.Errorf("error should name the account: %q", res.Errors[0])
	}
}

func TestUninstallForgetsToken(t *testing.T) {
	st := newStubGitHub()
	tokenRoute(st, "7", "ghs_7")
	st.handle("DELETE", "/app/installations/7", 204, "")
	app := newTestApp(t, st)
	ctx := context.Background()

	if _, err := app.InstallationCredential(ctx, 7, "p"); err != nil {
		t.Fatal(err)
	}
	if err := app.Uninstall(ctx, 7); err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if _, err := app.InstallationCredential(ctx, 7, "p"); err != nil {
		t.Fatal(err)
	}
	if n := st.count("POST", "/app/installations/7/access_tokens"); n != 2 {
		t.Errorf("token minted %d times, want 2", n)
	}
}

func TestResolveInstallationEscapesRepository(t *testing.T) {
	st := newStubGitHub()
	st.handle("GET", "/app/installations?per_page=100", 200, `[{"id":5,"account":{"login":"other"}}]`)
	tokenRoute(st, "5", "ghs_5")
	st.handle("GET", "/repos/ac%20me/api%3F", 200, `{}`)

	inst, err := newTestApp(t, st).ResolveInstallationForRepo(context.Background(), "ac me", "api?")
	if err != nil || inst == nil || inst.ID != 5 {
		t.Errorf("ResolveInstallationForRepo = %+v, %v", inst, err)
	}
}
