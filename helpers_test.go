package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

const testAPIURL = "https://api.github.test"

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	testKeyPEM  string
)

// testPrivateKey returns a process-wide RSA key and its PKCS#1 PEM encoding.
func testPrivateKey(t testing.TB) (*rsa.PrivateKey, string) {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = key
		testKeyPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
	})
	return testKey, testKeyPEM
}

type stubReply struct {
	status int
	body   string
	err    error
}

// stubGitHub is an http.RoundTripper that answers "METHOD /path?query" keys
// and counts every request. Unregistered keys get a 404.
type stubGitHub struct {
	mu     sync.Mutex
	routes map[string]func(*http.Request) stubReply
	calls  map[string]int
}

func newStubGitHub() *stubGitHub {
	return &stubGitHub{
		routes: make(map[string]func(*http.Request) stubReply),
		calls:  make(map[string]int),
	}
}

func (s *stubGitHub) handle(method, uri string, status int, body string) {
	s.handleFunc(method, uri, func(*http.Request) stubReply {
		return stubReply{status: status, body: body}
	})
}

func (s *stubGitHub) handleFunc(method, uri string, fn func(*http.Request) stubReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[method+" "+uri] = fn
}

func (s *stubGitHub) fail(method, uri string) {
	s.handleFunc(method, uri, func(*http.Request) stubReply {
		return stubReply{err: errors.New("connection reset by peer")}
	})
}

func (s *stubGitHub) count(method, uri string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method+" "+uri]
}

func (s *stubGitHub) countPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, v := range s.calls {
		if strings.HasPrefix(k, prefix) {
			n += v
		}
	}
	return n
}

func (s *stubGitHub) RoundTrip(req *http.Request) (*http.Response, error) {
	key := req.Method + " " + req.URL.RequestURI()

	s.mu.Lock()
	s.calls[key]++
	fn, ok := s.routes[key]
	s.mu.Unlock()

	reply := stubReply{status: http.StatusNotFound, body: `{"message":"Not Found"}`}
	if ok {
		reply = fn(req)
	}
	if reply.err != nil {
		return nil, reply.err
	}
	if req.Body != nil {
		req.Body.Close()
	}
	return &http.Response{
		StatusCode: reply.status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(reply.body)),
		Request:    req,
	}, nil
}

func newTestClient(st *stubGitHub) *GitHubClient {
	return NewGitHubClient(testAPIURL, &http.Client{Transport: st}, zap.NewNop(), nil)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	store := NewStore(db, zap.NewNop())
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func patCredential() Credential {
	return Credential{Kind: CredentialPAT, Token: "ghp_test", Principal: "pat"}
}
