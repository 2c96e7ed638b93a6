package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-authsession/provider/httpauth"
	"github.com/smnsjas/go-authsession/session"
	"github.com/smnsjas/go-authsession/store"
)

type cliEnv struct {
	configPath string
	envPath    string
	storePath  string
}

func newCLIEnv(t *testing.T, baseURL string) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	e := &cliEnv{
		configPath: filepath.Join(dir, "config.yaml"),
		envPath:    filepath.Join(dir, "none.env"),
		storePath:  filepath.Join(dir, "accounts.yaml"),
	}
	cfg := fmt.Sprintf(`
name: cli-test
log:
  level: error
store:
  backend: file
  path: %s
transport:
  retry_attempts: 0
providers:
  - name: intranet
    base_url: %s
    verify_path: /me
    token_path: /token
    scheme: basic
`, e.storePath, baseURL)
	require.NoError(t, os.WriteFile(e.configPath, []byte(cfg), 0o600))
	return e
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, cleanup := newRootCmd()
	defer cleanup()

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", e.configPath, "--env-file", e.envPath}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func newAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/me":
		case "/token":
			_, _ = w.Write([]byte(`{"sub":"alice"}`))
		case "/items":
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusCreated)
			}
			_, _ = w.Write([]byte(r.Method + " items"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func seed(t *testing.T, path string) {
	t.Helper()
	err := store.NewFile(path).Save(context.Background(), "intranet", &session.Account{
		Username:   "alice",
		Properties: map[string]string{httpauth.PropPassword: "pw"},
	})
	require.NoError(t, err)
}

func TestCLI_Lifecycle(t *testing.T) {
	srv := newAPI(t)
	e := newCLIEnv(t, srv.URL)
	seed(t, e.storePath)

	out, err := e.run(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Account:  alice")
	assert.Contains(t, out, "Provider: intranet")

	out, err = e.run(t, "status", "--token")
	require.NoError(t, err)
	assert.Contains(t, out, `"sub": "alice"`)

	out, err = e.run(t, "call", "/items")
	require.NoError(t, err)
	assert.Equal(t, "GET items", out)

	out, err = e.run(t, "call", "-X", "post", "-d", "{}", "/items")
	require.NoError(t, err)
	assert.Equal(t, "POST items", out)

	out, err = e.run(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out alice")

	accounts, err := store.NewFile(e.storePath).Accounts(context.Background(), "intranet")
	require.NoError(t, err)
	assert.Empty(t, accounts)

	_, err = e.run(t, "status")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))

	out, err = e.run(t, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")
}

func TestCLI_CallErrors(t *testing.T) {
	srv := newAPI(t)
	e := newCLIEnv(t, srv.URL)
	seed(t, e.storePath)

	_, err := e.run(t, "call", "/missing")
	require.Error(t, err)
	assert.Equal(t, session.KindOther, session.Classify(err))

	_, err = e.run(t, "call", "-H", "bad-header", "/items")
	assert.ErrorContains(t, err, "invalid header")
}

func TestCLI_Forget(t *testing.T) {
	srv := newAPI(t)
	e := newCLIEnv(t, srv.URL)
	seed(t, e.storePath)

	out, err := e.run(t, "forget")
	require.NoError(t, err)
	assert.Contains(t, out, "intranet")

	accounts, err := store.NewFile(e.storePath).Accounts(context.Background(), "intranet")
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestCLI_NoProviders(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  backend: memory\n"), 0o600))

	root, cleanup := newRootCmd()
	defer cleanup()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfgPath, "--env-file", filepath.Join(dir, "x.env"), "status"})
	err := root.Execute()
	assert.ErrorContains(t, err, "no providers configured")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 130, exitCode(session.ErrCancelled))
	assert.Equal(t, 130, exitCode(context.Canceled))
	assert.Equal(t, 3, exitCode(fmt.Errorf("x: %w", session.ErrOffline)))
	assert.Equal(t, 2, exitCode(&session.LoginError{}))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}
