package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smnsjas/go-authsession/session"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	accounts, err := s.Accounts(ctx, "svc")
	require.NoError(t, err)
	assert.Empty(t, accounts)

	require.NoError(t, s.Save(ctx, "svc", &session.Account{Username: "bob", Properties: map[string]string{"domain": "CORP"}}))
	require.NoError(t, s.Save(ctx, "svc", &session.Account{Username: "alice"}))
	require.NoError(t, s.Save(ctx, "other", &session.Account{Username: "carol"}))

	accounts, err = s.Accounts(ctx, "svc")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Username)
	assert.Equal(t, "bob", accounts[1].Username)
	assert.Equal(t, "CORP", accounts[1].Property("domain"))

	// Save replaces by username.
	require.NoError(t, s.Save(ctx, "svc", &session.Account{Username: "bob", Properties: map[string]string{"domain": "NEW"}}))
	accounts, err = s.Accounts(ctx, "svc")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "NEW", accounts[1].Property("domain"))

	// Returned accounts are copies.
	accounts[1].Properties["domain"] = "mutated"
	again, err := s.Accounts(ctx, "svc")
	require.NoError(t, err)
	assert.Equal(t, "NEW", again[1].Property("domain"))

	require.NoError(t, s.Delete(ctx, "svc", "alice"))
	assert.ErrorIs(t, s.Delete(ctx, "svc", "alice"), ErrNotFound)

	require.NoError(t, s.DeleteService(ctx, "svc"))
	accounts, err = s.Accounts(ctx, "svc")
	require.NoError(t, err)
	assert.Empty(t, accounts)

	others, err := s.Accounts(ctx, "other")
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, "carol", others[0].Username)

	assert.Error(t, s.Save(ctx, "", &session.Account{Username: "x"}))
	assert.Error(t, s.Save(ctx, "svc", &session.Account{}))
	assert.Error(t, s.Save(ctx, "svc", nil))
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory(0))
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "accounts.yaml")
	f := NewFile(path)
	exerciseStore(t, f)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A second store on the same path sees the same data.
	accounts, err := NewFile(path).Accounts(context.Background(), "other")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
}

func TestFile_Missing(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "none.yaml"))
	accounts, err := f.Accounts(context.Background(), "svc")
	require.NoError(t, err)
	assert.Empty(t, accounts)
	require.NoError(t, f.DeleteService(context.Background(), "svc"))
}

func TestFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("services: [unclosed"), 0o600))

	_, err := NewFile(path).Accounts(context.Background(), "svc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("AUTHSESSION_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AUTHSESSION_TEST_REDIS_ADDR not set")
	}
	r := NewRedis(addr, 15, "")
	defer r.Close()
	require.NoError(t, r.Ping(context.Background()))
	r.prefix = "authsession:test:" + t.Name() + ":"
	_ = r.DeleteService(context.Background(), "svc")
	_ = r.DeleteService(context.Background(), "other")
	exerciseStore(t, r)
	_ = r.DeleteService(context.Background(), "other")
}

func TestRedis_Encoding(t *testing.T) {
	raw, err := encodeRedisAccount(&session.Account{Username: "alice", Properties: map[string]string{"domain": "CORP"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"domain":"CORP"}`, raw)

	a, err := decodeRedisAccount("alice", raw)
	require.NoError(t, err)
	assert.Equal(t, "CORP", a.Property("domain"))

	empty, err := encodeRedisAccount(&session.Account{Username: "bob"})
	require.NoError(t, err)
	b, err := decodeRedisAccount("bob", empty)
	require.NoError(t, err)
	assert.Nil(t, b.Properties)

	_, err = decodeRedisAccount("x", "{")
	assert.Error(t, err)
}

func TestRedis_Keys(t *testing.T) {
	r := NewRedisFromClient(nil, "")
	assert.Equal(t, DefaultRedisPrefix+"svc", r.key("svc"))
	r = NewRedisFromClient(nil, "p:")
	assert.Equal(t, "p:svc", r.key("svc"))
}
