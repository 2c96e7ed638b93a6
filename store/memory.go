package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/smnsjas/go-authsession/session"
)

const keySep = "\x00"

// Memory is a process-local Store. Entries expire after the TTL given to
// NewMemory; a TTL of zero keeps them until deleted.
type Memory struct {
	c *gocache.Cache
}

// NewMemory creates an in-memory store.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Memory{c: gocache.New(ttl, time.Minute)}
}

func memKey(service, username string) string {
	return service + keySep + username
}

// Accounts implements Store.
func (m *Memory) Accounts(_ context.Context, service string) ([]*session.Account, error) {
	prefix := service + keySep
	var out []*session.Account
	for k, item := range m.c.Items() {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if a, ok := item.Object.(*session.Account); ok {
			out = append(out, a.Clone())
		}
	}
	sortAccounts(out)
	return out, nil
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, service string, account *session.Account) error {
	if err := validate(service, account); err != nil {
		return err
	}
	m.c.SetDefault(memKey(service, account.Username), account.Clone())
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, service, username string) error {
	k := memKey(service, username)
	if _, ok := m.c.Get(k); !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, service, username)
	}
	m.c.Delete(k)
	return nil
}

// DeleteService implements Store.
func (m *Memory) DeleteService(_ context.Context, service string) error {
	prefix := service + keySep
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			m.c.Delete(k)
		}
	}
	return nil
}
