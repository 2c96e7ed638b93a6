// Package store persists accounts for session providers.
//
// Accounts are grouped by service ID, the name under which a provider
// stores its credentials. Three backends are provided: an in-memory
// store, a YAML file and Redis.
package store

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/smnsjas/go-authsession/session"
)

// ErrNotFound is returned when deleting an account that does not exist.
var ErrNotFound = errors.New("store: account not found")

// Store persists accounts by service ID.
type Store interface {
	// Accounts returns the accounts stored for service, ordered by username.
	Accounts(ctx context.Context, service string) ([]*session.Account, error)

	// Save inserts or replaces the account with the same username.
	Save(ctx context.Context, service string, account *session.Account) error

	// Delete removes one account.
	Delete(ctx context.Context, service, username string) error

	// DeleteService removes every account of service.
	DeleteService(ctx context.Context, service string) error
}

// Closer is implemented by stores holding external resources.
type Closer interface {
	Close() error
}

func validate(service string, account *session.Account) error {
	if service == "" {
		return errors.New("store: service is required")
	}
	if account == nil || account.Username == "" {
		return errors.New("store: account username is required")
	}
	return nil
}

func sortAccounts(accounts []*session.Account) {
	slices.SortFunc(accounts, func(a, b *session.Account) int {
		return strings.Compare(a.Username, b.Username)
	})
}
