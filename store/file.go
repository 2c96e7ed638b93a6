package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/smnsjas/go-authsession/session"
)

// fileAccount is the on-disk form of an account.
type fileAccount struct {
	Username   string            `yaml:"username"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// fileDocument is the whole store file: service ID to accounts.
type fileDocument struct {
	Services map[string][]fileAccount `yaml:"services"`
}

// File is a Store backed by a YAML file, written with mode 0600.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile creates a file store. The file is created on first save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) load() (*fileDocument, error) {
	doc := &fileDocument{Services: map[string][]fileAccount{}}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read %s: %w", f.path, err)
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("store: parse %s: %w", f.path, err)
	}
	if doc.Services == nil {
		doc.Services = map[string][]fileAccount{}
	}
	return doc, nil
}

// save writes doc atomically through a temp file and rename.
func (f *File) save(doc *fileDocument) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("store: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".accounts-*.yaml")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: chmod: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("store: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("store: rename: %w", err)
	}
	return nil
}

// Accounts implements Store.
func (f *File) Accounts(_ context.Context, service string) ([]*session.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return nil, err
	}
	stored := doc.Services[service]
	out := make([]*session.Account, 0, len(stored))
	for _, a := range stored {
		out = append(out, &session.Account{Username: a.Username, Properties: maps.Clone(a.Properties)})
	}
	sortAccounts(out)
	return out, nil
}

// Save implements Store.
func (f *File) Save(_ context.Context, service string, account *session.Account) error {
	if err := validate(service, account); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	entry := fileAccount{Username: account.Username, Properties: maps.Clone(account.Properties)}
	accounts := doc.Services[service]
	replaced := false
	for i := range accounts {
		if accounts[i].Username == account.Username {
			accounts[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		accounts = append(accounts, entry)
	}
	doc.Services[service] = accounts
	return f.save(doc)
}

// Delete implements Store.
func (f *File) Delete(_ context.Context, service, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	accounts := doc.Services[service]
	for i := range accounts {
		if accounts[i].Username == username {
			doc.Services[service] = append(accounts[:i], accounts[i+1:]...)
			if len(doc.Services[service]) == 0 {
				delete(doc.Services, service)
			}
			return f.save(doc)
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrNotFound, service, username)
}

// DeleteService implements Store.
func (f *File) DeleteService(_ context.Context, service string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := doc.Services[service]; !ok {
		return nil
	}
	delete(doc.Services, service)
	return f.save(doc)
}
