// Package admin keeps the set of authenticated administrators.
package admin

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileName is the name of the admin set file inside the image output directory.
const FileName = "admin_users.json"

// PasswordSaver persists a new admin password.
type PasswordSaver interface {
	SavePassword(password string) error
}

// Registry is the persisted set of admin user identifiers. Membership never expires.
type Registry struct {
	path  string
	saver PasswordSaver
	log   *slog.Logger

	mu       sync.RWMutex
	users    map[string]struct{}
	password string
}

// Load reads the admin set from path. A missing file yields an empty set.
func Load(path, password string, saver PasswordSaver, log *slog.Logger) (*Registry, error) {
	r := &Registry{
		path:     path,
		saver:    saver,
		log:      log,
		users:    make(map[string]struct{}),
		password: password,
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("admin: failed to read %s: %w", path, err)
	}

	var users []string
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("admin: failed to decode %s: %w", path, err)
	}
	for _, u := range users {
		r.users[u] = struct{}{}
	}

	log.Info("loaded admin users", "count", len(r.users), "path", path)
	return r, nil
}

// IsAdmin reports whether user has authenticated as an admin.
func (r *Registry) IsAdmin(user string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[user]
	return ok
}

// Password returns the currently configured admin password.
func (r *Registry) Password() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.password
}

// Authenticate adds user to the admin set when supplied matches configured exactly.
// An empty configured password never matches. The returned error reports a
// persistence failure; the user stays an admin in memory in that case.
func (r *Registry) Authenticate(user, supplied, configured string) (bool, error) {
	if configured == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(configured)) != 1 {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user]; ok {
		return true, nil
	}
	r.users[user] = struct{}{}

	if err := r.saveLocked(); err != nil {
		return true, err
	}

	r.log.Info("admin authenticated", "user", user)
	return true, nil
}

// SetPassword replaces the admin password and persists it. The caller must
// already have checked that the requester is an admin.
func (r *Registry) SetPassword(password string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.saver != nil {
		if err := r.saver.SavePassword(password); err != nil {
			return fmt.Errorf("admin: failed to persist password: %w", err)
		}
	}
	r.password = password

	r.log.Info("admin password updated")
	return nil
}

func (r *Registry) saveLocked() error {
	users := make([]string, 0, len(r.users))
	for u := range r.users {
		users = append(users, u)
	}
	sort.Strings(users)

	data, err := json.Marshal(users)
	if err != nil {
		return fmt.Errorf("admin: failed to encode admin users: %w", err)
	}

	dir := filepath.Dir(r.path)
	tmp, err := os.CreateTemp(dir, ".admin-*.json")
	if err != nil {
		return fmt.Errorf("admin: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("admin: failed to write admin users: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("admin: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("admin: failed to save %s: %w", r.path, err)
	}
	return nil
}
