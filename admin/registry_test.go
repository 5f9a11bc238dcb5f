package admin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"drawbot/logger"
)

type fakeSaver struct {
	saved string
	err   error
}

func (f *fakeSaver) SavePassword(password string) error {
	if f.err != nil {
		return f.err
	}
	f.saved = password
	return nil
}

func newTestRegistry(t *testing.T, password string) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	r, err := Load(path, password, &fakeSaver{}, logger.Discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return r, path
}

func TestRegistry_Authenticate(t *testing.T) {
	r, path := newTestRegistry(t, "secret")

	ok, err := r.Authenticate("alice", "secret", "secret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if !ok {
		t.Fatal("expected correct password to authenticate")
	}
	if !r.IsAdmin("alice") {
		t.Error("alice should be an admin")
	}

	ok, err = r.Authenticate("bob", "wrong", "secret")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if ok {
		t.Error("wrong password should not authenticate")
	}
	if r.IsAdmin("bob") {
		t.Error("bob should not be an admin")
	}

	// The set survives a reload.
	reloaded, err := Load(path, "secret", nil, logger.Discard())
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.IsAdmin("alice") || reloaded.IsAdmin("bob") {
		t.Error("reloaded registry does not match the persisted set")
	}
}

func TestRegistry_EmptyPasswordNeverMatches(t *testing.T) {
	r, _ := newTestRegistry(t, "")

	if ok, _ := r.Authenticate("alice", "", ""); ok {
		t.Error("empty configured password must not authenticate")
	}
}

func TestRegistry_LoadMissingFile(t *testing.T) {
	r, _ := newTestRegistry(t, "secret")
	if r.IsAdmin("anyone") {
		t.Error("new registry should be empty")
	}
}

func TestRegistry_LoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, "secret", nil, logger.Discard()); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}

func TestRegistry_SetPassword(t *testing.T) {
	saver := &fakeSaver{}
	r, err := Load(filepath.Join(t.TempDir(), FileName), "old", saver, logger.Discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := r.SetPassword("new"); err != nil {
		t.Fatalf("SetPassword failed: %v", err)
	}
	if r.Password() != "new" {
		t.Errorf("Password() = %q, want %q", r.Password(), "new")
	}
	if saver.saved != "new" {
		t.Errorf("saver got %q, want %q", saver.saved, "new")
	}
}

func TestRegistry_SetPasswordSaveFails(t *testing.T) {
	saver := &fakeSaver{err: errors.New("disk full")}
	r, err := Load(filepath.Join(t.TempDir(), FileName), "old", saver, logger.Discard())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := r.SetPassword("new"); err == nil {
		t.Fatal("expected error when saving fails")
	}
	if r.Password() != "old" {
		t.Errorf("password should be unchanged, got %q", r.Password())
	}
}
