package store

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chai2010/webp"
	"github.com/oklog/ulid/v2"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pngServer(t *testing.T) *httptest.Server {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 4))
	img.Set(1, 1, color.NRGBA{G: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStore(t *testing.T, format Format, reserved ...string) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "images"), format, nil, discardLogger(), reserved...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s
}

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func TestDownloadAndSave(t *testing.T) {
	srv := pngServer(t)

	tests := []struct {
		format Format
		ext    string
		check  func(t *testing.T, data []byte)
	}{
		{format: FormatPNG, ext: ".png", check: func(t *testing.T, data []byte) {
			if _, err := png.Decode(bytes.NewReader(data)); err != nil {
				t.Errorf("expected png output: %v", err)
			}
		}},
		{format: FormatJPEG, ext: ".jpg", check: func(t *testing.T, data []byte) {
			if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
				t.Error("expected jpeg magic bytes")
			}
		}},
		{format: FormatWebP, ext: ".webp", check: func(t *testing.T, data []byte) {
			img, err := webp.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("expected webp output: %v", err)
			}
			if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 4 {
				t.Errorf("expected 8x4, got %dx%d", b.Dx(), b.Dy())
			}
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			s := newStore(t, tt.format)
			path, err := s.DownloadAndSave(context.Background(), srv.URL+"/out.png")
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if filepath.Dir(path) != s.Dir() {
				t.Errorf("expected file in %s, got %s", s.Dir(), path)
			}
			name := filepath.Base(path)
			if !strings.HasSuffix(name, tt.ext) {
				t.Errorf("expected extension %s, got %s", tt.ext, name)
			}
			if _, err := ulid.ParseStrict(strings.TrimSuffix(name, tt.ext)); err != nil {
				t.Errorf("expected ULID file name, got %s: %v", name, err)
			}

			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read saved file: %v", err)
			}
			tt.check(t, data)
		})
	}
}

func TestDownloadAndSave_UniqueNames(t *testing.T) {
	srv := pngServer(t)
	s := newStore(t, FormatPNG)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	seen := map[string]bool{}
	for i := 0; i < 5; i++ {
		path, err := s.DownloadAndSave(context.Background(), srv.URL+"/out.png")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if seen[path] {
			t.Fatalf("duplicate file name %s", path)
		}
		seen[path] = true
	}
}

func TestDownloadAndSave_Errors(t *testing.T) {
	srv := pngServer(t)
	s := newStore(t, FormatPNG)

	if _, err := s.DownloadAndSave(context.Background(), srv.URL+"/missing.png"); err == nil {
		t.Error("expected error for 404 download")
	}

	garbage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not an image"))
	}))
	defer garbage.Close()
	if _, err := s.DownloadAndSave(context.Background(), garbage.URL); err == nil {
		t.Error("expected error for undecodable body")
	}

	entries, _ := os.ReadDir(s.Dir())
	if len(entries) != 0 {
		t.Errorf("expected no leftover files, found %d", len(entries))
	}
}

func TestSweepOlderThan(t *testing.T) {
	s := newStore(t, FormatPNG, "admin_users.json")
	now := time.Now()

	old := filepath.Join(s.Dir(), "old.png")
	fresh := filepath.Join(s.Dir(), "fresh.png")
	adminFile := filepath.Join(s.Dir(), "admin_users.json")
	hidden := filepath.Join(s.Dir(), ".tmp-123")
	touch(t, old, now.Add(-4*24*time.Hour))
	touch(t, fresh, now.Add(-time.Hour))
	touch(t, adminFile, now.Add(-30*24*time.Hour))
	touch(t, hidden, now.Add(-30*24*time.Hour))

	deleted, err := s.SweepOlderThan(72 * time.Hour)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", deleted)
	}

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("expected old image to be deleted")
	}
	for _, keep := range []string{fresh, adminFile, hidden} {
		if _, err := os.Stat(keep); err != nil {
			t.Errorf("expected %s to be kept: %v", filepath.Base(keep), err)
		}
	}
}

func TestPurgeAll(t *testing.T) {
	s := newStore(t, FormatPNG, "admin_users.json")
	now := time.Now()
	for _, name := range []string{"a.png", "b.jpg", "c.webp", "admin_users.json"} {
		touch(t, filepath.Join(s.Dir(), name), now)
	}

	deleted, remaining, err := s.PurgeAll()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if deleted != 3 || remaining != 0 {
		t.Errorf("expected (3, 0), got (%d, %d)", deleted, remaining)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "admin_users.json")); err != nil {
		t.Errorf("expected admin file to survive purge: %v", err)
	}
}

func TestSweepOlderThan_ContinuesPastFailures(t *testing.T) {
	s := newStore(t, FormatPNG)
	old := time.Now().Add(-10 * 24 * time.Hour)
	for _, name := range []string{"01A.png", "01B.png", "01C.png"} {
		touch(t, filepath.Join(s.Dir(), name), old)
	}

	stuck := filepath.Join(s.Dir(), "01A.png")
	s.rm = func(name string) error {
		if name == stuck {
			return os.ErrPermission
		}
		return os.Remove(name)
	}

	deleted, err := s.SweepOlderThan(72 * time.Hour)
	if !errors.Is(err, os.ErrPermission) {
		t.Errorf("expected the permission error to be reported, got %v", err)
	}
	if deleted != 2 {
		t.Errorf("expected 2 deletions past the failing file, got %d", deleted)
	}
	if _, err := os.Stat(stuck); err != nil {
		t.Errorf("expected the undeletable file to remain: %v", err)
	}

	deleted, remaining, err := s.PurgeAll()
	if err == nil || deleted != 0 || remaining != 1 {
		t.Errorf("PurgeAll = (%d, %d, %v), want (0, 1, error)", deleted, remaining, err)
	}
}

func TestPurgeAll_MissingDir(t *testing.T) {
	s := newStore(t, FormatPNG)
	if err := os.RemoveAll(s.Dir()); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	deleted, remaining, err := s.PurgeAll()
	if err != nil || deleted != 0 || remaining != 0 {
		t.Errorf("expected (0, 0, nil), got (%d, %d, %v)", deleted, remaining, err)
	}
}

func TestParseFormat(t *testing.T) {
	tests := map[string]Format{"": FormatPNG, "PNG": FormatPNG, "jpg": FormatJPEG, "jpeg": FormatJPEG, "webp": FormatWebP}
	for in, want := range tests {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("gif"); err == nil {
		t.Error("expected error for gif")
	}
	if FormatJPEG.Ext() != "jpg" || FormatWebP.Ext() != "webp" {
		t.Error("unexpected jpeg metadata")
	}
}
