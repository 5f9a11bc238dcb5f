// Package store saves generated images to the output directory and removes
// them again once they are older than the retention period.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/oklog/ulid/v2"
)

// maxImageSize caps downloaded images at 50MB.
const maxImageSize = 50 << 20

// Format is the encoding used for saved images.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatWebP Format = "webp"
)

// ParseFormat maps a configured image_format value to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "webp":
		return FormatWebP, nil
	}
	return "", fmt.Errorf("store: unsupported image format %q", s)
}

// Ext returns the file extension for f, without the dot.
func (f Format) Ext() string {
	if f == FormatJPEG {
		return "jpg"
	}
	return string(f)
}

// Store writes images into a single directory.
type Store struct {
	dir      string
	format   Format
	client   *http.Client
	reserved map[string]struct{}
	log      *slog.Logger
	now      func() time.Time
	rm       func(name string) error
}

// New creates a Store rooted at dir, creating the directory if needed.
// Files named in reserved are never swept or purged.
func New(dir string, format Format, client *http.Client, log *slog.Logger, reserved ...string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: failed to create %s: %w", dir, err)
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	set := make(map[string]struct{}, len(reserved))
	for _, name := range reserved {
		set[name] = struct{}{}
	}
	return &Store{
		dir:      dir,
		format:   format,
		client:   client,
		reserved: set,
		log:      log,
		now:      time.Now,
		rm:       os.Remove,
	}, nil
}

// Dir returns the output directory.
func (s *Store) Dir() string { return s.dir }

// DownloadAndSave fetches the image at url, re-encodes it in the configured
// format and returns the path of the saved file.
func (s *Store) DownloadAndSave(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("store: failed to create download request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("store: failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("store: image download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return "", fmt.Errorf("store: failed to read image: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("store: failed to decode image: %w", err)
	}

	return s.save(img)
}

func (s *Store) save(img image.Image) (string, error) {
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("store: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.encode(tmp, img); err != nil {
		tmp.Close()
		return "", fmt.Errorf("store: failed to encode %s image: %w", s.format, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("store: failed to close temp file: %w", err)
	}

	id := ulid.MustNew(ulid.Timestamp(s.now()), ulid.DefaultEntropy())
	path := filepath.Join(s.dir, id.String()+"."+s.format.Ext())
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("store: failed to move image into place: %w", err)
	}

	s.log.Info("image saved", "path", path)
	return path, nil
}

func (s *Store) encode(w io.Writer, img image.Image) error {
	switch s.format {
	case FormatJPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(90))
	case FormatWebP:
		return webp.Encode(w, img, &webp.Options{Quality: 90})
	default:
		return imaging.Encode(w, img, imaging.PNG)
	}
}

// SweepOlderThan deletes image files last modified more than maxAge ago and
// returns how many were removed. Files that cannot be deleted are skipped and
// reported in the returned error.
func (s *Store) SweepOlderThan(maxAge time.Duration) (int, error) {
	cutoff := s.now().Add(-maxAge)
	deleted := 0
	err := s.walk(func(path string, info fs.FileInfo) error {
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		removed, err := s.remove(path)
		if removed {
			deleted++
		}
		return err
	})
	return deleted, err
}

// PurgeAll deletes every image file. It returns the number deleted and the
// number of image files still present afterwards.
func (s *Store) PurgeAll() (deleted, remaining int, err error) {
	err = s.walk(func(path string, _ fs.FileInfo) error {
		removed, err := s.remove(path)
		if removed {
			deleted++
		}
		return err
	})
	countErr := s.walk(func(string, fs.FileInfo) error {
		remaining++
		return nil
	})
	return deleted, remaining, errors.Join(err, countErr)
}

// walk calls fn for every regular, non-hidden, non-reserved file in the
// directory. A failing file does not stop the walk; the failures are
// returned joined.
func (s *Store) walk(fn func(path string, info fs.FileInfo) error) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("store: failed to list %s: %w", s.dir, err)
	}

	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if _, ok := s.reserved[name]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			s.log.Warn("failed to stat image", "name", name, "error", err)
			errs = append(errs, fmt.Errorf("store: failed to stat %s: %w", name, err))
			continue
		}
		if err := fn(filepath.Join(s.dir, name), info); err != nil {
			s.log.Warn("failed to process image", "name", name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) remove(path string) (bool, error) {
	if err := s.rm(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("store: failed to delete %s: %w", path, err)
	}
	s.log.Debug("image deleted", "path", path)
	return true, nil
}
