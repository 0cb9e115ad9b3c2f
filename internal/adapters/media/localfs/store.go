// Package localfs stores delivery photos and signatures on the local filesystem.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hylla/podtrack/internal/app"
	"github.com/hylla/podtrack/internal/domain"
)

// Store implements app.MediaStore under root/<loadsheet>/<event type>/<filename>.
// Reads fall back to the legacy folder name when the canonical folder lacks a file.
type Store struct {
	root string
}

// New creates a filesystem-backed media store rooted at the given directory.
func New(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("media root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the configured media directory.
func (s *Store) Root() string {
	return s.root
}

// Has reports whether a media file exists. Invalid keys report false.
func (s *Store) Has(_ context.Context, loadsheetID string, typ domain.EventType, filename string) (bool, error) {
	for _, p := range s.candidates(loadsheetID, typ, filename) {
		_, err := os.Stat(p)
		if err == nil {
			return true, nil
		}
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("stat media %s: %w", filename, err)
		}
	}
	return false, nil
}

// Open opens a media file for reading. Returns app.ErrNotFound if it does not exist.
func (s *Store) Open(_ context.Context, loadsheetID string, typ domain.EventType, filename string) (io.ReadCloser, error) {
	for _, p := range s.candidates(loadsheetID, typ, filename) {
		f, err := os.Open(p)
		if err == nil {
			return f, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open media %s: %w", filename, err)
		}
	}
	return nil, fmt.Errorf("media %s: %w", filename, app.ErrNotFound)
}

// Put writes a media file atomically, replacing any existing file with the same key.
func (s *Store) Put(_ context.Context, loadsheetID string, typ domain.EventType, filename string, r io.Reader) error {
	dst, ok := s.path(loadsheetID, string(typ), filename)
	if !ok {
		return fmt.Errorf("media key %s/%s/%s: %w", loadsheetID, typ, filename, app.ErrInvalidMedia)
	}
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".media-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write media data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename media file: %w", err)
	}
	return nil
}

// Delete removes a media file from the canonical folder. A missing file is not an error.
func (s *Store) Delete(_ context.Context, loadsheetID string, typ domain.EventType, filename string) error {
	p, ok := s.path(loadsheetID, string(typ), filename)
	if !ok {
		return fmt.Errorf("media key %s/%s/%s: %w", loadsheetID, typ, filename, app.ErrInvalidMedia)
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove media %s: %w", filename, err)
	}
	return nil
}

func (s *Store) candidates(loadsheetID string, typ domain.EventType, filename string) []string {
	out := make([]string, 0, 2)
	if p, ok := s.path(loadsheetID, string(typ), filename); ok {
		out = append(out, p)
	}
	if legacy := typ.LegacyName(); legacy != "" {
		if p, ok := s.path(loadsheetID, legacy, filename); ok {
			out = append(out, p)
		}
	}
	return out
}

// path joins a key under root, rejecting any element that could escape it.
func (s *Store) path(loadsheetID, typ, filename string) (string, bool) {
	for _, part := range []string{loadsheetID, typ, filename} {
		if !domain.ValidMediaFilename(part) {
			return "", false
		}
	}
	return filepath.Join(s.root, loadsheetID, typ, filename), true
}
