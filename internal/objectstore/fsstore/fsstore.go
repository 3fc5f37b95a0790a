package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"novelverse/internal/objectstore"
)

// Store serves objects from a directory. Keys are slash-separated paths
// relative to the root and cannot escape it.
type Store struct {
	root *os.Root
	dir  string
}

// Open roots a store at dir.
func Open(dir string) (*Store, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open store root %q: %w", dir, err)
	}
	return &Store{root: root, dir: dir}, nil
}

// Dir returns the store root directory.
func (s *Store) Dir() string { return s.dir }

// Close releases the root directory handle.
func (s *Store) Close() error {
	return s.root.Close()
}

// Exists implements objectstore.Gateway.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := objectstore.ValidateKey(key); err != nil {
		return false, err
	}
	info, err := s.root.Stat(filepath.FromSlash(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, objectstore.StoreError("head", key, err)
	}
	if info.IsDir() {
		return false, nil
	}
	return true, nil
}

// FetchFull implements objectstore.Gateway.
func (s *Store) FetchFull(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.FetchRange(ctx, key, nil)
}

// FetchRange implements objectstore.Gateway.
func (s *Store) FetchRange(ctx context.Context, key string, r *objectstore.ByteRange) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := objectstore.ValidateKey(key); err != nil {
		return nil, err
	}
	if r != nil {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	file, err := s.root.Open(filepath.FromSlash(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, objectstore.NotFound(key)
		}
		return nil, objectstore.StoreError("get", key, err)
	}
	if r == nil {
		return file, nil
	}
	if _, err := file.Seek(r.Start, io.SeekStart); err != nil {
		file.Close()
		return nil, objectstore.StoreError("get_range", key, err)
	}
	if r.End < 0 {
		return file, nil
	}
	return &limitedFile{Reader: io.LimitReader(file, r.Length()), file: file}, nil
}

type limitedFile struct {
	io.Reader
	file *os.File
}

func (l *limitedFile) Close() error { return l.file.Close() }
