// Package fileutil writes files so readers never observe partial content.
package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// PendingFile is a temp file in the target's directory that replaces the
// target on Commit.
type PendingFile struct {
	*os.File
	target string
	mode   os.FileMode
	done   bool
}

// CreateAtomic opens a pending file for path. Callers must Commit or Abort.
func CreateAtomic(path string, mode os.FileMode) (*PendingFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &PendingFile{File: tmp, target: path, mode: mode}, nil
}

// Commit flushes the content and renames it over the target.
func (p *PendingFile) Commit() error {
	if p.done {
		return errors.New("pending file already finished")
	}
	p.done = true
	name := p.Name()
	err := p.Sync()
	if err == nil {
		err = p.Chmod(p.mode)
	}
	if closeErr := p.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(name, p.target)
	}
	if err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("commit %s: %w", p.target, err)
	}
	return nil
}

// Abort discards the pending content. It is a no-op after Commit.
func (p *PendingFile) Abort() {
	if p.done {
		return
	}
	p.done = true
	_ = p.Close()
	_ = os.Remove(p.Name())
}

// WriteFile writes data to path through a pending file.
func WriteFile(path string, data []byte, mode os.FileMode) error {
	pending, err := CreateAtomic(path, mode)
	if err != nil {
		return err
	}
	if _, err := pending.Write(data); err != nil {
		pending.Abort()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return pending.Commit()
}
