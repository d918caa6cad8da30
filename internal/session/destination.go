package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// destination collects a download in a temporary file next to the target
// path. Only commit makes it visible under the target name, so a failed
// transfer never leaves a partial or empty file behind.
type destination struct {
	path string
	tmp  *os.File
}

func createDestination(path string) (*destination, error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".part-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &destination{path: path, tmp: tmp}, nil
}

func (d *destination) Write(p []byte) (int, error) {
	return d.tmp.Write(p)
}

// commit closes the temporary file and renames it onto the target path.
func (d *destination) commit() error {
	if err := d.tmp.Chmod(0o644); err != nil {
		d.abort()
		return fmt.Errorf("failed to finalize %s: %w", d.path, err)
	}
	if err := d.tmp.Close(); err != nil {
		os.Remove(d.tmp.Name())
		return fmt.Errorf("failed to finalize %s: %w", d.path, err)
	}
	if err := os.Rename(d.tmp.Name(), d.path); err != nil {
		os.Remove(d.tmp.Name())
		return fmt.Errorf("failed to finalize %s: %w", d.path, err)
	}
	return nil
}

// abort discards the temporary file.
func (d *destination) abort() error {
	return errors.Join(d.tmp.Close(), os.Remove(d.tmp.Name()))
}
