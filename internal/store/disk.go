package store

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/errors"
)

// Disk is the default Backend: a flat directory tree rooted at Folder,
// {folder}/{name}/{name}-{version}.crate per key, matching the spec's
// on-disk crate store layout exactly.
type Disk struct {
	Folder string
}

var _ Backend = (*Disk)(nil)

// NewDisk returns a Disk backend rooted at folder. folder is created lazily
// on first write, not here.
func NewDisk(folder string) *Disk {
	return &Disk{Folder: folder}
}

func (d *Disk) path(key Key) string {
	return filepath.Join(d.Folder, key.Name, key.Name+"-"+key.Version+".crate")
}

func (d *Disk) Exists(_ context.Context, key Key) (bool, error) {
	_, err := os.Stat(d.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrap(err, "stat crate file")
}

func (d *Disk) Create(_ context.Context, key Key) (io.WriteCloser, error) {
	path := d.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create crate directory")
	}
	// O_TRUNC: a previous crash may have left a partial file behind; without
	// truncation a short new body would leave stale suffix bytes (spec §9).
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "create crate file")
	}
	return f, nil
}

func (d *Disk) Remove(_ context.Context, key Key) error {
	err := os.Remove(d.path(key))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove partial crate file")
	}
	return nil
}

func (d *Disk) Open(_ context.Context, key Key) (io.ReadSeekCloser, error) {
	f, err := os.Open(d.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotExist, key.Path())
		}
		return nil, errors.Wrap(err, "open crate file")
	}
	return f, nil
}
