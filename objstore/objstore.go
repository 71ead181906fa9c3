// Package objstore abstracts the bucket holding filing objects.
//
// Filings live under date-prefixed keys: the header record at
// <YYYYMMDD>/<id>.txt and the notice document at <YYYYMMDD>/<id>.pdf.
// Listing may be eventually consistent, so consumers must treat
// re-processing of a key as idempotent; the store interface itself makes
// no transactional promises.
package objstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Store lists and fetches filing objects.
type Store interface {
	// List returns the object keys under prefix, in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Get fetches the raw bytes for a key.
	Get(ctx context.Context, key string) ([]byte, error)
}

// FilingID derives the filing id from an object key: the date folder and
// object name joined with the extension dropped, so "20240115/02768986.pdf"
// becomes "20240115/02768986".
func FilingID(key string) string {
	return strings.TrimSuffix(key, path.Ext(key))
}

// KeyDate parses the YYYYMMDD prefix of an object key. The returned time
// is the filing's event date; ok is false when the prefix is not a date.
func KeyDate(key string) (time.Time, bool) {
	if len(key) < 8 {
		return time.Time{}, false
	}
	t, err := time.Parse("20060102", key[:8])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Dir is a filesystem-backed Store rooted at a directory. It mirrors the
// bucket layout one file per object, keys relative to the root with
// forward slashes.
type Dir struct {
	root string
}

// NewDir creates a filesystem store rooted at dir.
func NewDir(dir string) *Dir {
	return &Dir{root: dir}
}

// List walks the root and returns every file key under prefix.
func (d *Dir) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("objstore: list %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Get reads one object.
func (d *Dir) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(d.root, filepath.FromSlash(key)))
	if err != nil {
		return nil, fmt.Errorf("objstore: get %q: %w", key, err)
	}
	return data, nil
}
