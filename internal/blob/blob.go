// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package blob provides read-only access to pre-rendered articles kept in an
// object store.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrNotFound is returned when the requested key does not exist.
var ErrNotFound = errors.New("blob: not found")

// ErrBadURI is returned by [Open] for a URI it can't parse.
var ErrBadURI = errors.New("blob: invalid URI")

// Store is a read-only object store.
type Store interface {
	// Get returns the contents of the object at key. It returns an error
	// wrapping ErrNotFound if the object does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
}

// FS is a [Store] reading objects from a file system. Keys are slash-separated
// paths relative to the file system root.
type FS struct {
	fsys fs.FS
}

// NewFS returns a new [FS] store.
func NewFS(fsys fs.FS) *FS {
	return &FS{fsys: fsys}
}

// Get implements the [Store] interface.
func (s *FS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !fs.ValidPath(key) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	b, err := fs.ReadFile(s.fsys, key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return b, err
}

// Open opens the store described by uri. Supported forms:
//
//	s3://bucket
//	file:///path/to/dir
//	path/to/dir
func Open(ctx context.Context, uri string) (Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("%w: empty URI", ErrBadURI)
	}
	if strings.HasPrefix(uri, "/") || strings.HasPrefix(uri, ".") {
		return NewFS(os.DirFS(uri)), nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrBadURI, uri, err)
	}

	switch u.Scheme {
	case "":
		return NewFS(os.DirFS(uri)), nil
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return nil, fmt.Errorf("%w %q: file URI must not have a host, use file:///path", ErrBadURI, uri)
		}
		if u.Path == "" {
			return nil, fmt.Errorf("%w %q: empty path", ErrBadURI, uri)
		}
		return NewFS(os.DirFS(u.Path)), nil
	case "s3":
		if u.Host == "" {
			return nil, fmt.Errorf("%w %q: empty bucket", ErrBadURI, uri)
		}
		cfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return NewS3(s3.NewFromConfig(cfg), u.Host), nil
	}

	return nil, fmt.Errorf("%w %q: unknown scheme %q", ErrBadURI, uri, u.Scheme)
}
