package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const schemeS3 = "s3://"

// Source is a history file that is either local or an archived object.
type Source interface {
	// Open makes the file available locally and returns its path plus a
	// release func that removes any temporary copy.
	Open(ctx context.Context) (string, func(), error)
	String() string
}

type LocalSource string

func (l LocalSource) Open(context.Context) (string, func(), error) {
	if _, err := os.Stat(string(l)); err != nil {
		return "", nil, err
	}
	return string(l), func() {}, nil
}

func (l LocalSource) String() string { return string(l) }

type ObjectSource struct {
	Bucket string
	Key    string

	store *Store
}

func (o ObjectSource) Open(ctx context.Context) (string, func(), error) {
	if o.store == nil {
		return "", nil, fmt.Errorf("%s: %w", o, ErrNoBucket)
	}

	dir, err := os.MkdirTemp("", "tankloop-archive-")
	if err != nil {
		return "", nil, err
	}
	release := func() { _ = os.RemoveAll(dir) }

	dst := filepath.Join(dir, path.Base(o.Key))
	if err := fetch(ctx, o.store.client, o.Bucket, o.Key, dst); err != nil {
		release()
		return "", nil, err
	}

	return dst, release, nil
}

func (o ObjectSource) String() string { return schemeS3 + o.Bucket + "/" + o.Key }

// ParseSource resolves ref to a LocalSource, or to an ObjectSource for
// s3://bucket/key references. store is only needed for the latter.
func ParseSource(ref string, store *Store) (Source, error) {
	if !strings.HasPrefix(ref, schemeS3) {
		return LocalSource(ref), nil
	}

	bucket, key, ok := strings.Cut(strings.TrimPrefix(ref, schemeS3), "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("invalid object reference %q, want s3://bucket/key", ref)
	}

	return ObjectSource{Bucket: bucket, Key: key, store: store}, nil
}
