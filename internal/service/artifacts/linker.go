// Package artifacts issues time-limited download links for release
// artifacts held in the object store.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/release-registry/internal/catalog"
)

const DefaultLinkTTL = 24 * time.Hour

type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// Linker maps (program, version) to a presigned GET URL. Programs the
// catalog does not mark distributable get an empty link.
type Linker struct {
	presigner Presigner
	catalog   *catalog.Catalog
	bucket    string
	ttl       time.Duration
}

func NewLinker(presigner Presigner, programs *catalog.Catalog, bucket string, ttl time.Duration) (*Linker, error) {
	if presigner == nil {
		return nil, errors.New("presigner is required")
	}
	if programs == nil {
		return nil, errors.New("catalog is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &Linker{presigner: presigner, catalog: programs, bucket: bucket, ttl: ttl}, nil
}

func (l *Linker) LinkFor(ctx context.Context, program, version string) (string, error) {
	if l == nil || l.presigner == nil {
		return "", errors.New("artifact linker not initialized")
	}
	p, ok := l.catalog.Lookup(program)
	if !ok || !p.Distributable {
		return "", nil
	}
	objectName, err := p.ObjectName(version)
	if err != nil {
		return "", err
	}
	url, err := l.presigner.PresignGet(ctx, l.bucket, objectName, l.ttl)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return url, nil
}
