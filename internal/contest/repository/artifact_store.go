package repository

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"eduoj/internal/common/storage"

	"golang.org/x/crypto/blake2b"
)

const (
	artifactKeyPrefix   = "code"
	artifactContentType = "text/plain; charset=utf-8"
)

// ArtifactStore keeps artifact bytes in object storage, addressed by content.
type ArtifactStore struct {
	storage storage.ObjectStorage
	bucket  string
}

// NewArtifactStore creates a store writing to bucket.
func NewArtifactStore(objectStorage storage.ObjectStorage, bucket string) (*ArtifactStore, error) {
	if objectStorage == nil {
		return nil, errors.New("object storage is required")
	}
	if bucket == "" {
		return nil, errors.New("artifact bucket is required")
	}
	return &ArtifactStore{storage: objectStorage, bucket: bucket}, nil
}

// Bucket is where artifacts are written.
func (s *ArtifactStore) Bucket() string {
	return s.bucket
}

// Digest is the hex blake2b-256 of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ArtifactKey lays artifacts out by upload day: code/YYYY/MM/DD/<digest>.<ext>.
func ArtifactKey(at time.Time, digest, ext string) string {
	at = at.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s.%s", artifactKeyPrefix, at.Year(), int(at.Month()), at.Day(), digest, ext)
}

// Put uploads data under key unless an object is already there. Keys embed
// the digest, so an existing object has the same bytes.
func (s *ArtifactStore) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.storage.StatObject(ctx, s.bucket, key); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrObjectNotFound) {
		return fmt.Errorf("stat artifact failed: %w", err)
	}
	if err := s.storage.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), artifactContentType); err != nil {
		return fmt.Errorf("upload artifact failed: %w", err)
	}
	return nil
}

// Get downloads the artifact bytes.
func (s *ArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.storage.GetObject(ctx, s.bucket, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("download artifact failed: %w", err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
