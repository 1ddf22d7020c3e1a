package repository

import (
	"context"
	"errors"
	"fmt"

	"eduoj/internal/common/db"
	"eduoj/internal/contest/model"
)

var (
	ErrArtifactNotFound = errors.New("code artifact not found")
)

// ArtifactRepository persists code artifact metadata and the decoded text.
// Artifacts are insert-only.
type ArtifactRepository interface {
	Create(ctx context.Context, tx db.Transaction, artifact *model.CodeArtifact) (int64, error)
	GetByID(ctx context.Context, tx db.Transaction, artifactID int64) (*model.CodeArtifact, error)
}

// SQLArtifactRepository implements ArtifactRepository.
type SQLArtifactRepository struct {
	db db.Database
}

// NewArtifactRepository creates an artifact repository.
func NewArtifactRepository(database db.Database) *SQLArtifactRepository {
	return &SQLArtifactRepository{db: database}
}

// Create inserts the artifact and sets its id.
func (r *SQLArtifactRepository) Create(ctx context.Context, tx db.Transaction, artifact *model.CodeArtifact) (int64, error) {
	if artifact == nil {
		return 0, errors.New("artifact is nil")
	}
	if artifact.ObjectKey == "" || artifact.Digest == "" {
		return 0, errors.New("artifact object key and digest are required")
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = now()
	}
	id, err := db.InsertReturningID(ctx, db.GetQuerier(r.db, tx),
		`INSERT INTO code_artifacts (author_id, language, filename, object_key, digest, size_bytes, code, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.AuthorID, artifact.Language, artifact.Filename, artifact.ObjectKey, artifact.Digest,
		artifact.SizeBytes, artifact.Code, artifact.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("insert artifact failed: %w", err)
	}
	artifact.ID = id
	return id, nil
}

// GetByID loads an artifact including its cached text.
func (r *SQLArtifactRepository) GetByID(ctx context.Context, tx db.Transaction, artifactID int64) (*model.CodeArtifact, error) {
	row := db.GetQuerier(r.db, tx).QueryRow(ctx,
		`SELECT id, author_id, language, filename, object_key, digest, size_bytes, code, created_at
		FROM code_artifacts WHERE id = ?`, artifactID)
	a := &model.CodeArtifact{}
	if err := row.Scan(&a.ID, &a.AuthorID, &a.Language, &a.Filename, &a.ObjectKey, &a.Digest,
		&a.SizeBytes, &a.Code, &a.CreatedAt); err != nil {
		if db.IsNoRows(err) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("get artifact failed: %w", err)
	}
	return a, nil
}
