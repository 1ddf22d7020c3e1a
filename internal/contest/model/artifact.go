package model

import "time"

// CodeArtifact is an immutable uploaded source file. Code caches the decoded
// text; the raw bytes live in object storage under ObjectKey.
type CodeArtifact struct {
	ID        int64     `json:"id"`
	AuthorID  int64     `json:"author_id"`
	Language  string    `json:"language"`
	Filename  string    `json:"filename"`
	ObjectKey string    `json:"object_key"`
	Digest    string    `json:"digest"`
	SizeBytes int64     `json:"size_bytes"`
	Code      string    `json:"code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
