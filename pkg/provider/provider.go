// Package provider defines the object storage contract used for report
// artifacts, manifests and indexes.
//
// Keys are POSIX-style forward-slash paths. Every persisted document is a
// UTF-8 JSON body except report outputs, which carry their own content type.
// Implementations authenticate through their SDK default chains and must be
// safe for concurrent use.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Store abstracts object storage for the reporting core.
type Store interface {
	// Put creates or overwrites the object at key.
	Put(ctx context.Context, key string, body []byte, contentType string) (*PutResult, error)

	// Get returns the object body.
	// Returns ErrNotFound if the object does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every key under prefix in ascending lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// PutResult describes where a written object ended up.
type PutResult struct {
	// Key is the normalized object key.
	Key string `json:"key"`

	// URI is a provider-qualified location (file:///..., s3://bucket/key).
	URI string `json:"uri"`

	// Size is the stored size in bytes.
	Size int64 `json:"size"`
}

// ProviderType identifies a storage backend.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents a local filesystem directory.
	ProviderFile ProviderType = "file"

	// ProviderMemory represents an in-process map, used by tests and dry runs.
	ProviderMemory ProviderType = "memory"

	// ProviderBuffered represents a staging layer over another store.
	ProviderBuffered ProviderType = "buffered"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// Content types used for persisted documents.
const (
	ContentTypeJSON     = "application/json; charset=utf-8"
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypeText     = "text/plain; charset=utf-8"
)

// NormalizeKey trims whitespace and leading slashes from a key.
func NormalizeKey(key string) string {
	return strings.TrimLeft(strings.TrimSpace(key), "/")
}

// PutJSON marshals v as indented JSON and writes it to key.
func PutJSON(ctx context.Context, s Store, key string, v any) (*PutResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", key, err)
	}
	b = append(b, '\n')
	return s.Put(ctx, key, b, ContentTypeJSON)
}

// GetOptional returns the object body, or nil with no error when the object
// does not exist.
func GetOptional(ctx context.Context, s Store, key string) ([]byte, error) {
	b, err := s.Get(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return b, nil
}
