// Package store wraps the Supabase-backed object store described in
// spec.md §1 as an external collaborator: best-effort snapshot/profile
// photo persistence keyed by (bucket, key), reached through the same
// supabase-go client the teacher service uses for its relational tables
// (internal/database/supabase.go), but through its .Storage facade.
package store

import (
	"bytes"
	"context"
	"fmt"

	supabase "github.com/supabase-community/supabase-go"
	storage_go "github.com/supabase-community/storage-go"

	"github.com/ocx/proctoring-ai/internal/circuitbreaker"
)

// ObjectStore is the narrow contract consumers need: upload a blob under
// a bucket/key and, for identity verification, download one back.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Download(ctx context.Context, bucket, key string) ([]byte, error)
}

// Client is the production ObjectStore backed by Supabase Storage, guarded
// by a circuit breaker the same way internal/db guards its Postgres writes
// (spec.md §1: relational-store and object-store calls share the same
// resilience treatment).
type Client struct {
	sb *supabase.Client
	cb *circuitbreaker.CircuitBreaker
}

// NewClient builds the Supabase-backed store and registers its circuit
// breaker on breakers, so /health can report this collaborator's trip
// state alongside every other guarded call.
func NewClient(url, serviceKey string, breakers *circuitbreaker.Manager) (*Client, error) {
	sb, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}

	cfg := circuitbreaker.DefaultConfig("object-store")
	cfg.OnStateChange = nil // this store logs its own failures; avoid double-logging

	return &Client{sb: sb, cb: breakers.GetOrCreate("object-store", cfg)}, nil
}

// EnsureBucketExists creates bucket if it does not already exist. It looks
// the bucket up first and returns nil when it is found, so every startup
// can call it unconditionally; only when the lookup fails does it try to
// create the bucket, and any error from that create call is returned.
func (c *Client) EnsureBucketExists(bucket string, public bool) error {
	if _, err := c.sb.Storage.GetBucket(bucket); err == nil {
		return nil
	}
	_, err := c.sb.Storage.CreateBucket(bucket, storage_go.BucketOptions{Public: public})
	return err
}

// Upload persists data at bucket/key. Callers treat failures as
// non-fatal: the analytical result is still published even when the
// snapshot never lands in storage (spec.md §4.6).
func (c *Client) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := circuitbreaker.ExecuteWithFallback(c.cb,
		func() (struct{}, error) {
			_, err := c.sb.Storage.UploadFile(bucket, key, bytes.NewReader(data), storage_go.FileOptions{
				ContentType: &contentType,
			})
			return struct{}{}, err
		},
		func(cbErr error) (struct{}, error) {
			return struct{}{}, cbErr
		},
	)
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Download retrieves the object at bucket/key, used by identity
// verification to fetch the enrolled reference photo.
func (c *Client) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := circuitbreaker.ExecuteWithFallback(c.cb,
		func() ([]byte, error) {
			return c.sb.Storage.DownloadFile(bucket, key)
		},
		func(cbErr error) ([]byte, error) {
			return nil, cbErr
		},
	)
	if err != nil {
		return nil, fmt.Errorf("download %s/%s: %w", bucket, key, err)
	}
	return data, nil
}
