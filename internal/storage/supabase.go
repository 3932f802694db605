package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
)

// bucketClient is the part of the Supabase Storage API the store uses
type bucketClient interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
	CreateSignedUrl(bucketID, filePath string, expiresIn int) (storage_go.SignedUrlResponse, error)
}

// SupabaseConfig holds Supabase Storage settings
type SupabaseConfig struct {
	URL    string
	APIKey string
	Bucket string
	// SignedURLTTL switches from public URLs to signed URLs of this lifetime
	SignedURLTTL time.Duration
}

// SupabaseStore implements Store over a Supabase Storage bucket
type SupabaseStore struct {
	client    bucketClient
	bucket    string
	signedTTL time.Duration
}

// NewSupabaseStore creates a store backed by a Supabase Storage bucket
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase url and key are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &SupabaseStore{
		client:    client.Storage,
		bucket:    cfg.Bucket,
		signedTTL: cfg.SignedURLTTL,
	}, nil
}

// Put uploads data under key, replacing any previous object, and returns
// its URL
func (s *SupabaseStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	upsert := true
	_, err := s.client.UploadFile(s.bucket, key, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to bucket %s: %w", key, s.bucket, err)
	}

	if s.signedTTL > 0 {
		signed, err := s.client.CreateSignedUrl(s.bucket, key, int(s.signedTTL.Seconds()))
		if err != nil {
			return "", fmt.Errorf("failed to sign url for %s: %w", key, err)
		}
		return signed.SignedURL, nil
	}

	return s.client.GetPublicUrl(s.bucket, key).SignedURL, nil
}
