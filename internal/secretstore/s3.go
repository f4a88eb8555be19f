package secretstore

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config holds connection settings for an S3-compatible secret bucket.
// Secrets are stored one object per name under Prefix (default "secrets/").
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
	Timeout   time.Duration // defaults to 10s
}

// S3Store resolves secrets from objects in an S3-compatible bucket. This
// repurposes the platform's object-storage dependency (otherwise used for
// pipeline landing zones) as a secret-blob backend — useful when an
// operator wants ingestion-recipe secrets to live in the same bucket
// infrastructure as everything else rather than in process environment
// variables.
type S3Store struct {
	client  *minio.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewS3Store creates an S3Store connected to the given bucket. It does
// not create the bucket — unlike a landing-zone store, secrets must
// already exist; a missing bucket surfaces as a lookup miss.
func NewS3Store(cfg S3Config) (*S3Store, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "secrets/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: prefix, timeout: timeout}, nil
}

// Get implements Store. A missing object or bucket is a resolver miss, not an error;
// any other S3-level failure is returned so the caller can distinguish
// "secret not here" from "store unreachable".
func (s *S3Store) Get(ctx context.Context, name string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.prefix + name
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return "", false, fmt.Errorf("get object %s: %w", key, err)
	}
	defer obj.Close()

	if _, err := obj.Stat(); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" {
			return "", false, nil
		}
		return "", false, fmt.Errorf("stat object %s: %w", key, err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", false, fmt.Errorf("read object %s: %w", key, err)
	}
	return strings.TrimSpace(string(data)), true, nil
}
