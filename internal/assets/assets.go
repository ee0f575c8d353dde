// Package assets loads the college logo embedded in exports, from a local
// file or from an object-storage bucket.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"colegio/panel/internal/export"
)

const (
	// maxLogoBytes bounds what is read into memory for a logo.
	maxLogoBytes  = 5 << 20
	defaultRegion = "us-east-1"
)

// ErrNotConfigured is returned when no logo source is configured.
var ErrNotConfigured = errors.New("logo source not configured")

// LocalSource reads the logo from disk on every call.
type LocalSource struct {
	Path string
}

func (s LocalSource) Logo(context.Context) (*export.Image, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open logo: %w", err)
	}
	defer f.Close()
	return readImage(f, s.Path)
}

// BucketSource fetches the logo object from S3-compatible storage and
// caches it after the first successful read.
type BucketSource struct {
	client *minio.Client
	bucket string
	object string

	mu     sync.Mutex
	cached *export.Image
}

// NewBucketSource connects to an S3-compatible endpoint with static keys.
func NewBucketSource(opts Options) (*BucketSource, error) {
	region := opts.Region
	if region == "" {
		region = defaultRegion
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}
	return &BucketSource{client: client, bucket: opts.Bucket, object: opts.Object}, nil
}

func (s *BucketSource) Logo(ctx context.Context) (*export.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached, nil
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get logo object: %w", err)
	}
	defer obj.Close()

	img, err := readImage(obj, s.object)
	if err != nil {
		return nil, err
	}
	s.cached = img
	return img, nil
}

func readImage(r io.Reader, name string) (*export.Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxLogoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read logo: %w", err)
	}
	if len(data) > maxLogoBytes {
		return nil, fmt.Errorf("logo larger than %d bytes", maxLogoBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("logo is empty")
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".png"
	}
	return &export.Image{Data: data, Extension: ext}, nil
}

// Options selects a logo source. A bucket wins over a local path.
type Options struct {
	Path      string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
	Object    string
}

// New returns the configured source, or ErrNotConfigured.
func New(opts Options) (export.LogoSource, error) {
	switch {
	case opts.Bucket != "" && opts.Endpoint != "":
		src, err := NewBucketSource(opts)
		if err != nil {
			return nil, err
		}
		return src, nil
	case opts.Path != "":
		return LocalSource{Path: opts.Path}, nil
	default:
		return nil, ErrNotConfigured
	}
}
