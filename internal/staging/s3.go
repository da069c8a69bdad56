// Package staging copies remote data paths into a local scratch directory so
// that loaders and transformations can read them as regular files.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/atlasmap-sc/ingest/internal/metrics"
)

// ErrNotFound is returned when nothing exists under a remote path.
var ErrNotFound = errors.New("remote path not found")

// Config holds the S3 connection parameters. Credentials fall back to the
// default chain when AccessKeyID is empty.
type Config struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
	// ScratchDir receives staged copies; os.TempDir when empty.
	ScratchDir string
}

// Stager downloads s3:// paths.
type Stager struct {
	client     *s3.Client
	scratchDir string
	metrics    *metrics.Metrics
	log        *slog.Logger
}

// New builds a stager from cfg.
func New(ctx context.Context, cfg Config, m *metrics.Metrics) (*Stager, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.ScratchDir, m), nil
}

// NewWithClient returns a stager using client.
func NewWithClient(client *s3.Client, scratchDir string, m *metrics.Metrics) *Stager {
	if scratchDir == "" {
		scratchDir = os.TempDir()
	}
	return &Stager{
		client:     client,
		scratchDir: scratchDir,
		metrics:    m,
		log:        slog.Default().With("component", "staging"),
	}
}

// IsRemote reports whether p must be staged.
func IsRemote(p string) bool {
	return strings.HasPrefix(p, "s3://")
}

// ParseURI splits s3://bucket/key into its parts.
func ParseURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid remote path %s: %w", uri, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid remote path %s: expected s3://bucket/key", uri)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// Stage copies the object or prefix at uri under a fresh scratch directory
// and returns the local path with a function removing the copy. Local paths
// are returned unchanged with a no-op cleanup.
func (s *Stager) Stage(ctx context.Context, uri string) (string, func() error, error) {
	noop := func() error { return nil }
	if !IsRemote(uri) {
		return uri, noop, nil
	}
	if s == nil || s.client == nil {
		return "", noop, fmt.Errorf("cannot stage %s: object storage is not configured", uri)
	}
	bucket, key, err := ParseURI(uri)
	if err != nil {
		return "", noop, err
	}
	root := filepath.Join(s.scratchDir, "staged-"+uuid.NewString())
	cleanup := func() error { return os.RemoveAll(root) }

	local, err := s.stage(ctx, bucket, key, root)
	if err != nil {
		if cerr := cleanup(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("cleanup: %w", cerr))
		}
		return "", noop, err
	}
	return local, cleanup, nil
}

func (s *Stager) stage(ctx context.Context, bucket, key, root string) (string, error) {
	base := path.Base(key)
	if key == "" {
		base = bucket
	}
	// A single object.
	if key != "" {
		keys, err := s.list(ctx, bucket, key)
		if err != nil {
			return "", err
		}
		for _, k := range keys {
			if k == key {
				dst := filepath.Join(root, base)
				if err := s.download(ctx, bucket, k, dst); err != nil {
					return "", err
				}
				return dst, nil
			}
		}
	}
	// A prefix, staged as a directory.
	prefix := key
	if prefix != "" {
		prefix += "/"
	}
	keys, err := s.list(ctx, bucket, prefix)
	if err != nil {
		return "", err
	}
	if len(keys) == 0 {
		return "", fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrNotFound)
	}
	dir := filepath.Join(root, base)
	for _, k := range keys {
		rel := strings.TrimPrefix(k, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		if err := s.download(ctx, bucket, k, filepath.Join(dir, filepath.FromSlash(rel))); err != nil {
			return "", err
		}
	}
	s.log.Info("staged remote directory", "bucket", bucket, "prefix", prefix, "objects", len(keys), "path", dir)
	return dir, nil
}

func (s *Stager) list(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: aws.String(bucket), Prefix: aws.String(prefix)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list s3://%s/%s: %w", bucket, prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (s *Stager) download(ctx context.Context, bucket, key, dst string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, out.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	s.metrics.AddStaged(n)
	return nil
}
