// Package mediafs turns configured sources into paths the decoding engine
// can open. s3:// objects are fetched into a local cache directory; every
// other source is returned unchanged.
package mediafs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// ErrNoClient means an s3:// source was given without an S3 client.
var ErrNoClient = errors.New("mediafs: s3 source without client")

// ErrOutsideCache means an object's bucket or key would place the cached
// copy outside its bucket directory under CacheDir.
var ErrOutsideCache = errors.New("mediafs: object path escapes cache dir")

// Resolver maps sources to local paths.
type Resolver struct {
	Client   s3iface.S3API
	CacheDir string
}

// NewS3Client builds an S3 client from the environment credentials chain
// (AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY, shared config, instance role).
func NewS3Client(region string) (s3iface.S3API, error) {
	if region == "" {
		region = os.Getenv("AWS_DEFAULT_REGION")
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("mediafs: aws session: %w", err)
	}
	return s3.New(sess), nil
}

// Resolve returns a path or URI for source. s3://bucket/key is downloaded
// once into CacheDir/bucket/key; a cached copy with the remote size is
// reused.
func (r *Resolver) Resolve(ctx context.Context, source string) (string, error) {
	bucket, key, ok := parseS3(source)
	if !ok {
		return source, nil
	}
	if r.Client == nil {
		return "", ErrNoClient
	}

	local, err := r.cachePath(bucket, key)
	if err != nil {
		return "", err
	}

	head, err := r.Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("mediafs: head s3://%s/%s: %w", bucket, key, err)
	}

	if fi, err := os.Stat(local); err == nil && fi.Size() == aws.Int64Value(head.ContentLength) {
		slog.Debug("mediafs: cache hit", "source", source, "path", local)
		return local, nil
	}

	if err := r.download(ctx, bucket, key, local); err != nil {
		return "", err
	}
	slog.Info("mediafs: downloaded",
		"source", source,
		"path", local,
		"bytes", aws.Int64Value(head.ContentLength),
	)
	return local, nil
}

func (r *Resolver) download(ctx context.Context, bucket, key, local string) error {
	out, err := r.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("mediafs: get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("mediafs: cache dir: %w", err)
	}

	// Write beside the target and rename so a partial download is never
	// mistaken for a cached copy.
	tmp, err := os.CreateTemp(filepath.Dir(local), ".download-*")
	if err != nil {
		return fmt.Errorf("mediafs: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, out.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("mediafs: write %s: %w", local, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("mediafs: write %s: %w", local, err)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return fmt.Errorf("mediafs: rename %s: %w", local, err)
	}
	return nil
}

// cachePath maps bucket and key to CacheDir/bucket/key. Keys may legally
// contain "..", so the joined path must stay inside the bucket directory.
func (r *Resolver) cachePath(bucket, key string) (string, error) {
	root := filepath.Clean(r.cacheDir())
	dir := filepath.Join(root, bucket)
	local := filepath.Join(dir, filepath.FromSlash(key))
	if !within(root, dir) || !within(dir, local) {
		return "", fmt.Errorf("%w: s3://%s/%s", ErrOutsideCache, bucket, key)
	}
	return local, nil
}

// within reports whether path is strictly below base.
func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (r *Resolver) cacheDir() string {
	if r.CacheDir != "" {
		return r.CacheDir
	}
	return filepath.Join(os.TempDir(), "videosurface-cache")
}

// parseS3 splits s3://bucket/key. ok is false for any other source.
func parseS3(source string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(source, "s3://") {
		return "", "", false
	}
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", "", false
	}
	return u.Host, key, true
}
