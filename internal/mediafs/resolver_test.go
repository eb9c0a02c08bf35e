package mediafs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// fakeS3 serves objects from memory. Embedding the interface leaves every
// other method nil.
type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
	gets    int
	heads   int
}

func (f *fakeS3) HeadObjectWithContext(ctx aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	f.heads++
	body, ok := f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, errors.New("NotFound")
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body)))}, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.gets++
	body, ok := f.objects[aws.StringValue(in.Bucket)+"/"+aws.StringValue(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func TestResolve_PassThrough(t *testing.T) {
	r := &Resolver{}
	for _, src := range []string{"/media/a.mp4", "file:///media/a.mp4", "rtsp://cam/1", "https://cdn/v.mp4"} {
		got, err := r.Resolve(context.Background(), src)
		if err != nil || got != src {
			t.Errorf("Resolve(%q) = %q, %v", src, got, err)
		}
	}
}

func TestResolve_DownloadsOnce(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{
		"videos/maps/cave.mp4": []byte("mp4-bytes"),
	}}
	r := &Resolver{Client: fake, CacheDir: t.TempDir()}

	path, err := r.Resolve(context.Background(), "s3://videos/maps/cave.mp4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(r.CacheDir, "videos", "maps", "cave.mp4"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "mp4-bytes" {
		t.Fatalf("cached file = %q, %v", data, err)
	}

	if _, err := r.Resolve(context.Background(), "s3://videos/maps/cave.mp4"); err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if fake.gets != 1 || fake.heads != 2 {
		t.Errorf("gets=%d heads=%d, want 1 and 2", fake.gets, fake.heads)
	}
	t.Logf("✅ object downloaded once, reused from cache")
}

func TestResolve_StaleCacheRefetched(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{"b/k.mp4": []byte("new-content")}}
	r := &Resolver{Client: fake, CacheDir: t.TempDir()}

	local := filepath.Join(r.CacheDir, "b", "k.mp4")
	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := r.Resolve(context.Background(), "s3://b/k.mp4"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	data, _ := os.ReadFile(local)
	if string(data) != "new-content" {
		t.Errorf("cache not refreshed: %q", data)
	}
}

func TestResolve_Errors(t *testing.T) {
	if _, err := (&Resolver{}).Resolve(context.Background(), "s3://b/k.mp4"); !errors.Is(err, ErrNoClient) {
		t.Errorf("no client error = %v, want ErrNoClient", err)
	}

	r := &Resolver{Client: &fakeS3{objects: map[string][]byte{}}, CacheDir: t.TempDir()}
	if _, err := r.Resolve(context.Background(), "s3://b/missing.mp4"); err == nil {
		t.Error("expected error for missing object")
	}
}

func TestResolve_KeyOutsideCache(t *testing.T) {
	root := t.TempDir()
	cacheDir := filepath.Join(root, "cache")

	tests := []struct {
		name   string
		source string
		object string
	}{
		{"parent of cache", "s3://videos/../../escaped.mp4", "videos/../../escaped.mp4"},
		{"sibling bucket", "s3://videos/../other/clip.mp4", "videos/../other/clip.mp4"},
		{"bucket dir itself", "s3://videos/sub/..", "videos/sub/.."},
		{"dot-dot bucket", "s3://../clip.mp4", "../clip.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeS3{objects: map[string][]byte{tt.object: []byte("payload")}}
			r := &Resolver{Client: fake, CacheDir: cacheDir}

			if _, err := r.Resolve(context.Background(), tt.source); !errors.Is(err, ErrOutsideCache) {
				t.Fatalf("Resolve(%q) error = %v, want ErrOutsideCache", tt.source, err)
			}
			if fake.gets != 0 || fake.heads != 0 {
				t.Errorf("s3 called (heads=%d gets=%d), want no requests", fake.heads, fake.gets)
			}
			if _, err := os.Stat(filepath.Join(root, "escaped.mp4")); !os.IsNotExist(err) {
				t.Errorf("file written outside cache dir: %v", err)
			}
		})
	}
	t.Logf("✅ keys escaping %s rejected", cacheDir)
}

func TestParseS3(t *testing.T) {
	tests := []struct {
		in     string
		bucket string
		key    string
		ok     bool
	}{
		{"s3://bucket/key.mp4", "bucket", "key.mp4", true},
		{"s3://bucket/a/b/c.mov", "bucket", "a/b/c.mov", true},
		{"s3://bucket/", "", "", false},
		{"s3://bucket/dir/", "", "", false},
		{"s3:///key", "", "", false},
		{"/local/file.mp4", "", "", false},
	}
	for _, tt := range tests {
		bucket, key, ok := parseS3(tt.in)
		if bucket != tt.bucket || key != tt.key || ok != tt.ok {
			t.Errorf("parseS3(%q) = %q, %q, %v", tt.in, bucket, key, ok)
		}
	}
}
