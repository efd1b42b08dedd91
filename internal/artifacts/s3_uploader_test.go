package artifacts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/IliaW/portal-checker/config"
	"github.com/IliaW/portal-checker/internal/model"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	err     error
}

func (b *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if b.err != nil {
		return nil, b.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[*in.Key] = string(data)
	b.types[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (b *fakeBucket) keys() []string {
	var keys []string
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	discard = slog.New(slog.NewTextHandler(io.Discard, nil))
	s3Cfg   = &config.S3Config{BucketName: "qa", Region: "eu-west-1", KeyPrefix: "portal-checker"}
)

func TestPublishUploadsResultsAndPaths(t *testing.T) {
	dir := t.TempDir()
	shots := filepath.Join(dir, "debug")
	require.NoError(t, os.MkdirAll(filepath.Join(shots, "nested"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(shots, "test_login_ERROR.png"), []byte("png"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(shots, "nested", "request_login.json"), []byte("[]"), 0644))
	results := filepath.Join(dir, "service_results.txt")
	require.NoError(t, os.WriteFile(results, []byte("login ... OK\n"), 0644))

	bucket := &fakeBucket{objects: map[string]string{}, types: map[string]string{}}
	u := newUploader(bucket, s3Cfg, "run-7", []string{shots, results, filepath.Join(dir, "absent")}, discard)

	err := u.Publish(context.Background(), []*model.CheckResult{{Name: "login", Passed: true}})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"portal-checker/run-7/debug/nested/request_login.json",
		"portal-checker/run-7/debug/test_login_ERROR.png",
		"portal-checker/run-7/results.json",
		"portal-checker/run-7/service_results.txt",
	}, bucket.keys())
	assert.Equal(t, "image/png", bucket.types["portal-checker/run-7/debug/test_login_ERROR.png"])
	assert.Equal(t, "login ... OK\n", bucket.objects["portal-checker/run-7/service_results.txt"])
	assert.Contains(t, bucket.objects["portal-checker/run-7/results.json"], `"name": "login"`)
}

func TestUploadFileURL(t *testing.T) {
	file := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	bucket := &fakeBucket{objects: map[string]string{}, types: map[string]string{}}
	u := newUploader(bucket, s3Cfg, "r1", nil, discard)

	url, err := u.UploadFile(context.Background(), file, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "https://qa.s3.eu-west-1.amazonaws.com/portal-checker/r1/a.txt", url)
}

func TestPublishFailure(t *testing.T) {
	bucket := &fakeBucket{err: errors.New("denied")}
	u := newUploader(bucket, s3Cfg, "r1", nil, discard)

	err := u.Publish(context.Background(), nil)
	assert.ErrorContains(t, err, "denied")
	assert.Equal(t, "s3", u.Name())
}
