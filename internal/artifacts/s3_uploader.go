package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/IliaW/portal-checker/config"
	"github.com/IliaW/portal-checker/internal/model"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	crd "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	jsoniter "github.com/json-iterator/go"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader stores run artifacts (screenshots, debug dumps, results files) in a bucket.
type Uploader struct {
	client objectPutter
	cfg    *config.S3Config
	runID  string
	paths  []string
	log    *slog.Logger
}

func NewS3Uploader(cfg *config.S3Config, runID string, paths []string, log *slog.Logger) *Uploader {
	log.Info("connecting to s3...")
	ctx := context.Background()

	s3Config, err := awsCfg.LoadDefaultConfig(ctx,
		awsCfg.WithCredentialsProvider(crd.NewStaticCredentialsProvider(cfg.AwsAccessKey, cfg.AwsSecretKey, "")),
		awsCfg.WithRegion(cfg.Region),
		awsCfg.WithBaseEndpoint(cfg.AwsBaseEndpoint))
	if err != nil {
		log.Error("failed to load s3 config.", slog.String("err", err.Error()))
		os.Exit(1)
	}

	// LocalStack does not support virtual hosted bucket addressing.
	var s3client *s3.Client
	if cfg.AwsAccessKey == "test" {
		log.Warn("test configuration for s3")
		s3client = s3.NewFromConfig(s3Config, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	} else {
		s3client = s3.NewFromConfig(s3Config)
	}
	log.Info("connected to s3")

	return newUploader(s3client, cfg, runID, paths, log)
}

func newUploader(client objectPutter, cfg *config.S3Config, runID string, paths []string,
	log *slog.Logger) *Uploader {
	return &Uploader{client: client, cfg: cfg, runID: runID, paths: paths, log: log}
}

func (u *Uploader) Name() string { return "s3" }

// Publish uploads the results as results.json together with every configured path.
// Paths that do not exist are skipped.
func (u *Uploader) Publish(ctx context.Context, results []*model.CheckResult) error {
	body, err := jsoniter.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	if _, err = u.put(ctx, "results.json", body); err != nil {
		return err
	}

	var errs []error
	for _, p := range u.paths {
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			u.log.Debug("nothing to upload.", slog.String("path", p))
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if info.IsDir() {
			_, err = u.UploadDir(ctx, p)
		} else {
			_, err = u.UploadFile(ctx, p, filepath.Base(p))
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// UploadDir uploads every regular file below dir, keyed by its path relative to the parent of dir.
func (u *Uploader) UploadDir(ctx context.Context, dir string) ([]string, error) {
	var urls []string
	root := filepath.Dir(filepath.Clean(dir))
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		url, err := u.UploadFile(ctx, p, rel)
		if err != nil {
			return err
		}
		urls = append(urls, url)
		return nil
	})

	return urls, err
}

func (u *Uploader) UploadFile(ctx context.Context, file, rel string) (string, error) {
	body, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}

	return u.put(ctx, rel, body)
}

func (u *Uploader) key(rel string) string {
	return path.Join(u.cfg.KeyPrefix, u.runID, filepath.ToSlash(rel))
}

func (u *Uploader) put(ctx context.Context, rel string, body []byte) (string, error) {
	key := u.key(rel)
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &u.cfg.BucketName,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: contentType(rel),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	u.log.Debug("artifact saved to s3.", slog.String("key", key))

	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.cfg.BucketName, u.cfg.Region, key), nil
}

func contentType(name string) *string {
	var t string
	switch strings.ToLower(path.Ext(name)) {
	case ".png":
		t = "image/png"
	case ".json":
		t = "application/json"
	default:
		t = "text/plain"
	}
	return &t
}
