// Package publish uploads the browser build to an S3-compatible bucket.
package publish

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"

	"github.com/fastivite/fastivite/internal/config"
	"github.com/fastivite/fastivite/internal/errors"
)

// DefaultConcurrency bounds parallel uploads.
const DefaultConcurrency = 8

// Uploader is the subset of *s3.Client used here.
type Uploader interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures Publish.
type Options struct {
	// Dir is the directory to upload, usually dist/client.
	Dir string

	Bucket string

	// Prefix is prepended to every key.
	Prefix string

	Client Uploader

	Concurrency int

	// DryRun lists the keys without uploading.
	DryRun bool

	Logger *slog.Logger
}

// Result describes a finished upload.
type Result struct {
	Keys  []string
	Bytes int64
}

// NewClient creates an S3 client from the publish configuration. Static
// credentials come from AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY and
// AWS_SESSION_TOKEN.
func NewClient(cfg config.PublishConfig) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: cfg.PathStyle,
		Credentials:  aws.CredentialsProviderFunc(envCredentials),
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

func envCredentials(context.Context) (aws.Credentials, error) {
	creds := aws.Credentials{
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "environment",
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return aws.Credentials{}, errors.New("E504").
			WithDetail("AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set")
	}
	return creds, nil
}

// Publish uploads every file under Dir. Keys are slash-separated paths
// relative to Dir under Prefix. Hashed files in assets/ are marked immutable.
func Publish(ctx context.Context, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "publish")
	if opts.Bucket == "" {
		return nil, errors.New("E504").WithDetail("no bucket configured").
			WithSuggestion("Set publish.bucket in fastivite.json or pass --bucket")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultConcurrency
	}

	files, err := listFiles(opts.Dir)
	if err != nil {
		return nil, errors.New("E504").WithDetail(opts.Dir).Wrap(err)
	}

	res := &Result{Keys: make([]string, 0, len(files))}
	for _, rel := range files {
		res.Keys = append(res.Keys, key(opts.Prefix, rel))
	}
	if opts.DryRun {
		return res, nil
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, rel := range files {
		rel, k := rel, res.Keys[i]
		g.Go(func() error {
			data, err := os.ReadFile(filepath.Join(opts.Dir, filepath.FromSlash(rel)))
			if err != nil {
				return errors.New("E504").WithDetail(rel).Wrap(err)
			}
			_, err = opts.Client.PutObject(gctx, &s3.PutObjectInput{
				Bucket:       aws.String(opts.Bucket),
				Key:          aws.String(k),
				Body:         bytes.NewReader(data),
				ContentType:  aws.String(contentType(rel)),
				CacheControl: aws.String(cacheControl(rel)),
			})
			if err != nil {
				return errors.New("E504").WithDetail(k).Wrap(err)
			}
			total.Add(int64(len(data)))
			log.Debug("uploaded", "key", k, "bytes", len(data))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	res.Bytes = total.Load()
	return res, nil
}

func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(files)
	return files, err
}

func key(prefix, rel string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}

func contentType(rel string) string {
	if t := mime.TypeByExtension(path.Ext(rel)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func cacheControl(rel string) string {
	if strings.HasPrefix(rel, "assets/") {
		return "public, max-age=31536000, immutable"
	}
	return "no-cache"
}
