package ppa

import (
	"context"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cockroachdb/errors"
)

type S3Client struct {
	client *s3.Client
	bucket string
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

func NewS3Client(cfg S3Config) *S3Client {
	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}

	client := s3.New(s3.Options{
		Region:       cfg.Region,
		BaseEndpoint: aws.String(endpoint),
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	})
	return &S3Client{client: client, bucket: cfg.Bucket}
}

// UploadFile streams the file at local to key.
func (s *S3Client) UploadFile(ctx context.Context, key, local, contentType string) error {
	f, err := os.Open(local)
	if err != nil {
		return errors.Wrapf(err, "opening %s", local)
	}
	defer f.Close()

	input := &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   f,
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return errors.Wrapf(err, "uploading %s", key)
	}
	return nil
}

// Size returns the stored size of key, or ok=false when it does not exist.
func (s *S3Client) Size(ctx context.Context, key string) (size int64, ok bool) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil || out.ContentLength == nil {
		return 0, false
	}
	return *out.ContentLength, true
}

// S3Transport stores upload sets in a bucket under
// <prefix>/pool/<first letter>/<source>/<file>, for archives that ingest
// uploads from object storage.
type S3Transport struct {
	s3     *S3Client
	prefix string
}

func NewS3Transport(client *S3Client, prefix string) *S3Transport {
	return &S3Transport{s3: client, prefix: strings.Trim(prefix, "/")}
}

func (t *S3Transport) Name() string {
	return "s3"
}

func (t *S3Transport) Upload(ctx context.Context, set UploadSet) error {
	source, _, _ := strings.Cut(set.Changes, "_")
	if source == "" {
		return errors.Newf("cannot derive source name from %q", set.Changes)
	}
	pool := path.Join(t.prefix, "pool", source[:1], source)

	// The .changes goes last so a consumer never sees it before its files.
	files := make([]string, 0, len(set.Files))
	for _, f := range set.Files {
		if f != set.Changes {
			files = append(files, f)
		}
	}
	files = append(files, set.Changes)

	for _, name := range files {
		local := filepath.Join(set.Dir, name)
		key := path.Join(pool, name)

		// The orig tarball is shared by every release; skip re-sending it.
		if strings.Contains(name, ".orig.") {
			if info, err := os.Stat(local); err == nil {
				if size, ok := t.s3.Size(ctx, key); ok && size == info.Size() {
					slog.Debug("Already stored", "key", key)
					continue
				}
			}
		}

		slog.Info("Uploading file", "key", key, "size", fileSize(local))
		if err := t.s3.UploadFile(ctx, key, local, contentTypeFor(name)); err != nil {
			return err
		}
	}
	return nil
}

func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(name, ".xz"):
		return "application/x-xz"
	case strings.HasSuffix(name, ".dsc"), strings.HasSuffix(name, ".changes"), strings.HasSuffix(name, ".build"), strings.HasSuffix(name, ".buildinfo"):
		return "text/plain"
	default:
		return ""
	}
}
