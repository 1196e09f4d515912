package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/zot/uigen/internal/logging"
	"github.com/zot/uigen/internal/metrics"
	"github.com/zot/uigen/internal/vfs"
)

// S3Config holds configuration for the S3 backend.
type S3Config struct {
	Endpoint  string // empty for AWS, set for MinIO and friends
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
}

// S3Storage stores each project as one JSON object under Prefix.
type S3Storage struct {
	client *s3.Client
	bucket string
	prefix string
	log    *zap.Logger
}

// NewS3Storage creates a new S3 storage backend and makes sure the bucket
// exists.
func NewS3Storage(ctx context.Context, cfg S3Config) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 storage needs a bucket")
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	s := &S3Storage{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		log:    logging.Named("storage.s3"),
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *S3Storage) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	s.log.Info("creating bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *S3Storage) Name() string { return "s3" }

func (s *S3Storage) key(id string) string {
	return s.prefix + id + ".json"
}

// Save writes the snapshot object.
func (s *S3Storage) Save(ctx context.Context, id string, snap vfs.Snapshot) (err error) {
	defer func() { metrics.RecordSnapshotSave(s.Name(), err) }()

	if snap == nil {
		snap = vfs.Snapshot{}
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", id, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(id)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", s.key(id), err)
	}
	return nil
}

// Load reads the snapshot object.
func (s *S3Storage) Load(ctx context.Context, id string) (vfs.Snapshot, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("load %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", s.key(id), err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, err
	}
	snap := vfs.Snapshot{}
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return snap, nil
}

// Delete removes the snapshot object. S3 deletes are idempotent, so the
// object is checked first to report unknown projects.
func (s *S3Storage) Delete(ctx context.Context, id string) error {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return fmt.Errorf("delete %s: %w", id, ErrNotFound)
		}
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	return err
}

// List returns the ids of every object under the prefix.
func (s *S3Storage) List(ctx context.Context) ([]string, error) {
	var ids []string
	pages := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if id, ok := strings.CutSuffix(name, ".json"); ok && !strings.Contains(id, "/") {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close does nothing; the S3 client holds no connections of its own.
func (s *S3Storage) Close() error {
	return nil
}
