package content

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dukerupert/pickletv/internal/model"
)

// s3Client is an interface for testability.
type s3Client interface {
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	Prefix    string
	AccessKey string
	SecretKey string
}

// S3Store serves the objects directly under a bucket prefix.
type S3Store struct {
	client s3Client
	bucket string
	prefix string
}

func NewS3Store(cfg S3Config) *S3Store {
	return newS3Store(newS3Client(cfg), cfg.Bucket, cfg.Prefix)
}

func newS3Store(client s3Client, bucket, prefix string) *S3Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		UsePathStyle: true,
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts.Credentials = credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// List returns the objects directly under the prefix sorted by name.
// Nested keys are skipped.
func (s *S3Store) List(ctx context.Context) ([]model.Asset, error) {
	var assets []model.Asset
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	}
	for {
		out, err := s.client.ListObjectsV2(ctx, input)
		if err != nil {
			var nsb *types.NoSuchBucket
			if errors.As(err, &nsb) {
				return nil, ErrRootMissing
			}
			return nil, fmt.Errorf("list objects: %w", err)
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if !ValidName(name) {
				continue
			}
			assets = append(assets, model.Asset{
				Name:         name,
				SizeBytes:    aws.ToInt64(obj.Size),
				Modified:     aws.ToTime(obj.LastModified).UTC().Truncate(time.Second),
				DownloadPath: DownloadPath(name),
			})
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			break
		}
		input.ContinuationToken = out.NextContinuationToken
	}

	sort.Slice(assets, func(i, j int) bool { return assets[i].Name < assets[j].Name })
	if assets == nil {
		assets = []model.Asset{}
	}
	return assets, nil
}

// Open fetches name from the bucket.
func (s *S3Store) Open(ctx context.Context, name string) (*Object, error) {
	if !ValidName(name) {
		return nil, ErrNotFound
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + name),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		var nsb *types.NoSuchBucket
		if errors.As(err, &nsb) {
			return nil, ErrRootMissing
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	return &Object{
		Name:     name,
		Size:     aws.ToInt64(out.ContentLength),
		Modified: aws.ToTime(out.LastModified).UTC(),
		Body:     out.Body,
	}, nil
}
