package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/zawalid/watchfolio/internal/library/schema"
)

// S3API is the subset of the S3 client used by S3Backend.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Options configures NewS3Backend.
type S3Options struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint for S3-compatible stores (MinIO, R2).
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Backend keeps one JSON object per row:
//
//	<prefix>/libraries/<userId>.json
//	<prefix>/items/<libraryId>/<itemId>.json
type S3Backend struct {
	client S3API
	bucket string
	prefix string
}

// NewS3Backend builds a client from the default AWS configuration chain,
// overridden by any static credentials, region or endpoint in opts.
func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket")
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3BackendWithClient(client, opts.Bucket, opts.Prefix), nil
}

// NewS3BackendWithClient wraps an existing client.
func NewS3BackendWithClient(client S3API, bucket, prefix string) *S3Backend {
	return &S3Backend{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (b *S3Backend) key(parts ...string) string {
	if b.prefix != "" {
		parts = append([]string{b.prefix}, parts...)
	}
	return path.Join(parts...)
}

func (b *S3Backend) itemsPrefix(libraryID string) string {
	return b.key("items", libraryID) + "/"
}

// ListItems implements Backend. Object keys sort by item id, which gives the
// stable order paging relies on. Row ids come from the object key.
//
// Objects deleted between the listing and the read are skipped and the page
// is filled from the following keys; the next call lists again, so offsets
// still line up. An object that cannot be decoded is returned as a bare row
// carrying only its id, which keeps the page full and lets a clear remove it.
func (b *S3Backend) ListItems(ctx context.Context, libraryID string, limit, offset int) ([]*schema.LibraryItem, error) {
	prefix := b.itemsPrefix(libraryID)
	keys, err := b.listKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if offset >= len(keys) {
		return nil, nil
	}

	var items []*schema.LibraryItem
	for _, k := range keys[offset:] {
		if limit > 0 && len(items) == limit {
			break
		}
		id := strings.TrimSuffix(strings.TrimPrefix(k, prefix), ".json")

		var item schema.LibraryItem
		found, err := b.getJSON(ctx, k, &item)
		switch {
		case errors.Is(err, errUndecodable):
			items = append(items, &schema.LibraryItem{ID: id})
			continue
		case err != nil:
			return nil, err
		case !found:
			continue
		}
		item.ID = id
		items = append(items, &item)
	}
	return items, nil
}

func (b *S3Backend) listKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	p := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects under %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			if k := aws.ToString(obj.Key); strings.HasSuffix(k, ".json") {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// UpsertItem implements Backend.
func (b *S3Backend) UpsertItem(ctx context.Context, libraryID string, item *schema.LibraryItem) error {
	return b.putJSON(ctx, b.key("items", libraryID, item.ID+".json"), item)
}

// DeleteItem implements Backend. S3 deletes are idempotent.
func (b *S3Backend) DeleteItem(ctx context.Context, libraryID, id string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key("items", libraryID, id+".json")),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object for %s: %w", id, err)
	}
	return nil
}

// LibraryForUser implements Backend.
func (b *S3Backend) LibraryForUser(ctx context.Context, userID string) (*schema.Library, error) {
	k := b.key("libraries", userID+".json")

	var lib schema.Library
	found, err := b.getJSON(ctx, k, &lib)
	if err != nil {
		return nil, err
	}
	if found {
		return &lib, nil
	}

	lib = schema.Library{ID: uuid.NewString(), UserID: userID, CreatedAt: time.Now().UTC()}
	if err := b.putJSON(ctx, k, &lib); err != nil {
		return nil, err
	}
	return &lib, nil
}

// Ping implements Backend.
func (b *S3Backend) Ping(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		return fmt.Errorf("failed to reach bucket %s: %w", b.bucket, err)
	}
	return nil
}

func (b *S3Backend) putJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

// getJSON decodes the object at key into v. A missing object reports
// found=false without an error.
func (b *S3Backend) getJSON(ctx context.Context, key string, v interface{}) (found bool, err error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w: %v", key, errUndecodable, err)
	}
	return true, nil
}

var errUndecodable = errors.New("object is not valid JSON")

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey"
}

var _ Backend = (*S3Backend)(nil)
