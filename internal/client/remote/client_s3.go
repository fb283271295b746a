package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/openmined/vaultsync/internal/utils"
)

const (
	containerMarker = ".container"
	folderCacheSize = 1024
	folderCacheTTL  = 30 * time.Minute
	listPageSize    = 1000
	s3MaxAttempts   = 5
)

// s3API is the subset of *s3.Client used by S3Client.
type s3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Client stores a vault as objects under "<root>/<vaultId>/". Folder ids
// are key prefixes ending in "/" and file ids are object keys, so a file's
// name in a folder maps to exactly one key modulo letter case.
type S3Client struct {
	api     s3API
	config  *S3Config
	folders *expirable.LRU[string, struct{}]
}

func NewS3Client(api s3API, cfg *S3Config) *S3Client {
	if cfg.Root == "" {
		cfg.Root = defaultContainerRoot
	}
	return &S3Client{
		api:     api,
		config:  cfg,
		folders: expirable.NewLRU[string, struct{}](folderCacheSize, nil, folderCacheTTL),
	}
}

func NewS3ClientWithConfig(ctx context.Context, cfg *S3Config) (*S3Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: 60 * time.Second,
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithHTTPClient(httpClient),
		config.WithRetryMaxAttempts(s3MaxAttempts),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	api := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3Client(api, cfg), nil
}

func (c *S3Client) Authenticated(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &c.config.Bucket})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotAuthenticated, err)
	}
	return nil
}

func (c *S3Client) GetOrCreateContainer(ctx context.Context, vaultID string) (string, error) {
	if vaultID == "" || strings.Contains(vaultID, "/") {
		return "", fmt.Errorf("invalid vault id %q", vaultID)
	}
	prefix := c.config.Root + "/" + vaultID + "/"
	if err := c.ensureMarker(ctx, prefix, prefix+containerMarker); err != nil {
		return "", fmt.Errorf("container %s: %w", vaultID, err)
	}
	return prefix, nil
}

func (c *S3Client) EnsureFolderPath(ctx context.Context, relPath, parentID string) (string, error) {
	id := parentID
	relPath = utils.NormPath(relPath)
	if relPath == "" {
		return id, nil
	}
	for _, seg := range strings.Split(relPath, "/") {
		id += seg + "/"
		if err := c.ensureMarker(ctx, id, id); err != nil {
			return "", fmt.Errorf("folder %s: %w", id, err)
		}
	}
	return id, nil
}

// ensureMarker creates an empty marker object unless cacheKey was seen
// recently or the marker already exists.
func (c *S3Client) ensureMarker(ctx context.Context, cacheKey, markerKey string) error {
	if _, ok := c.folders.Get(cacheKey); ok {
		return nil
	}

	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &c.config.Bucket, Key: &markerKey})
	switch {
	case err == nil:
	case isNotFound(err):
		if _, err := c.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        &c.config.Bucket,
			Key:           &markerKey,
			Body:          bytes.NewReader(nil),
			ContentLength: aws.Int64(0),
		}); err != nil {
			return err
		}
		slog.Debug("remote marker created", "key", markerKey)
	default:
		return err
	}

	c.folders.Add(cacheKey, struct{}{})
	return nil
}

func (c *S3Client) ListFiles(ctx context.Context, containerID, pageToken string) (*Page, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  &c.config.Bucket,
		Prefix:  &containerID,
		MaxKeys: aws.Int32(listPageSize),
	}
	if pageToken != "" {
		input.ContinuationToken = &pageToken
	}

	out, err := c.api.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, err
	}

	page := &Page{Files: make([]FileInfo, 0, len(out.Contents))}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if strings.HasSuffix(key, "/") || key == containerID+containerMarker {
			continue
		}
		page.Files = append(page.Files, FileInfo{
			ID:           key,
			Name:         path.Base(key),
			Path:         strings.TrimPrefix(key, containerID),
			MimeType:     utils.DetectContentType(key),
			Size:         aws.ToInt64(obj.Size),
			ModifiedTime: aws.ToTime(obj.LastModified),
			Hash:         cleanETag(obj.ETag),
		})
	}
	if aws.ToBool(out.IsTruncated) {
		page.NextPageToken = aws.ToString(out.NextContinuationToken)
	}
	return page, nil
}

func (c *S3Client) UploadFile(ctx context.Context, name string, data []byte, mimeType, folderID string) (*FileInfo, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("invalid file name %q", name)
	}
	if mimeType == "" {
		mimeType = utils.DetectContentType(name)
	}
	// the key is unique per name in a folder, so a put replaces any previous
	// object and there are no duplicates to clean up
	key := folderID + name

	if _, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &c.config.Bucket,
		Key:           &key,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   &mimeType,
	}); err != nil {
		return nil, err
	}

	// PutObject does not report LastModified
	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &c.config.Bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("stat uploaded %s: %w", key, err)
	}

	return &FileInfo{
		ID:           key,
		Name:         name,
		MimeType:     mimeType,
		Size:         aws.ToInt64(head.ContentLength),
		ModifiedTime: aws.ToTime(head.LastModified),
		Hash:         cleanETag(head.ETag),
	}, nil
}

func (c *S3Client) DownloadFile(ctx context.Context, id string) ([]byte, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{Bucket: &c.config.Bucket, Key: &id})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (c *S3Client) DeleteFile(ctx context.Context, id string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &c.config.Bucket, Key: &id})
	return err
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func cleanETag(etag *string) string {
	return strings.ReplaceAll(aws.ToString(etag), "\"", "")
}

var _ Client = (*S3Client)(nil)
