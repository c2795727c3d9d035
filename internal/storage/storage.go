// Package storage uploads backup archives to an S3-compatible bucket. GCS is
// reached through its interoperability endpoint with HMAC keys.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/orchnova/vmsync/internal/config"
	"github.com/orchnova/vmsync/internal/utils"
)

var ErrNoBucket = errors.New("storage: bucket not configured")

// ObjectAPI is the subset of *s3.Client the uploader uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

type Uploader struct {
	api ObjectAPI
	cfg config.StorageConfig
}

func NewUploader(api ObjectAPI, cfg config.StorageConfig) *Uploader {
	return &Uploader{api: api, cfg: cfg}
}

// NewS3Uploader builds the client from static credentials when given, or the
// default AWS credential chain otherwise.
func NewS3Uploader(ctx context.Context, cfg config.StorageConfig) (*Uploader, error) {
	if !cfg.Enabled() {
		return nil, ErrNoBucket
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ForceAttemptHTTP2:     true,
		},
		Timeout: 10 * time.Minute,
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithHTTPClient(httpClient),
	}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	slog.Debug("storage client", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint, "access_key", utils.MaskSecret(cfg.AccessKey))
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewUploader(client, cfg), nil
}

// Key places name under the configured prefix.
func (u *Uploader) Key(name string) string {
	return path.Join(strings.Trim(u.cfg.Prefix, "/"), name)
}

// PublicURL is where key can be fetched once uploaded.
func (u *Uploader) PublicURL(key string) string {
	if u.cfg.PublicBaseURL != "" {
		return strings.TrimRight(u.cfg.PublicBaseURL, "/") + "/" + key
	}
	endpoint := u.cfg.Endpoint
	if endpoint == "" {
		region := u.cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		endpoint = "https://s3." + region + ".amazonaws.com"
	}
	return strings.TrimRight(endpoint, "/") + "/" + u.cfg.Bucket + "/" + key
}

// Upload puts the file at filePath under key and returns its public URL.
func (u *Uploader) Upload(ctx context.Context, filePath, key string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", filePath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", filePath, err)
	}

	_, err = u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(utils.DetectContentType(key)),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.cfg.Bucket, key, err)
	}

	url := u.PublicURL(key)
	slog.Info("upload", "key", key, "size", info.Size(), "url", url)
	return url, nil
}

// List returns the objects under the configured prefix.
func (u *Uploader) List(ctx context.Context) ([]Object, error) {
	prefix := strings.Trim(u.cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	var objects []Object
	var token *string
	for {
		out, err := u.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(u.cfg.Bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list s3://%s/%s: %w", u.cfg.Bucket, prefix, err)
		}
		for _, obj := range out.Contents {
			objects = append(objects, Object{
				Key:          aws.ToString(obj.Key),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return objects, nil
}
