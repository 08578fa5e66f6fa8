package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/common"
	appconfig "github.com/GwEnDoO27/Recette-Tiktok-transcriber/internal/config"
)

type S3Storage struct {
	client   *s3.Client
	bucket   string
	endpoint string
	region   string
}

func isLocalStack(endpoint string) bool {
	return endpoint != "" && (strings.Contains(endpoint, "localstack") || strings.Contains(endpoint, "4566"))
}

func NewS3Storage(ctx context.Context, cfg appconfig.Config) (*S3Storage, error) {
	slog.Info("initializing S3 storage",
		"endpoint", cfg.S3Endpoint,
		"bucket", cfg.S3Bucket,
		"region", cfg.S3Region,
		"force_path_style", cfg.S3ForcePathStyle)

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.S3Region)}
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKey, cfg.AWSSecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = cfg.S3ForcePathStyle
		}
	})
	if isLocalStack(cfg.S3Endpoint) {
		slog.Info("using LocalStack configuration")
	}

	return &S3Storage{
		client:   client,
		bucket:   cfg.S3Bucket,
		endpoint: cfg.S3Endpoint,
		region:   cfg.S3Region,
	}, nil
}

func (s *S3Storage) UploadFile(ctx context.Context, filename string, content io.Reader, contentType string) (*UploadResult, error) {
	data, contentType, err := readAndDetect(content, contentType)
	if err != nil {
		return nil, err
	}

	key := generateKey(filename)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload file to S3: %w", err)
	}

	slog.Info("file uploaded to S3", "key", key, "bucket", s.bucket, "size", len(data), "content_type", contentType)

	return &UploadResult{
		Key:         key,
		URL:         s.objectURL(key),
		ContentType: contentType,
		Size:        len(data),
	}, nil
}

func (s *S3Storage) objectURL(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.endpoint, "/"), s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}

func (s *S3Storage) GetPresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	presignClient := s3.NewPresignClient(s.client)

	request, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expiration
	})
	if err != nil {
		return "", fmt.Errorf("failed to create presigned URL: %w", err)
	}
	return request.URL, nil
}

func (s *S3Storage) DeleteFile(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete file from S3: %w", err)
	}

	slog.Info("file deleted from S3", "key", key, "bucket", s.bucket)
	return nil
}

func (s *S3Storage) GetFile(ctx context.Context, key string) (io.ReadCloser, string, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, "", fmt.Errorf("%w: %s", common.ErrFileNotFound, key)
		}
		return nil, "", fmt.Errorf("failed to get file from S3: %w", err)
	}

	if result.ContentType != nil && *result.ContentType != "" && *result.ContentType != "application/octet-stream" {
		return result.Body, *result.ContentType, nil
	}

	contentType, r, err := detectReader(result.Body)
	if err != nil {
		result.Body.Close()
		return nil, "", fmt.Errorf("failed to read file from S3: %w", err)
	}
	return readCloser{Reader: r, Closer: result.Body}, contentType, nil
}
