package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/fathima-sithara/chat-sync-service/internal/models"
	"github.com/fathima-sithara/chat-sync-service/internal/service"
)

type S3Options struct {
	Region   string
	Bucket   string
	Endpoint string // MinIO or localstack; forces path-style addressing
	TTL      time.Duration

	// AccessKey and SecretKey skip the default credential chain when set.
	AccessKey string
	SecretKey string
}

// S3Attachments presigns object uploads and downloads; message bodies only
// carry the object key.
type S3Attachments struct {
	presign *s3.PresignClient
	bucket  string
	ttl     time.Duration
	now     func() time.Time
}

func NewS3Attachments(ctx context.Context, o S3Options) (*S3Attachments, error) {
	var cfg aws.Config
	if o.AccessKey != "" {
		cfg = aws.Config{
			Region:      o.Region,
			Credentials: credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, ""),
		}
	} else {
		var err error
		cfg, err = awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(o.Region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
	}
	client := s3.NewFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
	})
	ttl := o.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &S3Attachments{presign: s3.NewPresignClient(client), bucket: o.Bucket, ttl: ttl, now: time.Now}, nil
}

func ObjectKey(conversationID, id string) string {
	return models.AttachmentPrefix(conversationID) + id
}

func (s *S3Attachments) UploadURL(ctx context.Context, conversationID, contentType string) (*service.AttachmentUpload, error) {
	key := ObjectKey(conversationID, uuid.NewString())
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	req, err := s.presign.PresignPutObject(ctx, in, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}
	return &service.AttachmentUpload{URL: req.URL, Key: key, ExpiresAt: s.now().Add(s.ttl)}, nil
}

func (s *S3Attachments) DownloadURL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return req.URL, nil
}
