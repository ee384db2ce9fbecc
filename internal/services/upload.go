package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	appconfig "couple-sync-backend/internal/config"
	"couple-sync-backend/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const uploadURLExpiry = 5 * time.Minute

// Upload targets
const (
	UploadAvatar   = "avatar"
	UploadSticker  = "sticker"
	UploadFavorite = "favorite"
)

// UploadService issues pre-signed S3 URLs for images
type UploadService struct {
	presigner  *s3.PresignClient
	bucket     string
	region     string
	publicBase string
}

// NewUploadService creates a new upload service
func NewUploadService(ctx context.Context, cfg appconfig.AWSConfig) (*UploadService, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &UploadService{
		presigner:  s3.NewPresignClient(s3Client),
		bucket:     cfg.S3Bucket,
		region:     cfg.Region,
		publicBase: strings.TrimRight(cfg.PublicBase, "/"),
	}, nil
}

// UploadRequest represents a request for a pre-signed URL
type UploadRequest struct {
	Target      string `json:"target"`
	ContentType string `json:"content_type"`
}

// UploadTicket is a pre-signed PUT URL and the URL to store once uploaded
type UploadTicket struct {
	UploadURL string `json:"upload_url"`
	PublicURL string `json:"public_url"`
	Key       string `json:"key"`
	ExpiresIn int    `json:"expires_in"`
}

// PresignUpload generates a pre-signed URL for uploading an image.
// Sticker and favorite images are stored under the caller's pair.
func (s *UploadService) PresignUpload(ctx context.Context, session models.SessionContext, req UploadRequest) (*UploadTicket, error) {
	if session.UID == "" {
		return nil, models.ErrNotAuthenticated
	}
	if !strings.HasPrefix(req.ContentType, "image/") {
		return nil, models.NewInvalidInputError("content_type", "must be an image type")
	}

	var key string
	switch req.Target {
	case UploadAvatar:
		key = fmt.Sprintf("avatars/%s/%s", session.UID, uuid.New().String())
	case UploadSticker, UploadFavorite:
		pairID, err := requirePairID(session)
		if err != nil {
			return nil, err
		}
		key = fmt.Sprintf("%s/%s/%s", pairID, req.Target, uuid.New().String())
	default:
		return nil, models.NewInvalidInputError("target", fmt.Sprintf("unknown value %q", req.Target))
	}

	request, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(req.ContentType),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = uploadURLExpiry
	})
	if err != nil {
		return nil, models.Transient(fmt.Errorf("failed to generate pre-signed URL: %w", err))
	}

	return &UploadTicket{
		UploadURL: request.URL,
		PublicURL: s.publicURL(key),
		Key:       key,
		ExpiresIn: int(uploadURLExpiry.Seconds()),
	}, nil
}

func (s *UploadService) publicURL(key string) string {
	if s.publicBase != "" {
		return s.publicBase + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
