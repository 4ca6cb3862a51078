package media

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/mapchat/syncd/internal/models"
)

// DefaultURLExpiry is the longest lifetime SigV4 allows for a presigned URL.
const DefaultURLExpiry = 7 * 24 * time.Hour

var _ Uploader = (*S3Uploader)(nil)

// S3Config selects the bucket and how read URLs are produced.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
	// PublicBaseURL, when set, is joined with the object key instead of presigning.
	PublicBaseURL string
	URLExpiry     time.Duration
}

type putAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Uploader writes payloads to an S3 bucket.
type S3Uploader struct {
	client  putAPI
	presign presignAPI
	cfg     S3Config
	now     func() time.Time
}

// NewS3Uploader loads AWS credentials from the default chain.
func NewS3Uploader(ctx context.Context, cfg S3Config) (*S3Uploader, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Uploader(client, s3.NewPresignClient(client), cfg), nil
}

func newS3Uploader(client putAPI, presign presignAPI, cfg S3Config) *S3Uploader {
	if cfg.URLExpiry <= 0 || cfg.URLExpiry > DefaultURLExpiry {
		cfg.URLExpiry = DefaultURLExpiry
	}
	return &S3Uploader{client: client, presign: presign, cfg: cfg, now: time.Now}
}

// Upload stores data under <prefix>/<type>/<yyyy/mm/dd>/<uuid> and returns its read URL.
func (u *S3Uploader) Upload(ctx context.Context, data []byte, mediaType models.MediaType) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyPayload
	}
	key := u.objectKey(mediaType)

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(mediaType.ContentType()),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put object %s: %w", key, err)
	}

	if u.cfg.PublicBaseURL != "" {
		return u.publicURL(key)
	}

	req, err := u.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(u.cfg.URLExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, nil
}

func (u *S3Uploader) objectKey(mediaType models.MediaType) string {
	return path.Join(
		strings.Trim(u.cfg.Prefix, "/"),
		string(mediaType),
		u.now().UTC().Format("2006/01/02"),
		uuid.NewString(),
	)
}

func (u *S3Uploader) publicURL(key string) (string, error) {
	base, err := url.Parse(u.cfg.PublicBaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid public base url: %w", err)
	}
	return base.JoinPath(key).String(), nil
}
