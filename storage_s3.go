package intake

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	goerrors "github.com/goliatone/go-errors"
)

const s3LocatorScheme = "s3://"

// DefaultPresignTTL bounds how long a document URL stays valid
const DefaultPresignTTL = 15 * time.Minute

// S3Options configures an S3 compatible bucket (AWS or MinIO)
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	PresignTTL      time.Duration
}

type s3Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3FileStore keeps documents in a bucket and resolves them to
// presigned GET URLs
type S3FileStore struct {
	bucket    string
	ttl       time.Duration
	client    s3Putter
	presigner s3Presigner
}

var loadDefaultAWSConfig = config.LoadDefaultConfig

// NewS3FileStore builds the S3 client from static credentials
func NewS3FileStore(ctx context.Context, opts S3Options) (*S3FileStore, error) {
	if opts.Bucket == "" {
		return nil, goerrors.New("s3 bucket is required", goerrors.CategoryBadInput)
	}

	loaders := []func(*config.LoadOptions) error{
		config.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" {
		loaders = append(loaders, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			opts.AccessKeyID,
			opts.SecretAccessKey,
			"",
		)))
	}

	cfg, err := loadDefaultAWSConfig(ctx, loaders...)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load aws config")
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return newS3FileStore(opts.Bucket, opts.PresignTTL, client, s3.NewPresignClient(client)), nil
}

func newS3FileStore(bucket string, ttl time.Duration, client s3Putter, presigner s3Presigner) *S3FileStore {
	if ttl <= 0 {
		ttl = DefaultPresignTTL
	}
	return &S3FileStore{
		bucket:    bucket,
		ttl:       ttl,
		client:    client,
		presigner: presigner,
	}
}

func (s *S3FileStore) Put(ctx context.Context, key, contentType string, body []byte) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(clean),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to upload file")
	}

	return s3LocatorScheme + s.bucket + "/" + clean, nil
}

// URL presigns a GET for the object behind locator
func (s *S3FileStore) URL(ctx context.Context, locator string) (string, error) {
	bucket, key, ok := parseS3Locator(locator)
	if !ok || bucket != s.bucket {
		return "", withMessage(ErrDocumentNotFound, "Unknown document locator")
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to presign document url")
	}
	return req.URL, nil
}

func parseS3Locator(locator string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(locator, s3LocatorScheme)
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}
