package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/NadirInab/datavis-sub001/internal/client/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Options configures an S3Client.
type S3Options struct {
	Region    string
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
}

var (
	loadDefaultAWSConfig  = config.LoadDefaultConfig
	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}
)

const (
	objectSuffix     = ".json"
	metaName         = "name"
	metaFormat       = "format"
	metaIdempotency  = "idempotency-key"
	contentTypeJSON  = "application/json"
	defaultPresignTT = 15 * time.Minute
)

// S3Client mirrors records as objects under <owner>/<recordID>.json.
// Authorization comes from the static credentials; SetAccessToken is a no-op.
type S3Client struct {
	bucket  string
	api     *s3.Client
	presign *s3.PresignClient
}

func NewS3Client(ctx context.Context, o S3Options) (*S3Client, error) {
	if o.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	cfg, err := loadDefaultAWSConfig(ctx,
		config.WithRegion(o.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")),
		config.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, err
	}

	api := newS3ClientFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
			so.UsePathStyle = true
		}
		so.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		so.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3Client{bucket: o.Bucket, api: api, presign: newS3PresignClient(api)}, nil
}

func objectKey(owner, recordID string) string {
	return owner + "/" + recordID + objectSuffix
}

func (c *S3Client) Ping(ctx context.Context) error {
	_, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	return c.mapError("head bucket", err)
}

func (c *S3Client) Upload(ctx context.Context, req *UploadRequest) error {
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(objectKey(req.Owner, req.RecordID)),
		Body:          bytes.NewReader(req.Data),
		ContentLength: aws.Int64(int64(len(req.Data))),
		ContentType:   aws.String(contentTypeJSON),
		Metadata: map[string]string{
			metaName:        req.Name,
			metaFormat:      req.Format,
			metaIdempotency: req.IdempotencyKey,
		},
	})
	return c.mapError("put object", err)
}

func (c *S3Client) Delete(ctx context.Context, owner, recordID, _ string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(owner, recordID)),
	})
	return c.mapError("delete object", err)
}

// List returns the owner's objects. Listings carry no object metadata, so
// Name is the record id.
func (c *S3Client) List(ctx context.Context, owner string) ([]models.RemoteFile, error) {
	var files []models.RemoteFile
	p := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(owner + "/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, c.mapError("list objects", err)
		}
		for _, obj := range page.Contents {
			id := strings.TrimSuffix(path.Base(aws.ToString(obj.Key)), objectSuffix)
			files = append(files, models.RemoteFile{
				Owner:     owner,
				RecordID:  id,
				Name:      id,
				Size:      aws.ToInt64(obj.Size),
				UpdatedAt: aws.ToTime(obj.LastModified),
			})
		}
	}
	return files, nil
}

// PresignDownload returns a time-limited GET URL for a mirrored record.
func (c *S3Client) PresignDownload(ctx context.Context, owner, recordID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = defaultPresignTT
	}
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey(owner, recordID)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", owner, recordID, err)
	}
	return req.URL, nil
}

func (c *S3Client) SetAccessToken(string) {}

func (c *S3Client) Close() error { return nil }

func (c *S3Client) mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	// Transport failures arrive wrapped in a ResponseError without a status.
	var se *smithyhttp.RequestSendError
	var ne net.Error
	if errors.As(err, &se) || errors.As(err, &ne) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrUnavailable
	}

	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		switch code := re.HTTPStatusCode(); {
		case code == 0:
			return ErrUnavailable
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return ErrUnauthorized
		case code >= http.StatusInternalServerError:
			return ErrUnavailable
		}
	}
	return syncFailed("s3 "+op, err)
}
