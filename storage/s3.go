package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"odds_harvester/config"
	"odds_harvester/models"
)

// Archiver ships raw page captures and run summaries to S3-compatible storage
// so staging rows can be pruned without losing the option to re-parse.
type Archiver interface {
	ArchiveCapture(ctx context.Context, c *models.RawCapture) (string, error)
	ArchiveRunSummary(ctx context.Context, s *models.RunSummary) (string, error)
}

type S3Archiver struct {
	client *s3.Client
	bucket string
	region string
}

func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig) (*S3Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Archiver{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// ArchiveCapture stores the raw page body under captures/<date>/<bet_type>/.
// The key embeds the fetch time so repeated fetches of one URL do not clobber
// each other.
func (a *S3Archiver) ArchiveCapture(ctx context.Context, c *models.RawCapture) (string, error) {
	key := fmt.Sprintf("captures/%s/%s/%s.html",
		c.FetchedAt.UTC().Format("2006-01-02"),
		c.BetType,
		c.FetchedAt.UTC().Format("150405.000"))

	if err := a.put(ctx, key, c.Body, "text/html"); err != nil {
		return "", fmt.Errorf("archive capture %s: %w", c.URL, err)
	}
	return a.publicURL(key), nil
}

func (a *S3Archiver) ArchiveRunSummary(ctx context.Context, s *models.RunSummary) (string, error) {
	key := fmt.Sprintf("runs/%s_%s_%d.json", s.StartDate, s.EndDate, time.Now().UTC().Unix())
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode run summary: %w", err)
	}
	if err := a.put(ctx, key, body, "application/json"); err != nil {
		return "", fmt.Errorf("archive run summary: %w", err)
	}
	return a.publicURL(key), nil
}

func (a *S3Archiver) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (a *S3Archiver) publicURL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.bucket, a.region, key)
}

// NoopArchiver is used when no bucket is configured.
type NoopArchiver struct{}

func (NoopArchiver) ArchiveCapture(context.Context, *models.RawCapture) (string, error) {
	return "", nil
}

func (NoopArchiver) ArchiveRunSummary(context.Context, *models.RunSummary) (string, error) {
	return "", nil
}
