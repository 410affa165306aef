package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"actionguard/internal/core"
)

// S3Exporter archives audit entries to S3 for long-term retention, one
// JSON object per entry keyed by date and action id.
type S3Exporter struct {
	client  *s3.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

func NewS3Exporter(client *s3.Client, bucket, prefix string) *S3Exporter {
	if prefix == "" {
		prefix = "audit"
	}
	return &S3Exporter{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		timeout: 10 * time.Second,
	}
}

func (e *S3Exporter) Name() string { return "s3" }

func (e *S3Exporter) Export(entry core.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(e.entryKey(entry)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put audit entry to S3: %w", err)
	}
	return nil
}

// entryKey formats {prefix}/{yyyy}/{mm}/{dd}/{action_id}.json.
func (e *S3Exporter) entryKey(entry core.AuditEntry) string {
	ts := entry.Timestamp.UTC()
	return fmt.Sprintf("%s/%04d/%02d/%02d/%s.json",
		e.prefix, ts.Year(), ts.Month(), ts.Day(), entry.ActionID)
}
