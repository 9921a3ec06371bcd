// Package archive uploads snapshots of the session store to S3 before the
// store is cleared, so a clear is recoverable.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/engagement-tracker/internal/domain"
)

// Archiver stores a snapshot of every session and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, sessions map[string]*domain.TrackingSession) (string, error)
}

// S3API is the subset of the S3 client the archiver needs.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes gzip-compressed JSON snapshots to
// s3://{bucket}/{prefix}/sessions-{unix-ms}.json.gz.
type S3Archiver struct {
	client S3API
	bucket string
	prefix string
	now    func() time.Time
}

func NewS3Archiver(client S3API, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
	}
}

func (a *S3Archiver) Archive(ctx context.Context, sessions map[string]*domain.TrackingSession) (string, error) {
	if sessions == nil {
		sessions = map[string]*domain.TrackingSession{}
	}
	raw, err := json.Marshal(sessions)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}

	at := a.now().UTC()
	key := fmt.Sprintf("sessions-%d.json.gz", at.UnixMilli())
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
		Metadata: map[string]string{
			"sessions":    fmt.Sprintf("%d", len(sessions)),
			"archived_at": at.Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}

	log.Printf("[archive] saved %d sessions to s3://%s/%s (%d bytes)", len(sessions), a.bucket, key, buf.Len())
	return key, nil
}
