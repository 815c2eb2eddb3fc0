// Package archive keeps raw snapshots of fetched external feeds in an S3
// compatible bucket, so a sync can be replayed or audited later.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type FeedArchive struct {
	client *minio.Client
	bucket string
}

// NewFeedArchive connects and creates the bucket when it is missing.
func NewFeedArchive(ctx context.Context, opts Options) (*FeedArchive, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &FeedArchive{client: client, bucket: opts.Bucket}, nil
}

// Archive stores body under calendar/room/timestamp.ics.
func (a *FeedArchive) Archive(ctx context.Context, calendarID, roomID string, body []byte, at time.Time) error {
	name := ObjectName(calendarID, roomID, at)
	_, err := a.client.PutObject(ctx, a.bucket, name, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/calendar",
	})
	if err != nil {
		return fmt.Errorf("put feed snapshot %s: %w", name, err)
	}
	return nil
}

func ObjectName(calendarID, roomID string, at time.Time) string {
	return path.Join(calendarID, roomID, at.UTC().Format("20060102T150405Z")+".ics")
}
