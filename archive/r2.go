// Package archive copies leaderboard snapshots to Cloudflare R2.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gosimple/slug"
	"go.uber.org/zap"

	"zone-contest-system/config"
	"zone-contest-system/logger"
	"zone-contest-system/models"
)

// ObjectPutter is the subset of the S3 client the archiver uses
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// R2Archiver uploads snapshots as JSON objects
type R2Archiver struct {
	client ObjectPutter
	bucket string
}

// NewR2Archiver builds an S3 client against the account's R2 endpoint
func NewR2Archiver(ctx context.Context, cfg config.ArchiveConfig) (*R2Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.AccessKeySecret, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
	})
	return NewArchiver(client, cfg.Bucket), nil
}

// NewArchiver wraps an existing client
func NewArchiver(client ObjectPutter, bucket string) *R2Archiver {
	return &R2Archiver{client: client, bucket: bucket}
}

// SnapshotKey is the object key of a snapshot, e.g. "leaderboards/xp/20260301T120000Z.json"
func SnapshotKey(category models.LeaderboardCategory, at time.Time) string {
	return fmt.Sprintf("leaderboards/%s/%s.json", slug.Make(string(category)), at.UTC().Format("20060102T150405Z"))
}

func (a *R2Archiver) ArchiveSnapshot(ctx context.Context, snapshot *models.LeaderboardSnapshot) error {
	key := SnapshotKey(snapshot.Category, snapshot.SnapshotDate)

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(snapshot.Data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload snapshot to R2: %w", err)
	}

	logger.Debug("Snapshot archived", zap.String("key", key), zap.String("bucket", a.bucket))
	return nil
}
