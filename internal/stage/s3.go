// Package stage moves extracted spool files into the object-storage bronze
// layer and answers which artifact is current for a table.
package stage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/xerdata/dwhsync/internal/config"
	"github.com/xerdata/dwhsync/internal/logging"
)

// StagingError marks a failure while uploading or locating bronze artifacts.
type StagingError struct {
	Table string
	Key   string
	Err   error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s (%s): %v", e.Table, e.Key, e.Err)
}

func (e *StagingError) Unwrap() error {
	return e.Err
}

// Client uploads and lists bronze artifacts for one bucket/prefix.
type Client struct {
	api    s3iface.S3API
	bucket string
	prefix string
}

// NewClient builds a Client from the stage configuration. Credentials come
// from the standard SDK chain (env, shared config, instance role).
func NewClient(cfg config.StageConfig) *Client {
	awsConfig := aws.NewConfig().WithRegion(cfg.Region)
	sess := session.Must(session.NewSession(awsConfig))
	return &Client{
		api:    s3.New(sess),
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}
}

func newClientWithAPI(api s3iface.S3API, bucket, prefix string) *Client {
	return &Client{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// ObjectKey renders the bronze key for one artifact. The layout partitions
// by run date and embeds mode and timestamp in the file name, so keys for a
// table sort in run order and the greatest key is the newest artifact.
func (c *Client) ObjectKey(database, table, mode string, runTS time.Time) string {
	ts := runTS.UTC()
	return fmt.Sprintf("%s/date=%s/%s_%s_%s.csv.gz",
		c.tablePrefix(database, table),
		ts.Format("2006/01/02"),
		table, mode, ts.Format("20060102T150405Z"))
}

func (c *Client) tablePrefix(database, table string) string {
	return fmt.Sprintf("%s/%s/%s", c.prefix, database, table)
}

// Upload streams a spool file to the given key. The local file is left in
// place; the caller removes it once the upload is confirmed.
func (c *Client) Upload(ctx context.Context, table, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return &StagingError{Table: table, Key: key, Err: err}
	}
	defer f.Close()

	_, err = c.api.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return &StagingError{Table: table, Key: key, Err: err}
	}

	logging.Debug("Staged %s to s3://%s/%s", table, c.bucket, key)
	return nil
}

// LatestArtifact returns the newest bronze key for a table, or "" when the
// table has never been staged. Newest means lexicographically greatest,
// which the key layout guarantees is the most recent run.
func (c *Client) LatestArtifact(ctx context.Context, database, table string) (string, error) {
	prefix := c.tablePrefix(database, table) + "/"

	var latest string
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	}
	for {
		resp, err := c.api.ListObjectsV2WithContext(ctx, input)
		if err != nil {
			return "", &StagingError{Table: table, Key: prefix, Err: err}
		}
		for _, obj := range resp.Contents {
			if key := aws.StringValue(obj.Key); key > latest {
				latest = key
			}
		}
		if !aws.BoolValue(resp.IsTruncated) {
			break
		}
		input.ContinuationToken = resp.NextContinuationToken
	}
	return latest, nil
}
