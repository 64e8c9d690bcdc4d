// Package archive snapshots decided approval requests to object storage
// before they are soft-deleted.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"approvaldesk/internal/approval"
)

type objectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Snapshot is the archived document.
type Snapshot struct {
	Request    approval.Request `json:"request"`
	ArchivedAt time.Time        `json:"archivedAt"`
}

// MinioArchiver implements approval.Archiver.
type MinioArchiver struct {
	client objectPutter
	bucket string
	now    func() time.Time
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioArchiver connects and creates the bucket when it is missing.
func NewMinioArchiver(ctx context.Context, opts Options) (*MinioArchiver, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", opts.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", opts.Bucket, err)
		}
	}
	return newMinioArchiver(client, opts.Bucket), nil
}

func newMinioArchiver(client objectPutter, bucket string) *MinioArchiver {
	return &MinioArchiver{client: client, bucket: bucket, now: func() time.Time { return time.Now().UTC() }}
}

// ObjectName places snapshots under approval-requests/<yyyy>/<mm>/ by
// creation month.
func ObjectName(req approval.Request) string {
	created := req.CreatedAt.UTC()
	return fmt.Sprintf("approval-requests/%04d/%02d/%s.json", created.Year(), int(created.Month()), req.ID)
}

func (a *MinioArchiver) ArchiveRequest(ctx context.Context, req approval.Request) error {
	body, err := json.MarshalIndent(Snapshot{Request: req, ArchivedAt: a.now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = a.client.PutObject(ctx, a.bucket, ObjectName(req), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType:  "application/json",
		UserMetadata: map[string]string{"request-status": string(req.Status), "approvable-type": req.ApprovableType},
	})
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", req.ID, err)
	}
	return nil
}
