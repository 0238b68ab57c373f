// Package publish copies approved document versions to object storage.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Artifact is one approved, immutable document version.
type Artifact struct {
	DocumentID    string    `json:"documentId"`
	Version       int64     `json:"version"`
	Content       string    `json:"-"`
	ContentDigest string    `json:"contentDigest"`
	ReviewID      string    `json:"reviewId"`
	SubmitterID   string    `json:"submitterId"`
	ApprovedBy    string    `json:"approvedBy"`
	ApprovedAt    time.Time `json:"approvedAt"`
}

type Publisher interface {
	Publish(ctx context.Context, artifact Artifact) error
}

type objectPutter interface {
	PutObject(ctx context.Context, bucket, key string, reader *bytes.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type minioPutter struct {
	client *minio.Client
}

func (p minioPutter) PutObject(ctx context.Context, bucket, key string, reader *bytes.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return p.client.PutObject(ctx, bucket, key, reader, size, opts)
}

type Minio struct {
	objects objectPutter
	bucket  string
}

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// NewMinio connects to an S3-compatible endpoint and creates the bucket if
// it does not exist yet.
func NewMinio(ctx context.Context, opts Options) (*Minio, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
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
	return &Minio{objects: minioPutter{client: client}, bucket: opts.Bucket}, nil
}

func ObjectKey(documentID string, version int64) string {
	return "documents/" + documentID + "/v" + strconv.FormatInt(version, 10)
}

// Publish writes the content and a JSON manifest next to it.
func (m *Minio) Publish(ctx context.Context, artifact Artifact) error {
	key := ObjectKey(artifact.DocumentID, artifact.Version)

	content := bytes.NewReader([]byte(artifact.Content))
	_, err := m.objects.PutObject(ctx, m.bucket, key+".txt", content, content.Size(), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
		UserMetadata: map[string]string{
			"document-id": artifact.DocumentID,
			"version":     strconv.FormatInt(artifact.Version, 10),
			"review-id":   artifact.ReviewID,
			"digest":      artifact.ContentDigest,
		},
	})
	if err != nil {
		return fmt.Errorf("put %s.txt: %w", key, err)
	}

	manifest, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	reader := bytes.NewReader(manifest)
	if _, err := m.objects.PutObject(ctx, m.bucket, key+".json", reader, reader.Size(), minio.PutObjectOptions{
		ContentType: "application/json",
	}); err != nil {
		return fmt.Errorf("put %s.json: %w", key, err)
	}
	return nil
}
