// Package archive stores immutable acceptance receipts in object storage.
// A receipt records who signed, from where, and which work order resulted.
// Archival happens after the conversion commits and is best-effort: a failed
// upload is logged, never rolled back into the accept path.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Receipt struct {
	DocumentID   string    `json:"documentId"`
	DocumentKind string    `json:"documentKind"`
	JobID        string    `json:"jobId"`
	JobNumber    string    `json:"jobNumber"`
	SignerName   string    `json:"signerName"`
	SignerIP     string    `json:"signerIp"`
	AcceptedAt   time.Time `json:"acceptedAt"`
	TaskCount    int       `json:"taskCount"`
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type Service struct {
	client *minio.Client
	bucket string
}

func New(cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Service{client: client, bucket: cfg.Bucket}, nil
}

// EnsureBucket creates the receipt bucket if it doesn't exist.
func (s *Service) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket: %w", err)
		}
	}
	return nil
}

// StoreReceipt uploads the receipt under a deterministic key so a retried
// accept overwrites the same object rather than duplicating it.
func (s *Service) StoreReceipt(ctx context.Context, receipt Receipt) (string, error) {
	payload, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal receipt: %w", err)
	}
	objectName := ObjectName(receipt)
	_, err = s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload receipt: %w", err)
	}
	return objectName, nil
}

// ObjectName builds the storage key for a receipt, partitioned by the
// acceptance date.
func ObjectName(receipt Receipt) string {
	return fmt.Sprintf("receipts/%s/%s-%s.json",
		receipt.AcceptedAt.UTC().Format("2006/01"),
		receipt.JobNumber,
		receipt.DocumentID,
	)
}
