package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"lessonforge/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsmiddleware "github.com/aws/smithy-go/middleware"
)

// ArchivedArtifact is the snapshot of a generated lesson or path kept in object storage.
type ArchivedArtifact struct {
	ID        string             `json:"id"`
	OwnerID   string             `json:"owner_id"`
	Kind      model.ArtifactKind `json:"kind"`
	Title     string             `json:"title"`
	Content   json.RawMessage    `json:"content"`
	CreatedAt time.Time          `json:"created_at"`
}

// ArtifactArchive stores generated artifacts outside the database.
type ArtifactArchive interface {
	Put(ctx context.Context, artifact *ArchivedArtifact) error
	// Get returns ErrArtifactNotFound when nothing is archived under the id.
	Get(ctx context.Context, artifactID string) (*ArchivedArtifact, error)
}

// S3Settings configures an S3-compatible archive.
type S3Settings struct {
	URL       string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type s3Archive struct {
	client *s3.Client
	bucket string
}

// NewS3Archive creates an ArtifactArchive backed by an S3-compatible bucket.
func NewS3Archive(ctx context.Context, cfg S3Settings) (ArtifactArchive, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithAPIOptions([]func(*awsmiddleware.Stack) error{removeDisableGzip()}),
	)
	if err != nil {
		return nil, fmt.Errorf("loading S3 config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.URL != "" {
			o.BaseEndpoint = aws.String(cfg.URL)
		}
		o.UsePathStyle = true
	})
	return &s3Archive{client: client, bucket: cfg.Bucket}, nil
}

func archiveKey(artifactID string) string {
	return fmt.Sprintf("artifacts/%s.json", artifactID)
}

func (a *s3Archive) Put(ctx context.Context, artifact *ArchivedArtifact) error {
	body, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshaling artifact %s: %w", artifact.ID, err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(archiveKey(artifact.ID)),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("uploading artifact %s: %w", artifact.ID, err)
	}
	return nil
}

func (a *s3Archive) Get(ctx context.Context, artifactID string) (*ArchivedArtifact, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(archiveKey(artifactID)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("downloading artifact %s: %w", artifactID, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", artifactID, err)
	}
	var artifact ArchivedArtifact
	if err := json.Unmarshal(body, &artifact); err != nil {
		return nil, fmt.Errorf("unmarshaling artifact %s: %w", artifactID, err)
	}
	return &artifact, nil
}

// removeDisableGzip is a workaround for S3 signature errors with some S3-compatible services.
// See: https://github.com/supabase/storage/issues/577
func removeDisableGzip() func(*awsmiddleware.Stack) error {
	return func(stack *awsmiddleware.Stack) error {
		if _, ok := stack.Finalize.Get("DisableAcceptEncodingGzip"); ok {
			_, err := stack.Finalize.Remove("DisableAcceptEncodingGzip")
			return err
		}
		return nil
	}
}
