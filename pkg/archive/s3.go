// Package archive keeps an immutable copy of finalized transitions in S3
// compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Mindburn-Labs/tokenledger/pkg/canonicalize"
	"github.com/Mindburn-Labs/tokenledger/pkg/contracts"
)

// ErrNotFound is returned by Fetch for transitions never archived.
var ErrNotFound = errors.New("archive: not found")

// objectAPI is the subset of *s3.Client the archiver uses.
type objectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds configuration for S3Archiver.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // custom endpoint for MinIO, LocalStack and the like
	Prefix   string // key prefix, e.g. "ledger/"
}

// S3Archiver writes each finalized transition once, as canonical JSON under
// <prefix><txid>.json.
type S3Archiver struct {
	client objectAPI
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Archiver creates an archiver using the default AWS credential chain.
func NewS3Archiver(ctx context.Context, cfg S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive: bucket is required")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Archiver(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Archiver(client objectAPI, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: slog.Default().With("component", "archive"),
	}
}

// Key returns the object key for txID.
func (a *S3Archiver) Key(txID string) string {
	return a.prefix + txID + ".json"
}

// Archive stores stx and returns its key. Only notarized transitions are
// accepted. An existing object is left untouched.
func (a *S3Archiver) Archive(ctx context.Context, stx contracts.SignedTransition) (string, error) {
	if stx.Receipt == nil {
		return "", fmt.Errorf("archive %s: transition is not notarized", stx.Tx.ID)
	}
	key := a.Key(stx.Tx.ID)

	exists, err := a.exists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		return key, nil
	}

	body, err := canonicalize.JCS(stx)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", stx.Tx.ID, err)
	}
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"intent":   string(stx.Tx.Intent),
			"sequence": fmt.Sprintf("%d", stx.Receipt.Sequence),
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3 put failed: %w", err)
	}
	a.logger.InfoContext(ctx, "transition archived", "tx_id", stx.Tx.ID, "key", key)
	return key, nil
}

// Fetch reads back an archived transition.
func (a *S3Archiver) Fetch(ctx context.Context, txID string) (contracts.SignedTransition, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.Key(txID)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return contracts.SignedTransition{}, fmt.Errorf("%s: %w", txID, ErrNotFound)
		}
		return contracts.SignedTransition{}, fmt.Errorf("s3 get failed for %s: %w", txID, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return contracts.SignedTransition{}, err
	}
	var stx contracts.SignedTransition
	if err := json.Unmarshal(data, &stx); err != nil {
		return contracts.SignedTransition{}, fmt.Errorf("decode archived %s: %w", txID, err)
	}
	return stx, nil
}

func (a *S3Archiver) exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head failed for %s: %w", key, err)
}
