package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ryanbastic/go-diary/internal/diary"
	"github.com/ryanbastic/go-diary/internal/fhe"
)

// ObjectAPI is the subset of *s3.Client used by S3CiphertextStore.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures the object storage client.
type S3Options struct {
	Bucket       string
	Region       string
	BaseEndpoint string
	AccessKey    string
	SecretKey    string
}

// NewS3Client builds an S3 client with static credentials. A base endpoint
// switches to path-style addressing for MinIO-compatible servers.
func NewS3Client(ctx context.Context, o S3Options) (*s3.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(o.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg, func(opts *s3.Options) {
		if o.BaseEndpoint != "" {
			opts.BaseEndpoint = aws.String(o.BaseEndpoint)
			opts.UsePathStyle = true
		}
	}), nil
}

const (
	metaOwner    = "owner"
	metaContract = "contract"
	metaCreated  = "created-at"
)

// S3CiphertextStore implements fhe.CiphertextStore with one object per
// handle. The owner and contract binding travel as object metadata.
type S3CiphertextStore struct {
	client ObjectAPI
	bucket string
}

func NewS3CiphertextStore(client ObjectAPI, bucket string) *S3CiphertextStore {
	return &S3CiphertextStore{client: client, bucket: bucket}
}

func objectKey(h diary.Handle) string {
	return "ciphertexts/" + h.String()
}

func (s *S3CiphertextStore) Put(ctx context.Context, rec fhe.Record) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(objectKey(rec.Handle)),
		Body:        bytes.NewReader(rec.Ciphertext),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			metaOwner:    rec.Owner.String(),
			metaContract: rec.Contract,
			metaCreated:  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", rec.Handle, err)
	}
	return nil
}

func (s *S3CiphertextStore) Get(ctx context.Context, handle diary.Handle) (*fhe.Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(handle)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, diary.ErrHandleNotFound
		}
		return nil, fmt.Errorf("get object %s: %w", handle, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", handle, err)
	}
	owner, err := diary.ParseOwner(out.Metadata[metaOwner])
	if err != nil {
		return nil, fmt.Errorf("object %s owner metadata: %w", handle, err)
	}
	created, _ := time.Parse(time.RFC3339Nano, out.Metadata[metaCreated])
	return &fhe.Record{
		Handle:     handle,
		Owner:      owner,
		Contract:   out.Metadata[metaContract],
		Ciphertext: data,
		CreatedAt:  created,
	}, nil
}
