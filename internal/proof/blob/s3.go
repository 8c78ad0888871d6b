package blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"kycvault/internal/proof"
)

const s3KeyPrefix = "documents/"

// Putter is the part of the S3 client used for uploads.
type Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 writes documents under documents/<sha256>, so identical uploads share a key.
type S3 struct {
	client Putter
	bucket string
}

// NewS3 loads credentials from the default AWS chain (env, shared config, IAM role).
func NewS3(ctx context.Context, bucket, region string) (*S3, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(ctx, aws_config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &S3{client: s3.NewFromConfig(awsCfg), bucket: bucket}, nil
}

func NewS3WithClient(client Putter, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

func (s *S3) Put(ctx context.Context, name, mediaType string, content []byte) (proof.Blob, error) {
	hash := proof.HashContent(content)
	key := s3KeyPrefix + hash
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(mediaType),
		Metadata:    map[string]string{"file-name": name},
	})
	if err != nil {
		return proof.Blob{}, fmt.Errorf("failed to upload %s to s3: %w", key, err)
	}
	return proof.Blob{
		Hash:    hash,
		Locator: fmt.Sprintf("s3://%s/%s", s.bucket, key),
		Size:    int64(len(content)),
	}, nil
}
