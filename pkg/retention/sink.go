package retention

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// WriterSink streams exports to a single writer, each document preceded
// by its key on a comment line.
type WriterSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewWriterSink(out io.Writer) *WriterSink {
	return &WriterSink{out: out}
}

func (s *WriterSink) Put(_ context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.out, "# %s\n", key); err != nil {
		return err
	}
	_, err := s.out.Write(body)
	return err
}

// s3API is the slice of the S3 client the sink uses.
type s3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads each export document as one object.
type S3Sink struct {
	client s3API
	bucket string
	prefix string
}

// S3SinkConfig configures the S3 export sink. Endpoint supports MinIO
// and LocalStack.
type S3SinkConfig struct {
	Bucket   string
	Region   string
	Endpoint string
	Prefix   string
}

func NewS3Sink(ctx context.Context, cfg S3SinkConfig) (*S3Sink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("retention: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Sink) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("retention: put %s: %w", key, err)
	}
	return nil
}
