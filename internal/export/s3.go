package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// s3API is the subset of *s3.Client used by S3Sink.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink writes s3://bucket/key paths.
type S3Sink struct {
	api s3API
}

// S3Options configures an S3-compatible endpoint.
type S3Options struct {
	Region       string
	Endpoint     string
	KeyID        string
	Secret       string
	SessionToken string
	UsePathStyle bool
}

// S3OptionsFromEnv reads AWS_REGION, AWS_ENDPOINT_URL, AWS_ACCESS_KEY_ID,
// AWS_SECRET_ACCESS_KEY, AWS_SESSION_TOKEN and AWS_S3_FORCE_PATH_STYLE.
// A custom endpoint implies path-style addressing unless overridden.
func S3OptionsFromEnv() S3Options {
	o := S3Options{
		Region:       os.Getenv("AWS_REGION"),
		Endpoint:     os.Getenv("AWS_ENDPOINT_URL"),
		KeyID:        os.Getenv("AWS_ACCESS_KEY_ID"),
		Secret:       os.Getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken: os.Getenv("AWS_SESSION_TOKEN"),
	}
	if o.Region == "" {
		o.Region = "us-east-1"
	}
	o.UsePathStyle = o.Endpoint != ""
	if v, err := strconv.ParseBool(os.Getenv("AWS_S3_FORCE_PATH_STYLE")); err == nil {
		o.UsePathStyle = v
	}
	return o
}

// NewS3Sink builds a client with static credentials.
func NewS3Sink(o S3Options) (*S3Sink, error) {
	if o.KeyID == "" || o.Secret == "" {
		return nil, errors.New("s3: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY are required")
	}
	opts := s3.Options{
		Region:       o.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(o.KeyID, o.Secret, o.SessionToken),
		UsePathStyle: o.UsePathStyle,
	}
	if o.Endpoint != "" {
		opts.BaseEndpoint = aws.String(o.Endpoint)
	}
	return &S3Sink{api: s3.New(opts)}, nil
}

func (s *S3Sink) Exists(ctx context.Context, path string) (bool, error) {
	bucket, key, err := splitObjectURI(path, "s3")
	if err != nil {
		return false, err
	}
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("s3: head %s: %w", path, err)
	}
	return aws.ToInt64(out.ContentLength) > 0, nil
}

func (s *S3Sink) Write(ctx context.Context, path string, data []byte) error {
	bucket, key, err := splitObjectURI(path, "s3")
	if err != nil {
		return err
	}
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentTypeFor(key)),
	})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", path, err)
	}
	return nil
}

// splitObjectURI splits "<scheme>://bucket/key/parts" into bucket and key.
func splitObjectURI(uri, scheme string) (string, string, error) {
	rest, ok := strings.CutPrefix(uri, scheme+"://")
	if !ok {
		return "", "", fmt.Errorf("%s: not a %s:// uri: %q", scheme, scheme, uri)
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%s: uri needs bucket and key: %q", scheme, uri)
	}
	return bucket, key, nil
}
