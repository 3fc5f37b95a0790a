package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"novelverse/internal/objectstore"
	"novelverse/internal/services"
)

// API is the subset of the S3 client the store uses.
type API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Options configures a Store built from the default AWS credential chain.
type Options struct {
	Bucket         string
	Region         string
	Endpoint       string
	UsePathStyle   bool
	RequestTimeout time.Duration
}

// Store reads chapter audio from one bucket.
type Store struct {
	api     API
	bucket  string
	timeout time.Duration
}

// New loads AWS configuration from the environment and shared files.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("s3 store: bucket is required")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewWithAPI(client, opts.Bucket, opts.RequestTimeout), nil
}

// NewWithAPI wraps an existing client. A positive timeout bounds HEAD
// requests and the time to the first byte of GETs.
func NewWithAPI(api API, bucket string, timeout time.Duration) *Store {
	return &Store{api: api, bucket: bucket, timeout: timeout}
}

// Bucket returns the bucket name.
func (s *Store) Bucket() string { return s.bucket }

// Exists implements objectstore.Gateway with a HEAD request.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	if err := objectstore.ValidateKey(key); err != nil {
		return false, err
	}
	reqCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.api.HeadObject(reqCtx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	return false, objectstore.StoreError("head", key, err)
}

// FetchFull implements objectstore.Gateway.
func (s *Store) FetchFull(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.FetchRange(ctx, key, nil)
}

// FetchRange implements objectstore.Gateway. The request timeout only bounds
// the time to the first byte; the body streams for as long as ctx allows.
func (s *Store) FetchRange(ctx context.Context, key string, r *objectstore.ByteRange) (io.ReadCloser, error) {
	if err := objectstore.ValidateKey(key); err != nil {
		return nil, err
	}
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	op := "get"
	if r != nil {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		input.Range = aws.String(r.Header())
		op = "get_range"
	}

	reqCtx, cancel := context.WithCancel(ctx)
	var timer *time.Timer
	if s.timeout > 0 {
		timer = time.AfterFunc(s.timeout, cancel)
	}
	out, err := s.api.GetObject(reqCtx, input)
	if timer != nil && !timer.Stop() {
		// The timer already cancelled reqCtx, so any body is unusable.
		if err == nil {
			_ = out.Body.Close()
		}
		cancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, objectstore.StoreError(op, key,
			fmt.Errorf("%w: no response within %s", services.ErrTimeout, s.timeout))
	}
	if err != nil {
		cancel()
		if isNotFound(err) {
			return nil, objectstore.NotFound(key)
		}
		if isUnsatisfiableRange(err) {
			// Range past the end of an empty object.
			return io.NopCloser(http.NoBody), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, objectstore.StoreError(op, key, err)
	}
	return &body{ReadCloser: out.Body, cancel: cancel}, nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

type body struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *body) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

type httpStatusError interface {
	HTTPStatusCode() int
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	var statusErr httpStatusError
	if errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == http.StatusNotFound {
		return true
	}
	return false
}

func isUnsatisfiableRange(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange" {
		return true
	}
	var statusErr httpStatusError
	return errors.As(err, &statusErr) && statusErr.HTTPStatusCode() == http.StatusRequestedRangeNotSatisfiable
}
