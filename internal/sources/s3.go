package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/infracollect/zipstream/internal/engine"
)

const (
	S3Kind = "s3"

	// FallbackRegion is used when neither the configuration nor the AWS
	// default chain names a region.
	FallbackRegion = "us-east-1"
)

// S3API is the subset of the S3 client used by the source.
// This allows for easy mocking in tests.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3ClientProvider hands out an S3 client, building it on first use.
// Sources sharing a provider share one client.
type S3ClientProvider interface {
	Client(ctx context.Context) (S3API, error)
}

// S3ClientConfig configures the client built by LazyS3Client.
type S3ClientConfig struct {
	// Region wins over everything else.
	Region string
	// DefaultRegion applies when Region is empty, before the AWS default chain.
	DefaultRegion   string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	ForcePathStyle  bool
}

// LazyS3Client builds an S3 client once, on the first call to Client, and
// caches it together with any construction error.
type LazyS3Client struct {
	cfg S3ClientConfig

	once   sync.Once
	client S3API
	err    error
}

func NewLazyS3Client(cfg S3ClientConfig) *LazyS3Client {
	return &LazyS3Client{cfg: cfg}
}

func (l *LazyS3Client) Client(ctx context.Context) (S3API, error) {
	l.once.Do(func() {
		l.client, l.err = newS3Client(ctx, l.cfg)
	})
	return l.client, l.err
}

func newS3Client(ctx context.Context, cfg S3ClientConfig) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error

	if region := resolveRegion(cfg.Region, cfg.DefaultRegion); region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	// Set explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if awsCfg.Region == "" {
		awsCfg.Region = FallbackRegion
	}

	var s3Opts []func(*s3.Options)

	// Custom endpoint for S3-compatible services (R2, MinIO, etc.)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, s3Opts...), nil
}

func resolveRegion(regions ...string) string {
	for _, r := range regions {
		if r != "" {
			return r
		}
	}
	return ""
}

// staticS3Client serves an existing client.
type staticS3Client struct {
	api S3API
}

// S3ClientFromAPI wraps an already built client, typically a mock.
func S3ClientFromAPI(api S3API) S3ClientProvider {
	return staticS3Client{api: api}
}

func (s staticS3Client) Client(context.Context) (S3API, error) {
	return s.api, nil
}

// S3Location identifies one object.
type S3Location struct {
	Bucket string
	Key    string
	Region string // only set for https URLs that name a region
}

// ParseS3URI accepts s3://bucket/key, virtual-hosted style
// https://bucket.s3.region.amazonaws.com/key and path style
// https://s3.region.amazonaws.com/bucket/key.
func ParseS3URI(raw string) (S3Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return S3Location{}, fmt.Errorf("failed to parse s3 uri '%s': %w", raw, err)
	}

	var loc S3Location
	switch u.Scheme {
	case "s3":
		loc.Bucket = u.Host
		loc.Key = strings.TrimPrefix(u.Path, "/")
	case "https", "http":
		host := strings.ToLower(u.Hostname())
		if !strings.HasSuffix(host, ".amazonaws.com") {
			return S3Location{}, fmt.Errorf("%s is not an amazonaws.com host", host)
		}
		labels := strings.Split(strings.TrimSuffix(host, ".amazonaws.com"), ".")

		// Find the service label: "s3", or "s3-<region>" in legacy hosts.
		idx := -1
		for i, l := range labels {
			if l == "s3" || strings.HasPrefix(l, "s3-") {
				idx = i
				break
			}
		}
		if idx < 0 {
			return S3Location{}, fmt.Errorf("%s is not an S3 endpoint", host)
		}

		switch {
		case idx+1 < len(labels):
			loc.Region = labels[idx+1]
		case strings.HasPrefix(labels[idx], "s3-"):
			loc.Region = strings.TrimPrefix(labels[idx], "s3-")
		}

		path := strings.TrimPrefix(u.Path, "/")
		if idx > 0 {
			loc.Bucket = strings.Join(labels[:idx], ".")
			loc.Key = path
		} else {
			loc.Bucket, loc.Key, _ = strings.Cut(path, "/")
		}
	default:
		return S3Location{}, fmt.Errorf("unsupported s3 uri scheme %q", u.Scheme)
	}

	if loc.Bucket == "" {
		return S3Location{}, fmt.Errorf("s3 uri '%s' has no bucket", raw)
	}
	if loc.Key == "" || strings.HasSuffix(loc.Key, "/") {
		return S3Location{}, fmt.Errorf("s3 uri '%s' does not name an object", raw)
	}

	return loc, nil
}

func (l S3Location) String() string {
	return fmt.Sprintf("s3://%s/%s", l.Bucket, l.Key)
}

type S3Config struct {
	URI string
	S3ClientConfig
}

// S3 streams one object. The client is only built when the object is first
// looked at, so a manifest with many S3 entries costs nothing until streaming.
type S3 struct {
	loc     S3Location
	clients S3ClientProvider

	headOnce sync.Once
	head     *s3.HeadObjectOutput
	headErr  error
}

type S3Option func(*S3)

// WithS3ClientProvider shares a client between several sources.
func WithS3ClientProvider(p S3ClientProvider) S3Option {
	return func(s *S3) {
		s.clients = p
	}
}

func NewS3(cfg S3Config, opts ...S3Option) (*S3, error) {
	loc, err := ParseS3URI(cfg.URI)
	if err != nil {
		return nil, &engine.ConfigurationError{Component: S3Kind, Err: err}
	}

	s := &S3{loc: loc}
	for _, opt := range opts {
		opt(s)
	}

	if s.clients == nil {
		clientCfg := cfg.S3ClientConfig
		if clientCfg.Region == "" {
			clientCfg.Region = loc.Region
		}
		s.clients = NewLazyS3Client(clientCfg)
	}

	return s, nil
}

func (s *S3) Name() string {
	return fmt.Sprintf("%s(%s/%s)", S3Kind, s.loc.Bucket, s.loc.Key)
}

func (s *S3) Kind() string {
	return S3Kind
}

func (s *S3) Location() S3Location {
	return s.loc
}

func (s *S3) client(ctx context.Context) (S3API, error) {
	client, err := s.clients.Client(ctx)
	if err != nil {
		return nil, &engine.ConfigurationError{Component: S3Kind, Err: err}
	}
	return client, nil
}

func (s *S3) stat(ctx context.Context) (*s3.HeadObjectOutput, error) {
	s.headOnce.Do(func() {
		client, err := s.client(ctx)
		if err != nil {
			s.headErr = err
			return
		}

		s.head, err = client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.loc.Bucket),
			Key:    aws.String(s.loc.Key),
		})
		if err != nil {
			s.headErr = s.classify("head", err)
		}
	})
	return s.head, s.headErr
}

func (s *S3) Size(ctx context.Context) (int64, error) {
	head, err := s.stat(ctx)
	if err != nil {
		return 0, err
	}
	if head.ContentLength == nil {
		return engine.SizeUnknown, nil
	}
	return *head.ContentLength, nil
}

func (s *S3) ModTime(ctx context.Context) (time.Time, error) {
	head, err := s.stat(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return aws.ToTime(head.LastModified), nil
}

func (s *S3) Open(ctx context.Context) (io.ReadCloser, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.loc.Bucket),
		Key:    aws.String(s.loc.Key),
	})
	if err != nil {
		return nil, s.classify("get", err)
	}
	return out.Body, nil
}

// ErrObjectNotFound is wrapped by errors for missing objects or buckets.
var ErrObjectNotFound = errors.New("object not found")

func (s *S3) classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NoSuchBucket":
			return fmt.Errorf("failed to %s %s: %w: %w", op, s.loc, ErrObjectNotFound, err)
		}
	}
	return fmt.Errorf("failed to %s %s: %w", op, s.loc, err)
}
