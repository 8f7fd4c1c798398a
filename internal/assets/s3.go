package assets

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/penthu-app/penthu-web/internal/log"
	"github.com/penthu-app/penthu-web/internal/xerrors"
)

// HeadObjectAPI is the slice of the S3 client the locator needs.
type HeadObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// PresignGetObjectAPI is satisfied by *s3.PresignClient.
type PresignGetObjectAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type S3Options struct {
	Logger log.Logger

	Bucket string
	Key    string

	// DownloadName is set as the attachment filename on the presigned URL.
	DownloadName string
	// PresignTTL bounds the presigned URL lifetime, default 15m.
	PresignTTL time.Duration

	// AWS config (uses default if nil)
	AWSConfig *aws.Config
}

// S3Locator checks for the package in S3 and returns a presigned GET URL.
type S3Locator struct {
	opts      S3Options
	head      HeadObjectAPI
	presigner PresignGetObjectAPI
}

// NewS3Locator builds a locator on the default AWS credential chain.
func NewS3Locator(ctx context.Context, opts S3Options) (*S3Locator, error) {
	var awsCfg aws.Config
	if opts.AWSConfig != nil {
		awsCfg = *opts.AWSConfig
	} else {
		var err error
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, xerrors.Wrap(err, "load AWS config")
		}
	}
	client := s3.NewFromConfig(awsCfg)
	return NewS3LocatorWithClients(client, s3.NewPresignClient(client), opts)
}

// NewS3LocatorWithClients builds a locator on caller-supplied clients.
func NewS3LocatorWithClients(head HeadObjectAPI, presigner PresignGetObjectAPI, opts S3Options) (*S3Locator, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, fmt.Errorf("%w: Bucket and Key are required", ErrInvalidOptions)
	}
	if head == nil || presigner == nil {
		return nil, fmt.Errorf("%w: S3 clients are required", ErrInvalidOptions)
	}
	if opts.DownloadName == "" {
		opts.DownloadName = DefaultDownloadName
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &S3Locator{opts: opts, head: head, presigner: presigner}, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

// Locate runs HeadObject on the configured key. A missing object is absent;
// any other S3 failure is returned for the caller to log.
func (l *S3Locator) Locate(ctx context.Context) (Asset, bool, error) {
	out, err := l.head.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(l.opts.Bucket),
		Key:    aws.String(l.opts.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return Asset{}, false, nil
		}
		return Asset{}, false, xerrors.Wrapf(err, "head s3://%s/%s", l.opts.Bucket, l.opts.Key)
	}

	req, err := l.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(l.opts.Bucket),
		Key:                        aws.String(l.opts.Key),
		ResponseContentDisposition: aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": l.opts.DownloadName})),
		ResponseContentType:        aws.String("application/vnd.android.package-archive"),
	}, s3.WithPresignExpires(l.opts.PresignTTL))
	if err != nil {
		return Asset{}, false, xerrors.Wrapf(err, "presign s3://%s/%s", l.opts.Bucket, l.opts.Key)
	}

	l.opts.Logger.Debug(ctx, "presigned asset url",
		"bucket", l.opts.Bucket,
		"key", l.opts.Key,
		"ttl", l.opts.PresignTTL.String(),
	)

	return Asset{
		URL:          req.URL,
		DownloadName: l.opts.DownloadName,
		Size:         aws.ToInt64(out.ContentLength),
	}, true, nil
}

func (l *S3Locator) String() string {
	return fmt.Sprintf("s3://%s/%s", l.opts.Bucket, l.opts.Key)
}
