package s3store

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/dev-tams/archivekit/internal/storage/blob"
	"github.com/dev-tams/archivekit/internal/storage/prunable"
)

const (
	// MinPartSize is the smallest part S3 accepts for all but the last part.
	MinPartSize int64 = 5 << 20
	// DefaultPartSize is also the largest body sent as a single PutObject.
	DefaultPartSize int64 = 16 << 20
)

// client is the subset of the S3 API the store uses.
type client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type Storage struct {
	name     string
	bucket   string
	prefix   string
	partSize int64
	client   client
}

type Options struct {
	Name           string
	Bucket         string
	Region         string
	Prefix         string
	AccessKey      string
	SecretKey      string
	Endpoint       string
	ForcePathStyle bool
	// PartSize splits bodies larger than it into a multipart upload.
	// Zero means DefaultPartSize.
	PartSize int64
}

func New(ctx context.Context, opt Options) (*Storage, error) {
	if opt.Bucket == "" || opt.Region == "" {
		return nil, fmt.Errorf("s3: bucket and region are required")
	}
	if opt.PartSize != 0 && opt.PartSize < MinPartSize {
		return nil, fmt.Errorf("s3: part size %d is below the %d byte minimum", opt.PartSize, MinPartSize)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opt.Region),
	}
	if opt.AccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(opt.AccessKey, opt.SecretKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(creds))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	c := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = opt.ForcePathStyle
		if opt.Endpoint != "" {
			o.BaseEndpoint = aws.String(opt.Endpoint)
		}
	})

	return newWithClient(opt, c), nil
}

func newWithClient(opt Options, c client) *Storage {
	partSize := opt.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	return &Storage{
		name:     opt.Name,
		bucket:   opt.Bucket,
		prefix:   strings.Trim(opt.Prefix, "/"),
		partSize: partSize,
		client:   c,
	}
}

func (s *Storage) Name() string {
	return s.name
}

func (s *Storage) fullKey(key string) string {
	if s.prefix == "" {
		return key
	}
	// S3 keys always use forward slashes
	return path.Join(s.prefix, key)
}

// Put uploads obj with one PutObject, or as a multipart upload when the body
// is larger than the part size. The receipt carries the status of the final
// request (PutObject or CompleteMultipartUpload).
func (s *Storage) Put(ctx context.Context, obj blob.Object, progress blob.ProgressFunc) (blob.Receipt, error) {
	fullKey := s.fullKey(obj.Key)
	if int64(len(obj.Body)) > s.partSize {
		return s.putMultipart(ctx, fullKey, obj, progress)
	}

	body := blob.NewProgressReader(obj.Body, progress)

	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(fullKey),
		Body:          body,
		ContentLength: aws.Int64(body.Len()),
	}
	if obj.ContentType != "" {
		in.ContentType = aws.String(obj.ContentType)
	}
	if obj.ContentEncoding != "" {
		in.ContentEncoding = aws.String(obj.ContentEncoding)
	}

	out, err := s.client.PutObject(ctx, in)
	if err != nil {
		return blob.Receipt{}, apiError("s3 putobject failed", err)
	}

	return blob.Receipt{
		Location:   s.location(fullKey),
		StatusCode: statusCode(out.ResultMetadata),
		Bytes:      body.Len(),
	}, nil
}

func (s *Storage) putMultipart(ctx context.Context, fullKey string, obj blob.Object, progress blob.ProgressFunc) (blob.Receipt, error) {
	create := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
	}
	if obj.ContentType != "" {
		create.ContentType = aws.String(obj.ContentType)
	}
	if obj.ContentEncoding != "" {
		create.ContentEncoding = aws.String(obj.ContentEncoding)
	}

	started, err := s.client.CreateMultipartUpload(ctx, create)
	if err != nil {
		return blob.Receipt{}, apiError("s3 create multipart upload failed", err)
	}
	uploadID := started.UploadId

	total := int64(len(obj.Body))
	var parts []types.CompletedPart
	for n, off := int32(1), int64(0); off < total; n, off = n+1, off+s.partSize {
		end := min(off+s.partSize, total)
		base := off
		body := blob.NewProgressReader(obj.Body[off:end], func(loaded, _ int64) {
			if progress != nil {
				progress(base+loaded, total)
			}
		})

		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(s.bucket),
			Key:           aws.String(fullKey),
			UploadId:      uploadID,
			PartNumber:    aws.Int32(n),
			Body:          body,
			ContentLength: aws.Int64(body.Len()),
		})
		if err != nil {
			s.abort(ctx, fullKey, uploadID)
			return blob.Receipt{}, apiError(fmt.Sprintf("s3 upload part %d failed", n), err)
		}
		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(n)})
	}

	done, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(fullKey),
		UploadId:        uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		s.abort(ctx, fullKey, uploadID)
		return blob.Receipt{}, apiError("s3 complete multipart upload failed", err)
	}

	return blob.Receipt{
		Location:   s.location(fullKey),
		StatusCode: statusCode(done.ResultMetadata),
		Bytes:      total,
	}, nil
}

// abort releases the parts of a failed upload. It runs even when ctx was
// cancelled; its own error is dropped in favour of the one that caused it.
func (s *Storage) abort(ctx context.Context, fullKey string, uploadID *string) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	_, _ = s.client.AbortMultipartUpload(actx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(fullKey),
		UploadId: uploadID,
	})
}

func (s *Storage) location(fullKey string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, fullKey)
}

// statusCode digs the HTTP status out of the raw response the SDK records in
// the result metadata. Zero means the response was not available.
func statusCode(md middleware.Metadata) int {
	raw, ok := awsmiddleware.GetRawResponse(md).(*smithyhttp.Response)
	if !ok || raw == nil || raw.Response == nil {
		return 0
	}
	return raw.StatusCode
}

func (s *Storage) List(ctx context.Context, prefix string) ([]prunable.ObjectInfo, error) {
	// prefixes behave like directories, same as the local store
	listPrefix := s.fullKey(prefix)
	if listPrefix != "" && !strings.HasSuffix(listPrefix, "/") {
		listPrefix += "/"
	}

	var out []prunable.ObjectInfo
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, apiError("s3 list failed", err)
		}
		for _, o := range page.Contents {
			key := aws.ToString(o.Key)
			if s.prefix != "" {
				key = strings.TrimPrefix(key, s.prefix+"/")
			}
			out = append(out, prunable.ObjectInfo{
				Key:     key,
				Size:    aws.ToInt64(o.Size),
				ModTime: aws.ToTime(o.LastModified),
			})
		}
	}
	return out, nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		return apiError("s3 delete failed", err)
	}
	return nil
}

func apiError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s: %s: %w", op, apiErr.ErrorCode(), apiErr.ErrorMessage(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
