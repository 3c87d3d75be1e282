// Package s3 provides a document backend on an S3-compatible bucket (AWS S3
// or MinIO). Each document is one object.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"odmcore/pkg/datastore"
)

var _ datastore.Backend = (*Store)(nil)

const objectSuffix = ".json"

// Store maps documents to objects named <prefix><collection>/<escaped key>.json.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config holds explicit construction parameters.
type Config struct {
	Region          string
	Bucket          string
	Prefix          string
	Endpoint        string // optional; enables a custom endpoint such as MinIO
	AccessKeyID     string // optional (falls back to default credentials chain)
	SecretAccessKey string
	SessionToken    string
	PathStyle       bool
	HTTPClient      *http.Client
}

// New creates an S3 document store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		}
	})
	return &Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *Store) objectKey(collection, key string) string {
	return s.prefix + collection + "/" + url.PathEscape(key) + objectSuffix
}

func (s *Store) collectionPrefix(collection string) string {
	return s.prefix + collection + "/"
}

// Put writes the payload object, replacing any previous version.
func (s *Store) Put(ctx context.Context, collection, key string, payload []byte) error {
	objKey := s.objectKey(collection, key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &objKey,
		Body:        bytes.NewReader(payload),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", objKey, err)
	}
	return nil
}

// Fetch issues one GetObject per key as the rows are advanced. Missing
// objects are skipped.
func (s *Store) Fetch(ctx context.Context, collection string, keys []string) (datastore.Rows, error) {
	return &objectRows{ctx: ctx, store: s, collection: collection, keys: keys}, nil
}

// Scan lists the collection prefix page by page and reads each object.
func (s *Store) Scan(ctx context.Context, collection string) (datastore.Rows, error) {
	prefix := s.collectionPrefix(collection)
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: &prefix, ContinuationToken: token})
		if err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if !strings.HasSuffix(name, objectSuffix) || strings.Contains(name, "/") {
				continue
			}
			key, err := url.PathUnescape(strings.TrimSuffix(name, objectSuffix))
			if err != nil {
				continue
			}
			keys = append(keys, key)
		}
		if aws.ToBool(out.IsTruncated) && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	return &objectRows{ctx: ctx, store: s, collection: collection, keys: keys}, nil
}

// Delete removes the object and reports whether it existed.
func (s *Store) Delete(ctx context.Context, collection, key string) (bool, error) {
	objKey := s.objectKey(collection, key)
	if _, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &s.bucket, Key: &objKey}); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3: head %s: %w", objKey, err)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &objKey}); err != nil {
		return false, fmt.Errorf("s3: delete %s: %w", objKey, err)
	}
	return true, nil
}

// Close is a no-op; the SDK client holds no resources needing release.
func (s *Store) Close() error { return nil }

func (s *Store) read(ctx context.Context, collection, key string) ([]byte, bool, error) {
	objKey := s.objectKey(collection, key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &objKey})
	if err != nil {
		if isNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("s3: get %s: %w", objKey, err)
	}
	defer func() { _ = out.Body.Close() }()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("s3: read %s: %w", objKey, err)
	}
	return body, true, nil
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}

// objectRows reads objects lazily, one request per Next.
type objectRows struct {
	ctx        context.Context
	store      *Store
	collection string
	keys       []string
	pos        int
	key        string
	payload    []byte
	err        error
	closed     bool
}

func (r *objectRows) Next() bool {
	for !r.closed && r.err == nil && r.pos < len(r.keys) {
		key := r.keys[r.pos]
		r.pos++
		body, ok, err := r.store.read(r.ctx, r.collection, key)
		if err != nil {
			r.err = err
			return false
		}
		if !ok {
			continue
		}
		r.key, r.payload = key, body
		return true
	}
	return false
}

func (r *objectRows) Key() string     { return r.key }
func (r *objectRows) Payload() []byte { return r.payload }
func (r *objectRows) Err() error      { return r.err }

func (r *objectRows) Close() error {
	r.closed = true
	return nil
}
