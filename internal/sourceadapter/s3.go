package sourceadapter

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/crashsymbol/symbolicator/internal/errs"
	"github.com/crashsymbol/symbolicator/internal/fileid"
	"github.com/crashsymbol/symbolicator/internal/lru"
	"github.com/crashsymbol/symbolicator/internal/sourceconfig"
)

// s3ClientCacheCapacity matches spec §4.2: "cached in a process-wide LRU
// of capacity 100".
const s3ClientCacheCapacity = 100

// S3ClientCache is the process-wide cache of *s3.Client instances, shared
// by every S3 adapter so that sources with identical credentials reuse a
// connection pool instead of dialing fresh each time. Construct one per
// service instance and hand it to every S3 adapter at construction (spec
// §9: model shared state as an explicit injected service).
type S3ClientCache struct {
	mu        sync.Mutex
	clients   *lru.Cache[sourceconfig.S3ClientKey, *s3.Client]
	transport http.RoundTripper
}

// NewS3ClientCache builds the shared cache. transport should be
// SharedTransport, matching spec §4.2's "HTTP transport is shared
// process-wide".
func NewS3ClientCache(transport http.RoundTripper) *S3ClientCache {
	return &S3ClientCache{
		clients:   lru.New[sourceconfig.S3ClientKey, *s3.Client](s3ClientCacheCapacity),
		transport: transport,
	}
}

func (c *S3ClientCache) get(key sourceconfig.S3ClientKey) *s3.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients.Get(key); ok {
		return cl
	}
	cl := s3.New(s3.Options{
		Region:       firstNonEmpty(key.Region, "us-east-1"),
		Credentials:  credentials.NewStaticCredentialsProvider(key.AccessKey, key.SecretKey, ""),
		HTTPClient:   &http.Client{Transport: cloneOrDefault(c.transport)},
		BaseEndpoint: endpointOverride(key.Endpoint),
		UsePathStyle: key.Endpoint != "", // MinIO and most S3-compatible endpoints expect path-style addressing.
	})
	c.clients.Put(key, cl)
	return cl
}

func endpointOverride(endpoint string) *string {
	if endpoint == "" {
		return nil
	}
	return aws.String(endpoint)
}

func cloneOrDefault(rt http.RoundTripper) *http.Transport {
	if tr, ok := rt.(*http.Transport); ok {
		return tr.Clone()
	}
	return http.DefaultTransport.(*http.Transport).Clone()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// S3 serves objects via GetObject against bucket/prefix+path, with an
// optional endpoint override routing the request at MinIO (spec §4.2).
type S3 struct {
	Source sourceconfig.Source
	client *s3.Client
	log    *zap.Logger
}

// NewS3 builds an S3 adapter, fetching (or creating) its client from the
// shared cache.
func NewS3(source sourceconfig.Source, clients *S3ClientCache, log *zap.Logger) *S3 {
	if log == nil {
		log = zap.NewNop()
	}
	return &S3{
		Source: source,
		client: clients.get(source.S3Key()),
		log:    log.Named("source.s3").With(zap.String("source_id", source.ID)),
	}
}

func (a *S3) Download(ctx context.Context, id fileid.FileID) (*Result, error) {
	key := joinPrefix(a.Source.Prefix, string(id.Path))
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.Source.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchKey", "NotFound":
				a.log.Debug("object not found", zap.String("key", key))
				return nil, nil
			case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
				return nil, errs.Wrap(errs.KindUpstream, "s3.download", err).WithSource(a.Source.ID)
			}
		}
		return nil, errs.Wrap(errs.KindTransient, "s3.download", err).WithSource(a.Source.ID)
	}
	return &Result{Stream: out.Body}, nil
}

func joinPrefix(prefix, path string) string {
	if prefix == "" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix + path
	}
	return prefix + "/" + path
}
