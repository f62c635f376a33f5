package publish

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/kikiluvv/framewise/internal/keyframe"
	"github.com/kikiluvv/framewise/pkg/util"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

// ObjectStore is the part of the minio client used for publishing.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts miniogo.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error)
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Result lists what a publish uploaded.
type Result struct {
	Bucket  string
	Prefix  string
	Objects []string
	Bytes   int64
}

// Publisher uploads extracted frames and their manifest to an S3-compatible
// bucket.
type Publisher struct {
	logger zerolog.Logger
	client ObjectStore
	bucket string
	region string
}

func New(logger zerolog.Logger, cfg Config) (*Publisher, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("publish endpoint is not configured")
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return NewWithClient(logger, client, cfg.Bucket, cfg.Region), nil
}

// NewWithClient builds a publisher over an existing object store.
func NewWithClient(logger zerolog.Logger, client ObjectStore, bucket, region string) *Publisher {
	return &Publisher{
		logger: logger.With().Str("component", "publisher").Str("bucket", bucket).Logger(),
		client: client,
		bucket: bucket,
		region: region,
	}
}

// Publish uploads every frame listed in the manifest of outputDir, then the
// manifest itself, under prefix. An empty prefix uses the video's file stem.
func (p *Publisher) Publish(ctx context.Context, outputDir, prefix string) (*Result, error) {
	m, err := keyframe.ReadManifest(outputDir)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = util.Stem(m.VideoPath)
	}
	prefix = strings.Trim(prefix, "/")

	if err := p.ensureBucket(ctx); err != nil {
		return nil, err
	}

	res := &Result{Bucket: p.bucket, Prefix: prefix}
	upload := func(file, contentType string) error {
		object := path.Join(prefix, filepath.Base(file))
		info, err := p.client.FPutObject(ctx, p.bucket, object, file, miniogo.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", object, err)
		}
		res.Objects = append(res.Objects, object)
		res.Bytes += info.Size
		return nil
	}

	for _, f := range m.Frames {
		if err := upload(m.FramePath(outputDir, f), "image/jpeg"); err != nil {
			return res, err
		}
	}
	if err := upload(filepath.Join(outputDir, keyframe.ManifestFileName), "application/json"); err != nil {
		return res, err
	}

	p.logger.Info().
		Str("prefix", prefix).
		Int("objects", len(res.Objects)).
		Int64("bytes", res.Bytes).
		Msg("published frames")
	return res, nil
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if exists {
		return nil
	}
	if err := p.client.MakeBucket(ctx, p.bucket, miniogo.MakeBucketOptions{Region: p.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", p.bucket, err)
	}
	p.logger.Info().Msg("created bucket")
	return nil
}
