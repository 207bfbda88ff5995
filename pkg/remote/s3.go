package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/docker/go-units"
	"github.com/ethpandaops/durationoor/pkg/config"
	"github.com/ethpandaops/durationoor/pkg/durations"
	"github.com/ethpandaops/durationoor/pkg/fsutil"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const filePerm = 0o644

// s3Syncer implements Syncer for S3-compatible storage.
type s3Syncer struct {
	log    logrus.FieldLogger
	cfg    *config.S3Config
	client *s3.Client
	keys   keys
	owner  *fsutil.OwnerConfig
}

// Ensure interface compliance.
var _ Syncer = (*s3Syncer)(nil)

// NewS3Syncer creates a new S3 syncer from the given configuration. Pulled
// files are chowned to owner when it is non-nil.
func NewS3Syncer(
	log logrus.FieldLogger,
	cfg *config.S3Config,
	owner *fsutil.OwnerConfig,
) (Syncer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	return &s3Syncer{
		log:    log.WithField("component", "s3-syncer"),
		cfg:    cfg,
		client: newS3Client(cfg),
		keys:   newKeys(cfg.Prefix),
		owner:  owner,
	}, nil
}

func newS3Client(cfg *config.S3Config) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = "us-east-1"
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

func (s *s3Syncer) withTimeout(
	ctx context.Context,
) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// Preflight verifies S3 connectivity by writing a small marker object.
func (s *s3Syncer) Preflight(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	content := fmt.Sprintf("durationoor write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(s.keys.prefix + "/.durationoor-write-test"),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", s.cfg.Bucket, err)
	}

	return nil
}

// PushNodeFile uploads a node file under <prefix>/nodes/.
func (s *s3Syncer) PushNodeFile(ctx context.Context, path string) error {
	name := filepath.Base(path)
	if _, ok := durations.ParseNodeFileName(name); !ok {
		return fmt.Errorf("%q is not a node duration file", name)
	}

	return s.uploadFile(ctx, path, s.keys.node(name))
}

// PushCompiled uploads the compiled file.
func (s *s3Syncer) PushCompiled(ctx context.Context, path string) error {
	return s.uploadFile(ctx, path, s.keys.compiled())
}

func (s *s3Syncer) uploadFile(ctx context.Context, localPath, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer func() { _ = f.Close() }()

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(detectContentType(localPath)),
	}

	if s.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(s.cfg.StorageClass)
	}

	if s.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(s.cfg.ACL)
	}

	s.log.WithFields(logrus.Fields{
		"key":    key,
		"bucket": s.cfg.Bucket,
	}).Debug("Uploading file")

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("uploading %s to s3://%s/%s: %w", localPath, s.cfg.Bucket, key, err)
	}

	return nil
}

// PullNodeFiles downloads all remote node files into dir.
func (s *s3Syncer) PullNodeFiles(
	ctx context.Context, dir string, skip ...string,
) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	names, err := s.listNodeFiles(ctx)
	if err != nil {
		return 0, err
	}

	skipped := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		skipped[name] = struct{}{}
	}

	concurrency := s.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = config.DefaultS3Concurrency
	}

	var (
		count atomic.Int64
		size  atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, name := range names {
		if _, ok := skipped[name]; ok {
			continue
		}

		g.Go(func() error {
			data, err := s.getObject(gctx, s.keys.node(name))
			if err != nil {
				return err
			}

			// Deleted between list and get.
			if data == nil {
				return nil
			}

			if err := fsutil.WriteFileAtomic(
				filepath.Join(dir, name), data, filePerm, s.owner,
			); err != nil {
				return fmt.Errorf("writing %s: %w", name, err)
			}

			count.Add(1)
			size.Add(int64(len(data)))

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(count.Load()), err
	}

	s.log.WithFields(logrus.Fields{
		"files":  count.Load(),
		"size":   units.HumanSize(float64(size.Load())),
		"bucket": s.cfg.Bucket,
		"prefix": s.keys.nodesPrefix(),
	}).Info("Pulled node duration files")

	return int(count.Load()), nil
}

func (s *s3Syncer) listNodeFiles(ctx context.Context) ([]string, error) {
	var names []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.cfg.Bucket),
		Prefix: aws.String(s.keys.nodesPrefix()),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing objects under %q: %w", s.keys.nodesPrefix(), err)
		}

		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}

			if name, ok := s.keys.nodeFileFromKey(*obj.Key); ok {
				names = append(names, name)
			}
		}
	}

	return names, nil
}

// PullCompiled downloads the compiled file into dir if it exists remotely.
func (s *s3Syncer) PullCompiled(ctx context.Context, dir string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	data, err := s.getObject(ctx, s.keys.compiled())
	if err != nil {
		return false, err
	}

	if data == nil {
		return false, nil
	}

	path := filepath.Join(dir, durations.CompiledFileName)
	if err := fsutil.WriteFileAtomic(path, data, filePerm, s.owner); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}

	return true, nil
}

// getObject returns the contents of the given key, or nil if it does not
// exist.
func (s *s3Syncer) getObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting object %q: %w", key, err)
	}

	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}

	return data, nil
}

// isS3NotFound returns true if the error indicates the object does not exist.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// Some S3-compatible implementations return a generic error with
	// "NoSuchKey" in the message rather than the typed error.
	return strings.Contains(err.Error(), "NoSuchKey")
}

// detectContentType returns a MIME type based on file extension.
func detectContentType(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "application/octet-stream"
	}

	ct := mime.TypeByExtension(ext)
	if ct == "" {
		return "application/octet-stream"
	}

	return ct
}
