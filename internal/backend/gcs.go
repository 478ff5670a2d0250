package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/verikit/verikit/internal/config"
	"github.com/verikit/verikit/internal/logger"
)

type GCSConfig struct {
	CommonConfig

	GCSBucket       string `json:"gcs_bucket"`
	GCSPathTemplate string `json:"gcs_path_template"`
}

func (c GCSConfig) String() string {
	return fmt.Sprintf("gs://%s/%s", c.GCSBucket, c.GCSPathTemplate)
}

type GCS struct {
	log     *zap.Logger
	timeout time.Duration
	client  *storage.Client

	GCSConfig
}

func NewGCS(logBuilder *logger.Builder, c *GCSConfig) *GCS {
	log := logBuilder.Domain(logger.GCSDomain).With(zap.String("gcs-bucket", c.GCSBucket))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

	client, err := storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
	if err != nil {
		log.Fatal("Unable to set up a GCS storage client.", zap.Error(err))
	}
	cancel()

	return &GCS{
		log:       log,
		timeout:   time.Minute,
		client:    client,
		GCSConfig: *c,
	}
}

func (s *GCS) Fetch(ctx context.Context, a config.Artifact) ([]byte, error) {
	bucketPath := s.instantiateTemplate(a, s.GCSPathTemplate)
	log := s.log.With(
		zap.Stringer("artifact", &a),
		zap.String("artifact-path", bucketPath),
	)

	ctx, cancel := withDefaultDeadline(ctx, s.timeout)
	defer cancel()

	obj := s.client.Bucket(s.GCSBucket).Object(bucketPath)
	src, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			log.Error("No artifact found.")
			return nil, ErrNotFound
		}
		log.Error("Unable to open reader on remote GCS object.", zap.Error(err))
		return nil, err
	}
	defer src.Close()

	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	s.log.Debug("Finished downloading blob from GCS.")
	return s.extractFromArchive(log, raw, bucketPath, a)
}

func (s *GCS) Store(ctx context.Context, a config.Artifact, content []byte) (err error) {
	ctx, cancel := withDefaultDeadline(ctx, s.timeout)
	defer cancel()

	log := s.log.With(zap.Stringer("artifact", &a))

	bucketPath := s.instantiateTemplate(a, s.GCSPathTemplate)
	log = log.With(zap.String("artifact-path", bucketPath))

	obj := s.client.Bucket(s.GCSBucket).Object(bucketPath)
	if _, err = obj.Attrs(ctx); err == nil {
		log.Error("Can not store new artifact as one already exists.")
		return errFailed
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		log.Error("Can not check if an artifact already exists.", zap.Error(err))
		return err
	}

	dst := obj.NewWriter(ctx)
	defer func() {
		closeErr := dst.Close()
		if err == nil && closeErr != nil {
			log.Error("Failed to correctly close remote object.", zap.Error(err))
			err = closeErr
		}
	}()

	if _, err = io.Copy(dst, bytes.NewReader(content)); err != nil {
		log.Error("Failed to upload tool artifact.", zap.Error(err))
		return err
	}
	log.Debug("Finished uploading the artifact as blob to GCS.")
	return nil
}
