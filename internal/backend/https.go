package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/verikit/verikit/internal/config"
	"github.com/verikit/verikit/internal/logger"
)

const httpsRetryCount = 4

type HTTPSConfig struct {
	CommonConfig

	HTTPSURLTemplate string `json:"https_url_template"`
}

func (c HTTPSConfig) String() string {
	return c.HTTPSURLTemplate
}

type HTTPS struct {
	log      *zap.Logger
	timeout  time.Duration
	client   *retryablehttp.Client
	progress io.Writer

	HTTPSConfig
}

func NewHTTPS(logBuilder *logger.Builder, c *HTTPSConfig) *HTTPS {
	client := retryablehttp.NewClient()
	client.HTTPClient = cleanhttp.DefaultClient()
	client.RetryMax = httpsRetryCount
	client.Logger = nil

	return &HTTPS{
		log:         logBuilder.Domain(logger.HTTPSDomain),
		timeout:     5 * time.Minute,
		client:      client,
		progress:    os.Stderr,
		HTTPSConfig: *c,
	}
}

func (s *HTTPS) Fetch(ctx context.Context, a config.Artifact) ([]byte, error) {
	url := s.instantiateTemplate(a, s.HTTPSURLTemplate)
	log := s.log.With(zap.Stringer("artifact", &a), zap.String("artifact-url", url))

	ctx, cancel := withDefaultDeadline(ctx, s.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Error("Failed to construct download request.", zap.Error(err))
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Error("Failed to download the artifact.", zap.Error(err))
		return nil, fmt.Errorf("download of %q failed: %w", url, ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		log.Error("No artifact available at the instantiated URL.")
		return nil, fmt.Errorf("no artifact at %q: %w", url, ErrNotFound)
	case resp.StatusCode >= http.StatusInternalServerError:
		log.Error("Server-side failure while downloading the artifact.", zap.String("status", resp.Status))
		return nil, fmt.Errorf("download of %q failed with %s: %w", url, resp.Status, ErrTransient)
	default:
		log.Error("Unexpected response status for artifact download.", zap.String("status", resp.Status))
		return nil, fmt.Errorf("download of %q failed with %s: %w", url, resp.Status, errFailed)
	}

	bar := progressbar.NewOptions64(
		resp.ContentLength,
		progressbar.OptionSetDescription(fmt.Sprintf("downloading %s", a.Tool)),
		progressbar.OptionSetWriter(s.progress),
		progressbar.OptionShowBytes(true),
		progressbar.OptionClearOnFinish(),
	)

	var buf bytes.Buffer
	if _, err = io.Copy(io.MultiWriter(&buf, bar), resp.Body); err != nil {
		log.Error("Failed to read the artifact content.", zap.Error(err))
		return nil, fmt.Errorf("download of %q was interrupted: %w", url, ErrTransient)
	}
	log.Debug("Finished downloading the artifact.")
	return s.extractFromArchive(log, buf.Bytes(), url, a)
}

func (s *HTTPS) Store(ctx context.Context, a config.Artifact, content []byte) error {
	url := s.instantiateTemplate(a, s.HTTPSURLTemplate)
	log := s.log.With(zap.Stringer("artifact", &a), zap.String("artifact-url", url))

	ctx, cancel := withDefaultDeadline(ctx, s.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(content))
	if err != nil {
		log.Error("Failed to construct upload request.", zap.Error(err))
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		log.Error("Failed to upload the artifact.", zap.Error(err))
		return fmt.Errorf("upload to %q failed: %w", url, ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		log.Error("Unexpected response status for artifact upload.", zap.String("status", resp.Status))
		return fmt.Errorf("upload to %q failed with %s: %w", url, resp.Status, errFailed)
	}
	log.Debug("Finished uploading the artifact.")
	return nil
}
