package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"go.uber.org/zap"

	"github.com/verikit/verikit/internal/config"
	"github.com/verikit/verikit/internal/logger"
)

type GitHubConfig struct {
	CommonConfig

	GitHubSlug                 string `json:"github_slug"`
	GitHubReleaseAssetTemplate string `json:"github_release_asset_template"`
	GitHubBaseURL              string `json:"github_base_url"`
}

func (c GitHubConfig) String() string {
	b := c.GitHubBaseURL
	if b == "" {
		b = "github.com"
	}
	return fmt.Sprintf("%s/%s:%s", b, c.GitHubSlug, c.GitHubReleaseAssetTemplate)
}

type GitHub struct {
	log     *zap.Logger
	timeout time.Duration
	client  *github.Client

	GitHubConfig
}

func NewGitHub(logBuilder *logger.Builder, c *GitHubConfig) *GitHub {
	log := logBuilder.Domain(logger.GitHubDomain).With(zap.String("github-slug", c.GitHubSlug))

	var (
		client *github.Client
		err    error
	)
	if c.GitHubBaseURL == "" {
		client = github.NewClient(http.DefaultClient)
	} else {
		client, err = github.NewClient(http.DefaultClient).WithEnterpriseURLs(c.GitHubBaseURL, c.GitHubBaseURL)
		if err != nil {
			log.Fatal("Unable to set up a GitHub client.", zap.Error(err))
		}
	}

	return &GitHub{
		log:          log,
		timeout:      time.Minute,
		client:       client,
		GitHubConfig: *c,
	}
}

func (s *GitHub) Fetch(ctx context.Context, a config.Artifact) ([]byte, error) {
	log := s.log.With(zap.Stringer("artifact", &a))

	assetName, buf, err := s.getReleaseAsset(ctx, log, a)
	if err != nil {
		return nil, err
	}
	return s.extractFromArchive(log, buf.Bytes(), assetName, a)
}

func (s *GitHub) Store(_ context.Context, _ config.Artifact, _ []byte) error {
	s.log.Error("Can not perform 'store' operations on a GitHub backend.")
	return errFailed
}

func (s *GitHub) getReleaseAsset(ctx context.Context, log *zap.Logger, a config.Artifact) (name string, content *bytes.Buffer, err error) {
	ctx, cancel := withDefaultDeadline(ctx, s.timeout)
	defer cancel()

	rs := strings.Split(s.GitHubSlug, "/")
	if len(rs) != 2 {
		return "", nil, fmt.Errorf("repo slug %q is invalid as it does not contain an owner and repo name", s.GitHubSlug)
	}

	var release *github.RepositoryRelease
	page := 1
	for release == nil {
		releases, resp, listErr := s.client.Repositories.ListReleases(ctx, rs[0], rs[1], &github.ListOptions{
			Page:    page,
			PerPage: 50,
		})
		if listErr != nil {
			return "", nil, fmt.Errorf("unable to request releases page %d for %q: %w", page, s.GitHubSlug, listErr)
		} else if resp.StatusCode != http.StatusOK {
			return "", nil, fmt.Errorf("failed to list releases page %d for %q: %s", page, s.GitHubSlug, resp.Status)
		}

		for _, r := range releases {
			if n := r.GetName(); n == a.Version || n == "v"+a.Version {
				release = r
				break
			}
		}
		if resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}
	if release == nil {
		return "", nil, fmt.Errorf("repository %q does not have a release named %q: %w", s.GitHubSlug, a.Version, ErrNotFound)
	}

	name = s.instantiateTemplate(a, s.GitHubReleaseAssetTemplate)
	var asset *github.ReleaseAsset
	for _, c := range release.Assets {
		if c.GetName() == name {
			asset = c
			break
		}
	}
	if asset == nil {
		return "", nil, fmt.Errorf("release %q of repository %q does not have an asset named %q: %w", a.Version, s.GitHubSlug, name, ErrNotFound)
	}

	dl, _, err := s.client.Repositories.DownloadReleaseAsset(ctx, rs[0], rs[1], asset.GetID(), http.DefaultClient)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get link to asset %q from release %q in repository %q: %w", name, a.Version, s.GitHubSlug, err)
	}
	defer dl.Close()

	buf := &bytes.Buffer{}
	if _, err = io.Copy(buf, dl); err != nil {
		return "", nil, fmt.Errorf("failed to download asset %q from release %q in repository %q: %w", name, a.Version, s.GitHubSlug, err)
	}
	log.Debug("Finished downloading the release asset.")
	return name, buf, nil
}
