package backend

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v66/github"
	"github.com/migueleliasweb/go-github-mock/src/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGitHub(t *testing.T) {
	t.Parallel()

	strPtr := func(s string) *string {
		c := s
		return &c
	}
	strInt64 := func(i int64) *int64 {
		c := i
		return &c
	}

	fakeGH := mock.NewMockedHTTPClient(
		mock.WithRequestMatch(
			mock.GetReposReleasesByOwnerByRepo,
			[]github.RepositoryRelease{
				{
					Name: strPtr("v4.18.100"),
					Assets: []*github.ReleaseAsset{
						{
							ID:   strInt64(123456),
							Name: strPtr("inspec_4.18.100_ubuntu1804_x86_64"),
						},
					},
				},
			},
		),
		mock.WithRequestMatchHandler(
			mock.GetReposReleasesAssetsByOwnerByRepoByAssetId,
			http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write(stdTestArtifactContent)
			}),
		),
	)

	gh := &GitHub{
		log:     zap.NewNop(),
		timeout: 10 * time.Second,
		client:  github.NewClient(fakeGH),
		GitHubConfig: GitHubConfig{
			GitHubSlug:                 "inspec/inspec",
			GitHubReleaseAssetTemplate: stdTestTemplate,
		},
	}

	b, err := gh.Fetch(context.Background(), stdTestArtifact)
	require.NoError(t, err)
	assert.Equal(t, stdTestArtifactContent, b)

	err = gh.Store(context.Background(), stdTestArtifact, stdTestArtifactContent)
	require.Error(t, err)
}
