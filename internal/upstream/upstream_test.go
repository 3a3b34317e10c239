package upstream

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/this-is-tobi/multiarch-mirror/internal/config"
	"github.com/this-is-tobi/multiarch-mirror/internal/testenv"
	"github.com/this-is-tobi/multiarch-mirror/internal/version"
)

func sampleProject() config.Project {
	return config.Project{
		Name:       "sample",
		Upstream:   "acme/sample",
		TagPattern: `^v(\d+\.\d+\.\d+)$`,
		Repository: "registry.example.com/mirror/sample",
		Pattern:    version.MustCompilePattern(`^v(\d+\.\d+\.\d+)$`),
	}
}

func TestListReleasesNormalizesTags(t *testing.T) {
	env := testenv.New(t)
	env.Upstream.SetReleases("acme/sample",
		testenv.UpstreamRelease{TagName: "v10.3.1"},
		testenv.UpstreamRelease{TagName: "nightly-build"},
		testenv.UpstreamRelease{TagName: "v10.3.0"},
		testenv.UpstreamRelease{TagName: "v10.4.0-rc1"},
		testenv.UpstreamRelease{TagName: "v10.2.1", Prerelease: true},
		testenv.UpstreamRelease{TagName: "v9.0.0", Draft: true},
	)

	client := NewClient(env.Upstream.URL())
	releases, err := client.ListReleases(context.Background(), sampleProject())
	require.NoError(t, err)

	// Non-matching tags and drafts are dropped; prereleases survive with the
	// flag set so the planner can filter them.
	require.Len(t, releases, 3)
	assert.Equal(t, "10.3.1", releases[0].Version.String())
	assert.Equal(t, "v10.3.1", releases[0].RawTag)
	assert.False(t, releases[0].Prerelease)
	assert.Equal(t, "10.3.0", releases[1].Version.String())
	assert.Equal(t, "10.2.1", releases[2].Version.String())
	assert.True(t, releases[2].Prerelease)
}

func TestListReleasesEmptyFeedIsNotAnError(t *testing.T) {
	env := testenv.New(t)
	env.Upstream.SetReleases("acme/sample",
		testenv.UpstreamRelease{TagName: "nightly-build"},
		testenv.UpstreamRelease{TagName: "helm-chart-1.2.3"},
	)

	client := NewClient(env.Upstream.URL())
	releases, err := client.ListReleases(context.Background(), sampleProject())
	require.NoError(t, err)
	assert.Empty(t, releases)
}

func TestListReleasesPagesUntilFetchLimit(t *testing.T) {
	env := testenv.New(t)

	feed := make([]testenv.UpstreamRelease, 0, 150)
	for major := 150; major > 0; major-- {
		feed = append(feed, testenv.UpstreamRelease{TagName: fmt.Sprintf("v%d.0.0", major)})
	}
	env.Upstream.SetReleases("acme/sample", feed...)

	client := NewClient(env.Upstream.URL(), WithFetchLimit(120))
	releases, err := client.ListReleases(context.Background(), sampleProject())
	require.NoError(t, err)

	// The limit lands mid-page: the second page is trimmed to the remaining
	// budget instead of being appended whole.
	assert.Len(t, releases, 120)
	assert.Equal(t, "150.0.0", releases[0].Version.String())
	assert.Equal(t, "31.0.0", releases[len(releases)-1].Version.String())
}

func TestListReleasesRetriesTransientFailures(t *testing.T) {
	env := testenv.New(t)
	env.Upstream.SetReleases("acme/sample", testenv.UpstreamRelease{TagName: "v1.0.0"})
	env.Upstream.FailNext("acme/sample", 2)

	client := NewClient(env.Upstream.URL(), WithMaxTries(4))
	releases, err := client.ListReleases(context.Background(), sampleProject())
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.GreaterOrEqual(t, env.Upstream.Requests(), 3)
}

func TestListReleasesUnavailableAfterRetryExhaustion(t *testing.T) {
	env := testenv.New(t)
	env.Upstream.SetReleases("acme/sample", testenv.UpstreamRelease{TagName: "v1.0.0"})
	env.Upstream.FailNext("acme/sample", 10)

	client := NewClient(env.Upstream.URL(), WithMaxTries(2))
	_, err := client.ListReleases(context.Background(), sampleProject())
	require.Error(t, err)

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, "acme/sample", unavailable.Upstream)
}

func TestListReleasesUnknownRepoIsPermanent(t *testing.T) {
	env := testenv.New(t)
	// No releases registered: the fake answers 404, which must not be
	// retried before surfacing.
	client := NewClient(env.Upstream.URL(), WithMaxTries(5))
	_, err := client.ListReleases(context.Background(), sampleProject())

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 1, env.Upstream.Requests())
}
