package planner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/this-is-tobi/multiarch-mirror/internal/config"
	"github.com/this-is-tobi/multiarch-mirror/internal/registry"
	"github.com/this-is-tobi/multiarch-mirror/internal/version"
)

type stubSource struct {
	releases []version.Release
	err      error
}

func (s stubSource) ListReleases(context.Context, config.Project) ([]version.Release, error) {
	return s.releases, s.err
}

type stubProber struct {
	existing map[string]bool
	broken   map[string]bool
}

func (s stubProber) ProbeTags(_ context.Context, repository string, tags []string) (map[string]registry.Probe, error) {
	probes := make(map[string]registry.Probe, len(tags))
	for _, tag := range tags {
		switch {
		case s.broken[tag]:
			probes[tag] = registry.Probe{
				Tag:     tag,
				Outcome: registry.OutcomeIndeterminate,
				Err:     &registry.IndeterminateError{Repository: repository, Tag: tag, Err: fmt.Errorf("simulated auth error")},
			}
		case s.existing[tag]:
			probes[tag] = registry.Probe{Tag: tag, Outcome: registry.OutcomeExists}
		default:
			probes[tag] = registry.Probe{Tag: tag, Outcome: registry.OutcomeAbsent}
		}
	}
	return probes, nil
}

func release(t *testing.T, raw string, prerelease bool) version.Release {
	t.Helper()
	pattern := version.MustCompilePattern(`^v(\d+\.\d+\.\d+)$`)
	parsed, ok := pattern.Match("v" + raw)
	require.True(t, ok, "tag v%s must parse", raw)
	return version.Release{RawTag: "v" + raw, Version: parsed, Prerelease: prerelease}
}

func testProject() config.Project {
	return config.Project{
		Name:       "sample",
		Upstream:   "acme/sample",
		TagPattern: `^v(\d+\.\d+\.\d+)$`,
		Repository: "registry.example.com/mirror/sample",
		Pattern:    version.MustCompilePattern(`^v(\d+\.\d+\.\d+)$`),
	}
}

func testConfig(windowSize int) config.Config {
	cfg := config.Default()
	cfg.WindowSize = windowSize
	cfg.Projects = []config.Project{testProject()}
	return cfg
}

func candidateStrings(plan Plan) []string {
	got := make([]string, 0, len(plan.Candidates))
	for _, candidate := range plan.Candidates {
		got = append(got, candidate.Version.String()+"/"+string(candidate.Arch))
	}
	return got
}

func TestPlanMissingVersionExpandsAllArches(t *testing.T) {
	// Upstream has 10.3.1, 10.3.0 and 10.2.1; the registry already holds
	// the latter two.
	source := stubSource{releases: []version.Release{
		release(t, "10.3.1", false),
		release(t, "10.3.0", false),
		release(t, "10.2.1", false),
	}}
	prober := stubProber{existing: map[string]bool{"10.3.0": true, "10.2.1": true}}

	plan, err := New(source, prober, testConfig(10)).Plan(context.Background(), testProject())
	require.NoError(t, err)

	assert.Equal(t, "10.3.1", plan.LatestString())
	assert.Equal(t, []string{"10.3.1/amd64", "10.3.1/arm64"}, candidateStrings(plan))
	assert.False(t, plan.NothingToBuild())

	require.Len(t, plan.Entries, 3)
	assert.Equal(t, StateMissing, plan.Entries[0].State)
	assert.Equal(t, StateExists, plan.Entries[1].State)
	assert.Equal(t, StateExists, plan.Entries[2].State)
}

func TestPlanLatestIsNumericMaxNotPublishOrder(t *testing.T) {
	// Patch 10.2.1 was published after 10.3.0, so it arrives first in the
	// feed. Numeric order must still decide latest.
	source := stubSource{releases: []version.Release{
		release(t, "10.2.1", false),
		release(t, "10.3.0", false),
		release(t, "10.2.0", false),
	}}
	prober := stubProber{}

	plan, err := New(source, prober, testConfig(10)).Plan(context.Background(), testProject())
	require.NoError(t, err)

	assert.Equal(t, "10.3.0", plan.LatestString())
	assert.Equal(t, "10.3.0", plan.Window[0].Version.String())
}

func TestPlanIdempotentWhenRegistryComplete(t *testing.T) {
	releases := []version.Release{
		release(t, "10.3.1", false),
		release(t, "10.3.0", false),
	}
	prober := stubProber{existing: map[string]bool{"10.3.1": true, "10.3.0": true}}
	pl := New(stubSource{releases: releases}, prober, testConfig(10))

	first, err := pl.Plan(context.Background(), testProject())
	require.NoError(t, err)
	second, err := pl.Plan(context.Background(), testProject())
	require.NoError(t, err)

	assert.True(t, first.NothingToBuild())
	assert.True(t, second.NothingToBuild())
	assert.Equal(t, first.Candidates, second.Candidates)
}

func TestPlanWindowIsTopNByVersion(t *testing.T) {
	releases := make([]version.Release, 0, 25)
	for patch := 0; patch < 25; patch++ {
		releases = append(releases, release(t, fmt.Sprintf("1.%d.0", patch), false))
	}

	plan, err := New(stubSource{releases: releases}, stubProber{}, testConfig(10)).
		Plan(context.Background(), testProject())
	require.NoError(t, err)

	require.Len(t, plan.Window, 10)
	assert.Equal(t, "1.24.0", plan.Window[0].Version.String())
	assert.Equal(t, "1.15.0", plan.Window[9].Version.String())
	assert.Equal(t, "1.24.0", plan.LatestString())
}

func TestPlanShortWindowIsNotPadded(t *testing.T) {
	releases := []version.Release{
		release(t, "2.0.0", false),
		release(t, "1.0.0", false),
	}

	plan, err := New(stubSource{releases: releases}, stubProber{}, testConfig(10)).
		Plan(context.Background(), testProject())
	require.NoError(t, err)
	assert.Len(t, plan.Window, 2)
}

func TestPlanFiltersPrereleases(t *testing.T) {
	releases := []version.Release{
		release(t, "11.0.0", true),
		release(t, "10.3.0", false),
	}

	plan, err := New(stubSource{releases: releases}, stubProber{}, testConfig(10)).
		Plan(context.Background(), testProject())
	require.NoError(t, err)

	assert.Equal(t, "10.3.0", plan.LatestString(), "prerelease must not become latest")
	require.Len(t, plan.Window, 1)
}

func TestPlanDedupesRetaggedVersions(t *testing.T) {
	first := release(t, "10.3.0", false)
	retag := release(t, "10.3.0", false)
	retag.RawTag = "v10.3.0" // same normalized version, same tag here

	plan, err := New(stubSource{releases: []version.Release{first, retag}}, stubProber{}, testConfig(10)).
		Plan(context.Background(), testProject())
	require.NoError(t, err)

	require.Len(t, plan.Window, 1)
	// Two architectures for one version, not two versions.
	assert.Len(t, plan.Candidates, 2)
}

func TestPlanDropsIdentitiesSharingOneRegistryTag(t *testing.T) {
	// An optional-suffix pattern can admit both v1.2.3 and v1.2.3-limitless,
	// two identities that render to the single registry tag "1.2.3". Only the
	// first discovered may claim the tag: sharing it would collapse their
	// probe results and merge groups.
	pattern := version.MustCompilePattern(`^v(\d+\.\d+\.\d+)(?:-(limitless))?$`)

	plain, ok := pattern.Match("v1.2.3")
	require.True(t, ok)
	qualified, ok := pattern.Match("v1.2.3-limitless")
	require.True(t, ok)
	require.False(t, plain.Equal(qualified), "distinct identities")

	source := stubSource{releases: []version.Release{
		{RawTag: "v1.2.3-limitless", Version: qualified},
		{RawTag: "v1.2.3", Version: plain},
	}}

	plan, err := New(source, stubProber{}, testConfig(10)).Plan(context.Background(), testProject())
	require.NoError(t, err)

	require.Len(t, plan.Window, 1)
	assert.Equal(t, "v1.2.3-limitless", plan.Window[0].RawTag, "first discovered claims the tag")
	assert.Equal(t, []string{"1.2.3/amd64", "1.2.3/arm64"}, candidateStrings(plan), "one version, not two collapsing into one merge key")
}

func TestPlanIndeterminateProbeExcludesVersion(t *testing.T) {
	source := stubSource{releases: []version.Release{
		release(t, "10.3.1", false),
		release(t, "10.3.0", false),
		release(t, "10.2.1", false),
	}}
	prober := stubProber{
		existing: map[string]bool{"10.2.1": true},
		broken:   map[string]bool{"10.3.0": true},
	}

	plan, err := New(source, prober, testConfig(10)).Plan(context.Background(), testProject())
	require.NoError(t, err)

	// 10.3.0 is excluded, not rebuilt and not skipped-as-existing; the rest
	// of the run proceeds.
	assert.Equal(t, []string{"10.3.1/amd64", "10.3.1/arm64"}, candidateStrings(plan))

	var excluded *Entry
	for i := range plan.Entries {
		if plan.Entries[i].Version.String() == "10.3.0" {
			excluded = &plan.Entries[i]
		}
	}
	require.NotNil(t, excluded)
	assert.Equal(t, StateExcluded, excluded.State)
	require.Error(t, excluded.Err)
	assert.NotEqual(t, StateExists, excluded.State)
}

func TestPlanEmptyFeedSignalsNothingToBuild(t *testing.T) {
	plan, err := New(stubSource{}, stubProber{}, testConfig(10)).
		Plan(context.Background(), testProject())
	require.NoError(t, err)

	assert.Empty(t, plan.Window)
	assert.False(t, plan.HasLatest)
	assert.True(t, plan.NothingToBuild())
}

func TestPlanUpstreamFailureAborts(t *testing.T) {
	source := stubSource{err: fmt.Errorf("api down")}

	_, err := New(source, stubProber{}, testConfig(10)).Plan(context.Background(), testProject())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list releases")
}

func TestPlannedArches(t *testing.T) {
	source := stubSource{releases: []version.Release{
		release(t, "10.3.1", false),
		release(t, "10.3.0", false),
	}}

	plan, err := New(source, stubProber{}, testConfig(10)).Plan(context.Background(), testProject())
	require.NoError(t, err)

	planned := plan.PlannedArches()
	require.Len(t, planned, 2)
	assert.Equal(t, []config.Arch{config.ArchAmd64, config.ArchArm64}, planned["10.3.1"])
	assert.Equal(t, []config.Arch{config.ArchAmd64, config.ArchArm64}, planned["10.3.0"])
}
