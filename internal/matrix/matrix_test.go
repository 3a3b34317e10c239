package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/this-is-tobi/multiarch-mirror/internal/config"
	"github.com/this-is-tobi/multiarch-mirror/internal/planner"
	"github.com/this-is-tobi/multiarch-mirror/internal/version"
)

func candidate(t *testing.T, raw string, arch config.Arch) planner.Candidate {
	t.Helper()
	parsed, err := version.Parse(raw)
	require.NoError(t, err)
	return planner.Candidate{Version: parsed, RawTag: "v" + raw, Arch: arch}
}

func TestExpandAssignsRunnerPerArch(t *testing.T) {
	runners := map[config.Arch]string{
		config.ArchAmd64: "ubuntu-latest",
		config.ArchArm64: "ubuntu-24.04-arm",
	}
	candidates := []planner.Candidate{
		candidate(t, "10.3.1", config.ArchAmd64),
		candidate(t, "10.3.1", config.ArchArm64),
		candidate(t, "10.2.0", config.ArchAmd64),
	}

	jobs, err := Expand(config.Project{Name: "mattermost"}, candidates, runners)
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	assert.Equal(t, BuildJob{
		Component:   "mattermost",
		Version:     "10.3.1",
		UpstreamTag: "v10.3.1",
		Arch:        config.ArchAmd64,
		Runner:      "ubuntu-latest",
		Platform:    "linux/amd64",
	}, jobs[0])

	assert.Equal(t, "ubuntu-24.04-arm", jobs[1].Runner)
	assert.Equal(t, "linux/arm64", jobs[1].Platform)
	assert.Equal(t, "10.2.0", jobs[2].Version)
}

func TestExpandIsFlatAndComplete(t *testing.T) {
	runners := map[config.Arch]string{config.ArchAmd64: "x", config.ArchArm64: "y"}

	var candidates []planner.Candidate
	for _, raw := range []string{"1.0.0", "1.1.0", "1.2.0"} {
		candidates = append(candidates,
			candidate(t, raw, config.ArchAmd64),
			candidate(t, raw, config.ArchArm64),
		)
	}

	jobs, err := Expand(config.Project{Name: "sample"}, candidates, runners)
	require.NoError(t, err)
	assert.Len(t, jobs, len(candidates), "one job per candidate, nothing grouped")
}

func TestExpandUnknownArchFails(t *testing.T) {
	runners := map[config.Arch]string{config.ArchAmd64: "x"}
	candidates := []planner.Candidate{candidate(t, "1.0.0", config.ArchArm64)}

	_, err := Expand(config.Project{Name: "sample"}, candidates, runners)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no runner configured")
}

func TestExpandEmptyCandidates(t *testing.T) {
	jobs, err := Expand(config.Project{Name: "sample"}, nil, map[config.Arch]string{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestExpandCarriesBuildArgs(t *testing.T) {
	runners := map[config.Arch]string{config.ArchAmd64: "ubuntu-latest"}
	project := config.Project{Name: "sample", BuildArgs: map[string]string{"EDITION": "team"}}

	jobs, err := Expand(project, []planner.Candidate{candidate(t, "1.0.0", config.ArchAmd64)}, runners)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"EDITION": "team"}, jobs[0].BuildArgs)
}
