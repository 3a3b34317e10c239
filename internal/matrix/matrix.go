// Package matrix flattens build candidates into the one-level job list the
// external build fan-out consumes. The expansion is deliberately flat: runner
// choice depends on architecture, so a nested version×arch cross-product
// would mis-assign runners.
package matrix

import (
	"fmt"

	"github.com/this-is-tobi/multiarch-mirror/internal/config"
	"github.com/this-is-tobi/multiarch-mirror/internal/planner"
)

// BuildJob is one concrete (version, architecture) build with its runner and
// platform assignment. It is the descriptor handed to the external builder.
type BuildJob struct {
	Component   string            `json:"component"`
	Version     string            `json:"version"`
	UpstreamTag string            `json:"upstream_tag"`
	Arch        config.Arch       `json:"arch"`
	Runner      string            `json:"runner"`
	Platform    string            `json:"platform"`
	BuildArgs   map[string]string `json:"build_args,omitempty"`
}

// Matrix is the flat job list in the shape the execution substrate expects.
type Matrix struct {
	Include []BuildJob `json:"include"`
}

// Expand maps every candidate to a BuildJob. Pure function: no candidate is
// dropped and none is invented. An architecture without a runner mapping is
// a configuration error, not a job to guess at.
func Expand(project config.Project, candidates []planner.Candidate, runners map[config.Arch]string) ([]BuildJob, error) {
	jobs := make([]BuildJob, 0, len(candidates))

	for _, candidate := range candidates {
		runner, ok := runners[candidate.Arch]
		if !ok {
			return nil, fmt.Errorf("no runner configured for architecture %q", candidate.Arch)
		}

		jobs = append(jobs, BuildJob{
			Component:   project.Name,
			Version:     candidate.Version.String(),
			UpstreamTag: candidate.RawTag,
			Arch:        candidate.Arch,
			Runner:      runner,
			Platform:    candidate.Arch.Platform(),
			BuildArgs:   project.BuildArgs,
		})
	}

	return jobs, nil
}
