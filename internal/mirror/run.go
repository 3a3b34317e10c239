// Package mirror drives the reconciliation loop: plan against upstream and
// registry truth, fan out the missing builds, regroup digests per version,
// push multi-arch manifests and request attestation. All state lives in the
// registry, so a run is idempotent: whatever a previous run completed is
// simply absent from the next plan.
package mirror

import (
	"context"
	"fmt"
	"strings"
	"sync"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/this-is-tobi/multiarch-mirror/internal/attest"
	"github.com/this-is-tobi/multiarch-mirror/internal/config"
	"github.com/this-is-tobi/multiarch-mirror/internal/matrix"
	"github.com/this-is-tobi/multiarch-mirror/internal/merge"
	"github.com/this-is-tobi/multiarch-mirror/internal/planner"
)

// Builder produces a single-architecture image for a build job and returns
// its content digest. Implementations wrap the external image builder.
type Builder interface {
	Build(ctx context.Context, job matrix.BuildJob) (v1.Hash, error)
}

// Pusher writes a multi-arch manifest to the registry under the push spec's tags.
type Pusher interface {
	Push(ctx context.Context, spec merge.PushSpec) error
}

// Attestor requests signing and attestation for a pushed manifest.
type Attestor interface {
	Attest(ctx context.Context, ref string, sbomPredicate, provenancePredicate []byte) attest.Result
}

// Runner executes reconciliation cycles.
type Runner struct {
	cfg      config.Config
	planner  *planner.Planner
	builder  Builder
	pusher   Pusher
	attestor Attestor
	log      zerolog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithAttestor enables post-push attestation.
func WithAttestor(attestor Attestor) RunnerOption {
	return func(r *Runner) { r.attestor = attestor }
}

// WithRunnerLogger sets the structured logger.
func WithRunnerLogger(log zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.log = log }
}

// NewRunner wires a Runner from the reconciliation collaborators.
func NewRunner(cfg config.Config, source planner.Source, prober planner.Prober, builder Builder, pusher Pusher, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:     cfg,
		builder: builder,
		pusher:  pusher,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.planner = planner.New(source, prober, cfg, planner.WithLogger(r.log))
	return r
}

// Run reconciles every configured project. Failures are isolated: one
// project's error lands in its report and never halts the others.
func (r *Runner) Run(ctx context.Context) Report {
	var report Report
	for _, project := range r.cfg.Projects {
		report.Projects = append(report.Projects, r.RunProject(ctx, project))
	}
	return report
}

// RunProject reconciles a single project and returns its audit report.
func (r *Runner) RunProject(ctx context.Context, project config.Project) ProjectReport {
	log := r.log.With().Str("project", project.Name).Logger()

	plan, err := r.planner.Plan(ctx, project)
	if err != nil {
		log.Error().Err(err).Msg("planning failed, project skipped this cycle")
		return ProjectReport{Project: project.Name, Error: err.Error()}
	}

	result := ProjectReport{
		Project: project.Name,
		Latest:  plan.LatestString(),
	}

	// Versions the registry already holds, and versions excluded by an
	// indeterminate probe, are reported without any build activity.
	for _, entry := range plan.Entries {
		switch entry.State {
		case planner.StateExists:
			result.Versions = append(result.Versions, VersionReport{
				Version: entry.Version.String(),
				Status:  StatusSkippedExists,
				Latest:  plan.IsLatest(entry.Version),
			})
		case planner.StateExcluded:
			result.Versions = append(result.Versions, VersionReport{
				Version: entry.Version.String(),
				Status:  StatusExcluded,
				Error:   entry.Err.Error(),
			})
		}
	}

	if plan.NothingToBuild() {
		log.Info().Msg("nothing to build")
		sortVersionReportsDesc(result.Versions)
		return result
	}

	jobs, err := matrix.Expand(project, plan.Candidates, r.cfg.Runners)
	if err != nil {
		result.Error = err.Error()
		sortVersionReportsDesc(result.Versions)
		return result
	}

	jobsByVersion := make(map[string][]matrix.BuildJob)
	for _, job := range jobs {
		jobsByVersion[job.Version] = append(jobsByVersion[job.Version], job)
	}

	// Each version is an independent join point: its manifest is merged as
	// soon as its own builds finish, regardless of other versions.
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	for ver, versionJobs := range jobsByVersion {
		ver, versionJobs := ver, versionJobs
		group.Go(func() error {
			versionReport := r.runVersion(groupCtx, log, plan, project, ver, versionJobs)
			mu.Lock()
			result.Versions = append(result.Versions, versionReport)
			mu.Unlock()
			return nil
		})
	}
	// Goroutines report through the collected version reports, never errors.
	_ = group.Wait()

	sortVersionReportsDesc(result.Versions)
	return result
}

// runVersion builds every architecture of one version, then merges, pushes
// and attests. A failed build makes the group permanently incomplete for
// this run; the version stays missing in the registry and is naturally
// retried on the next cycle.
func (r *Runner) runVersion(ctx context.Context, log zerolog.Logger, plan planner.Plan, project config.Project, ver string, jobs []matrix.BuildJob) VersionReport {
	var (
		mu        sync.Mutex
		results   []merge.BuildResult
		buildErrs []string
	)

	builds, buildsCtx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		job := job
		builds.Go(func() error {
			digest, err := r.builder.Build(buildsCtx, job)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error().
					Str("version", job.Version).
					Str("arch", string(job.Arch)).
					Err(err).
					Msg("build job failed")
				buildErrs = append(buildErrs, fmt.Sprintf("%s/%s: %v", job.Version, job.Arch, err))
				return nil
			}
			results = append(results, merge.BuildResult{Job: job, Digest: digest})
			return nil
		})
	}
	_ = builds.Wait()

	planned := make([]config.Arch, 0, len(jobs))
	for _, job := range jobs {
		planned = append(planned, job.Arch)
	}

	mergeGroup := merge.Group{
		Version:  ver,
		IsLatest: ver == plan.LatestString(),
		Planned:  planned,
		Digests:  make(map[config.Arch]v1.Hash, len(results)),
	}
	for _, result := range results {
		mergeGroup.Digests[result.Job.Arch] = result.Digest
	}

	spec, err := mergeGroup.Plan(project.Repository)
	if err != nil {
		detail := err.Error()
		if len(buildErrs) > 0 {
			detail = fmt.Sprintf("%s (build failures: %s)", detail, strings.Join(buildErrs, "; "))
		}
		return VersionReport{Version: ver, Status: StatusIncomplete, Error: detail}
	}

	if err := r.pusher.Push(ctx, spec); err != nil {
		log.Error().Str("version", ver).Err(err).Msg("manifest push failed")
		return VersionReport{Version: ver, Status: StatusFailed, Error: err.Error()}
	}

	report := VersionReport{
		Version: ver,
		Status:  StatusBuilt,
		Latest:  mergeGroup.IsLatest,
		Tags:    spec.Tags,
	}

	if r.attestor != nil {
		ref := project.Repository + ":" + ver
		attestation := r.attestor.Attest(ctx, ref, nil, nil)
		report.Attestation = &attestation
	}

	log.Info().
		Str("version", ver).
		Strs("tags", spec.Tags).
		Msg("manifest pushed")
	return report
}
