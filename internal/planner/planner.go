// Package planner reconciles upstream release state against the mirror
// registry. Each cycle recomputes the active version window from upstream
// truth, diffs it against what the registry already holds, and emits only the
// missing (version, architecture) build candidates. Reruns against an
// unchanged registry and upstream are idempotent: the second pass plans
// nothing.
package planner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/this-is-tobi/multiarch-mirror/internal/config"
	"github.com/this-is-tobi/multiarch-mirror/internal/registry"
	"github.com/this-is-tobi/multiarch-mirror/internal/version"
)

// Source lists the released versions of one upstream project.
type Source interface {
	ListReleases(ctx context.Context, project config.Project) ([]version.Release, error)
}

// Prober checks candidate tags against the mirror registry.
type Prober interface {
	ProbeTags(ctx context.Context, repository string, tags []string) (map[string]registry.Probe, error)
}

// Candidate is one (version, architecture) pair that must be built. RawTag
// is the upstream tag the builder fetches sources from.
type Candidate struct {
	Version version.Version
	RawTag  string
	Arch    config.Arch
}

// VersionState classifies each window version for the audit report.
type VersionState string

const (
	// StateMissing means the registry lacks the version; it will be built.
	StateMissing VersionState = "missing"
	// StateExists means the registry already holds the version.
	StateExists VersionState = "exists"
	// StateExcluded means the registry probe was indeterminate; the version
	// is skipped this cycle rather than risking a spurious rebuild or a
	// false skip.
	StateExcluded VersionState = "excluded"
)

// Entry is the per-version audit record of a plan.
type Entry struct {
	Version version.Version
	RawTag  string
	State   VersionState
	// Err holds the probe failure for excluded versions.
	Err error
}

// Plan is the reconciliation result for one project.
type Plan struct {
	Project    string
	Repository string
	// Window holds the top-N qualifying releases, descending by version.
	Window []version.Release
	// Latest is the maximum version in the window, valid iff HasLatest.
	// Numeric order decides, never publish chronology.
	Latest    version.Version
	HasLatest bool
	// Entries audits every window version.
	Entries []Entry
	// Candidates lists the (version, arch) pairs absent from the registry.
	Candidates []Candidate
}

// NothingToBuild reports the valid terminal state of an empty candidate set.
func (p Plan) NothingToBuild() bool {
	return len(p.Candidates) == 0
}

// IsLatest reports whether v is the plan's resolved latest version.
func (p Plan) IsLatest(v version.Version) bool {
	return p.HasLatest && p.Latest.Equal(v)
}

// LatestString returns the latest version tag, or "" for an empty window.
func (p Plan) LatestString() string {
	if !p.HasLatest {
		return ""
	}
	return p.Latest.String()
}

// PlannedArches maps each candidate version to its scheduled architecture
// set, the shape the merge phase judges completeness against.
func (p Plan) PlannedArches() map[string][]config.Arch {
	planned := make(map[string][]config.Arch)
	for _, candidate := range p.Candidates {
		key := candidate.Version.String()
		planned[key] = append(planned[key], candidate.Arch)
	}
	return planned
}

// Planner computes build plans from a release source and a registry prober.
type Planner struct {
	source     Source
	prober     Prober
	windowSize int
	arches     []config.Arch
	log        zerolog.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Planner) { p.log = log }
}

// New returns a Planner using the config's window size and architecture set.
func New(source Source, prober Prober, cfg config.Config, opts ...Option) *Planner {
	p := &Planner{
		source:     source,
		prober:     prober,
		windowSize: cfg.WindowSize,
		arches:     cfg.Architectures,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan computes the build plan for one project: fetch releases, drop
// prereleases, dedupe, sort descending, window to N, then diff the window
// against the registry. An upstream failure aborts this project only.
func (p *Planner) Plan(ctx context.Context, project config.Project) (Plan, error) {
	releases, err := p.source.ListReleases(ctx, project)
	if err != nil {
		return Plan{}, fmt.Errorf("list releases for %s: %w", project.Name, err)
	}

	window := p.window(project.Name, releases)

	plan := Plan{
		Project:    project.Name,
		Repository: project.Repository,
		Window:     window,
	}
	if len(window) > 0 {
		plan.Latest = window[0].Version
		plan.HasLatest = true
	}

	if len(window) == 0 {
		return plan, nil
	}

	tags := make([]string, 0, len(window))
	for _, release := range window {
		tags = append(tags, release.Version.String())
	}

	probes, err := p.prober.ProbeTags(ctx, project.Repository, tags)
	if err != nil {
		return Plan{}, fmt.Errorf("probe registry %s: %w", project.Repository, err)
	}

	for _, release := range window {
		tag := release.Version.String()
		probe, ok := probes[tag]
		if !ok {
			probe = registry.Probe{
				Tag:     tag,
				Outcome: registry.OutcomeIndeterminate,
				Err:     fmt.Errorf("no probe result for tag %s", tag),
			}
		}

		entry := Entry{Version: release.Version, RawTag: release.RawTag}
		switch probe.Outcome {
		case registry.OutcomeExists:
			entry.State = StateExists
		case registry.OutcomeAbsent:
			entry.State = StateMissing
			for _, arch := range p.arches {
				plan.Candidates = append(plan.Candidates, Candidate{
					Version: release.Version,
					RawTag:  release.RawTag,
					Arch:    arch,
				})
			}
		default:
			entry.State = StateExcluded
			entry.Err = probe.Err
		}
		plan.Entries = append(plan.Entries, entry)
	}

	return plan, nil
}

// window filters prereleases, dedupes by version identity and returns the
// top windowSize releases in descending version order. If upstream yields
// fewer qualifying releases the window is simply shorter; versions are never
// fabricated to pad it.
func (p *Planner) window(project string, releases []version.Release) []version.Release {
	type identity struct {
		tuple  string
		suffix string
	}

	deduped := make(map[identity]version.Release, len(releases))
	order := make([]identity, 0, len(releases))
	byTag := make(map[string]identity, len(releases))

	for _, release := range releases {
		if release.Prerelease {
			continue
		}

		id := identity{tuple: release.Version.String(), suffix: release.Version.Suffix()}
		if prior, seen := deduped[id]; seen {
			// Upstream retagged the same version. Last one discovered wins,
			// but that choice is arbitrary, so make it visible.
			if prior.RawTag != release.RawTag {
				p.log.Warn().
					Str("project", project).
					Str("version", id.tuple).
					Str("kept_tag", release.RawTag).
					Str("dropped_tag", prior.RawTag).
					Msg("distinct raw tags normalize to the same version")
			}
			deduped[id] = release
			continue
		}

		// The registry tag is the numeric tuple alone. Two identities that
		// differ only in suffix would share one tag, one probe result and one
		// merge group; the first one discovered claims the tag, the rest are
		// dropped loudly.
		if claimed, taken := byTag[id.tuple]; taken {
			p.log.Warn().
				Str("project", project).
				Str("tag", id.tuple).
				Str("kept_tag", deduped[claimed].RawTag).
				Str("dropped_tag", release.RawTag).
				Msg("distinct version identities render to the same registry tag")
			continue
		}
		byTag[id.tuple] = id

		deduped[id] = release
		order = append(order, id)
	}

	window := make([]version.Release, 0, len(order))
	for _, id := range order {
		window = append(window, deduped[id])
	}
	version.SortReleasesDesc(window)

	if len(window) > p.windowSize {
		window = window[:p.windowSize]
	}
	return window
}
