// Package merge regroups per-architecture build digests into multi-arch
// manifest push specifications. A group missing any planned architecture is
// rejected rather than pushed: a manifest that silently lacks a platform is
// worse than no manifest at all.
package merge

import (
	"fmt"
	"sort"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/this-is-tobi/multiarch-mirror/internal/config"
	"github.com/this-is-tobi/multiarch-mirror/internal/matrix"
	"github.com/this-is-tobi/multiarch-mirror/internal/version"
)

// BuildResult pairs a finished build job with the digest it produced.
type BuildResult struct {
	Job    matrix.BuildJob `json:"job"`
	Digest v1.Hash         `json:"digest"`
}

// IncompleteGroupError reports a merge group that lacks digests for one or
// more planned architectures, usually because those builds failed.
type IncompleteGroupError struct {
	Version string
	Missing []config.Arch
}

func (e *IncompleteGroupError) Error() string {
	return fmt.Sprintf("merge group %s is missing architectures %v", e.Version, e.Missing)
}

// Group is the per-version collection of architecture digests awaiting
// manifest assembly.
type Group struct {
	Version  string
	IsLatest bool
	// Planned is the architecture set the planning phase scheduled for this
	// version. Completeness is judged against it, not against whatever
	// happened to finish.
	Planned []config.Arch
	Digests map[config.Arch]v1.Hash
}

// Complete reports whether every planned architecture has a digest.
func (g Group) Complete() bool {
	return len(g.missing()) == 0
}

func (g Group) missing() []config.Arch {
	var missing []config.Arch
	for _, arch := range g.Planned {
		if _, ok := g.Digests[arch]; !ok {
			missing = append(missing, arch)
		}
	}
	return missing
}

// PushSpec is the manifest push request handed to the external registry
// writer: one multi-arch manifest under the given tags.
type PushSpec struct {
	Repository string                  `json:"repository"`
	Version    string                  `json:"version"`
	Tags       []string                `json:"tags"`
	Digests    map[config.Arch]v1.Hash `json:"digests"`
}

// Plan produces the push specification for the group. The tag set always
// contains the literal version; "latest" is added iff the planning phase
// resolved this version as latest. Incomplete groups fail with
// IncompleteGroupError.
func (g Group) Plan(repository string) (PushSpec, error) {
	if missing := g.missing(); len(missing) > 0 {
		return PushSpec{}, &IncompleteGroupError{Version: g.Version, Missing: missing}
	}

	tags := []string{g.Version}
	if g.IsLatest {
		tags = append(tags, "latest")
	}

	return PushSpec{
		Repository: repository,
		Version:    g.Version,
		Tags:       tags,
		Digests:    g.Digests,
	}, nil
}

// GroupResults groups build results by version. planned maps each version to
// its scheduled architecture set; latest is the version string resolved as
// latest during planning (empty when the window was empty). Both are threaded
// through from the planning phase so that failed builds cannot alter which
// version carries the "latest" tag. Results for versions that were never
// planned are dropped. Groups are returned in descending version order.
func GroupResults(results []BuildResult, planned map[string][]config.Arch, latest string) []Group {
	byVersion := make(map[string]map[config.Arch]v1.Hash, len(planned))
	for _, result := range results {
		if _, ok := planned[result.Job.Version]; !ok {
			continue
		}
		if byVersion[result.Job.Version] == nil {
			byVersion[result.Job.Version] = make(map[config.Arch]v1.Hash)
		}
		byVersion[result.Job.Version][result.Job.Arch] = result.Digest
	}

	groups := make([]Group, 0, len(planned))
	for ver, arches := range planned {
		digests := byVersion[ver]
		if digests == nil {
			digests = make(map[config.Arch]v1.Hash)
		}
		groups = append(groups, Group{
			Version:  ver,
			IsLatest: latest != "" && ver == latest,
			Planned:  arches,
			Digests:  digests,
		})
	}

	sort.Slice(groups, func(i, j int) bool {
		vi, erri := version.Parse(groups[i].Version)
		vj, errj := version.Parse(groups[j].Version)
		if erri != nil || errj != nil {
			return groups[i].Version > groups[j].Version
		}
		return vi.GreaterThan(vj)
	})

	return groups
}
