package mirror

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/this-is-tobi/multiarch-mirror/internal/attest"
	"github.com/this-is-tobi/multiarch-mirror/internal/version"
)

// VersionStatus is the terminal state of one window version in a run.
type VersionStatus string

const (
	// StatusBuilt: all architectures built, manifest pushed.
	StatusBuilt VersionStatus = "built"
	// StatusSkippedExists: the registry already held the version.
	StatusSkippedExists VersionStatus = "skipped-exists"
	// StatusFailed: the manifest push (or another post-build step) failed.
	StatusFailed VersionStatus = "failed"
	// StatusIncomplete: one or more architecture builds failed, so the
	// multi-arch manifest was not assembled. The version stays missing and
	// is retried on the next cycle.
	StatusIncomplete VersionStatus = "incomplete"
	// StatusExcluded: the registry probe was indeterminate; the version was
	// skipped this cycle.
	StatusExcluded VersionStatus = "excluded"
)

// VersionReport is the audit record for one version of one project.
type VersionReport struct {
	Version     string         `json:"version"`
	Status      VersionStatus  `json:"status"`
	Latest      bool           `json:"latest,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attestation *attest.Result `json:"attestation,omitempty"`
}

// ProjectReport is the audit record for one project. A project-level Error
// (e.g. upstream unavailable) means no version window was used at all.
type ProjectReport struct {
	Project  string          `json:"project"`
	Latest   string          `json:"latest,omitempty"`
	Error    string          `json:"error,omitempty"`
	Versions []VersionReport `json:"versions,omitempty"`
}

// Report is the structured result of a full reconciliation run.
type Report struct {
	Projects []ProjectReport `json:"projects"`
}

// HasFailures reports whether any project or version ended in a failure
// state. Skipped and excluded versions are not failures.
func (r Report) HasFailures() bool {
	for _, project := range r.Projects {
		if project.Error != "" {
			return true
		}
		for _, ver := range project.Versions {
			if ver.Status == StatusFailed || ver.Status == StatusIncomplete {
				return true
			}
		}
	}
	return false
}

// WriteReport writes the report as indented JSON.
func WriteReport(path string, report Report) error {
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	payload = append(payload, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	return nil
}

// sortVersionReportsDesc orders reports by descending version. Unparseable
// versions fall back to reverse lexicographic order.
func sortVersionReportsDesc(reports []VersionReport) {
	sort.Slice(reports, func(i, j int) bool {
		vi, erri := version.Parse(reports[i].Version)
		vj, errj := version.Parse(reports[j].Version)
		if erri != nil || errj != nil {
			return reports[i].Version > reports[j].Version
		}
		return vi.GreaterThan(vj)
	})
}
