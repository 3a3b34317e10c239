package mirror

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/this-is-tobi/multiarch-mirror/internal/config"
	"github.com/this-is-tobi/multiarch-mirror/internal/matrix"
	"github.com/this-is-tobi/multiarch-mirror/internal/planner"
)

// PlanDocument is the serialized form of a project plan handed across the CI
// boundary: the build fan-out consumes Matrix, and the merge step reads the
// plan back so that the latest determination and the planned architecture
// sets are threaded through rather than recomputed from build outputs.
type PlanDocument struct {
	Project    string        `json:"project"`
	Repository string        `json:"repository"`
	Latest     string        `json:"latest,omitempty"`
	Versions   []PlanVersion `json:"versions"`
	Matrix     matrix.Matrix `json:"matrix"`
}

// PlanVersion is the audit entry for one window version.
type PlanVersion struct {
	Version     string `json:"version"`
	UpstreamTag string `json:"upstream_tag"`
	State       string `json:"state"`
	Error       string `json:"error,omitempty"`
}

// NewPlanDocument flattens a plan and its expanded jobs into the wire form.
func NewPlanDocument(plan planner.Plan, jobs []matrix.BuildJob) PlanDocument {
	doc := PlanDocument{
		Project:    plan.Project,
		Repository: plan.Repository,
		Latest:     plan.LatestString(),
		Matrix:     matrix.Matrix{Include: jobs},
	}

	for _, entry := range plan.Entries {
		pv := PlanVersion{
			Version:     entry.Version.String(),
			UpstreamTag: entry.RawTag,
			State:       string(entry.State),
		}
		if entry.Err != nil {
			pv.Error = entry.Err.Error()
		}
		doc.Versions = append(doc.Versions, pv)
	}

	return doc
}

// PlannedArches rebuilds the version→architectures map from the matrix.
func (d PlanDocument) PlannedArches() map[string][]config.Arch {
	planned := make(map[string][]config.Arch)
	for _, job := range d.Matrix.Include {
		planned[job.Version] = append(planned[job.Version], job.Arch)
	}
	return planned
}

// WritePlanDocument writes the plan as indented JSON.
func WritePlanDocument(path string, doc PlanDocument) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	payload = append(payload, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create plan directory: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}

	return nil
}

// ReadPlanDocument loads a plan written by WritePlanDocument.
func ReadPlanDocument(path string) (PlanDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return PlanDocument{}, fmt.Errorf("read plan: %w", err)
	}

	var doc PlanDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return PlanDocument{}, fmt.Errorf("parse plan JSON: %w", err)
	}

	return doc, nil
}
