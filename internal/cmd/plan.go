package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/this-is-tobi/multiarch-mirror/internal/config"
	"github.com/this-is-tobi/multiarch-mirror/internal/matrix"
	"github.com/this-is-tobi/multiarch-mirror/internal/mirror"
	"github.com/this-is-tobi/multiarch-mirror/internal/planner"
	"github.com/this-is-tobi/multiarch-mirror/internal/registry"
	"github.com/this-is-tobi/multiarch-mirror/internal/upstream"
)

func newPlanCmd() *cobra.Command {
	var (
		projectName string
		outputPath  string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the incremental build matrix for one or all projects",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := mergedOptions(cmd)
			if err != nil {
				return err
			}

			projects := opts.cfg.Projects
			if projectName != "" {
				project, err := opts.cfg.ProjectByName(projectName)
				if err != nil {
					return err
				}
				projects = []config.Project{project}
			}

			source := upstream.NewClient(opts.cfg.UpstreamAPI,
				upstream.WithToken(opts.Token),
				upstream.WithFetchLimit(opts.cfg.FetchLimit),
				upstream.WithLogger(opts.log),
			)
			inspector := registry.NewInspector(registry.WithLogger(opts.log))
			pl := planner.New(source, inspector, opts.cfg, planner.WithLogger(opts.log))

			docs := make([]mirror.PlanDocument, 0, len(projects))
			var failed []string
			for _, project := range projects {
				plan, err := pl.Plan(cmd.Context(), project)
				if err != nil {
					// One unreachable upstream must not halt the other
					// projects; surface it and keep going.
					opts.log.Error().Str("project", project.Name).Err(err).Msg("planning failed")
					failed = append(failed, project.Name)
					continue
				}

				jobs, err := matrix.Expand(project, plan.Candidates, opts.cfg.Runners)
				if err != nil {
					return err
				}

				docs = append(docs, mirror.NewPlanDocument(plan, jobs))
			}

			if err := emitPlans(cmd, opts, outputPath, projectName != "", docs); err != nil {
				return err
			}

			if len(failed) > 0 {
				return fmt.Errorf("planning failed for projects %v", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectName, "project", "p", "", "Plan a single project instead of all")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the plan JSON to a file instead of stdout")

	return cmd
}

func emitPlans(cmd *cobra.Command, opts runtimeOptions, outputPath string, single bool, docs []mirror.PlanDocument) error {
	if outputPath != "" {
		if err := confirmWrite(cmd, opts.DangerousInline, outputPath); err != nil {
			return err
		}
	}

	// A single-project plan is emitted as one document, the all-projects
	// form as an array, so CI consumers get a stable shape either way.
	var payload any = docs
	if single && len(docs) == 1 {
		payload = docs[0]
	}

	if outputPath != "" {
		raw, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("encode plan: %w", err)
		}
		raw = append(raw, '\n')
		if err := writeFile(outputPath, raw); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote plan: %s\n", outputPath)
		return nil
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	return nil
}
