package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/this-is-tobi/multiarch-mirror/internal/config"
	"github.com/this-is-tobi/multiarch-mirror/internal/matrix"
	"github.com/this-is-tobi/multiarch-mirror/internal/planner"
	"github.com/this-is-tobi/multiarch-mirror/internal/registry"
	"github.com/this-is-tobi/multiarch-mirror/internal/upstream"
)

func newExpandCmd() *cobra.Command {
	var (
		projectName string
		outputPath  string
	)

	cmd := &cobra.Command{
		Use:   "expand",
		Short: "Emit only the flat build matrix, the shape the CI fan-out consumes",
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

			// All projects share one flat job list; Component keeps the jobs
			// apart downstream.
			var combined matrix.Matrix
			var failed []string
			for _, project := range projects {
				plan, err := pl.Plan(cmd.Context(), project)
				if err != nil {
					opts.log.Error().Str("project", project.Name).Err(err).Msg("planning failed")
					failed = append(failed, project.Name)
					continue
				}

				jobs, err := matrix.Expand(project, plan.Candidates, opts.cfg.Runners)
				if err != nil {
					return err
				}
				combined.Include = append(combined.Include, jobs...)
			}

			if outputPath != "" {
				if err := confirmWrite(cmd, opts.DangerousInline, outputPath); err != nil {
					return err
				}
				raw, err := json.MarshalIndent(combined, "", "  ")
				if err != nil {
					return fmt.Errorf("encode matrix: %w", err)
				}
				raw = append(raw, '\n')
				if err := writeFile(outputPath, raw); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote build matrix: %s\n", outputPath)
			} else {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(combined); err != nil {
					return fmt.Errorf("encode matrix: %w", err)
				}
			}

			if len(failed) > 0 {
				return fmt.Errorf("planning failed for projects %v", failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectName, "project", "p", "", "Expand a single project instead of all")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the matrix JSON to a file instead of stdout")

	return cmd
}
