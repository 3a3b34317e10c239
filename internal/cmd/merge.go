package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/this-is-tobi/multiarch-mirror/internal/merge"
	"github.com/this-is-tobi/multiarch-mirror/internal/mirror"
)

func newMergeCmd() *cobra.Command {
	var (
		planPath    string
		resultsPath string
		outputPath  string
	)

	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Regroup build digests into multi-arch manifest push specs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := mergedOptions(cmd)
			if err != nil {
				return err
			}

			doc, err := mirror.ReadPlanDocument(planPath)
			if err != nil {
				return err
			}
			results, err := merge.ReadResults(resultsPath)
			if err != nil {
				return err
			}

			// The latest determination and the planned architecture sets come
			// from the plan document, never from the build outputs: a failed
			// build must not be able to shift the "latest" tag.
			groups := merge.GroupResults(results, doc.PlannedArches(), doc.Latest)

			specs := make([]merge.PushSpec, 0, len(groups))
			var incomplete []string
			for _, group := range groups {
				spec, err := group.Plan(doc.Repository)
				if err != nil {
					// Reject this version's manifest, keep merging the rest.
					opts.log.Error().
						Str("project", doc.Project).
						Str("version", group.Version).
						Err(err).
						Msg("merge group rejected")
					incomplete = append(incomplete, group.Version)
					continue
				}
				specs = append(specs, spec)
			}

			if outputPath != "" {
				if err := confirmWrite(cmd, opts.DangerousInline, outputPath); err != nil {
					return err
				}
				if err := merge.WritePushSpecs(outputPath, specs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote push specs: %s\n", outputPath)
			} else {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(specs); err != nil {
					return fmt.Errorf("encode push specs: %w", err)
				}
			}

			if len(incomplete) > 0 {
				return fmt.Errorf("%d merge group(s) incomplete: %v", len(incomplete), incomplete)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&planPath, "plan", "", "Path to the plan JSON written by `plan --output`")
	cmd.Flags().StringVar(&resultsPath, "results", "", "Path to the build results JSON from the build fan-out")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write push specs to a file instead of stdout")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("results")

	return cmd
}
