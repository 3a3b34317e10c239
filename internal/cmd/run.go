package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/this-is-tobi/multiarch-mirror/internal/attest"
	"github.com/this-is-tobi/multiarch-mirror/internal/config"
	"github.com/this-is-tobi/multiarch-mirror/internal/mirror"
	"github.com/this-is-tobi/multiarch-mirror/internal/registry"
	"github.com/this-is-tobi/multiarch-mirror/internal/upstream"
)

func newRunCmd() *cobra.Command {
	var (
		projectName string
		reportPath  string
		builderCmd  []string
		pusherCmd   []string
		signImages  bool
		cosignKey   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full reconciliation cycle: plan, build, merge, push, attest",
		Long: `Run executes the whole mirror loop in one process. Image construction and
the manifest push stay external: they are delegated to the commands given via
--builder-cmd and --pusher-cmd, which receive their JSON descriptor on stdin.
The builder must print the resulting image digest as its last output line.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := mergedOptions(cmd)
			if err != nil {
				return err
			}

			if len(builderCmd) == 0 || len(pusherCmd) == 0 {
				return fmt.Errorf("both --builder-cmd and --pusher-cmd are required")
			}

			cfg := opts.cfg
			if projectName != "" {
				project, err := cfg.ProjectByName(projectName)
				if err != nil {
					return err
				}
				cfg.Projects = []config.Project{project}
			}

			source := upstream.NewClient(cfg.UpstreamAPI,
				upstream.WithToken(opts.Token),
				upstream.WithFetchLimit(cfg.FetchLimit),
				upstream.WithLogger(opts.log),
			)
			inspector := registry.NewInspector(registry.WithLogger(opts.log))

			runnerOpts := []mirror.RunnerOption{mirror.WithRunnerLogger(opts.log)}
			if signImages {
				coordinator := attest.NewCoordinator(
					&attest.CosignSigner{KeyRef: cosignKey},
					attest.WithLogger(opts.log),
				)
				runnerOpts = append(runnerOpts, mirror.WithAttestor(coordinator))
			}

			runner := mirror.NewRunner(cfg, source, inspector,
				&mirror.ExecBuilder{Command: builderCmd},
				&mirror.ExecPusher{Command: pusherCmd},
				runnerOpts...,
			)

			report := runner.Run(cmd.Context())

			if reportPath != "" {
				if err := confirmWrite(cmd, opts.DangerousInline, reportPath); err != nil {
					return err
				}
				if err := mirror.WriteReport(reportPath, report); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote run report: %s\n", reportPath)
			} else {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(report); err != nil {
					return fmt.Errorf("encode report: %w", err)
				}
			}

			if report.HasFailures() {
				return fmt.Errorf("run finished with failures, see report")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectName, "project", "p", "", "Reconcile a single project instead of all")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write the structured run report to a file instead of stdout")
	cmd.Flags().StringArrayVar(&builderCmd, "builder-cmd", nil, "External builder command (repeat flag for arguments)")
	cmd.Flags().StringArrayVar(&pusherCmd, "pusher-cmd", nil, "External manifest-push command (repeat flag for arguments)")
	cmd.Flags().BoolVar(&signImages, "sign", false, "Sign pushed manifests with cosign")
	cmd.Flags().StringVar(&cosignKey, "cosign-key", "", "Cosign key reference (keyless when empty)")

	return cmd
}
