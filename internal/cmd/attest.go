package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/this-is-tobi/multiarch-mirror/internal/attest"
)

func newAttestCmd() *cobra.Command {
	var (
		imageRef       string
		sbomPath       string
		provenancePath string
		cosignKey      string
		cosignBinary   string
	)

	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Sign a pushed manifest and attach SBOM/provenance attestations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts, err := mergedOptions(cmd)
			if err != nil {
				return err
			}

			var sbom, provenance []byte
			if sbomPath != "" {
				if sbom, err = os.ReadFile(sbomPath); err != nil {
					return fmt.Errorf("read SBOM predicate: %w", err)
				}
			}
			if provenancePath != "" {
				if provenance, err = os.ReadFile(provenancePath); err != nil {
					return fmt.Errorf("read provenance predicate: %w", err)
				}
			}

			coordinator := attest.NewCoordinator(
				&attest.CosignSigner{KeyRef: cosignKey, Binary: cosignBinary},
				attest.WithLogger(opts.log),
			)

			result := coordinator.Attest(cmd.Context(), imageRef, sbom, provenance)

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(result); err != nil {
				return fmt.Errorf("encode attestation result: %w", err)
			}

			// Attestation is additive metadata: partial failure is a warning,
			// the image stays published either way.
			if result.Partial() {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: attestation partially failed for %s\n", imageRef)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&imageRef, "image", "", "Image reference to attest, e.g. ghcr.io/org/app:1.2.3")
	cmd.Flags().StringVar(&sbomPath, "sbom", "", "Path to the SBOM predicate document")
	cmd.Flags().StringVar(&provenancePath, "provenance", "", "Path to the provenance predicate document")
	cmd.Flags().StringVar(&cosignKey, "cosign-key", "", "Cosign key reference (keyless when empty)")
	cmd.Flags().StringVar(&cosignBinary, "cosign-binary", "", "Cosign executable override")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}
