package attest

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CosignSigner delegates the attestation operations to the cosign binary.
// Keyless signing is used unless a key reference is provided.
type CosignSigner struct {
	// Binary is the cosign executable, "cosign" by default.
	Binary string
	// KeyRef is passed as --key when non-empty.
	KeyRef string
}

func (s *CosignSigner) binary() string {
	if s.Binary != "" {
		return s.Binary
	}
	return "cosign"
}

// Sign signs the image reference.
func (s *CosignSigner) Sign(ctx context.Context, ref string) error {
	args := []string{"sign", "--yes"}
	if s.KeyRef != "" {
		args = append(args, "--key", s.KeyRef)
	}
	args = append(args, ref)
	return s.run(ctx, args)
}

// AttachSBOM attaches the SBOM predicate as an SPDX attestation.
func (s *CosignSigner) AttachSBOM(ctx context.Context, ref string, predicate []byte) error {
	return s.attest(ctx, ref, "spdxjson", predicate)
}

// AttachProvenance attaches the provenance predicate as a SLSA attestation.
func (s *CosignSigner) AttachProvenance(ctx context.Context, ref string, predicate []byte) error {
	return s.attest(ctx, ref, "slsaprovenance", predicate)
}

func (s *CosignSigner) attest(ctx context.Context, ref, predicateType string, predicate []byte) error {
	tmp, err := os.CreateTemp("", "mirror-predicate-*.json")
	if err != nil {
		return fmt.Errorf("create predicate file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(predicate); err != nil {
		tmp.Close()
		return fmt.Errorf("write predicate file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close predicate file: %w", err)
	}

	args := []string{"attest", "--yes", "--type", predicateType, "--predicate", tmp.Name()}
	if s.KeyRef != "" {
		args = append(args, "--key", s.KeyRef)
	}
	args = append(args, ref)
	return s.run(ctx, args)
}

func (s *CosignSigner) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, s.binary(), args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w (%s)", s.binary(), strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
