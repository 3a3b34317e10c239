// Package attest coordinates signing and SBOM/provenance attachment for
// pushed manifests. Attestation is additive security metadata: the image
// stays published and pullable whatever happens here, and partial failures
// are reported, never suppressed and never rolled back.
package attest

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Signer performs the three attestation operations. Each is independent and
// individually retryable by the caller.
type Signer interface {
	Sign(ctx context.Context, ref string) error
	AttachSBOM(ctx context.Context, ref string, predicate []byte) error
	AttachProvenance(ctx context.Context, ref string, predicate []byte) error
}

// Result records which attestation operations succeeded.
type Result struct {
	Signed             bool     `json:"signed"`
	SBOMAttached       bool     `json:"sbom_attached"`
	ProvenanceAttached bool     `json:"provenance_attached"`
	Failures           []string `json:"failures,omitempty"`
}

// Partial reports whether at least one requested operation failed.
func (r Result) Partial() bool {
	return len(r.Failures) > 0
}

// Coordinator drives a Signer and collects the outcome.
type Coordinator struct {
	signer Signer
	log    zerolog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = log }
}

// NewCoordinator returns a Coordinator around the given signer.
func NewCoordinator(signer Signer, opts ...Option) *Coordinator {
	c := &Coordinator{signer: signer, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attest signs ref and attaches the SBOM and provenance predicates. Empty
// predicates skip their operation. A failure in one operation does not block
// the others.
func (c *Coordinator) Attest(ctx context.Context, ref string, sbomPredicate, provenancePredicate []byte) Result {
	var result Result

	if err := c.signer.Sign(ctx, ref); err != nil {
		c.warn(ref, "sign", err)
		result.Failures = append(result.Failures, fmt.Sprintf("sign: %v", err))
	} else {
		result.Signed = true
	}

	if len(sbomPredicate) > 0 {
		if err := c.signer.AttachSBOM(ctx, ref, sbomPredicate); err != nil {
			c.warn(ref, "sbom", err)
			result.Failures = append(result.Failures, fmt.Sprintf("sbom: %v", err))
		} else {
			result.SBOMAttached = true
		}
	}

	if len(provenancePredicate) > 0 {
		if err := c.signer.AttachProvenance(ctx, ref, provenancePredicate); err != nil {
			c.warn(ref, "provenance", err)
			result.Failures = append(result.Failures, fmt.Sprintf("provenance: %v", err))
		} else {
			result.ProvenanceAttached = true
		}
	}

	return result
}

func (c *Coordinator) warn(ref, op string, err error) {
	c.log.Warn().
		Str("ref", ref).
		Str("operation", op).
		Err(err).
		Msg("attestation operation failed")
}
