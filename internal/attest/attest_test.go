package attest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubSigner struct {
	failSign       bool
	failSBOM       bool
	failProvenance bool

	signed      []string
	sboms       [][]byte
	provenances [][]byte
}

func (s *stubSigner) Sign(_ context.Context, ref string) error {
	if s.failSign {
		return fmt.Errorf("keyless flow rejected")
	}
	s.signed = append(s.signed, ref)
	return nil
}

func (s *stubSigner) AttachSBOM(_ context.Context, _ string, predicate []byte) error {
	if s.failSBOM {
		return fmt.Errorf("sbom upload refused")
	}
	s.sboms = append(s.sboms, predicate)
	return nil
}

func (s *stubSigner) AttachProvenance(_ context.Context, _ string, predicate []byte) error {
	if s.failProvenance {
		return fmt.Errorf("provenance upload refused")
	}
	s.provenances = append(s.provenances, predicate)
	return nil
}

func TestAttestAllOperations(t *testing.T) {
	signer := &stubSigner{}
	coordinator := NewCoordinator(signer)

	result := coordinator.Attest(context.Background(), "registry.example.com/mirror/sample:1.2.0",
		[]byte(`{"spdxVersion":"SPDX-2.3"}`), []byte(`{"buildType":"ci"}`))

	assert.True(t, result.Signed)
	assert.True(t, result.SBOMAttached)
	assert.True(t, result.ProvenanceAttached)
	assert.False(t, result.Partial())
	assert.Equal(t, []string{"registry.example.com/mirror/sample:1.2.0"}, signer.signed)
}

func TestAttestEmptyPredicatesSkipAttachment(t *testing.T) {
	signer := &stubSigner{}
	coordinator := NewCoordinator(signer)

	result := coordinator.Attest(context.Background(), "registry.example.com/mirror/sample:1.2.0", nil, nil)

	assert.True(t, result.Signed)
	assert.False(t, result.SBOMAttached)
	assert.False(t, result.ProvenanceAttached)
	assert.False(t, result.Partial())
	assert.Empty(t, signer.sboms)
	assert.Empty(t, signer.provenances)
}

func TestAttestFailuresAreIndependent(t *testing.T) {
	signer := &stubSigner{failSign: true}
	coordinator := NewCoordinator(signer)

	result := coordinator.Attest(context.Background(), "registry.example.com/mirror/sample:1.2.0",
		[]byte(`{}`), []byte(`{}`))

	assert.False(t, result.Signed)
	assert.True(t, result.SBOMAttached, "a failed signature must not block the SBOM")
	assert.True(t, result.ProvenanceAttached)
	assert.True(t, result.Partial())
	assert.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0], "sign:")
}

func TestAttestCollectsEveryFailure(t *testing.T) {
	signer := &stubSigner{failSign: true, failSBOM: true, failProvenance: true}
	coordinator := NewCoordinator(signer)

	result := coordinator.Attest(context.Background(), "registry.example.com/mirror/sample:1.2.0",
		[]byte(`{}`), []byte(`{}`))

	assert.True(t, result.Partial())
	assert.Len(t, result.Failures, 3)
}
