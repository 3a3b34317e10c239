package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/this-is-tobi/multiarch-mirror/internal/testenv"
)

func TestExists(t *testing.T) {
	env := testenv.New(t)
	env.Registry.SetExisting("mirror/sample", "10.3.0")
	repo := env.Registry.Repository("mirror/sample")

	inspector := NewInspector()

	exists, err := inspector.Exists(context.Background(), repo, "10.3.0")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = inspector.Exists(context.Background(), repo, "10.3.1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExistsIndeterminateIsAnErrorNotAbsent(t *testing.T) {
	env := testenv.New(t)
	env.Registry.SetBroken("mirror/sample", "10.3.0")
	repo := env.Registry.Repository("mirror/sample")

	inspector := NewInspector(WithMaxTries(2))

	_, err := inspector.Exists(context.Background(), repo, "10.3.0")
	require.Error(t, err)

	var indeterminate *IndeterminateError
	require.True(t, errors.As(err, &indeterminate))
	assert.Equal(t, "10.3.0", indeterminate.Tag)
}

func TestProbeTagsBatch(t *testing.T) {
	env := testenv.New(t)
	env.Registry.SetExisting("mirror/sample", "10.3.0", "10.2.1")
	env.Registry.SetBroken("mirror/sample", "9.11.0")
	repo := env.Registry.Repository("mirror/sample")

	inspector := NewInspector(WithMaxTries(2), WithConcurrency(4))

	probes, err := inspector.ProbeTags(context.Background(), repo, []string{"10.3.1", "10.3.0", "10.2.1", "9.11.0"})
	require.NoError(t, err)
	require.Len(t, probes, 4)

	assert.Equal(t, OutcomeAbsent, probes["10.3.1"].Outcome)
	assert.Equal(t, OutcomeExists, probes["10.3.0"].Outcome)
	assert.Equal(t, OutcomeExists, probes["10.2.1"].Outcome)

	broken := probes["9.11.0"]
	assert.Equal(t, OutcomeIndeterminate, broken.Outcome)
	var indeterminate *IndeterminateError
	require.True(t, errors.As(broken.Err, &indeterminate))
}

func TestProbeTagsRejectsBadRepository(t *testing.T) {
	inspector := NewInspector()
	_, err := inspector.ProbeTags(context.Background(), "not a valid repo!!", []string{"1.0.0"})
	assert.Error(t, err)
}
