package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"

	"github.com/this-is-tobi/multiarch-mirror/internal/matrix"
	"github.com/this-is-tobi/multiarch-mirror/internal/merge"
)

// ExecBuilder delegates image builds to an external command. The build job is
// written to the command's stdin as JSON and the command must print the
// resulting image digest ("sha256:...") as its last line of output.
type ExecBuilder struct {
	Command []string
}

// Build runs the external builder for one job.
func (b *ExecBuilder) Build(ctx context.Context, job matrix.BuildJob) (v1.Hash, error) {
	if len(b.Command) == 0 {
		return v1.Hash{}, fmt.Errorf("no builder command configured")
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return v1.Hash{}, fmt.Errorf("encode build job: %w", err)
	}

	cmd := exec.CommandContext(ctx, b.Command[0], b.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return v1.Hash{}, fmt.Errorf("builder %s: %w (%s)", b.Command[0], err, strings.TrimSpace(string(out)))
	}

	lines := strings.Fields(strings.TrimSpace(string(out)))
	if len(lines) == 0 {
		return v1.Hash{}, fmt.Errorf("builder %s produced no digest", b.Command[0])
	}

	digest, err := v1.NewHash(lines[len(lines)-1])
	if err != nil {
		return v1.Hash{}, fmt.Errorf("parse builder digest %q: %w", lines[len(lines)-1], err)
	}

	return digest, nil
}

// ExecPusher delegates the manifest push to an external command, with the
// push spec on stdin as JSON.
type ExecPusher struct {
	Command []string
}

// Push runs the external manifest pusher for one spec.
func (p *ExecPusher) Push(ctx context.Context, spec merge.PushSpec) error {
	if len(p.Command) == 0 {
		return fmt.Errorf("no pusher command configured")
	}

	payload, err := json.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode push spec: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pusher %s: %w (%s)", p.Command[0], err, strings.TrimSpace(string(out)))
	}

	return nil
}
