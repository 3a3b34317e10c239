// Package harness provides an isolated end-to-end environment for CLI tests:
// temp directories, fake upstream and registry servers, a generated config
// file, and a Run helper that drives the full Cobra pipeline in-process.
package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/this-is-tobi/multiarch-mirror/internal/cmd"
	"github.com/this-is-tobi/multiarch-mirror/internal/testenv"
)

// Harness drives CLI invocations against an isolated environment.
type Harness struct {
	T *testing.T
}

// RunResult holds the outcome of a CLI command execution.
type RunResult struct {
	ExitCode int
	Err      error
	Stdout   string
	Stderr   string
}

// Project declares one mirrored application for the generated config. Its
// repository is placed under the fake registry automatically.
type Project struct {
	Name       string
	Upstream   string // owner/repo slug on the fake release API
	TagPattern string
	RepoPath   string // repository path under the fake registry, e.g. "mirror/sample"
}

// SetupResult holds the resolved environment from NewMirrorEnv.
type SetupResult struct {
	Env        *testenv.Env
	ConfigPath string
	WorkDir    string
}

// NewMirrorEnv builds a complete isolated mirror setup: both fakes running, a
// config file naming the given projects with repositories under the fake
// registry, and MIRROR_CONFIG plus MIRROR_UPSTREAM_API pointing at it all.
func (h *Harness) NewMirrorEnv(projects ...Project) *SetupResult {
	h.T.Helper()

	env := testenv.New(h.T)

	var sb strings.Builder
	sb.WriteString("window_size: 10\n")
	sb.WriteString("projects:\n")
	for _, p := range projects {
		fmt.Fprintf(&sb, "  - name: %s\n", p.Name)
		fmt.Fprintf(&sb, "    upstream: %s\n", p.Upstream)
		fmt.Fprintf(&sb, "    tag_pattern: '%s'\n", p.TagPattern)
		fmt.Fprintf(&sb, "    repository: %s\n", env.Registry.Repository(p.RepoPath))
	}

	configPath := filepath.Join(env.Dirs.Base, "multiarch-mirror.yaml")
	if err := os.WriteFile(configPath, []byte(sb.String()), 0o644); err != nil {
		h.T.Fatalf("harness: writing config: %v", err)
	}

	h.T.Setenv("MIRROR_CONFIG", configPath)
	h.T.Setenv("MIRROR_UPSTREAM_API", env.Upstream.URL())

	return &SetupResult{
		Env:        env,
		ConfigPath: configPath,
		WorkDir:    env.Dirs.Work,
	}
}

// Run executes a CLI command through the full cmd.NewRootCmd Cobra pipeline
// with captured output.
func (h *Harness) Run(args ...string) *RunResult {
	h.T.Helper()

	var stdout, stderr bytes.Buffer

	rootCmd := cmd.NewRootCmd("test", "test")
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)

	err := rootCmd.Execute()

	exitCode := 0
	if err != nil {
		exitCode = 1
	}

	return &RunResult{
		ExitCode: exitCode,
		Err:      err,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
}
