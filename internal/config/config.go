package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/this-is-tobi/multiarch-mirror/internal/version"
)

// Arch is a target CPU architecture for mirrored images.
type Arch string

const (
	ArchAmd64 Arch = "amd64"
	ArchArm64 Arch = "arm64"
)

// Platform returns the OCI platform string for the architecture.
func (a Arch) Platform() string {
	return "linux/" + string(a)
}

// Project describes one upstream application to mirror.
type Project struct {
	// Name is the mirror-local component name, e.g. "mattermost".
	Name string `yaml:"name"`
	// Upstream is the owner/repo slug on the release API.
	Upstream string `yaml:"upstream"`
	// TagPattern is the accepted-tag expression; the first capture group is
	// the numeric version tuple, an optional second group the qualifier
	// suffix. Tags that do not match are dropped.
	TagPattern string `yaml:"tag_pattern"`
	// Repository is the fully qualified mirror repository, e.g.
	// "ghcr.io/this-is-tobi/mirror/mattermost".
	Repository string `yaml:"repository"`
	// BuildArgs are passed through to every build job of the project.
	BuildArgs map[string]string `yaml:"build_args,omitempty"`

	// Pattern is the compiled TagPattern, populated by Validate.
	Pattern version.Pattern `yaml:"-"`
}

// Config is the merged runtime configuration.
type Config struct {
	// WindowSize is the number of most-recent upstream versions tracked.
	WindowSize int `yaml:"window_size"`
	// FetchLimit caps how many upstream releases are listed per project. It
	// must be at least WindowSize since pattern filtering shrinks the
	// candidate set.
	FetchLimit int `yaml:"fetch_limit"`
	// UpstreamAPI is the base URL of the release listing API.
	UpstreamAPI string `yaml:"upstream_api"`
	// Architectures is the required architecture set for every manifest.
	Architectures []Arch `yaml:"architectures"`
	// Runners maps each architecture to the runner label that builds it.
	Runners map[Arch]string `yaml:"runners"`
	// Projects lists the upstream applications to mirror.
	Projects []Project `yaml:"projects"`
}

// Default returns the built-in configuration covering the three mirrored
// applications.
func Default() Config {
	return Config{
		WindowSize:    10,
		FetchLimit:    100,
		UpstreamAPI:   "https://api.github.com",
		Architectures: []Arch{ArchAmd64, ArchArm64},
		Runners: map[Arch]string{
			ArchAmd64: "ubuntu-latest",
			ArchArm64: "ubuntu-24.04-arm",
		},
		Projects: []Project{
			{
				Name:       "mattermost",
				Upstream:   "mattermost/mattermost",
				TagPattern: `^v(\d+\.\d+\.\d+)$`,
				Repository: "ghcr.io/this-is-tobi/mirror/mattermost",
			},
			{
				Name:       "mostlymatter",
				Upstream:   "framasoft/mostlymatter",
				TagPattern: `^v(\d+\.\d+\.\d+)-(limitless)$`,
				Repository: "ghcr.io/this-is-tobi/mirror/mostlymatter",
			},
			{
				Name:       "outline",
				Upstream:   "outline/outline",
				TagPattern: `^v(\d+\.\d+\.\d+)$`,
				Repository: "ghcr.io/this-is-tobi/mirror/outline",
			},
		},
	}
}

// Load reads a YAML config file and overlays it on the defaults. An empty
// path returns the defaults unchanged. The result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := overlay(&cfg, raw); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// FromString parses YAML config content over the defaults, for tests.
func FromString(s string) (Config, error) {
	cfg := Default()
	if err := overlay(&cfg, []byte(s)); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func overlay(cfg *Config, raw []byte) error {
	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}

	if file.WindowSize != 0 {
		cfg.WindowSize = file.WindowSize
	}
	if file.FetchLimit != 0 {
		cfg.FetchLimit = file.FetchLimit
	}
	if file.UpstreamAPI != "" {
		cfg.UpstreamAPI = file.UpstreamAPI
	}
	if len(file.Architectures) > 0 {
		cfg.Architectures = file.Architectures
	}
	if len(file.Runners) > 0 {
		cfg.Runners = file.Runners
	}
	if len(file.Projects) > 0 {
		cfg.Projects = file.Projects
	}

	return nil
}

// Validate checks invariants and compiles every project tag pattern.
func (c *Config) Validate() error {
	if c.WindowSize < 1 {
		return fmt.Errorf("window_size must be positive, got %d", c.WindowSize)
	}
	if c.FetchLimit < c.WindowSize {
		return fmt.Errorf("fetch_limit %d is smaller than window_size %d", c.FetchLimit, c.WindowSize)
	}
	if len(c.Architectures) == 0 {
		return fmt.Errorf("architectures must not be empty")
	}

	seen := make(map[Arch]struct{}, len(c.Architectures))
	for _, arch := range c.Architectures {
		if _, dup := seen[arch]; dup {
			return fmt.Errorf("duplicate architecture %q", arch)
		}
		seen[arch] = struct{}{}

		if _, ok := c.Runners[arch]; !ok {
			return fmt.Errorf("no runner configured for architecture %q", arch)
		}
	}

	if len(c.Projects) == 0 {
		return fmt.Errorf("projects must not be empty")
	}
	names := make(map[string]struct{}, len(c.Projects))
	for i := range c.Projects {
		p := &c.Projects[i]
		if p.Name == "" {
			return fmt.Errorf("project %d has no name", i)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("duplicate project %q", p.Name)
		}
		names[p.Name] = struct{}{}

		if p.Upstream == "" {
			return fmt.Errorf("project %q has no upstream", p.Name)
		}
		if p.Repository == "" {
			return fmt.Errorf("project %q has no repository", p.Name)
		}

		pattern, err := version.CompilePattern(p.TagPattern)
		if err != nil {
			return fmt.Errorf("project %q: %w", p.Name, err)
		}
		p.Pattern = pattern
	}

	return nil
}

// ProjectByName returns the named project, or an error listing what exists.
func (c *Config) ProjectByName(name string) (Project, error) {
	for _, p := range c.Projects {
		if p.Name == name {
			return p, nil
		}
	}

	known := make([]string, 0, len(c.Projects))
	for _, p := range c.Projects {
		known = append(known, p.Name)
	}
	return Project{}, fmt.Errorf("unknown project %q (configured: %v)", name, known)
}
