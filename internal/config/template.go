package config

func DefaultTemplate() string {
	return `# multiarch-mirror configuration
#
# Precedence: flags > environment variables > config file > defaults
# Environment prefix: MIRROR_

# Number of most-recent upstream versions tracked per project.
window_size: 10

# Maximum upstream releases listed per project before pattern filtering.
# Must be >= window_size.
fetch_limit: 100

# Base URL of the GitHub-style release listing API.
upstream_api: https://api.github.com

# Architecture set every mirrored manifest must cover.
architectures: [amd64, arm64]

# Runner label used to build each architecture.
runners:
  amd64: ubuntu-latest
  arm64: ubuntu-24.04-arm

# Upstream applications to mirror. tag_pattern group 1 captures the numeric
# version tuple; an optional group 2 captures a qualifier suffix. Tags not
# matching the pattern are silently dropped.
projects:
  - name: mattermost
    upstream: mattermost/mattermost
    tag_pattern: '^v(\d+\.\d+\.\d+)$'
    repository: ghcr.io/this-is-tobi/mirror/mattermost
    # Optional build arguments forwarded to every build job:
    # build_args:
    #   EDITION: team
  - name: mostlymatter
    upstream: framasoft/mostlymatter
    tag_pattern: '^v(\d+\.\d+\.\d+)-(limitless)$'
    repository: ghcr.io/this-is-tobi/mirror/mostlymatter
  - name: outline
    upstream: outline/outline
    tag_pattern: '^v(\d+\.\d+\.\d+)$'
    repository: ghcr.io/this-is-tobi/mirror/outline
`
}
