// Package testenv provides isolated test environments: temp directories plus
// in-process fakes for the two external read surfaces, the upstream release
// API and the registry manifest endpoint.
//
// Usage:
//
//	env := testenv.New(t)
//	env.Dirs.Base                         // temp root
//	env.Upstream.SetReleases("o/r", ...)  // feed the fake release API
//	env.Registry.SetExisting("repo", ...) // seed existing mirror tags
package testenv

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// IsolatedDirs holds the directory paths created for the test.
type IsolatedDirs struct {
	Base string // temp root
	Work string // scratch dir for plan/result/report files
}

// Env is a unified test environment.
type Env struct {
	Dirs     IsolatedDirs
	Upstream *FakeUpstream
	Registry *FakeRegistry
}

// Option configures an Env during construction.
type Option func(t *testing.T, e *Env)

// New creates an isolated test environment with both fakes running; servers
// are shut down on test cleanup.
func New(t *testing.T, opts ...Option) *Env {
	t.Helper()

	base, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("testenv: resolving temp dir symlinks: %v", err)
	}

	dirs := IsolatedDirs{
		Base: base,
		Work: filepath.Join(base, "work"),
	}
	if err := os.MkdirAll(dirs.Work, 0o755); err != nil {
		t.Fatalf("testenv: creating dir %s: %v", dirs.Work, err)
	}

	env := &Env{
		Dirs:     dirs,
		Upstream: NewFakeUpstream(t),
		Registry: NewFakeRegistry(t),
	}

	for _, opt := range opts {
		opt(t, env)
	}

	return env
}

// UpstreamRelease is one release served by the fake API.
type UpstreamRelease struct {
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
	Draft      bool   `json:"draft"`
}

// FakeUpstream serves a GitHub-style paged release listing per repo slug.
type FakeUpstream struct {
	server *httptest.Server

	mu       sync.Mutex
	releases map[string][]UpstreamRelease
	failures map[string]int // remaining 500s per slug
	requests int
}

// NewFakeUpstream starts a fake release API, shut down on test cleanup.
func NewFakeUpstream(t *testing.T) *FakeUpstream {
	t.Helper()

	f := &FakeUpstream{
		releases: make(map[string][]UpstreamRelease),
		failures: make(map[string]int),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the API base URL.
func (f *FakeUpstream) URL() string { return f.server.URL }

// SetReleases replaces the release list for a repo slug ("owner/repo"), in
// the order the API will return them (most recently published first).
func (f *FakeUpstream) SetReleases(slug string, releases ...UpstreamRelease) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases[slug] = releases
}

// FailNext makes the next n listing requests for the slug return HTTP 500.
func (f *FakeUpstream) FailNext(slug string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[slug] = n
}

// Requests returns how many listing requests were served.
func (f *FakeUpstream) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

func (f *FakeUpstream) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++

	const prefix = "/repos/"
	if !strings.HasPrefix(r.URL.Path, prefix) || !strings.HasSuffix(r.URL.Path, "/releases") {
		http.NotFound(w, r)
		return
	}
	slug := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/releases")

	if remaining := f.failures[slug]; remaining > 0 {
		f.failures[slug] = remaining - 1
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
		return
	}

	releases, ok := f.releases[slug]
	if !ok {
		http.NotFound(w, r)
		return
	}

	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage <= 0 {
		perPage = 30
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page <= 0 {
		page = 1
	}

	start := (page - 1) * perPage
	end := start + perPage
	if start > len(releases) {
		start = len(releases)
	}
	if end > len(releases) {
		end = len(releases)
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(releases[start:end])
}

// FakeRegistry implements just enough of the registry API for manifest HEAD
// probes: the /v2/ ping plus per-tag found/not-found/error responses.
type FakeRegistry struct {
	server *httptest.Server

	mu       sync.Mutex
	existing map[string]map[string]bool // repo path -> tag -> exists
	broken   map[string]map[string]bool // repo path -> tag -> always 500
}

// NewFakeRegistry starts a fake registry, shut down on test cleanup.
func NewFakeRegistry(t *testing.T) *FakeRegistry {
	t.Helper()

	f := &FakeRegistry{
		existing: make(map[string]map[string]bool),
		broken:   make(map[string]map[string]bool),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// Host returns the registry host:port, usable as an image repository prefix.
func (f *FakeRegistry) Host() string {
	return strings.TrimPrefix(f.server.URL, "http://")
}

// Repository returns a fully qualified repository under the fake registry.
func (f *FakeRegistry) Repository(path string) string {
	return f.Host() + "/" + path
}

// SetExisting marks tags as present for a repository path (e.g. "mirror/app").
func (f *FakeRegistry) SetExisting(path string, tags ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existing[path] == nil {
		f.existing[path] = make(map[string]bool)
	}
	for _, tag := range tags {
		f.existing[path][tag] = true
	}
}

// SetBroken makes probes for the given tags return HTTP 500, simulating an
// indeterminate check.
func (f *FakeRegistry) SetBroken(path string, tags ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[path] == nil {
		f.broken[path] = make(map[string]bool)
	}
	for _, tag := range tags {
		f.broken[path][tag] = true
	}
}

func (f *FakeRegistry) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/v2/" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// /v2/<name>/manifests/<tag>
	trimmed := strings.TrimPrefix(r.URL.Path, "/v2/")
	idx := strings.LastIndex(trimmed, "/manifests/")
	if idx < 0 {
		http.NotFound(w, r)
		return
	}
	repo, tag := trimmed[:idx], trimmed[idx+len("/manifests/"):]

	if f.broken[repo][tag] {
		http.Error(w, "registry exploded", http.StatusInternalServerError)
		return
	}

	if f.existing[repo][tag] {
		w.Header().Set("Content-Type", "application/vnd.oci.image.index.v1+json")
		w.Header().Set("Docker-Content-Digest", "sha256:"+strings.Repeat("a", 64))
		w.Header().Set("Content-Length", "428")
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprintf(w, `{"errors":[{"code":"MANIFEST_UNKNOWN","message":"manifest unknown"}]}`)
}
