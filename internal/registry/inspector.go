// Package registry probes a container registry for existing version tags.
// Every probe distinguishes three outcomes: the manifest exists, the tag is
// absent, or the check was indeterminate (auth/network). Indeterminate is
// never conflated with absent: treating an auth failure as "missing" would
// trigger a spurious rebuild of an image that is already published.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Outcome classifies a single tag probe.
type Outcome string

const (
	OutcomeExists        Outcome = "exists"
	OutcomeAbsent        Outcome = "absent"
	OutcomeIndeterminate Outcome = "indeterminate"
)

// IndeterminateError reports a probe that could not establish whether a tag
// exists. The affected version must be excluded from the buildable set for
// the cycle and retried on the next one.
type IndeterminateError struct {
	Repository string
	Tag        string
	Err        error
}

func (e *IndeterminateError) Error() string {
	return fmt.Sprintf("probe %s:%s indeterminate: %v", e.Repository, e.Tag, e.Err)
}

func (e *IndeterminateError) Unwrap() error { return e.Err }

// Probe is the result of checking one tag.
type Probe struct {
	Tag     string
	Outcome Outcome
	// Err carries the underlying failure for indeterminate probes.
	Err error
}

// Inspector checks manifest existence against a registry.
type Inspector struct {
	remoteOpts  []remote.Option
	concurrency int
	maxTries    uint
	log         zerolog.Logger
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithRemoteOptions forwards options (auth, transport) to the registry client.
func WithRemoteOptions(opts ...remote.Option) Option {
	return func(i *Inspector) { i.remoteOpts = append(i.remoteOpts, opts...) }
}

// WithConcurrency bounds the number of in-flight probes.
func WithConcurrency(n int) Option {
	return func(i *Inspector) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

// WithMaxTries overrides the per-probe retry budget, for tests.
func WithMaxTries(tries uint) Option {
	return func(i *Inspector) {
		if tries > 0 {
			i.maxTries = tries
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(i *Inspector) { i.log = log }
}

// NewInspector returns an Inspector with bounded probe parallelism.
func NewInspector(opts ...Option) *Inspector {
	i := &Inspector{
		concurrency: 8,
		maxTries:    3,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Exists reports whether repository:tag has a manifest. An indeterminate
// probe returns an IndeterminateError, never a silent false.
func (i *Inspector) Exists(ctx context.Context, repository, tag string) (bool, error) {
	probe, err := i.probe(ctx, repository, tag)
	if err != nil {
		return false, err
	}
	switch probe.Outcome {
	case OutcomeExists:
		return true, nil
	case OutcomeAbsent:
		return false, nil
	default:
		return false, probe.Err
	}
}

// ProbeTags checks the candidate tags concurrently and returns a result per
// tag. Probes are read-only and idempotent, so parallelism is safe; the only
// hard error is a malformed repository reference.
func (i *Inspector) ProbeTags(ctx context.Context, repository string, tags []string) (map[string]Probe, error) {
	if _, err := name.NewRepository(repository); err != nil {
		return nil, fmt.Errorf("parse repository %q: %w", repository, err)
	}

	results := make(map[string]Probe, len(tags))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(i.concurrency)

	for _, tag := range tags {
		tag := tag
		group.Go(func() error {
			probe, err := i.probe(groupCtx, repository, tag)
			if err != nil {
				return err
			}
			mu.Lock()
			results[tag] = probe
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (i *Inspector) probe(ctx context.Context, repository, tag string) (Probe, error) {
	ref, err := name.ParseReference(repository + ":" + tag)
	if err != nil {
		return Probe{}, fmt.Errorf("parse reference %s:%s: %w", repository, tag, err)
	}

	opts := append([]remote.Option{remote.WithContext(ctx)}, i.remoteOpts...)

	operation := func() (Outcome, error) {
		_, headErr := remote.Head(ref, opts...)
		if headErr == nil {
			return OutcomeExists, nil
		}
		if isNotFound(headErr) {
			return OutcomeAbsent, nil
		}
		if isTransient(headErr) {
			return OutcomeIndeterminate, headErr
		}
		// Auth and other client errors will not heal on retry.
		return OutcomeIndeterminate, backoff.Permanent(headErr)
	}

	outcome, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(i.maxTries),
	)
	if err != nil {
		i.log.Warn().
			Str("repository", repository).
			Str("tag", tag).
			Err(err).
			Msg("probe indeterminate")
		return Probe{
			Tag:     tag,
			Outcome: OutcomeIndeterminate,
			Err:     &IndeterminateError{Repository: repository, Tag: tag, Err: err},
		}, nil
	}

	return Probe{Tag: tag, Outcome: outcome}, nil
}

func isNotFound(err error) bool {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return false
	}
	if terr.StatusCode == http.StatusNotFound {
		return true
	}
	for _, diag := range terr.Errors {
		if diag.Code == transport.ManifestUnknownErrorCode || diag.Code == transport.NameUnknownErrorCode {
			return true
		}
	}
	return false
}

func isTransient(err error) bool {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.StatusCode >= 500 || terr.StatusCode == http.StatusTooManyRequests
	}
	// Non-HTTP failures (DNS, connection reset) are worth retrying.
	return true
}
