// Package recordstore implements ranged reads of NDJSON shards out of a
// blob store, with retry/backoff on transient failures and transparent
// BGZF decompression for compressed indexes.
package recordstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/3leaps/bioindex/pkg/bioerr"
	"github.com/3leaps/bioindex/pkg/provider"
)

// Options configures retry pacing and parallel fan-out for ranged reads.
type Options struct {
	// MaxRetries is the number of retry attempts after the first failure.
	MaxRetries int
	// BackoffBase is the initial backoff delay; doubles on each retry,
	// capped at BackoffMax.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// RateLimit bounds outbound GET requests per second across the store.
	// Zero disables pacing.
	RateLimit rate.Limit
	RateBurst int
	// SplitThreshold: ranges larger than this are fanned out into
	// SplitParallelism concurrent ranged GETs and stitched in order.
	SplitThreshold   int64
	SplitParallelism int
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 4
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 50 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.SplitThreshold <= 0 {
		o.SplitThreshold = 8 << 20 // 8MiB
	}
	if o.SplitParallelism <= 0 {
		o.SplitParallelism = 4
	}
	return o
}

// Store performs ranged NDJSON reads against a provider.Provider.
type Store struct {
	provider provider.Provider
	opts     Options
	limiter  *rate.Limiter
	gzi      *gziCache
}

// New constructs a Store. Ranged reads need provider.ObjectRanger and fail
// with BlobReadError without it; provider.ObjectGetter is used only to
// fetch sibling .gzi index files.
func New(p provider.Provider, opts Options) *Store {
	opts = opts.withDefaults()
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.RateLimit, burst)
	}
	return &Store{provider: p, opts: opts, limiter: limiter, gzi: newGziCache()}
}

// Fetch returns the NDJSON bytes wholly contained in the half-open byte
// range [start, end) of key. If compressed is true, start/end are
// interpreted as uncompressed offsets into a BGZF object with a sibling
// ".gzi" index, and decompression happens transparently.
//
// A partial trailing line (one with no terminating '\n' inside the
// returned range) is discarded, per the slicing invariant that callers
// (the builder and planner) always request ranges ending on a line
// boundary; this is defense in depth, not the primary mechanism.
func (s *Store) Fetch(ctx context.Context, key string, start, end int64, compressed bool) ([]byte, error) {
	if end <= start {
		return nil, nil
	}

	var raw []byte
	var err error
	if compressed {
		raw, err = s.fetchCompressed(ctx, key, start, end)
	} else {
		raw, err = s.fetchPlain(ctx, key, start, end)
	}
	if err != nil {
		return nil, err
	}
	return discardPartialTrailingLine(raw), nil
}

func discardPartialTrailingLine(b []byte) []byte {
	if len(b) == 0 {
		return b
	}
	if b[len(b)-1] == '\n' {
		return b
	}
	idx := bytes.LastIndexByte(b, '\n')
	if idx < 0 {
		return nil
	}
	return b[:idx+1]
}

func (s *Store) fetchPlain(ctx context.Context, key string, start, end int64) ([]byte, error) {
	n := end - start
	if n <= s.opts.SplitThreshold {
		return s.getRangeRetry(ctx, key, start, end-1)
	}

	// Fan out into ordered chunks, fetched in parallel, then concatenated.
	type chunk struct {
		idx  int
		data []byte
		err  error
	}
	chunkSize := n / int64(s.opts.SplitParallelism)
	if chunkSize <= 0 {
		chunkSize = n
	}

	var bounds [][2]int64
	for s0 := start; s0 < end; s0 += chunkSize {
		e0 := s0 + chunkSize
		if e0 > end {
			e0 = end
		}
		bounds = append(bounds, [2]int64{s0, e0})
	}

	results := make([]chunk, len(bounds))
	sem := make(chan struct{}, s.opts.SplitParallelism)
	done := make(chan int, len(bounds))
	for i, b := range bounds {
		sem <- struct{}{}
		go func(i int, b [2]int64) {
			defer func() { <-sem; done <- i }()
			data, err := s.getRangeRetry(ctx, key, b[0], b[1]-1)
			results[i] = chunk{idx: i, data: data, err: err}
		}(i, b)
	}
	for range bounds {
		<-done
	}

	var out []byte
	for _, c := range results {
		if c.err != nil {
			return nil, c.err
		}
		out = append(out, c.data...)
	}
	return out, nil
}

// getRangeRetry issues one ranged GET, retrying transient failures with
// bounded exponential backoff and optional rate-limited pacing.
func (s *Store) getRangeRetry(ctx context.Context, key string, startIncl, endIncl int64) ([]byte, error) {
	ranger, ok := s.provider.(provider.ObjectRanger)
	if !ok {
		return nil, bioerr.New(bioerr.BlobReadError, "Fetch", "provider does not support ranged reads")
	}

	var lastErr error
	backoff := s.opts.BackoffBase
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			jittered := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2+1)))
			select {
			case <-ctx.Done():
				return nil, bioerr.Wrap(bioerr.BlobReadError, "Fetch", ctx.Err())
			case <-time.After(jittered):
			}
			backoff *= 2
			if backoff > s.opts.BackoffMax {
				backoff = s.opts.BackoffMax
			}
		}
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, bioerr.Wrap(bioerr.BlobReadError, "Fetch", err)
			}
		}

		body, _, err := ranger.GetRange(ctx, key, startIncl, endIncl)
		if err == nil {
			defer func() { _ = body.Close() }()
			data, rerr := io.ReadAll(body)
			if rerr == nil {
				return data, nil
			}
			err = rerr
		}
		lastErr = err
		if !isRetryable(err) {
			break
		}
	}
	return nil, bioerr.Wrap(bioerr.BlobReadError, "Fetch", lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var perr *provider.ProviderError
	if errors.As(err, &perr) {
		switch {
		case errors.Is(perr.Err, provider.ErrThrottled), errors.Is(perr.Err, provider.ErrProviderUnavailable):
			return true
		default:
			return false
		}
	}
	// Unrecognized errors (network blips not wrapped by the provider) are
	// treated as retryable; permanent provider errors are always wrapped.
	return true
}
