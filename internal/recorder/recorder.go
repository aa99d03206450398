// Package recorder runs recording rounds: it fans out fetches to every asset's
// adapter under a worker cap and a time budget, and writes the results to the store.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"moniteur/internal/domain"
	"moniteur/internal/util"
)

const (
	DefaultWorkers      = 8
	DefaultRoundTimeout = 30 * time.Second
	DefaultFetchTimeout = 10 * time.Second
)

// RateLimit is a token bucket applied to every fetch of one source type.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

type Config struct {
	Workers      int
	RoundTimeout time.Duration
	FetchTimeout time.Duration
	RateLimits   map[domain.SourceType]RateLimit
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.RoundTimeout <= 0 {
		c.RoundTimeout = DefaultRoundTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

// Validate rejects a fetch timeout longer than the round timeout.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.FetchTimeout > c.RoundTimeout {
		return fmt.Errorf("fetch timeout %s exceeds round timeout %s", c.FetchTimeout, c.RoundTimeout)
	}
	for st, rl := range c.RateLimits {
		if rl.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limit for %q must be positive", st)
		}
	}
	return nil
}

type Recorder struct {
	cfg      Config
	adapters domain.AdapterFactory
	store    domain.MetricStore
	logger   *util.MetricsLogger
	limiters map[domain.SourceType]*rate.Limiter
	now      func() time.Time
}

func New(cfg Config, adapters domain.AdapterFactory, store domain.MetricStore, logger *util.MetricsLogger) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if adapters == nil || store == nil {
		return nil, errors.New("recorder requires an adapter factory and a store")
	}
	cfg = cfg.withDefaults()

	limiters := make(map[domain.SourceType]*rate.Limiter, len(cfg.RateLimits))
	for st, rl := range cfg.RateLimits {
		burst := rl.Burst
		if burst <= 0 {
			burst = 1
		}
		limiters[st] = rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), burst)
	}

	return &Recorder{
		cfg:      cfg,
		adapters: adapters,
		store:    store,
		logger:   logger,
		limiters: limiters,
		now:      time.Now,
	}, nil
}

// Prepared is the outcome of Init: the assets ready to fetch and the ones that failed.
type Prepared struct {
	Ready  []domain.Asset
	Failed map[string]error
}

type preparedAsset struct {
	asset   domain.Asset
	adapter domain.Adapter
}

// Init resolves every asset's adapter and runs its warm-up step concurrently.
// A failing asset is excluded from the round; the others are unaffected.
func (r *Recorder) Init(ctx context.Context, assets []domain.Asset) Prepared {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RoundTimeout)
	defer cancel()

	var mu sync.Mutex
	ok := make(map[string]bool, len(assets))
	failed := make(map[string]error)

	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Workers)
	for _, asset := range assets {
		asset := asset
		g.Go(func() error {
			err := r.initAsset(ctx, asset)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[asset.ID] = err
				r.log(util.LOG_LEVEL_WARN, "asset init failed", zap.String("asset_id", asset.ID), zap.Error(err))
				return nil
			}
			ok[asset.ID] = true
			return nil
		})
	}
	_ = g.Wait()

	prepared := Prepared{Failed: failed}
	for _, asset := range assets {
		if ok[asset.ID] {
			prepared.Ready = append(prepared.Ready, asset)
		}
	}
	return prepared
}

func (r *Recorder) initAsset(ctx context.Context, asset domain.Asset) error {
	adapter, found := r.adapters.Adapter(asset.SourceType)
	if !found {
		return fmt.Errorf("%w: no adapter for source type %q", domain.ErrInit, asset.SourceType)
	}
	initializer, needsInit := adapter.(domain.Initializer)
	if !needsInit {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- initializer.Init(ctx, asset) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInit, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", domain.ErrInit, ctx.Err())
	}
}

// Record runs Init followed by RunRound.
func (r *Recorder) Record(ctx context.Context, assets []domain.Asset) (*domain.RoundResult, error) {
	return r.RunRound(ctx, r.Init(ctx, assets))
}

// RunRound fetches every ready asset with the current time as the shared as-of timestamp.
func (r *Recorder) RunRound(ctx context.Context, prepared Prepared) (*domain.RoundResult, error) {
	return r.RunRoundAt(ctx, prepared, r.now())
}

// RunRoundAt is RunRound with an explicit as-of time. Re-running with the same
// time overwrites the points written by the earlier run.
//
// The returned error is non-nil only when the store has been closed.
func (r *Recorder) RunRoundAt(ctx context.Context, prepared Prepared, asOf time.Time) (*domain.RoundResult, error) {
	roundID := uuid.NewString()
	started := time.Now()

	roundCtx, cancel := context.WithTimeout(ctx, r.cfg.RoundTimeout)
	defer cancel()

	r.log(util.LOG_LEVEL_INFO, "round started",
		zap.String("round_id", roundID),
		zap.Int("assets", len(prepared.Ready)),
		zap.Int("init_failed", len(prepared.Failed)))

	state := newRoundState()
	asOfMs := asOf.UnixMilli()

	work := make([]preparedAsset, 0, len(prepared.Ready))
	for _, asset := range prepared.Ready {
		adapter, found := r.adapters.Adapter(asset.SourceType)
		if !found {
			state.fail(asset.ID, domain.KindInitError)
			continue
		}
		work = append(work, preparedAsset{asset: asset, adapter: adapter})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		g := new(errgroup.Group)
		g.SetLimit(r.cfg.Workers)
		for _, pa := range work {
			pa := pa
			g.Go(func() error {
				r.recordAsset(roundCtx, state, pa, asOfMs)
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
	case <-roundCtx.Done():
		r.log(util.LOG_LEVEL_WARN, "round timeout elapsed; abandoning pending fetches", zap.String("round_id", roundID))
	}
	state.close()

	result := &domain.RoundResult{
		RoundID:   roundID,
		AsOf:      asOfMs,
		Succeeded: []domain.DataPoint{},
		Failed:    make(map[string]domain.ErrorKind),
	}
	for id, err := range prepared.Failed {
		result.Failed[id] = domain.KindOf(err)
	}
	for _, asset := range prepared.Ready {
		if point, ok := state.points[asset.ID]; ok {
			result.Succeeded = append(result.Succeeded, point)
			continue
		}
		if kind, ok := state.failed[asset.ID]; ok {
			result.Failed[asset.ID] = kind
			continue
		}
		result.Failed[asset.ID] = domain.KindTimeout
	}

	r.log(util.LOG_LEVEL_INFO, "round finished",
		zap.String("round_id", roundID),
		zap.Int("succeeded", len(result.Succeeded)),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", time.Since(started)))

	if state.storeClosed {
		return result, domain.ErrStoreClosed
	}
	return result, nil
}

func (r *Recorder) recordAsset(ctx context.Context, state *roundState, pa preparedAsset, asOfMs int64) {
	if ctx.Err() != nil {
		return
	}

	value, err := r.fetch(ctx, pa)
	if err != nil {
		kind := domain.KindOf(err)
		r.log(util.LOG_LEVEL_WARN, "fetch failed",
			zap.String("asset_id", pa.asset.ID), zap.String("kind", string(kind)), zap.Error(err))
		state.fail(pa.asset.ID, kind)
		return
	}

	if !state.beginWrite() {
		// round already closed; the late value is discarded
		return
	}

	point := domain.DataPoint{AssetID: pa.asset.ID, Timestamp: asOfMs, Value: value}
	err = r.store.Write(ctx, point)
	if err != nil {
		r.log(util.LOG_LEVEL_ERROR, "store write failed", zap.String("asset_id", pa.asset.ID), zap.Error(err))
	}
	state.endWrite(point, err)
}

type fetchResult struct {
	value float64
	err   error
}

func (r *Recorder) fetch(ctx context.Context, pa preparedAsset) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	if limiter, ok := r.limiters[pa.asset.SourceType]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return 0, domain.NewAdapterError(domain.KindRateLimited, err)
		}
	}

	timeout := r.cfg.FetchTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	out := make(chan fetchResult, 1)
	go func() {
		v, err := pa.adapter.Fetch(ctx, pa.asset, timeout)
		out <- fetchResult{value: v, err: err}
	}()

	select {
	case res := <-out:
		if res.err != nil {
			return 0, classify(res.err)
		}
		if math.IsNaN(res.value) || math.IsInf(res.value, 0) {
			return 0, domain.NewAdapterError(domain.KindInvalidResponse, fmt.Errorf("non-finite value %v", res.value))
		}
		return res.value, nil
	case <-ctx.Done():
		return 0, domain.NewAdapterError(domain.KindTimeout, ctx.Err())
	}
}

func classify(err error) error {
	var adapterErr *domain.AdapterError
	if errors.As(err, &adapterErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.NewAdapterError(domain.KindTimeout, err)
	}
	return domain.NewAdapterError(domain.KindUnreachable, err)
}

func (r *Recorder) log(level int, msg string, fields ...zap.Field) {
	_ = r.logger.LogFields(level, msg, fields...)
}

// roundState collects per-asset outcomes. Once closed, only writes that had
// already started may still report.
type roundState struct {
	mu          sync.Mutex
	closed      bool
	writers     sync.WaitGroup
	points      map[string]domain.DataPoint
	failed      map[string]domain.ErrorKind
	storeClosed bool
}

func newRoundState() *roundState {
	return &roundState{
		points: make(map[string]domain.DataPoint),
		failed: make(map[string]domain.ErrorKind),
	}
}

func (s *roundState) fail(assetID string, kind domain.ErrorKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.failed[assetID] = kind
	}
}

func (s *roundState) beginWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.writers.Add(1)
	return true
}

func (s *roundState) endWrite(point domain.DataPoint, err error) {
	s.mu.Lock()
	switch {
	case err == nil:
		s.points[point.AssetID] = point
	case errors.Is(err, domain.ErrStoreClosed):
		s.storeClosed = true
		s.failed[point.AssetID] = domain.KindStoreError
	case errors.Is(err, context.DeadlineExceeded):
		s.failed[point.AssetID] = domain.KindTimeout
	default:
		s.failed[point.AssetID] = domain.KindStoreError
	}
	s.mu.Unlock()
	s.writers.Done()
}

// close stops accepting outcomes and waits for in-progress writes, which are
// bounded by the round context.
func (s *roundState) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.writers.Wait()
}
