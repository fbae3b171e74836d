// Package pipeline runs ingestion: fetch from every source concurrently,
// normalize, reconcile against the canonical set, score, and make sure each
// offer has tracking state.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobhunter/internal/cache"
	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/internal/dedup"
	"github.com/kiranshivaraju/jobhunter/internal/normalize"
	"github.com/kiranshivaraju/jobhunter/internal/scoring"
	"github.com/kiranshivaraju/jobhunter/internal/source"
	"github.com/kiranshivaraju/jobhunter/internal/store"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
	"golang.org/x/sync/errgroup"
)

var (
	ErrRunInProgress      = errors.New("an ingestion run is already in progress")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// lockTTL bounds how long a crashed run can keep others out.
const lockTTL = 30 * time.Minute

// Notifier announces offers worth the user's attention after a run.
type Notifier interface {
	NotifyNewOffers(ctx context.Context, run *models.IngestionRun, offers []*models.Offer) error
}

// Options tunes a Coordinator. Zero values select the defaults.
type Options struct {
	Concurrency    int
	AdapterTimeout time.Duration
	Notifier       Notifier
}

// RunConfig holds what may change from one run to the next.
type RunConfig struct {
	Criteria *config.Criteria
	// Adapters overrides the coordinator's adapters when non-nil.
	Adapters []source.Adapter
}

// Coordinator executes ingestion runs. Only one run executes at a time,
// within the process and, through the cache lock, across processes.
type Coordinator struct {
	store          store.Store
	cache          cache.Cache
	normalizer     *normalize.Normalizer
	adapters       []source.Adapter
	notifier       Notifier
	concurrency    int
	adapterTimeout time.Duration
	now            func() time.Time
	running        atomic.Bool

	// background runs started through Start
	bg       sync.WaitGroup
	bgMu     sync.Mutex
	bgCancel context.CancelFunc
}

func NewCoordinator(st store.Store, c cache.Cache, adapters []source.Adapter, opts Options) *Coordinator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.AdapterTimeout <= 0 {
		opts.AdapterTimeout = 2 * time.Minute
	}
	return &Coordinator{
		store:          st,
		cache:          c,
		normalizer:     normalize.New(),
		adapters:       adapters,
		notifier:       opts.Notifier,
		concurrency:    opts.Concurrency,
		adapterTimeout: opts.AdapterTimeout,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// run carries the mutable state of one execution.
type run struct {
	mu        sync.Mutex
	stats     *models.IngestionRun
	evaluated map[uuid.UUID]models.Evaluation
	created   map[uuid.UUID]bool
	resolver  *dedup.Resolver
	engine    *scoring.Engine
}

// Run executes one ingestion pass. It returns the run summary even when the
// run stops early; the error then says why.
func (c *Coordinator) Run(ctx context.Context, rc RunConfig) (*models.IngestionRun, error) {
	runID, release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return c.execute(ctx, runID, rc)
}

// Start acquires the run lock and executes the run in the background. The
// run outlives ctx; Close stops it. The summary is available through
// LatestRun once it finishes.
func (c *Coordinator) Start(ctx context.Context, rc RunConfig) (uuid.UUID, error) {
	runID, release, err := c.acquire(ctx)
	if err != nil {
		return uuid.Nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.bgMu.Lock()
	c.bgCancel = cancel
	c.bgMu.Unlock()

	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		defer cancel()
		defer release()
		if _, err := c.execute(runCtx, runID, rc); err != nil {
			slog.Error("background ingestion run failed", "run_id", runID, "error", err)
		}
	}()
	return runID, nil
}

// Close cancels a background run, if any, and waits for it to stop or for
// ctx to expire.
func (c *Coordinator) Close(ctx context.Context) error {
	c.bgMu.Lock()
	if c.bgCancel != nil {
		c.bgCancel()
	}
	c.bgMu.Unlock()

	done := make(chan struct{})
	go func() {
		c.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire takes the in-process guard and the shared lock. release undoes both.
func (c *Coordinator) acquire(ctx context.Context) (uuid.UUID, func(), error) {
	if err := ctx.Err(); err != nil {
		return uuid.Nil, nil, err
	}
	if !c.running.CompareAndSwap(false, true) {
		return uuid.Nil, nil, ErrRunInProgress
	}

	runID := uuid.New()
	ok, err := c.cache.AcquireLock(ctx, cache.RunLockKey, runID.String(), lockTTL)
	if err != nil {
		c.running.Store(false)
		return uuid.Nil, nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		c.running.Store(false)
		return uuid.Nil, nil, ErrRunInProgress
	}

	release := func() {
		if err := c.cache.ReleaseLock(context.WithoutCancel(ctx), cache.RunLockKey, runID.String()); err != nil {
			slog.Error("failed to release run lock", "run_id", runID, "error", err)
		}
		c.running.Store(false)
	}
	return runID, release, nil
}

func (c *Coordinator) execute(ctx context.Context, runID uuid.UUID, rc RunConfig) (*models.IngestionRun, error) {
	crit := rc.Criteria
	if crit == nil {
		crit = config.DefaultCriteria()
	}
	adapters := rc.Adapters
	if adapters == nil {
		adapters = c.adapters
	}

	existing, err := c.store.ListCanonicalOffers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: loading canonical offers: %v", ErrStorageUnavailable, err)
	}

	dedupCfg := dedup.Config{Threshold: crit.Dedup.Threshold, Band: crit.Dedup.Band, TitleWeight: crit.Dedup.TitleWeight}
	r := &run{
		stats: &models.IngestionRun{
			ID:        runID,
			StartedAt: c.now(),
			Sources:   make(map[models.Source]*models.SourceStats, len(adapters)),
		},
		evaluated: make(map[uuid.UUID]models.Evaluation),
		created:   make(map[uuid.UUID]bool),
		resolver:  dedup.NewResolver(c.store, dedupCfg, existing).WithClock(c.now),
		engine:    scoring.NewEngine(scoring.FromCriteria(crit)),
	}
	for _, a := range adapters {
		r.stats.Sources[a.Name()] = &models.SourceStats{}
	}

	slog.Info("ingestion run started", "run_id", runID, "adapters", len(adapters), "canonical_offers", len(existing))

	fetchCriteria := source.CriteriaFrom(crit, c.now())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, a := range adapters {
		g.Go(func() error {
			return c.ingest(gctx, r, a, fetchCriteria)
		})
	}
	runErr := g.Wait()

	if runErr == nil {
		runErr = c.rescore(context.WithoutCancel(ctx), r)
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}
	r.stats.FinishedAt = c.now()

	c.cacheSummary(ctx, r.stats)
	logRun(r.stats, runErr)

	if runErr != nil {
		return r.stats, runErr
	}
	c.notify(ctx, r)
	return r.stats, nil
}

// LatestRun returns the summary of the last completed run, if still cached.
func (c *Coordinator) LatestRun(ctx context.Context) (*models.IngestionRun, bool, error) {
	data, ok, err := c.cache.Get(ctx, cache.LatestRunKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var out models.IngestionRun
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, fmt.Errorf("decoding cached run: %w", err)
	}
	return &out, true, nil
}

// ingest fetches from one adapter and feeds every record through the
// pipeline. Only storage loss is returned as an error; everything else is
// recorded in the run stats.
func (c *Coordinator) ingest(ctx context.Context, r *run, a source.Adapter, crit source.Criteria) error {
	name := a.Name()
	start := time.Now()
	log := slog.With("source", name)

	if err := ctx.Err(); err != nil {
		r.recordFetchError(name, "", err)
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.adapterTimeout)
	raws, err := a.Fetch(fetchCtx, crit)
	cancel()
	if err != nil {
		kind := ""
		var fe *source.FetchError
		if errors.As(err, &fe) {
			kind = string(fe.Kind)
		}
		log.Warn("source fetch failed", "kind", kind, "error", err)
		r.recordFetchError(name, kind, err)
		r.addDuration(name, time.Since(start))
		return nil
	}
	r.update(func(s *models.IngestionRun) { s.Sources[name].Fetched = len(raws) })

	for _, raw := range raws {
		if ctx.Err() != nil {
			break
		}
		if raw.Source == "" {
			raw.Source = name
		}
		offer, err := c.normalizer.Normalize(raw)
		if err != nil {
			log.Debug("record dropped", "error", err)
			r.update(func(s *models.IngestionRun) { s.Sources[name].NormalizationErrors++ })
			continue
		}
		r.update(func(s *models.IngestionRun) { s.Sources[name].Normalized++ })

		// A decision that has started runs to completion.
		if err := c.process(context.WithoutCancel(ctx), r, offer); err != nil {
			return err
		}
	}

	r.addDuration(name, time.Since(start))
	log.Info("source ingested", "fetched", len(raws), "duration", time.Since(start).String())
	return nil
}

func (c *Coordinator) process(ctx context.Context, r *run, offer *models.Offer) error {
	res, err := r.resolver.Resolve(ctx, offer)
	if err != nil {
		return c.persistenceFailure(ctx, r, err)
	}

	r.update(func(s *models.IngestionRun) {
		switch res.Outcome {
		case dedup.OutcomeNew:
			s.New++
		case dedup.OutcomeRepeat:
			s.Repeats++
		case dedup.OutcomeMerged:
			s.Merged++
		}
		if res.Ambiguous {
			s.Ambiguous++
		}
	})

	id := res.Offer.ID
	ev := r.engine.Evaluate(res.Offer, c.now())
	r.mu.Lock()
	last, seen := r.evaluated[id]
	if !seen {
		last = res.Offer.Evaluation()
	}
	if res.Outcome == dedup.OutcomeNew {
		r.created[id] = true
	}
	r.mu.Unlock()

	if !ev.Equal(last) {
		if err := c.store.UpdateOfferEvaluation(ctx, id, ev); err != nil {
			return c.persistenceFailure(ctx, r, &dedup.PersistenceError{Op: "evaluate", OfferID: id, Err: err})
		}
	}
	r.mu.Lock()
	r.evaluated[id] = ev
	r.mu.Unlock()

	created, err := c.store.CreateTrackingIfAbsent(ctx, models.NewTracking(id, c.now()))
	if err != nil {
		return c.persistenceFailure(ctx, r, &dedup.PersistenceError{Op: "track", OfferID: id, Err: err})
	}
	if created {
		r.update(func(s *models.IngestionRun) { s.TrackingCreated++ })
	}
	return nil
}

// persistenceFailure counts a failed write and checks whether the store is
// still there. Losing it stops the run.
func (c *Coordinator) persistenceFailure(ctx context.Context, r *run, err error) error {
	r.update(func(s *models.IngestionRun) { s.PersistenceErrors++ })
	slog.Error("offer not persisted", "error", err)

	if pingErr := c.store.Ping(ctx); pingErr != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, pingErr)
	}
	return nil
}

// rescore re-evaluates the whole canonical set once all sources are in, so
// criteria changes reach offers no source returned this time and offers
// touched concurrently end with the evaluation of their final state.
func (c *Coordinator) rescore(ctx context.Context, r *run) error {
	now := c.now()
	for _, o := range r.resolver.Offers() {
		ev := r.engine.Evaluate(o, now)
		last, touched := r.evaluated[o.ID]
		if !touched {
			last = o.Evaluation()
		}
		if !ev.Equal(last) {
			if err := c.store.UpdateOfferEvaluation(ctx, o.ID, ev); err != nil {
				if err := c.persistenceFailure(ctx, r, &dedup.PersistenceError{Op: "rescore", OfferID: o.ID, Err: err}); err != nil {
					return err
				}
				continue
			}
			if !touched {
				r.stats.Rescored++
			}
		}
		if touched {
			r.evaluated[o.ID] = ev
			if ev.FilteredOut {
				r.stats.FilteredOut++
			} else {
				r.stats.Retained++
			}
		}
	}
	return nil
}

func (c *Coordinator) cacheSummary(ctx context.Context, stats *models.IngestionRun) {
	data, err := json.Marshal(stats)
	if err != nil {
		slog.Error("failed to encode run summary", "error", err)
		return
	}
	if err := c.cache.Set(context.WithoutCancel(ctx), cache.LatestRunKey, data, cache.LatestRunTTL); err != nil {
		slog.Warn("failed to cache run summary", "error", err)
	}
}

func (c *Coordinator) notify(ctx context.Context, r *run) {
	if c.notifier == nil {
		return
	}
	var fresh []*models.Offer
	for _, o := range r.resolver.Offers() {
		ev := r.evaluated[o.ID]
		if r.created[o.ID] && ev.IsTargetCompany && !ev.FilteredOut {
			o.ApplyEvaluation(ev)
			fresh = append(fresh, o)
		}
	}
	if len(fresh) == 0 {
		return
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Score > fresh[j].Score })
	if err := c.notifier.NotifyNewOffers(ctx, r.stats, fresh); err != nil {
		slog.Warn("failed to send new offer notification", "offers", len(fresh), "error", err)
	}
}

func (r *run) update(fn func(s *models.IngestionRun)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.stats)
}

func (r *run) recordFetchError(name models.Source, kind string, err error) {
	r.update(func(s *models.IngestionRun) {
		s.Sources[name].ErrorKind = kind
		s.Sources[name].Error = err.Error()
	})
}

func (r *run) addDuration(name models.Source, d time.Duration) {
	r.update(func(s *models.IngestionRun) { s.Sources[name].DurationMS = d.Milliseconds() })
}

func logRun(s *models.IngestionRun, err error) {
	attrs := []any{
		"run_id", s.ID,
		"fetched", s.Fetched(),
		"new", s.New,
		"repeats", s.Repeats,
		"merged", s.Merged,
		"ambiguous", s.Ambiguous,
		"retained", s.Retained,
		"filtered_out", s.FilteredOut,
		"rescored", s.Rescored,
		"persistence_errors", s.PersistenceErrors,
		"duration", s.FinishedAt.Sub(s.StartedAt).String(),
	}
	if err != nil {
		slog.Error("ingestion run failed", append(attrs, "error", err)...)
		return
	}
	slog.Info("ingestion run finished", attrs...)
}
