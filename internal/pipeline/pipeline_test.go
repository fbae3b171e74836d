package pipeline_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobhunter/internal/cache"
	"github.com/kiranshivaraju/jobhunter/internal/config"
	"github.com/kiranshivaraju/jobhunter/internal/pipeline"
	"github.com/kiranshivaraju/jobhunter/internal/source"
	"github.com/kiranshivaraju/jobhunter/internal/store"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)

type fakeAdapter struct {
	name models.Source
	raws []models.RawOffer
	err  error
}

func (f *fakeAdapter) Name() models.Source { return f.name }

func (f *fakeAdapter) Fetch(ctx context.Context, _ source.Criteria) ([]models.RawOffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.raws, f.err
}

type recordingNotifier struct {
	mu     sync.Mutex
	offers []*models.Offer
	err    error
}

func (n *recordingNotifier) NotifyNewOffers(_ context.Context, _ *models.IngestionRun, offers []*models.Offer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offers = append(n.offers, offers...)
	return n.err
}

func rawOffer(src models.Source, title, company, location, url string) models.RawOffer {
	return models.RawOffer{
		Source: src,
		Fields: map[string]any{
			"title":       title,
			"company":     company,
			"location":    location,
			"url":         url,
			"description": "Administration de serveurs Linux et automatisation.",
			"contract":    "Alternance",
		},
		FetchedAt: now,
	}
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newCoordinator(st store.Store, c cache.Cache, adapters []source.Adapter, n pipeline.Notifier) *pipeline.Coordinator {
	return pipeline.NewCoordinator(st, c, adapters, pipeline.Options{
		Concurrency:    2,
		AdapterTimeout: 5 * time.Second,
		Notifier:       n,
	}).WithClock(func() time.Time { return now })
}

func listAll(t *testing.T, st store.Store) []*models.TrackedOffer {
	t.Helper()
	offers, _, err := st.ListOffers(context.Background(), store.OfferFilter{IncludeFiltered: true, Limit: 100})
	require.NoError(t, err)
	return offers
}

func TestRun_ReconcilesAcrossSources(t *testing.T) {
	st := newStore(t)
	adapters := []source.Adapter{
		&fakeAdapter{name: models.SourceCareerPage, raws: []models.RawOffer{
			rawOffer(models.SourceCareerPage, "Administrateur Systèmes", "Acme", "Paris (75)", "https://acme.example/jobs/1"),
			rawOffer(models.SourceCareerPage, "Développeur Go", "Acme", "Lyon (69)", "https://acme.example/jobs/2"),
		}},
		&fakeAdapter{name: models.SourcePlaceEmploiPublic, raws: []models.RawOffer{
			rawOffer(models.SourcePlaceEmploiPublic, "Administrateur systèmes", "ACME", "Paris (75)", "https://pep.example/o/9"),
			{Source: models.SourcePlaceEmploiPublic, Fields: map[string]any{"company": "Nobody"}},
		}},
	}
	crit := config.DefaultCriteria()

	run, err := newCoordinator(st, cache.NewMemoryCache(), adapters, nil).Run(context.Background(), pipeline.RunConfig{Criteria: crit})
	require.NoError(t, err)

	assert.Equal(t, 4, run.Fetched())
	assert.Equal(t, 2, run.New)
	assert.Equal(t, 1, run.Repeats)
	assert.Equal(t, 2, run.TrackingCreated)
	assert.Equal(t, 2, run.Retained)
	assert.Equal(t, 0, run.FilteredOut)
	assert.Equal(t, 1, run.Sources[models.SourcePlaceEmploiPublic].NormalizationErrors)
	assert.Equal(t, 2, run.Sources[models.SourceCareerPage].Normalized)
	assert.Equal(t, now, run.FinishedAt)

	offers := listAll(t, st)
	require.Len(t, offers, 2)
	for _, o := range offers {
		require.NotNil(t, o.Tracking)
		assert.Equal(t, models.StatusNew, o.Tracking.Status)
	}
}

func TestRun_SourceFailureDoesNotAbort(t *testing.T) {
	st := newStore(t)
	adapters := []source.Adapter{
		&fakeAdapter{name: models.SourceLaBonneAlternance, err: &source.FetchError{
			Source: models.SourceLaBonneAlternance, Kind: source.KindAuth, Err: errors.New("status 401"),
		}},
		&fakeAdapter{name: models.SourceCareerPage, raws: []models.RawOffer{
			rawOffer(models.SourceCareerPage, "Technicien Réseau", "Globex", "Nantes (44)", "https://globex.example/1"),
		}},
	}

	run, err := newCoordinator(st, cache.NewMemoryCache(), adapters, nil).Run(context.Background(), pipeline.RunConfig{})
	require.NoError(t, err)

	failed := run.Sources[models.SourceLaBonneAlternance]
	assert.Equal(t, "auth", failed.ErrorKind)
	assert.Contains(t, failed.Error, "status 401")
	assert.Equal(t, 1, run.New)
	assert.Len(t, run.Errors(), 1)
}

func TestRun_PreservesTrackingAcrossRuns(t *testing.T) {
	st := newStore(t)
	adapters := []source.Adapter{
		&fakeAdapter{name: models.SourceCareerPage, raws: []models.RawOffer{
			rawOffer(models.SourceCareerPage, "Administrateur Systèmes", "Acme", "Paris (75)", "https://acme.example/jobs/1"),
		}},
	}
	c := newCoordinator(st, cache.NewMemoryCache(), adapters, nil)
	ctx := context.Background()

	_, err := c.Run(ctx, pipeline.RunConfig{})
	require.NoError(t, err)

	offers := listAll(t, st)
	require.Len(t, offers, 1)
	_, err = st.UpdateTracking(ctx, offers[0].ID, func(tr *models.Tracking) error {
		tr.Status = models.StatusApplied
		tr.Notes = "relancer lundi"
		return nil
	})
	require.NoError(t, err)

	run, err := c.Run(ctx, pipeline.RunConfig{})
	require.NoError(t, err)
	assert.Equal(t, 0, run.New)
	assert.Equal(t, 1, run.Repeats)
	assert.Equal(t, 0, run.TrackingCreated)

	tr, err := st.GetTracking(ctx, offers[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApplied, tr.Status)
	assert.Equal(t, "relancer lundi", tr.Notes)
}

func TestRun_CrossSourceMergeStableOnRerun(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()

	careers := &fakeAdapter{name: models.SourceCareerPage, raws: []models.RawOffer{
		rawOffer(models.SourceCareerPage, "Administrateur systemes et reseaux Linux", "Acme", "Paris (75)", "https://acme.example/jobs/7"),
	}}
	pepRaw := rawOffer(models.SourcePlaceEmploiPublic, "Administrateur systemes et reseaux Linux confirme", "Acme", "Paris (75)", "https://pep.example/o/7")
	pepRaw.Fields["external_id"] = "PEP-7"
	pep := &fakeAdapter{name: models.SourcePlaceEmploiPublic, raws: []models.RawOffer{pepRaw}}

	c := newCoordinator(st, cache.NewMemoryCache(), []source.Adapter{careers, pep}, nil)

	_, err := c.Run(ctx, pipeline.RunConfig{Adapters: []source.Adapter{careers}})
	require.NoError(t, err)
	merged, err := c.Run(ctx, pipeline.RunConfig{Adapters: []source.Adapter{pep}})
	require.NoError(t, err)
	require.Equal(t, 1, merged.Merged)

	before := listAll(t, st)
	require.Len(t, before, 1)
	require.Equal(t, models.SourcePlaceEmploiPublic, before[0].Source)

	for i := 0; i < 2; i++ {
		run, err := c.Run(ctx, pipeline.RunConfig{})
		require.NoError(t, err)
		assert.Equal(t, 0, run.New)
		assert.Equal(t, 0, run.Merged)
		assert.Equal(t, 2, run.Repeats)

		after := listAll(t, st)
		require.Len(t, after, 1)
		assert.Equal(t, before[0].ID, after[0].ID)
		assert.Equal(t, before[0].Title, after[0].Title)
		assert.Equal(t, before[0].Fingerprint, after[0].Fingerprint)
	}
}

func TestRun_RescoresUntouchedOffers(t *testing.T) {
	st := newStore(t)
	ctx := context.Background()
	first := []source.Adapter{
		&fakeAdapter{name: models.SourceCareerPage, raws: []models.RawOffer{
			rawOffer(models.SourceCareerPage, "Administrateur Systèmes", "Acme", "Paris (75)", "https://acme.example/jobs/1"),
		}},
	}
	c := newCoordinator(st, cache.NewMemoryCache(), first, nil)

	_, err := c.Run(ctx, pipeline.RunConfig{})
	require.NoError(t, err)

	narrowed := config.DefaultCriteria()
	narrowed.Keywords = []string{"data scientist"}
	run, err := c.Run(ctx, pipeline.RunConfig{Criteria: narrowed, Adapters: []source.Adapter{}})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Rescored)
	assert.Equal(t, 0, run.Retained)

	offers := listAll(t, st)
	require.Len(t, offers, 1)
	assert.True(t, offers[0].FilteredOut)
	assert.Equal(t, []string{"no keyword match"}, offers[0].FilterReasons)

	again, err := c.Run(ctx, pipeline.RunConfig{Criteria: narrowed, Adapters: []source.Adapter{}})
	require.NoError(t, err)
	assert.Equal(t, 0, again.Rescored)
}

func TestRun_RejectsConcurrentRun(t *testing.T) {
	st := newStore(t)
	c := cache.NewMemoryCache()
	ok, err := c.AcquireLock(context.Background(), cache.RunLockKey, "other-process", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = newCoordinator(st, c, nil, nil).Run(context.Background(), pipeline.RunConfig{})
	assert.ErrorIs(t, err, pipeline.ErrRunInProgress)
}

func TestRun_ReleasesLockAfterRun(t *testing.T) {
	st := newStore(t)
	c := cache.NewMemoryCache()
	coord := newCoordinator(st, c, nil, nil)

	_, err := coord.Run(context.Background(), pipeline.RunConfig{})
	require.NoError(t, err)
	_, err = coord.Run(context.Background(), pipeline.RunConfig{})
	require.NoError(t, err)

	ok, err := c.AcquireLock(context.Background(), cache.RunLockKey, "probe", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRun_CachesLatestSummary(t *testing.T) {
	st := newStore(t)
	adapters := []source.Adapter{
		&fakeAdapter{name: models.SourceCareerPage, raws: []models.RawOffer{
			rawOffer(models.SourceCareerPage, "Administrateur Systèmes", "Acme", "Paris (75)", "https://acme.example/jobs/1"),
		}},
	}
	coord := newCoordinator(st, cache.NewMemoryCache(), adapters, nil)

	_, found, err := coord.LatestRun(context.Background())
	require.NoError(t, err)
	assert.False(t, found)

	run, err := coord.Run(context.Background(), pipeline.RunConfig{})
	require.NoError(t, err)

	latest, found, err := coord.LatestRun(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, run.ID, latest.ID)
	assert.Equal(t, 1, latest.New)
	assert.Equal(t, 1, latest.Sources[models.SourceCareerPage].Fetched)
}

func TestRun_NotifiesNewTargetCompanyOffers(t *testing.T) {
	st := newStore(t)
	adapters := []source.Adapter{
		&fakeAdapter{name: models.SourceCareerPage, raws: []models.RawOffer{
			rawOffer(models.SourceCareerPage, "Administrateur Systèmes", "Acme", "Paris (75)", "https://acme.example/jobs/1"),
			rawOffer(models.SourceCareerPage, "Technicien Réseau", "Globex", "Nantes (44)", "https://globex.example/1"),
		}},
	}
	crit := config.DefaultCriteria()
	crit.TargetCompanies = []string{"acme"}
	n := &recordingNotifier{}
	coord := newCoordinator(st, cache.NewMemoryCache(), adapters, n)

	_, err := coord.Run(context.Background(), pipeline.RunConfig{Criteria: crit})
	require.NoError(t, err)
	require.Len(t, n.offers, 1)
	assert.Equal(t, "Acme", n.offers[0].Company)
	assert.True(t, n.offers[0].IsTargetCompany)

	n.offers = nil
	_, err = coord.Run(context.Background(), pipeline.RunConfig{Criteria: crit})
	require.NoError(t, err)
	assert.Empty(t, n.offers, "repeats are not announced twice")
}

func TestRun_NotifierFailureDoesNotFailRun(t *testing.T) {
	st := newStore(t)
	adapters := []source.Adapter{
		&fakeAdapter{name: models.SourceCareerPage, raws: []models.RawOffer{
			rawOffer(models.SourceCareerPage, "Administrateur Systèmes", "Acme", "Paris (75)", "https://acme.example/jobs/1"),
		}},
	}
	crit := config.DefaultCriteria()
	crit.TargetCompanies = []string{"Acme"}

	_, err := newCoordinator(st, cache.NewMemoryCache(), adapters, &recordingNotifier{err: errors.New("telegram down")}).
		Run(context.Background(), pipeline.RunConfig{Criteria: crit})
	assert.NoError(t, err)
}

func TestRun_CancelledContext(t *testing.T) {
	st := newStore(t)
	adapters := []source.Adapter{
		&fakeAdapter{name: models.SourceCareerPage, raws: []models.RawOffer{
			rawOffer(models.SourceCareerPage, "Administrateur Systèmes", "Acme", "Paris (75)", "https://acme.example/jobs/1"),
		}},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newCoordinator(st, cache.NewMemoryCache(), adapters, nil).Run(ctx, pipeline.RunConfig{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, listAll(t, st))
}

// brokenStore fails every write and every health check.
type brokenStore struct {
	store.Store
	pingErr error
	saves   int
}

func (b *brokenStore) ListCanonicalOffers(context.Context) ([]*models.Offer, error) { return nil, nil }

func (b *brokenStore) SaveOffer(context.Context, *models.Offer) error {
	b.saves++
	return errors.New("disk I/O error")
}

func (b *brokenStore) Ping(context.Context) error { return b.pingErr }

func TestRun_PersistenceErrors(t *testing.T) {
	raws := []models.RawOffer{
		rawOffer(models.SourceCareerPage, "Administrateur Systèmes", "Acme", "Paris (75)", "https://acme.example/jobs/1"),
		rawOffer(models.SourceCareerPage, "Technicien Réseau", "Globex", "Nantes (44)", "https://globex.example/1"),
	}

	t.Run("store still reachable", func(t *testing.T) {
		st := &brokenStore{}
		adapters := []source.Adapter{&fakeAdapter{name: models.SourceCareerPage, raws: raws}}

		run, err := newCoordinator(st, cache.NewMemoryCache(), adapters, nil).Run(context.Background(), pipeline.RunConfig{})
		require.NoError(t, err)
		assert.Equal(t, 2, run.PersistenceErrors)
		assert.Equal(t, 0, run.New)
	})

	t.Run("store gone", func(t *testing.T) {
		st := &brokenStore{pingErr: errors.New("connection refused")}
		adapters := []source.Adapter{&fakeAdapter{name: models.SourceCareerPage, raws: raws}}

		run, err := newCoordinator(st, cache.NewMemoryCache(), adapters, nil).Run(context.Background(), pipeline.RunConfig{})
		assert.ErrorIs(t, err, pipeline.ErrStorageUnavailable)
		require.NotNil(t, run)
		assert.Equal(t, 1, run.PersistenceErrors)
		assert.Equal(t, 1, st.saves)
	})
}

func TestRun_UnreadableCanonicalSet(t *testing.T) {
	st := &failingList{}
	_, err := newCoordinator(st, cache.NewMemoryCache(), nil, nil).Run(context.Background(), pipeline.RunConfig{})
	assert.ErrorIs(t, err, pipeline.ErrStorageUnavailable)
}

type failingList struct{ store.Store }

func (failingList) ListCanonicalOffers(context.Context) ([]*models.Offer, error) {
	return nil, errors.New("no such table: offers")
}

func TestRun_ManyAdaptersRespectConcurrency(t *testing.T) {
	st := newStore(t)
	var adapters []source.Adapter
	for i, src := range []models.Source{models.SourceCareerPage, models.SourcePlaceEmploiPublic, models.SourceManual} {
		adapters = append(adapters, &fakeAdapter{name: src, raws: []models.RawOffer{
			rawOffer(src, "Offre "+uuid.NewString(), "Company", "Paris (75)", "https://example.com/"+string(rune('a'+i))),
		}})
	}

	run, err := newCoordinator(st, cache.NewMemoryCache(), adapters, nil).Run(context.Background(), pipeline.RunConfig{})
	require.NoError(t, err)
	assert.Len(t, run.Sources, 3)
	assert.Equal(t, 3, run.Fetched())
	assert.Len(t, listAll(t, st), 3)
}

// blockingAdapter holds its fetch until released or cancelled.
type blockingAdapter struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingAdapter) Name() models.Source { return models.SourceCareerPage }

func (b *blockingAdapter) Fetch(ctx context.Context, _ source.Criteria) ([]models.RawOffer, error) {
	close(b.started)
	select {
	case <-b.release:
		return []models.RawOffer{
			rawOffer(models.SourceCareerPage, "Administrateur Systèmes", "Acme", "Paris (75)", "https://acme.example/jobs/1"),
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestStart_RunsInBackground(t *testing.T) {
	st := newStore(t)
	a := &blockingAdapter{started: make(chan struct{}), release: make(chan struct{})}
	coord := newCoordinator(st, cache.NewMemoryCache(), []source.Adapter{a}, nil)

	reqCtx, cancelReq := context.WithCancel(context.Background())
	id, err := coord.Start(reqCtx, pipeline.RunConfig{})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)
	cancelReq()

	<-a.started
	_, err = coord.Run(context.Background(), pipeline.RunConfig{})
	assert.ErrorIs(t, err, pipeline.ErrRunInProgress)
	_, err = coord.Start(context.Background(), pipeline.RunConfig{})
	assert.ErrorIs(t, err, pipeline.ErrRunInProgress)

	close(a.release)
	require.Eventually(t, func() bool {
		latest, found, err := coord.LatestRun(context.Background())
		return err == nil && found && latest.ID == id
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, coord.Close(context.Background()))

	latest, _, err := coord.LatestRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, latest.New)
}

func TestClose_CancelsBackgroundRun(t *testing.T) {
	st := newStore(t)
	a := &blockingAdapter{started: make(chan struct{}), release: make(chan struct{})}
	coord := newCoordinator(st, cache.NewMemoryCache(), []source.Adapter{a}, nil)

	_, err := coord.Start(context.Background(), pipeline.RunConfig{})
	require.NoError(t, err)
	<-a.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, coord.Close(ctx))

	latest, found, err := coord.LatestRun(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "context canceled", latest.Sources[models.SourceCareerPage].Error)
}
