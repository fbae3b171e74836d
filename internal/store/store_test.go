package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/jobhunter/internal/store"
	"github.com/kiranshivaraju/jobhunter/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupPostgres spins up a Postgres container, runs migrations, and returns a store.
func setupPostgres(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("jobhunter_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return store.NewPostgresStore(pool)
}

func setupSQLite(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "jobhunter.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// backends runs fn against every store implementation. Postgres needs
// Docker and is skipped in short mode.
func backends(t *testing.T, fn func(t *testing.T, s store.Store)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, setupSQLite(t))
	})
	t.Run("postgres", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping integration test")
		}
		fn(t, setupPostgres(t))
	})
}

var seenAt = time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)

func newOffer(title, company string) *models.Offer {
	posted := time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC)
	return &models.Offer{
		ID:             uuid.New(),
		Fingerprint:    uuid.NewString(),
		Title:          title,
		Company:        company,
		Location:       "Paris",
		Department:     "75",
		Description:    "Administration Linux",
		ContractType:   models.ContractAlternance,
		EducationLevel: 3,
		Source:         models.SourceLever,
		Sources:        []models.Source{models.SourceLever},
		SourceURL:      "https://jobs.lever.co/" + company,
		PostedDate:     &posted,
		FirstSeenAt:    seenAt,
		LastSeenAt:     seenAt,
		OfferType:      models.OfferTypeDirectEmployer,
	}
}

// --- Offer Tests ---

func TestSaveOffer_InsertAndGet(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		o := newOffer("Administrateur systèmes", "Thales")

		require.NoError(t, s.SaveOffer(ctx, o))

		got, err := s.GetOffer(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, o.Title, got.Title)
		assert.Equal(t, o.Fingerprint, got.Fingerprint)
		assert.Equal(t, models.ContractAlternance, got.ContractType)
		assert.Equal(t, models.EducationLevel(3), got.EducationLevel)
		assert.Equal(t, []models.Source{models.SourceLever}, got.Sources)
		require.NotNil(t, got.PostedDate)
		assert.True(t, o.PostedDate.Equal(*got.PostedDate))
		assert.True(t, seenAt.Equal(got.FirstSeenAt))
		assert.Nil(t, got.Tracking)
	})
}

func TestSaveOffer_UpdateKeepsEvaluation(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		o := newOffer("Administrateur systèmes", "Thales")
		require.NoError(t, s.SaveOffer(ctx, o))
		require.NoError(t, s.UpdateOfferEvaluation(ctx, o.ID, models.Evaluation{
			Score: 42, IsTargetCompany: true, Flags: []string{models.FlagEducationUnknown},
		}))

		o.Sources = append(o.Sources, models.SourceCareerPage)
		o.LastSeenAt = seenAt.Add(24 * time.Hour)
		o.Score = 0
		require.NoError(t, s.SaveOffer(ctx, o))

		got, err := s.GetOffer(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, 42.0, got.Score)
		assert.True(t, got.IsTargetCompany)
		assert.Equal(t, []string{models.FlagEducationUnknown}, got.Flags)
		assert.Equal(t, []models.Source{models.SourceLever, models.SourceCareerPage}, got.Sources)
		assert.True(t, o.LastSeenAt.Equal(got.LastSeenAt))
	})
}

func TestSaveOffer_DuplicateFingerprint(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		a := newOffer("Administrateur systèmes", "Thales")
		require.NoError(t, s.SaveOffer(ctx, a))

		b := newOffer("Administrateur systèmes", "Thales")
		b.Fingerprint = a.Fingerprint
		assert.ErrorIs(t, s.SaveOffer(ctx, b), store.ErrDuplicateKey)
	})
}

func TestUpdateOfferEvaluation_NotFound(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		err := s.UpdateOfferEvaluation(context.Background(), uuid.New(), models.Evaluation{Score: 1})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestGetOffer_NotFound(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		_, err := s.GetOffer(context.Background(), uuid.New())
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestListCanonicalOffers_IncludesFiltered(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		kept := newOffer("Administrateur systèmes", "Thales")
		dropped := newOffer("Commercial", "Decathlon")
		require.NoError(t, s.SaveOffer(ctx, kept))
		require.NoError(t, s.SaveOffer(ctx, dropped))
		require.NoError(t, s.UpdateOfferEvaluation(ctx, dropped.ID, models.Evaluation{
			FilteredOut: true, FilterReasons: []string{"no keyword match"},
		}))

		all, err := s.ListCanonicalOffers(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestListOffers_Filters(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()

		thales := newOffer("Administrateur systèmes", "Thales")
		qonto := newOffer("Technicien support", "Qonto")
		qonto.Sources = []models.Source{models.SourceLever, models.SourceWelcomeToTheJungle}
		hidden := newOffer("Commercial", "Decathlon")
		for _, o := range []*models.Offer{thales, qonto, hidden} {
			require.NoError(t, s.SaveOffer(ctx, o))
		}
		require.NoError(t, s.UpdateOfferEvaluation(ctx, thales.ID, models.Evaluation{Score: 80, IsTargetCompany: true}))
		require.NoError(t, s.UpdateOfferEvaluation(ctx, qonto.ID, models.Evaluation{Score: 40}))
		require.NoError(t, s.UpdateOfferEvaluation(ctx, hidden.ID, models.Evaluation{Score: 90, FilteredOut: true}))

		_, err := s.CreateTrackingIfAbsent(ctx, &models.Tracking{
			OfferID: qonto.ID, Status: models.StatusApplied, CreatedAt: seenAt, UpdatedAt: seenAt,
		})
		require.NoError(t, err)

		min50 := 50.0
		tests := []struct {
			name     string
			filter   store.OfferFilter
			expected []uuid.UUID
		}{
			{name: "default hides filtered, score order", filter: store.OfferFilter{}, expected: []uuid.UUID{thales.ID, qonto.ID}},
			{name: "include filtered", filter: store.OfferFilter{IncludeFiltered: true}, expected: []uuid.UUID{hidden.ID, thales.ID, qonto.ID}},
			{name: "status applied", filter: store.OfferFilter{Status: models.StatusApplied}, expected: []uuid.UUID{qonto.ID}},
			{name: "status new counts untracked", filter: store.OfferFilter{Status: models.StatusNew}, expected: []uuid.UUID{thales.ID}},
			{name: "secondary source", filter: store.OfferFilter{Source: models.SourceWelcomeToTheJungle}, expected: []uuid.UUID{qonto.ID}},
			{name: "company substring", filter: store.OfferFilter{Company: "thal"}, expected: []uuid.UUID{thales.ID}},
			{name: "target only", filter: store.OfferFilter{TargetOnly: true}, expected: []uuid.UUID{thales.ID}},
			{name: "min score", filter: store.OfferFilter{MinScore: &min50}, expected: []uuid.UUID{thales.ID}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				offers, total, err := s.ListOffers(ctx, tt.filter)
				require.NoError(t, err)
				assert.Equal(t, len(tt.expected), total)
				ids := make([]uuid.UUID, 0, len(offers))
				for _, o := range offers {
					ids = append(ids, o.ID)
				}
				assert.Equal(t, tt.expected, ids)
			})
		}

		offers, _, err := s.ListOffers(ctx, store.OfferFilter{Status: models.StatusApplied})
		require.NoError(t, err)
		require.Len(t, offers, 1)
		require.NotNil(t, offers[0].Tracking)
		assert.Equal(t, models.StatusApplied, offers[0].Tracking.Status)
	})
}

func TestListOffers_Pagination(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			o := newOffer("Technicien", "Company")
			o.SourceURL += uuid.NewString()
			require.NoError(t, s.SaveOffer(ctx, o))
		}

		page, total, err := s.ListOffers(ctx, store.OfferFilter{Page: 2, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Len(t, page, 2)

		last, _, err := s.ListOffers(ctx, store.OfferFilter{Page: 3, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, last, 1)
	})
}

func TestOfferFilter_Pagination(t *testing.T) {
	tests := []struct {
		name          string
		filter        store.OfferFilter
		limit, offset int
	}{
		{name: "defaults", filter: store.OfferFilter{}, limit: 20, offset: 0},
		{name: "capped", filter: store.OfferFilter{Limit: 500}, limit: 100, offset: 0},
		{name: "third page", filter: store.OfferFilter{Page: 3, Limit: 10}, limit: 10, offset: 20},
		{name: "negative page", filter: store.OfferFilter{Page: -1, Limit: 10}, limit: 10, offset: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, offset := tt.filter.Pagination()
			assert.Equal(t, tt.limit, limit)
			assert.Equal(t, tt.offset, offset)
		})
	}
}

// --- Tracking Tests ---

func TestCreateTrackingIfAbsent(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		o := newOffer("Administrateur systèmes", "Thales")
		require.NoError(t, s.SaveOffer(ctx, o))

		created, err := s.CreateTrackingIfAbsent(ctx, models.NewTracking(o.ID, seenAt))
		require.NoError(t, err)
		assert.True(t, created)

		_, err = s.UpdateTracking(ctx, o.ID, func(t *models.Tracking) error {
			t.Status = models.StatusInterview
			t.Notes = "entretien mardi"
			return nil
		})
		require.NoError(t, err)

		created, err = s.CreateTrackingIfAbsent(ctx, models.NewTracking(o.ID, seenAt))
		require.NoError(t, err)
		assert.False(t, created)

		got, err := s.GetTracking(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusInterview, got.Status)
		assert.Equal(t, "entretien mardi", got.Notes)
	})
}

func TestCreateTrackingIfAbsent_UnknownOffer(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		_, err := s.CreateTrackingIfAbsent(context.Background(), models.NewTracking(uuid.New(), seenAt))
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestUpdateTracking(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		o := newOffer("Administrateur systèmes", "Thales")
		require.NoError(t, s.SaveOffer(ctx, o))
		_, err := s.CreateTrackingIfAbsent(ctx, models.NewTracking(o.ID, seenAt))
		require.NoError(t, err)

		sent := time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)
		updated, err := s.UpdateTracking(ctx, o.ID, func(t *models.Tracking) error {
			t.CVSent = true
			t.DateSent = &sent
			t.UpdatedAt = seenAt.Add(time.Hour)
			return nil
		})
		require.NoError(t, err)
		assert.True(t, updated.CVSent)

		got, err := s.GetTracking(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, got.CVSent)
		require.NotNil(t, got.DateSent)
		assert.True(t, sent.Equal(*got.DateSent))
		assert.Nil(t, got.FollowUpDate)
	})
}

func TestUpdateTracking_AbortsOnError(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		o := newOffer("Administrateur systèmes", "Thales")
		require.NoError(t, s.SaveOffer(ctx, o))
		_, err := s.CreateTrackingIfAbsent(ctx, models.NewTracking(o.ID, seenAt))
		require.NoError(t, err)

		boom := errors.New("invalid")
		_, err = s.UpdateTracking(ctx, o.ID, func(t *models.Tracking) error {
			t.Status = models.StatusRejected
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.GetTracking(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusNew, got.Status)
	})
}

func TestUpdateTracking_NotFound(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		_, err := s.UpdateTracking(context.Background(), uuid.New(), func(*models.Tracking) error { return nil })
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestTrackingStats(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()

		empty, err := s.TrackingStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, empty.TotalOffers)
		assert.Len(t, empty.StatusCounts, len(models.TrackingStatuses))

		updates := []func(*models.Tracking) error{
			func(t *models.Tracking) error { t.Status = models.StatusApplied; t.CVSent = true; return nil },
			func(t *models.Tracking) error {
				t.Status = models.StatusFollowedUp
				t.CVSent = true
				t.FollowUpDone = true
				return nil
			},
			nil,
		}
		for i, fn := range updates {
			o := newOffer(fmt.Sprintf("Technicien support %d", i), "Qonto")
			require.NoError(t, s.SaveOffer(ctx, o))
			_, err := s.CreateTrackingIfAbsent(ctx, models.NewTracking(o.ID, seenAt))
			require.NoError(t, err)
			if fn != nil {
				_, err = s.UpdateTracking(ctx, o.ID, fn)
				require.NoError(t, err)
			}
		}
		// Offer never given a tracking row.
		require.NoError(t, s.SaveOffer(ctx, newOffer("Chef de projet", "Alan")))

		got, err := s.TrackingStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, got.TotalOffers)
		assert.Equal(t, 3, got.Tracked)
		assert.Equal(t, 2, got.CVSent)
		assert.Equal(t, 1, got.FollowUps)
		assert.Equal(t, 1, got.StatusCounts[models.StatusNew])
		assert.Equal(t, 1, got.StatusCounts[models.StatusApplied])
		assert.Equal(t, 1, got.StatusCounts[models.StatusFollowedUp])
		assert.Equal(t, 0, got.StatusCounts[models.StatusRejected])
	})
}

func TestUpdateTracking_ConcurrentWritersSerialize(t *testing.T) {
	backends(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		o := newOffer("Administrateur systèmes", "Thales")
		require.NoError(t, s.SaveOffer(ctx, o))
		_, err := s.CreateTrackingIfAbsent(ctx, models.NewTracking(o.ID, seenAt))
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateTracking(ctx, o.ID, func(t *models.Tracking) error {
					t.Notes += "x"
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.GetTracking(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, "xxxxxxxxxx", got.Notes)
	})
}
